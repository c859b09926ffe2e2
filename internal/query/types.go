package query

import "github.com/google/uuid"

// BalanceEntry is one projected token balance of an owner.
type BalanceEntry struct {
	AccountPath string `json:"account_path"`
	AssetID     uint16 `json:"asset_id"`
	Asset       string `json:"asset"`
	Balance     int64  `json:"balance"`
}

// BalancesResponse lists every token account of an owner (wallet, reward
// inbox, escrows, shares).
type BalancesResponse struct {
	Owner        uuid.UUID      `json:"owner"`
	Balances     []BalanceEntry `json:"balances"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// DebtAccountResponse is the projected debt record of a lending account.
type DebtAccountResponse struct {
	Account                  uuid.UUID `json:"account"`
	Debt                     int64     `json:"debt"`
	UnpaidFees               int64     `json:"unpaid_fees"`
	OverSuppliedDebt         int64     `json:"over_supplied_debt"`
	UndercollateralizedDebt  int64     `json:"undercollateralized_debt"`
	MaxLoanIgnoringLiquidity int64     `json:"max_loan_ignoring_liquidity"`
	BreachLevel              string    `json:"breach_level"`
	LastSequence             int64     `json:"last_sequence"`
	AsOfSequence             int64     `json:"as_of_sequence"`
}

// PoolResponse is the projected vault pool aggregate.
type PoolResponse struct {
	LiquidAssets      int64 `json:"liquid_assets"`
	TotalLoanedAssets int64 `json:"total_loaned_assets"`
	TotalAssets       int64 `json:"total_assets"`
	TotalSupply       int64 `json:"total_supply"`
	UnsettledRewards  int64 `json:"unsettled_rewards"`
	UtilizationBps    int64 `json:"utilization_bps"`
	Epoch             int64 `json:"epoch"`
	AsOfSequence      int64 `json:"as_of_sequence"`
}

// PoolHistoryEntry is the pool state at the end of one epoch.
type PoolHistoryEntry struct {
	Epoch             int64 `json:"epoch"`
	TotalAssets       int64 `json:"total_assets"`
	TotalLoanedAssets int64 `json:"total_loaned_assets"`
	UtilizationBps    int64 `json:"utilization_bps"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}

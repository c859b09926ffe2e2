package state

import (
	"fmt"

	fpmath "LendLedger/internal/math"

	"github.com/google/uuid"
)

// CollateralKind identifies what backs a CollateralPosition
type CollateralKind int32

const (
	CollateralKindUnknown CollateralKind = iota
	CollateralKindLock                   // quantity = lock id
	CollateralKindShares                 // quantity = vault shares
)

func (k CollateralKind) String() string {
	switch k {
	case CollateralKindLock:
		return "lock"
	case CollateralKindShares:
		return "shares"
	default:
		return "unknown"
	}
}

// ParseCollateralKind maps the wire name to a kind.
func ParseCollateralKind(s string) (CollateralKind, error) {
	switch s {
	case "lock":
		return CollateralKindLock, nil
	case "shares":
		return CollateralKindShares, nil
	default:
		return CollateralKindUnknown, fmt.Errorf("%w: %q", ErrUnknownCollateralKind, s)
	}
}

// CollateralPosition is an account's pledged position of one kind
type CollateralPosition struct {
	Account         uuid.UUID      `json:"account"`
	Kind            CollateralKind `json:"kind"`
	Quantity        int64          `json:"quantity"`         // shares, or lock id
	ValueAtDeposit  int64          `json:"value_at_deposit"` // assets, share positions only
	OriginTimestamp int64          `json:"origin_timestamp"` // first pledged (unix micros)
}

// grow adds shares and their deposit value to a share position.
func (p CollateralPosition) grow(shares, value int64) (CollateralPosition, error) {
	quantity, err := fpmath.AddChecked(p.Quantity, shares)
	if err != nil {
		return p, fmt.Errorf("collateral shares of %s: %w", p.Account, err)
	}
	deposited, err := fpmath.AddChecked(p.ValueAtDeposit, value)
	if err != nil {
		return p, fmt.Errorf("collateral value of %s: %w", p.Account, err)
	}
	p.Quantity, p.ValueAtDeposit = quantity, deposited
	return p, nil
}

// DebtAccount is the per-account debt record owned by the collateral ledger.
// Debt mirrors the vault principal of the account after every call.
type DebtAccount struct {
	Debt                    int64 `json:"debt"`
	UnpaidFees              int64 `json:"unpaid_fees"`
	OverSuppliedDebt        int64 `json:"over_supplied_debt"`
	UndercollateralizedDebt int64 `json:"undercollateralized_debt"`

	// LTV ceiling as of the last reconcile
	MaxLoanIgnoringLiquidity int64 `json:"max_loan_ignoring_liquidity"`
}

// BreachLevel summarizes the breach counters of a DebtAccount
type BreachLevel int32

const (
	BreachLevelHealthy BreachLevel = iota
	BreachLevelSoft                // over-supplied only
	BreachLevelHard                // undercollateralized
)

func (l BreachLevel) String() string {
	switch l {
	case BreachLevelHealthy:
		return "Healthy"
	case BreachLevelSoft:
		return "Soft"
	case BreachLevelHard:
		return "Hard"
	default:
		return "Unknown"
	}
}

func (d DebtAccount) Level() BreachLevel {
	switch {
	case d.UndercollateralizedDebt > 0:
		return BreachLevelHard
	case d.OverSuppliedDebt > 0:
		return BreachLevelSoft
	default:
		return BreachLevelHealthy
	}
}

// YieldClaim is the outcome of ClaimYield
type YieldClaim struct {
	Shares int64 // redeemed from the collateral escrow
	Assets int64 // paid into the reward inbox
	Fee    int64 // protocol fee taken from Assets
	Net    int64 // left in the reward inbox for routing
}

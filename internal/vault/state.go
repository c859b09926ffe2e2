package vault

import (
	"bytes"
	"fmt"
	"sort"

	"LendLedger/internal/ledger"
	"LendLedger/internal/ratecurve"

	"github.com/google/uuid"
)

// State is the serializable vault state used by snapshots.
type State struct {
	Now               int64            `json:"now"`
	Pool              Pool             `json:"pool"`
	Paused            bool             `json:"paused"`
	Curve             ratecurve.Spec   `json:"curve"`
	AppliedRateBps    int64            `json:"applied_rate_bps"`
	OriginationFeeBps int64            `json:"origination_fee_bps"`
	PoolCheckpoints   []PoolCheckpoint `json:"pool_checkpoints"`
	Borrowers         []BorrowerState  `json:"borrowers"`
	Buckets           []BucketState    `json:"buckets"`
}

type BorrowerState struct {
	Account     uuid.UUID       `json:"account"`
	Principal   int64           `json:"principal"`
	Pending     []PendingReward `json:"pending,omitempty"`
	Checkpoints []Checkpoint    `json:"checkpoints,omitempty"`
}

type BucketState struct {
	Epoch int64 `json:"epoch"`
	RewardEpochBucket
}

// Export captures the vault state in deterministic order.
func (v *Vault) Export() State {
	st := State{
		Now:               v.now.Get(),
		Pool:              v.pool.Get(),
		Paused:            v.paused.Get(),
		Curve:             ratecurve.Describe(v.curve.Get()),
		AppliedRateBps:    v.appliedRate.Get(),
		OriginationFeeBps: v.feeBps.Get(),
		PoolCheckpoints:   v.PoolCheckpoints(),
	}

	for _, account := range v.Accounts() {
		b := v.borrowers.Value(account)
		st.Borrowers = append(st.Borrowers, BorrowerState{
			Account:     account,
			Principal:   b.Principal,
			Pending:     append([]PendingReward(nil), b.Pending...),
			Checkpoints: append([]Checkpoint(nil), b.Checkpoints...),
		})
	}

	epochs := make([]int64, 0, v.buckets.Len())
	v.buckets.Range(func(e int64, _ RewardEpochBucket) bool {
		epochs = append(epochs, e)
		return true
	})
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })
	for _, e := range epochs {
		st.Buckets = append(st.Buckets, BucketState{Epoch: e, RewardEpochBucket: v.buckets.Value(e)})
	}
	return st
}

// Restore replaces the vault state without recording undo entries.
func (v *Vault) Restore(st State) error {
	curve, err := ratecurve.Build(st.Curve)
	if err != nil {
		return fmt.Errorf("restore vault curve: %w", err)
	}

	v.now.Restore(st.Now)
	v.pool.Restore(st.Pool)
	v.paused.Restore(st.Paused)
	v.curve.Restore(curve)
	v.appliedRate.Restore(st.AppliedRateBps)
	v.feeBps.Restore(st.OriginationFeeBps)
	v.poolCPs.Restore(append([]PoolCheckpoint(nil), st.PoolCheckpoints...))

	borrowers := make(map[uuid.UUID]borrower, len(st.Borrowers))
	for _, bs := range st.Borrowers {
		borrowers[bs.Account] = borrower{
			Principal:   bs.Principal,
			Pending:     bs.Pending,
			Checkpoints: bs.Checkpoints,
		}
	}
	v.borrowers.Restore(borrowers)

	buckets := make(map[int64]RewardEpochBucket, len(st.Buckets))
	for _, bs := range st.Buckets {
		buckets[bs.Epoch] = bs.RewardEpochBucket
	}
	v.buckets.Restore(buckets)
	return nil
}

// Accounts returns every borrower the vault has seen, sorted by id.
func (v *Vault) Accounts() []uuid.UUID {
	accounts := make([]uuid.UUID, 0, v.borrowers.Len())
	v.borrowers.Range(func(id uuid.UUID, _ borrower) bool {
		accounts = append(accounts, id)
		return true
	})
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	return accounts
}

// CheckInvariants verifies the vault's cross-ledger invariants:
// principals sum to totalLoanedAssets, the liquidity and escrow accounts
// match their counters, and share balances sum to totalSupply.
func (v *Vault) CheckInvariants() error {
	p := v.pool.Get()

	var principal, pending int64
	v.borrowers.Range(func(_ uuid.UUID, b borrower) bool {
		principal += b.Principal
		for _, pr := range b.Pending {
			pending += pr.Amount
		}
		return true
	})

	if principal != p.TotalLoanedAssets {
		return fmt.Errorf("vault: sum of principals %d != total loaned %d", principal, p.TotalLoanedAssets)
	}
	if pending != p.UnsettledRewards {
		return fmt.Errorf("vault: pending rewards %d != unsettled %d", pending, p.UnsettledRewards)
	}
	if got := v.token.BalanceOf(v.liquidityKey()); got != p.LiquidAssets {
		return fmt.Errorf("vault: liquidity balance %d != liquid assets %d", got, p.LiquidAssets)
	}
	if got := v.token.BalanceOf(v.escrowKey()); got != p.UnsettledRewards {
		return fmt.Errorf("vault: escrow balance %d != unsettled rewards %d", got, p.UnsettledRewards)
	}
	if minted := -v.token.BalanceOf(ledger.ShareMintKey()); minted != p.TotalSupply {
		return fmt.Errorf("vault: minted shares %d != total supply %d", minted, p.TotalSupply)
	}
	if p.LiquidAssets < 0 || p.TotalLoanedAssets < 0 || p.TotalSupply < 0 {
		return fmt.Errorf("vault: negative pool counter %+v", p)
	}
	return nil
}

package ledger

import (
	"errors"
	"fmt"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/txn"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrInvalidTransfer       = errors.New("ledger: invalid transfer")
)

type allowanceKey struct {
	Owner   AccountKey
	Spender AccountKey
}

// BalanceTracker maintains in-memory account balances and records one
// journal per movement. It is the Token implementation for every asset.
type BalanceTracker struct {
	balances   *txn.Map[AccountKey, int64]
	allowances *txn.Map[allowanceKey, int64]
	pending    *txn.List[Journal]
}

func NewBalanceTracker(log *txn.Log) *BalanceTracker {
	return &BalanceTracker{
		balances:   txn.NewMap[AccountKey, int64](log),
		allowances: txn.NewMap[allowanceKey, int64](log),
		pending:    txn.NewList[Journal](log),
	}
}

// Transfer moves amount from one account to another. Only external
// accounts may go negative.
func (bt *BalanceTracker) Transfer(from, to AccountKey, amount int64, journalType JournalType) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrInvalidTransfer, amount)
	}
	if from == to {
		return fmt.Errorf("%w: self transfer on %s", ErrInvalidTransfer, from.AccountPath())
	}
	if from.AssetID != to.AssetID {
		return fmt.Errorf("%w: asset mismatch %s -> %s", ErrInvalidTransfer, from.AccountPath(), to.AccountPath())
	}

	fromBalance := bt.balances.Value(from)
	if !from.IsExternal() && fromBalance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from.AccountPath(), fromBalance, amount)
	}

	fromAfter, err := fpmath.AddChecked(fromBalance, -amount)
	if err != nil {
		return fmt.Errorf("%w: debiting %d from %s", err, amount, from.AccountPath())
	}
	toAfter, err := fpmath.AddChecked(bt.balances.Value(to), amount)
	if err != nil {
		return fmt.Errorf("%w: crediting %d to %s", err, amount, to.AccountPath())
	}

	bt.balances.Set(from, fromAfter)
	bt.balances.Set(to, toAfter)
	bt.pending.Append(Journal{
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       from.AssetID,
		Amount:        amount,
		JournalType:   journalType,
	})
	return nil
}

// TransferFrom moves amount on behalf of spender, consuming allowance.
func (bt *BalanceTracker) TransferFrom(spender, from, to AccountKey, amount int64, journalType JournalType) error {
	key := allowanceKey{Owner: from, Spender: spender}
	allowance := bt.allowances.Value(key)
	if allowance < amount {
		return fmt.Errorf("%w: %s allows %s %d, needs %d",
			ErrInsufficientAllowance, from.AccountPath(), spender.AccountPath(), allowance, amount)
	}
	if err := bt.Transfer(from, to, amount, journalType); err != nil {
		return err
	}
	bt.allowances.Set(key, allowance-amount)
	return nil
}

// Approve sets the spender's allowance over owner's balance.
func (bt *BalanceTracker) Approve(owner, spender AccountKey, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative allowance %d", ErrInvalidTransfer, amount)
	}
	bt.allowances.Set(allowanceKey{Owner: owner, Spender: spender}, amount)
	return nil
}

func (bt *BalanceTracker) Allowance(owner, spender AccountKey) int64 {
	return bt.allowances.Value(allowanceKey{Owner: owner, Spender: spender})
}

// BalanceOf returns the current balance for an account
func (bt *BalanceTracker) BalanceOf(key AccountKey) int64 {
	return bt.balances.Value(key)
}

// PendingJournals returns the journals recorded since the last TakeJournals.
func (bt *BalanceTracker) PendingJournals() []Journal {
	return bt.pending.Items()
}

// TakeJournals drains the journals recorded by the last committed operation.
func (bt *BalanceTracker) TakeJournals() []Journal {
	return bt.pending.Drain()
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances (should be 0 per asset)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)
	bt.balances.Range(func(key AccountKey, balance int64) bool {
		totals[key.AssetID] += balance
		return true
	})
	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.BalanceOf(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// === Snapshot ===

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	return bt.balances.Snapshot()
}

// SnapshotAllowances returns all non-zero allowances as (owner, spender, amount).
func (bt *BalanceTracker) SnapshotAllowances() []Allowance {
	out := make([]Allowance, 0, bt.allowances.Len())
	bt.allowances.Range(func(k allowanceKey, v int64) bool {
		if v != 0 {
			out = append(out, Allowance{Owner: k.Owner, Spender: k.Spender, Amount: v})
		}
		return true
	})
	return out
}

// Allowance is the exported form of one allowance entry
type Allowance struct {
	Owner   AccountKey
	Spender AccountKey
	Amount  int64
}

// Restore replaces balances and allowances, e.g. from a snapshot
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64, allowances []Allowance) {
	bt.balances.Restore(balances)
	m := make(map[allowanceKey]int64, len(allowances))
	for _, a := range allowances {
		m[allowanceKey{Owner: a.Owner, Spender: a.Spender}] = a.Amount
	}
	bt.allowances.Restore(m)
}

package state

import (
	"fmt"

	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/txn"
	"LendLedger/internal/vault"
)

// FeeSource classifies protocol fee income
type FeeSource int32

const (
	FeeSourceYield      FeeSource = iota + 1 // protocol cut of claimed yield
	FeeSourceUnpaidFees                      // reward-route fees paid down with debt
)

func (s FeeSource) String() string {
	switch s {
	case FeeSourceYield:
		return "yield"
	case FeeSourceUnpaidFees:
		return "unpaid_fees"
	default:
		return "unknown"
	}
}

// FeeCollector receives protocol fees.
// Balance is tracked via the ledger (protocol:fees:<asset> account); the
// collector keeps per-source totals for reporting.
type FeeCollector struct {
	token     vault.Token
	asset     ledger.AssetID
	collected *txn.Map[FeeSource, int64]
}

func NewFeeCollector(log *txn.Log, token vault.Token, asset ledger.AssetID) *FeeCollector {
	return &FeeCollector{
		token:     token,
		asset:     asset,
		collected: txn.NewMap[FeeSource, int64](log),
	}
}

func (fc *FeeCollector) Key() ledger.AccountKey {
	return ledger.ProtocolFeesKey(fc.asset)
}

// Collect moves amount from payer into the fee account. Zero is a no-op.
func (fc *FeeCollector) Collect(payer ledger.AccountKey, amount int64, source FeeSource) error {
	if amount <= 0 {
		return nil
	}
	jt := ledger.JournalTypeProtocolFee
	if source == FeeSourceUnpaidFees {
		jt = ledger.JournalTypeFeePayment
	}
	collected, err := fpmath.AddChecked(fc.collected.Value(source), amount)
	if err != nil {
		return fmt.Errorf("collected %s fees: %w", source, err)
	}
	if err := fc.token.Transfer(payer, fc.Key(), amount, jt); err != nil {
		return err
	}
	fc.collected.Set(source, collected)
	return nil
}

func (fc *FeeCollector) Balance() int64 {
	return fc.token.BalanceOf(fc.Key())
}

func (fc *FeeCollector) Collected(source FeeSource) int64 {
	return fc.collected.Value(source)
}

func (fc *FeeCollector) Snapshot() map[FeeSource]int64 {
	return fc.collected.Snapshot()
}

func (fc *FeeCollector) Restore(collected map[FeeSource]int64) {
	fc.collected.Restore(collected)
}

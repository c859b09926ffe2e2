package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies a batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateInternalNonNegative verifies that no internal account is negative
func (v *InvariantValidator) ValidateInternalNonNegative() error {
	var negative []string
	for key, balance := range v.tracker.Snapshot() {
		if !key.IsExternal() && balance < 0 {
			negative = append(negative, fmt.Sprintf("%s=%d", key.AccountPath(), balance))
		}
	}
	if len(negative) > 0 {
		sort.Strings(negative)
		return fmt.Errorf("negative internal balances: %v", negative)
	}
	return nil
}

// ValidateBalanceEquals verifies a tracked balance matches a counter kept
// elsewhere (e.g. the vault's liquid assets).
func (v *InvariantValidator) ValidateBalanceEquals(key AccountKey, expected int64) error {
	if got := v.tracker.BalanceOf(key); got != expected {
		return fmt.Errorf("account %s balance %d, expected %d", key.AccountPath(), got, expected)
	}
	return nil
}

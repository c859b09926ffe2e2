package state

import (
	"fmt"

	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

// LendingPool is the part of the lending vault the collateral ledger drives.
// *vault.Vault implements it.
type LendingPool interface {
	Asset() ledger.AssetID
	Now() int64
	CurrentEpoch() int64

	ConvertToAssets(shares int64) int64
	ConvertToShares(assets int64) int64
	PreviewDeposit(assets int64) (int64, error)
	Deposit(payer, receiver ledger.AccountKey, assets int64) (int64, error)
	Redeem(holder, receiver ledger.AccountKey, shares int64) (int64, error)
	TransferShares(from, to ledger.AccountKey, shares int64) error

	Borrow(account uuid.UUID, receiver ledger.AccountKey, amount int64) (net, fee int64, err error)
	Repay(payer ledger.AccountKey, account uuid.UUID, amount int64) (repaid, excess int64, err error)
	Sync(account uuid.UUID) (vault.Settlement, error)
	DebtOf(account uuid.UUID) int64

	LiquidAssets() int64
	TotalLoanedAssets() int64
	MaxUtilizationBps() int64
}

// LockPositions is the position-lock interface. *LockRegistry implements it.
type LockPositions interface {
	Locked(id int64) (int64, error)
	OwnerOf(id int64) (uuid.UUID, error)
	Transfer(id int64, from, to uuid.UUID) error
	IncreaseAmount(id int64, payer ledger.AccountKey, amount int64) error
}

// CollateralValue returns the current asset value of every position the
// account has pledged.
func (cm *CollateralManager) CollateralValue(account uuid.UUID) (int64, error) {
	var total int64

	if pos, ok := cm.positions.Get(positionKey{account, CollateralKindLock}); ok {
		locked, err := cm.locks.Locked(pos.Quantity)
		if err != nil {
			return 0, fmt.Errorf("value lock collateral of %s: %w", account, err)
		}
		total += locked
	}
	if pos, ok := cm.positions.Get(positionKey{account, CollateralKindShares}); ok {
		total += cm.pool.ConvertToAssets(pos.Quantity)
	}
	return total, nil
}

// MaxLoanIgnoringLiquidity is collateralValue * ltvBps / 10000.
func (cm *CollateralManager) MaxLoanIgnoringLiquidity(account uuid.UUID) (int64, error) {
	value, err := cm.CollateralValue(account)
	if err != nil {
		return 0, err
	}
	return fpmath.ApplyBps(value, cm.risk.Get().LTVBps, fpmath.RoundDown), nil
}

// GetMaxLoan returns the liquidity-aware borrow headroom and the raw LTV
// ceiling.
func (cm *CollateralManager) GetMaxLoan(account uuid.UUID) (maxLoan, maxLoanIgnoringLiquidity int64, err error) {
	maxLoanIgnoringLiquidity, err = cm.MaxLoanIgnoringLiquidity(account)
	if err != nil {
		return 0, 0, err
	}
	return cm.liquidityCappedLoan(cm.debts.Value(account).Debt, maxLoanIgnoringLiquidity), maxLoanIgnoringLiquidity, nil
}

func (cm *CollateralManager) liquidityCappedLoan(debt, maxLoanIgnoringLiquidity int64) int64 {
	outstanding := cm.pool.TotalLoanedAssets()
	maxUtilization := fpmath.ApplyBps(cm.pool.LiquidAssets()+outstanding, cm.pool.MaxUtilizationBps(), fpmath.RoundDown)
	if outstanding >= maxUtilization {
		return 0
	}
	return fpmath.Min(
		fpmath.SubFloor(maxLoanIgnoringLiquidity, debt),
		maxUtilization-outstanding,
	)
}

// reconcileUndercollateralizedDebt moves the LTV breach by the change in
// ceiling. The breach never goes negative and never exceeds debt - newMax.
func reconcileUndercollateralizedDebt(da DebtAccount, newMax int64) DebtAccount {
	prevMax := da.MaxLoanIgnoringLiquidity
	da.MaxLoanIgnoringLiquidity = newMax

	switch {
	case da.Debt <= newMax:
		da.UndercollateralizedDebt = 0
	case newMax < prevMax:
		da.UndercollateralizedDebt = fpmath.Min(da.UndercollateralizedDebt+(prevMax-newMax), da.Debt-newMax)
	case newMax > prevMax:
		da.UndercollateralizedDebt = fpmath.SubFloor(da.UndercollateralizedDebt, newMax-prevMax)
	}
	return da
}

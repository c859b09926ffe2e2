package state

import (
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/txn"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

type positionKey struct {
	Account uuid.UUID
	Kind    CollateralKind
}

// CollateralManager is the collateral ledger: per-account collateral
// positions, debt and breach counters. Every mutator is atomic on its own
// and composes into an enclosing txn scope.
type CollateralManager struct {
	log      *txn.Log
	pool     LendingPool
	locks    LockPositions
	risk     *RiskParamsManager
	fees     *FeeCollector
	monitor  *BreachMonitor
	recorder event.Recorder

	debts     *txn.Map[uuid.UUID, DebtAccount]
	positions *txn.Map[positionKey, CollateralPosition]
}

func NewCollateralManager(
	log *txn.Log,
	pool LendingPool,
	locks LockPositions,
	risk *RiskParamsManager,
	fees *FeeCollector,
	recorder event.Recorder,
) *CollateralManager {
	if recorder == nil {
		recorder = event.NopRecorder{}
	}
	return &CollateralManager{
		log:       log,
		pool:      pool,
		locks:     locks,
		risk:      risk,
		fees:      fees,
		monitor:   NewBreachMonitor(log),
		recorder:  recorder,
		debts:     txn.NewMap[uuid.UUID, DebtAccount](log),
		positions: txn.NewMap[positionKey, CollateralPosition](log),
	}
}

// === Collateral ===

// AddCollateral pledges quantity of kind. For locks quantity is the lock id,
// which must be owned by the account.
func (cm *CollateralManager) AddCollateral(account uuid.UUID, kind CollateralKind, quantity int64) error {
	return cm.log.Atomic(func() error {
		if quantity <= 0 {
			return ErrZeroAmount
		}
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}

		key := positionKey{account, kind}
		pos, exists := cm.positions.Get(key)
		if !exists {
			pos = CollateralPosition{Account: account, Kind: kind, OriginTimestamp: cm.pool.Now()}
		}

		var value int64
		switch kind {
		case CollateralKindLock:
			if exists {
				return fmt.Errorf("%w: %s already pledged lock %d", ErrPositionExists, account, pos.Quantity)
			}
			owner, err := cm.locks.OwnerOf(quantity)
			if err != nil {
				return err
			}
			if owner != account {
				return fmt.Errorf("%w: lock %d owned by %s", ErrNotLockOwner, quantity, owner)
			}
			if value, err = cm.locks.Locked(quantity); err != nil {
				return err
			}
			pos.Quantity = quantity
		case CollateralKindShares:
			value = cm.pool.ConvertToAssets(quantity)
			if pos, err = pos.grow(quantity, value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %d", ErrUnknownCollateralKind, kind)
		}
		cm.positions.Set(key, pos)

		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)

		// interactions
		switch kind {
		case CollateralKindLock:
			err = cm.locks.Transfer(quantity, account, CollateralCustodian)
		case CollateralKindShares:
			err = cm.pool.TransferShares(vault.ShareKey(account), ledger.CollateralEscrowKey(account), quantity)
		}
		if err != nil {
			return err
		}

		cm.record(event.AuditRecord{
			Kind:                event.AuditCollateralAdded,
			Account:             account,
			Amount:              value,
			Collateral:          kind.String(),
			Quantity:            quantity,
			Undercollateralized: da.UndercollateralizedDebt,
		})
		return nil
	})
}

// RemoveCollateral returns quantity of kind to the account. The removal may
// leave a breach behind; callers decide when to enforce.
func (cm *CollateralManager) RemoveCollateral(account uuid.UUID, kind CollateralKind, quantity int64) error {
	return cm.log.Atomic(func() error {
		if quantity <= 0 {
			return ErrZeroAmount
		}
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}

		key := positionKey{account, kind}
		pos, ok := cm.positions.Get(key)
		if !ok {
			return fmt.Errorf("%w: %s has no %s collateral", ErrNoPosition, account, kind)
		}

		var value int64
		switch kind {
		case CollateralKindLock:
			if pos.Quantity != quantity {
				return fmt.Errorf("%w: lock %d is not pledged by %s", ErrNoPosition, quantity, account)
			}
			if value, err = cm.locks.Locked(quantity); err != nil {
				return err
			}
			cm.positions.Delete(key)
		case CollateralKindShares:
			if quantity > pos.Quantity {
				return fmt.Errorf("%w: pledged %d, requested %d", ErrInsufficientShares, pos.Quantity, quantity)
			}
			value = cm.pool.ConvertToAssets(quantity)
			reduction := fpmath.Min(
				fpmath.MustMulDiv(pos.ValueAtDeposit, quantity, pos.Quantity, fpmath.RoundUp),
				pos.ValueAtDeposit,
			)
			pos.Quantity -= quantity
			pos.ValueAtDeposit -= reduction
			if pos.Quantity == 0 {
				cm.positions.Delete(key)
			} else {
				cm.positions.Set(key, pos)
			}
		default:
			return fmt.Errorf("%w: %d", ErrUnknownCollateralKind, kind)
		}

		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)

		switch kind {
		case CollateralKindLock:
			err = cm.locks.Transfer(quantity, CollateralCustodian, account)
		case CollateralKindShares:
			err = cm.pool.TransferShares(ledger.CollateralEscrowKey(account), vault.ShareKey(account), quantity)
		}
		if err != nil {
			return err
		}

		cm.record(event.AuditRecord{
			Kind:                event.AuditCollateralRemoved,
			Account:             account,
			Amount:              value,
			Collateral:          kind.String(),
			Quantity:            quantity,
			Undercollateralized: da.UndercollateralizedDebt,
		})
		return nil
	})
}

// TopUpCollateral adds assets from payer to the account's collateral: into
// the pledged lock when there is one, otherwise as freshly deposited and
// pledged vault shares.
func (cm *CollateralManager) TopUpCollateral(account uuid.UUID, payer ledger.AccountKey, assets int64) error {
	return cm.log.Atomic(func() error {
		if assets <= 0 {
			return ErrZeroAmount
		}
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}

		if lockPos, ok := cm.positions.Get(positionKey{account, CollateralKindLock}); ok {
			if err := cm.locks.IncreaseAmount(lockPos.Quantity, payer, assets); err != nil {
				return err
			}
			if da, err = cm.reconcile(account, da); err != nil {
				return err
			}
			cm.commit(account, da)
			cm.record(event.AuditRecord{
				Kind:       event.AuditCollateralAdded,
				Account:    account,
				Amount:     assets,
				Collateral: CollateralKindLock.String(),
				Quantity:   lockPos.Quantity,
			})
			return nil
		}

		shares, err := cm.pool.PreviewDeposit(assets)
		if err != nil {
			return err
		}
		value := cm.pool.ConvertToAssets(shares)
		key := positionKey{account, CollateralKindShares}
		pos, exists := cm.positions.Get(key)
		if !exists {
			pos = CollateralPosition{Account: account, Kind: CollateralKindShares, OriginTimestamp: cm.pool.Now()}
		}
		if pos, err = pos.grow(shares, value); err != nil {
			return err
		}
		cm.positions.Set(key, pos)

		minted, err := cm.pool.Deposit(payer, ledger.CollateralEscrowKey(account), assets)
		if err != nil {
			return err
		}
		if minted != shares {
			return fmt.Errorf("collateral top-up minted %d shares, expected %d", minted, shares)
		}
		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)

		cm.record(event.AuditRecord{
			Kind:       event.AuditCollateralAdded,
			Account:    account,
			Amount:     value,
			Collateral: CollateralKindShares.String(),
			Quantity:   shares,
		})
		return nil
	})
}

// ClaimYield redeems the share collateral's appreciation above its value at
// deposit into the account's reward inbox, net of the protocol fee.
func (cm *CollateralManager) ClaimYield(account uuid.UUID) (YieldClaim, error) {
	var claim YieldClaim
	err := cm.log.Atomic(func() error {
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}

		key := positionKey{account, CollateralKindShares}
		pos, ok := cm.positions.Get(key)
		if !ok {
			return fmt.Errorf("%w: %s has no share collateral", ErrNoPosition, account)
		}
		yield := cm.pool.ConvertToAssets(pos.Quantity) - pos.ValueAtDeposit
		if yield <= 0 {
			return ErrNoYield
		}
		shares := cm.pool.ConvertToShares(yield)
		if shares == 0 {
			return ErrNoYield
		}
		if shares >= pos.Quantity {
			return fmt.Errorf("%w: yield of %d shares leaves nothing of %d", ErrInsufficientDeposit, shares, pos.Quantity)
		}

		pos.Quantity -= shares
		cm.positions.Set(key, pos)
		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)

		inbox := ledger.RewardInboxKey(account, cm.pool.Asset())
		assets, err := cm.pool.Redeem(ledger.CollateralEscrowKey(account), inbox, shares)
		if err != nil {
			return err
		}
		fee := fpmath.ApplyBps(assets, cm.risk.Get().ProtocolFeeBps, fpmath.RoundDown)
		if err := cm.fees.Collect(inbox, fee, FeeSourceYield); err != nil {
			return err
		}

		claim = YieldClaim{Shares: shares, Assets: assets, Fee: fee, Net: assets - fee}
		cm.record(event.AuditRecord{
			Kind:     event.AuditYieldClaimed,
			Account:  account,
			Amount:   assets,
			Fee:      fee,
			Net:      claim.Net,
			Quantity: shares,
		})
		return nil
	})
	if err != nil {
		return YieldClaim{}, err
	}
	return claim, nil
}

// === Debt ===

// IncreaseTotalDebt draws amount from the pool for account. Draws beyond
// the liquidity-aware max loan accrue into overSuppliedDebt and debt beyond
// the LTV ceiling into undercollateralizedDebt; neither is rejected here.
func (cm *CollateralManager) IncreaseTotalDebt(account uuid.UUID, receiver ledger.AccountKey, amount int64) (net, fee int64, err error) {
	err = cm.log.Atomic(func() error {
		if amount <= 0 {
			return ErrZeroAmount
		}
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}
		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}

		ceiling := da.MaxLoanIgnoringLiquidity
		debt, err := fpmath.AddChecked(da.Debt, amount)
		if err != nil {
			return fmt.Errorf("debt of %s: %w", account, err)
		}
		if maxLoan := cm.liquidityCappedLoan(da.Debt, ceiling); amount > maxLoan {
			if da.OverSuppliedDebt, err = fpmath.AddChecked(da.OverSuppliedDebt, amount-maxLoan); err != nil {
				return fmt.Errorf("over-supplied debt of %s: %w", account, err)
			}
		}
		breachBefore := fpmath.SubFloor(da.Debt, ceiling)
		da.Debt = debt
		da.UndercollateralizedDebt += fpmath.SubFloor(da.Debt, ceiling) - breachBefore
		cm.commit(account, da)

		if net, fee, err = cm.pool.Borrow(account, receiver, amount); err != nil {
			return err
		}

		cm.record(event.AuditRecord{
			Kind:                event.AuditDebtIncreased,
			Account:             account,
			Amount:              amount,
			Fee:                 fee,
			Net:                 net,
			OverSupplied:        da.OverSuppliedDebt,
			Undercollateralized: da.UndercollateralizedDebt,
		})
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return net, fee, nil
}

// DecreaseTotalDebt pays unpaid fees, then principal, from payer. The part
// of amount beyond everything owed is returned as excess and stays with the
// payer.
func (cm *CollateralManager) DecreaseTotalDebt(account uuid.UUID, payer ledger.AccountKey, amount int64) (excess int64, err error) {
	err = cm.log.Atomic(func() error {
		if amount <= 0 {
			return ErrZeroAmount
		}
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}

		feePaid := fpmath.Min(amount, da.UnpaidFees)
		principal := fpmath.Min(amount-feePaid, da.Debt)
		excess = amount - feePaid - principal

		da.UnpaidFees -= feePaid
		da.Debt -= principal
		da.OverSuppliedDebt = fpmath.SubFloor(da.OverSuppliedDebt, feePaid+principal)
		da.UndercollateralizedDebt = fpmath.SubFloor(da.UndercollateralizedDebt, principal)
		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)

		if err := cm.fees.Collect(payer, feePaid, FeeSourceUnpaidFees); err != nil {
			return err
		}
		if principal > 0 {
			if _, _, err := cm.pool.Repay(payer, account, principal); err != nil {
				return err
			}
		}

		if feePaid > 0 {
			cm.record(event.AuditRecord{
				Kind:    event.AuditFeePaid,
				Account: account,
				Amount:  feePaid,
			})
		}
		cm.record(event.AuditRecord{
			Kind:                event.AuditDebtDecreased,
			Account:             account,
			Amount:              amount,
			Fee:                 feePaid,
			Net:                 principal,
			Excess:              excess,
			OverSupplied:        da.OverSuppliedDebt,
			Undercollateralized: da.UndercollateralizedDebt,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return excess, nil
}

// AccrueFee adds a fee the account owes; it is paid first on the next
// DecreaseTotalDebt.
func (cm *CollateralManager) AccrueFee(account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	da := cm.debts.Value(account)
	fees, err := fpmath.AddChecked(da.UnpaidFees, amount)
	if err != nil {
		return fmt.Errorf("unpaid fees of %s: %w", account, err)
	}
	da.UnpaidFees = fees
	cm.commit(account, da)
	return nil
}

// EnforceCollateralRequirements fails if either breach counter is non-zero.
func (cm *CollateralManager) EnforceCollateralRequirements(account uuid.UUID) error {
	da := cm.debts.Value(account)
	if da.OverSuppliedDebt > 0 {
		return fmt.Errorf("%w: %s over-supplied by %d", ErrBadDebt, account, da.OverSuppliedDebt)
	}
	if da.UndercollateralizedDebt > 0 {
		return fmt.Errorf("%w: %s exceeds ltv ceiling by %d", ErrUndercollateralizedDebt, account, da.UndercollateralizedDebt)
	}
	return nil
}

// Sync settles vested rewards for account and carries the debt reduction
// into both breach counters.
func (cm *CollateralManager) Sync(account uuid.UUID) (vault.Settlement, error) {
	var s vault.Settlement
	err := cm.log.Atomic(func() error {
		da, settlement, err := cm.syncDebt(account)
		if err != nil {
			return err
		}
		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)
		s = settlement
		return nil
	})
	return s, err
}

// Refresh re-values collateral and reconciles the LTV breach.
func (cm *CollateralManager) Refresh(account uuid.UUID) (DebtAccount, error) {
	var out DebtAccount
	err := cm.log.Atomic(func() error {
		da, _, err := cm.syncDebt(account)
		if err != nil {
			return err
		}
		if da, err = cm.reconcile(account, da); err != nil {
			return err
		}
		cm.commit(account, da)
		out = da

		cm.record(event.AuditRecord{
			Kind:                event.AuditCollateralRefreshed,
			Account:             account,
			Amount:              da.MaxLoanIgnoringLiquidity,
			OverSupplied:        da.OverSuppliedDebt,
			Undercollateralized: da.UndercollateralizedDebt,
		})
		return nil
	})
	return out, err
}

// RefreshAll refreshes every account with debt, in account order. Used
// after a risk parameter change.
func (cm *CollateralManager) RefreshAll() error {
	return cm.log.Atomic(func() error {
		for _, account := range cm.Accounts() {
			if cm.debts.Value(account).Debt == 0 {
				continue
			}
			if _, err := cm.Refresh(account); err != nil {
				return err
			}
		}
		return nil
	})
}

// syncDebt settles the account in the vault and folds the principal
// reduction into the debt record. The record is not committed.
func (cm *CollateralManager) syncDebt(account uuid.UUID) (DebtAccount, vault.Settlement, error) {
	s, err := cm.pool.Sync(account)
	if err != nil {
		return DebtAccount{}, vault.Settlement{}, err
	}
	da := cm.debts.Value(account)
	if s.Principal > 0 {
		da.Debt -= s.Principal
		da.OverSuppliedDebt = fpmath.SubFloor(da.OverSuppliedDebt, s.Principal)
		da.UndercollateralizedDebt = fpmath.SubFloor(da.UndercollateralizedDebt, s.Principal)
	}
	return da, s, nil
}

func (cm *CollateralManager) reconcile(account uuid.UUID, da DebtAccount) (DebtAccount, error) {
	ceiling, err := cm.MaxLoanIgnoringLiquidity(account)
	if err != nil {
		return DebtAccount{}, err
	}
	return reconcileUndercollateralizedDebt(da, ceiling), nil
}

func (cm *CollateralManager) commit(account uuid.UUID, da DebtAccount) {
	cm.debts.Set(account, da)
	cm.monitor.Observe(account, da, cm.pool.CurrentEpoch())
}

func (cm *CollateralManager) record(rec event.AuditRecord) {
	rec.Epoch = cm.pool.CurrentEpoch()
	cm.recorder.Record(rec)
}

// === Views ===

func (cm *CollateralManager) DebtAccount(account uuid.UUID) DebtAccount {
	return cm.debts.Value(account)
}

func (cm *CollateralManager) Debt(account uuid.UUID) int64 {
	return cm.debts.Value(account).Debt
}

func (cm *CollateralManager) UnpaidFees(account uuid.UUID) int64 {
	return cm.debts.Value(account).UnpaidFees
}

func (cm *CollateralManager) Position(account uuid.UUID, kind CollateralKind) (CollateralPosition, bool) {
	return cm.positions.Get(positionKey{account, kind})
}

// Positions returns the account's positions ordered by kind.
func (cm *CollateralManager) Positions(account uuid.UUID) []CollateralPosition {
	var out []CollateralPosition
	for _, kind := range []CollateralKind{CollateralKindLock, CollateralKindShares} {
		if pos, ok := cm.positions.Get(positionKey{account, kind}); ok {
			out = append(out, pos)
		}
	}
	return out
}

func (cm *CollateralManager) Monitor() *BreachMonitor {
	return cm.monitor
}

func (cm *CollateralManager) RiskParams() RiskParams {
	return cm.risk.Get()
}

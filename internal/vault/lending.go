package vault

import (
	"fmt"

	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"

	"github.com/google/uuid"
)

// Borrow draws amount against the pool for account. The origination fee is
// retained as liquidity; receiver gets amount - fee. Principal grows by the
// full amount.
func (v *Vault) Borrow(account uuid.UUID, receiver ledger.AccountKey, amount int64) (net, fee int64, err error) {
	err = v.whenNotPaused(func() error {
		if amount <= 0 {
			return ErrZeroAmount
		}
		if _, err := v.settle(account); err != nil {
			return err
		}

		p := v.pool.Get()
		loaned, err := fpmath.AddChecked(p.TotalLoanedAssets, amount)
		if err != nil {
			return fmt.Errorf("loaned assets: %w", err)
		}
		limit := v.maxLoanedAssets(p)
		if loaned > limit {
			return fmt.Errorf("%w: loaned %d + %d > %d (%d bps of %d)",
				ErrUtilizationCap, p.TotalLoanedAssets, amount, limit, v.cfg.MaxUtilizationBps, p.TotalAssets())
		}

		fee = fpmath.ApplyBps(amount, v.feeBps.Get(), fpmath.RoundUp)
		net = amount - fee
		if net > p.LiquidAssets {
			return fmt.Errorf("%w: liquid %d, requested %d", ErrInsufficientLiquidity, p.LiquidAssets, net)
		}

		b := v.borrowers.Value(account)
		if b.Principal, err = fpmath.AddChecked(b.Principal, amount); err != nil {
			return fmt.Errorf("principal of %s: %w", account, err)
		}
		v.setBorrower(account, b)

		p.TotalLoanedAssets = loaned
		p.LiquidAssets -= net
		v.pool.Set(p)
		if err := v.checkpointPool(); err != nil {
			return err
		}

		if net > 0 {
			return v.token.Transfer(v.liquidityKey(), receiver, net, ledger.JournalTypeBorrow)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return net, fee, nil
}

// Repay reduces account's principal by up to amount, pulled from payer.
// The part of amount above the outstanding principal is returned as excess
// and never leaves the payer.
func (v *Vault) Repay(payer ledger.AccountKey, account uuid.UUID, amount int64) (repaid, excess int64, err error) {
	err = v.whenNotPaused(func() error {
		if amount <= 0 {
			return ErrZeroAmount
		}
		if _, err := v.settle(account); err != nil {
			return err
		}

		b := v.borrowers.Value(account)
		repaid = fpmath.Min(amount, b.Principal)
		excess = amount - repaid
		if repaid == 0 {
			return nil
		}

		b.Principal -= repaid
		v.setBorrower(account, b)

		p := v.pool.Get()
		p.TotalLoanedAssets -= repaid
		p.LiquidAssets += repaid
		v.pool.Set(p)
		if err := v.checkpointPool(); err != nil {
			return err
		}

		return v.token.Transfer(payer, v.liquidityKey(), repaid, ledger.JournalTypeRepay)
	})
	if err != nil {
		return 0, 0, err
	}
	return repaid, excess, nil
}

// MaxBorrowable is the most that can be drawn right now without breaching
// the utilization cap.
func (v *Vault) MaxBorrowable() int64 {
	p := v.pool.Get()
	return fpmath.SubFloor(v.maxLoanedAssets(p), p.TotalLoanedAssets)
}

func (v *Vault) maxLoanedAssets(p Pool) int64 {
	return fpmath.ApplyBps(p.TotalAssets(), v.cfg.MaxUtilizationBps, fpmath.RoundDown)
}

// DebtOf returns the stored principal. Vested rewards not yet settled are
// not reflected; see PreviewDebt.
func (v *Vault) DebtOf(account uuid.UUID) int64 {
	return v.borrowers.Value(account).Principal
}

// DebtAt returns the principal recorded at or before epoch.
func (v *Vault) DebtAt(account uuid.UUID, epoch int64) int64 {
	val, _ := upperLookup(v.borrowers.Value(account).Checkpoints, epoch)
	return val
}

// DebtCheckpoints returns a copy of the account's principal history.
func (v *Vault) DebtCheckpoints(account uuid.UUID) []Checkpoint {
	cps := v.borrowers.Value(account).Checkpoints
	out := make([]Checkpoint, len(cps))
	copy(out, cps)
	return out
}

// PendingRewards returns a copy of the account's unsettled reward deposits.
func (v *Vault) PendingRewards(account uuid.UUID) []PendingReward {
	pending := v.borrowers.Value(account).Pending
	out := make([]PendingReward, len(pending))
	copy(out, pending)
	return out
}

// PoolCheckpoints returns a copy of the pool utilization history.
func (v *Vault) PoolCheckpoints() []PoolCheckpoint {
	cps := v.poolCPs.Get()
	out := make([]PoolCheckpoint, len(cps))
	copy(out, cps)
	return out
}

// RateAt returns the rate recorded at the close of epoch.
func (v *Vault) RateAt(epoch int64) (int64, error) {
	if cp, ok := poolLookup(v.poolCPs.Get(), epoch); ok {
		return cp.RateBps, nil
	}
	return v.curve.Get().Rate(0)
}

func (v *Vault) setBorrower(account uuid.UUID, b borrower) {
	b.Checkpoints = pushCheckpoint(b.Checkpoints, v.CurrentEpoch(), b.Principal)
	v.borrowers.Set(account, b)
}

func (v *Vault) checkpointPool() error {
	util := v.UtilizationBps()
	rate, err := v.curve.Get().Rate(util)
	if err != nil {
		return err
	}
	v.poolCPs.Set(pushPoolCheckpoint(v.poolCPs.Get(), PoolCheckpoint{
		Epoch:          v.CurrentEpoch(),
		UtilizationBps: util,
		RateBps:        rate,
	}))
	return nil
}

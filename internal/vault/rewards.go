package vault

import (
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"

	"github.com/google/uuid"
)

// EpochSettlement is the outcome of folding one epoch's rewards.
type EpochSettlement struct {
	Epoch     int64
	Rewards   int64
	RateBps   int64
	Premium   int64 // paid to lenders
	Principal int64 // applied to debt
	Excess    int64 // paid out to the account
}

// Settlement is the outcome of one UpdateUserDebtBalance call.
type Settlement struct {
	Account   uuid.UUID
	Epochs    []EpochSettlement
	Premium   int64
	Principal int64
	Excess    int64
}

func (s Settlement) Empty() bool {
	return len(s.Epochs) == 0
}

// RepayWithRewards escrows amount from payer as a reward deposit in the
// current epoch. It reduces debt only once the epoch has closed and the
// account is settled.
func (v *Vault) RepayWithRewards(payer ledger.AccountKey, account uuid.UUID, amount int64) error {
	return v.whenNotPaused(func() error {
		if amount <= 0 {
			return ErrZeroAmount
		}
		if _, err := v.settle(account); err != nil {
			return err
		}

		epoch := v.CurrentEpoch()

		bucket := v.buckets.Value(epoch)
		deposited, err := fpmath.AddChecked(bucket.TotalRewardAssetsDeposited, amount)
		if err != nil {
			return fmt.Errorf("epoch %d deposits: %w", epoch, err)
		}
		bucket.TotalRewardAssetsDeposited = deposited
		v.buckets.Set(epoch, bucket)

		b := v.borrowers.Value(account)
		if b.Pending, err = addPending(b.Pending, epoch, amount); err != nil {
			return fmt.Errorf("pending rewards of %s: %w", account, err)
		}
		v.borrowers.Set(account, b)

		p := v.pool.Get()
		if p.UnsettledRewards, err = fpmath.AddChecked(p.UnsettledRewards, amount); err != nil {
			return fmt.Errorf("unsettled rewards: %w", err)
		}
		v.pool.Set(p)

		if err := v.token.Transfer(payer, v.escrowKey(), amount, ledger.JournalTypeRewardEscrow); err != nil {
			return err
		}

		v.recorder.Record(event.AuditRecord{
			Kind:    event.AuditRewardsDeposited,
			Account: account,
			Epoch:   epoch,
			Amount:  amount,
		})
		return nil
	})
}

// UpdateUserDebtBalance folds every vested reward deposit of account into
// its debt. Callable while paused.
func (v *Vault) UpdateUserDebtBalance(account uuid.UUID) (Settlement, error) {
	var s Settlement
	err := v.nonReentrant(func() error {
		var err error
		s, err = v.settle(account)
		return err
	})
	return s, err
}

// Sync is UpdateUserDebtBalance under the name exposed to collaborators.
func (v *Vault) Sync(account uuid.UUID) (Settlement, error) {
	return v.UpdateUserDebtBalance(account)
}

// PreviewDebt returns the principal account would have after settling now.
func (v *Vault) PreviewDebt(account uuid.UUID) (int64, error) {
	b := v.borrowers.Value(account)
	plan, err := v.planSettlement(account, b)
	if err != nil {
		return 0, err
	}
	return b.Principal - plan.Principal, nil
}

// settle applies vested rewards. Deposits made in epoch e vest from the
// first settlement at or after the start of e+1; the loop is bounded by the
// number of pending entries, which is at most the epochs elapsed.
func (v *Vault) settle(account uuid.UUID) (Settlement, error) {
	b := v.borrowers.Value(account)
	plan, err := v.planSettlement(account, b)
	if err != nil || plan.Empty() {
		return plan, err
	}

	// effects
	b.Pending = b.Pending[len(plan.Epochs):]
	b.Principal -= plan.Principal
	v.setBorrower(account, b)

	vested := plan.Premium + plan.Principal + plan.Excess
	p := v.pool.Get()
	p.TotalLoanedAssets -= plan.Principal
	p.LiquidAssets += plan.Premium + plan.Principal
	p.UnsettledRewards -= vested
	v.pool.Set(p)

	for _, es := range plan.Epochs {
		bucket := v.buckets.Value(es.Epoch)
		bucket.TokenClaimedPerEpoch += es.Premium
		v.buckets.Set(es.Epoch, bucket)
	}
	v.appliedRate.Set(plan.Epochs[len(plan.Epochs)-1].RateBps)

	if err := v.checkpointPool(); err != nil {
		return Settlement{}, err
	}

	// interactions
	if plan.Premium > 0 {
		if err := v.token.Transfer(v.escrowKey(), v.liquidityKey(), plan.Premium, ledger.JournalTypeRewardPremium); err != nil {
			return Settlement{}, err
		}
	}
	if plan.Principal > 0 {
		if err := v.token.Transfer(v.escrowKey(), v.liquidityKey(), plan.Principal, ledger.JournalTypeRewardPrincipal); err != nil {
			return Settlement{}, err
		}
	}
	if plan.Excess > 0 {
		// excess is paid in the underlying asset, never as freshly minted shares
		if err := v.token.Transfer(v.escrowKey(), ledger.WalletKey(account, v.cfg.Asset), plan.Excess, ledger.JournalTypeRewardExcess); err != nil {
			return Settlement{}, err
		}
	}

	for _, es := range plan.Epochs {
		v.recorder.Record(event.AuditRecord{
			Kind:    event.AuditRewardsSettled,
			Account: account,
			Epoch:   es.Epoch,
			Amount:  es.Rewards,
			Fee:     es.Premium,
			Net:     es.Principal,
			Excess:  es.Excess,
			RateBps: es.RateBps,
		})
	}
	return plan, nil
}

// planSettlement computes the fold without mutating anything.
func (v *Vault) planSettlement(account uuid.UUID, b borrower) (Settlement, error) {
	plan := Settlement{Account: account}
	current := v.CurrentEpoch()
	principal := b.Principal

	for _, pr := range b.Pending {
		if pr.Epoch >= current {
			break
		}
		rate, err := v.RateAt(pr.Epoch)
		if err != nil {
			return Settlement{}, err
		}

		premium := fpmath.ApplyBps(pr.Amount, rate, fpmath.RoundDown)
		remainder := pr.Amount - premium
		applied := fpmath.Min(remainder, principal)
		principal -= applied

		es := EpochSettlement{
			Epoch:     pr.Epoch,
			Rewards:   pr.Amount,
			RateBps:   rate,
			Premium:   premium,
			Principal: applied,
			Excess:    remainder - applied,
		}
		plan.Epochs = append(plan.Epochs, es)
		plan.Premium += es.Premium
		plan.Principal += es.Principal
		plan.Excess += es.Excess
	}
	return plan, nil
}

// addPending appends a deposit for epoch, merging with the last entry when
// it is the same epoch. The input slice is never written in place.
func addPending(pending []PendingReward, epoch, amount int64) ([]PendingReward, error) {
	if n := len(pending); n > 0 && pending[n-1].Epoch == epoch {
		merged, err := fpmath.AddChecked(pending[n-1].Amount, amount)
		if err != nil {
			return nil, err
		}
		out := make([]PendingReward, n)
		copy(out, pending)
		out[n-1].Amount = merged
		return out, nil
	}
	return append(pending[:len(pending):len(pending)], PendingReward{Epoch: epoch, Amount: amount}), nil
}

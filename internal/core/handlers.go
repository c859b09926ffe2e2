package core

import (
	"errors"
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/facet"
	"LendLedger/internal/ledger"
	"LendLedger/internal/ratecurve"
	"LendLedger/internal/state"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

var ErrUnknownEvent = errors.New("unknown event type")

// dispatchEvent applies evt to the in-memory state. It runs inside the
// event's txn scope; any error rolls the whole event back.
func (c *DeterministicCore) dispatchEvent(evt event.Event) error {
	switch e := evt.(type) {
	// accounts
	case *event.AccountRegistered:
		return c.accounts.Register(e.Account, e.Owner, e.Timestamp)
	case *event.CallerAuthorization:
		return c.accounts.Authorize(e.Account, e.Actor, e.Caller, e.Revoke)
	case *event.BatchRouterUpdate:
		c.accounts.SetBatchRouter(e.Router, e.Enabled)
		return nil

	// token movements from outside the ledger
	case *event.WalletDeposit:
		return c.tracker.Transfer(c.external(ledger.SubTypeExternalDeposits), c.wallet(e.Owner), e.Amount, ledger.JournalTypeWalletDeposit)
	case *event.WalletWithdrawal:
		return c.tracker.Transfer(c.wallet(e.Owner), c.external(ledger.SubTypeExternalWithdrawals), e.Amount, ledger.JournalTypeWalletWithdrawal)
	case *event.WalletApproval:
		if _, err := c.accounts.OwnerOf(e.Account); err != nil {
			return err
		}
		return c.tracker.Approve(c.wallet(e.Owner), c.wallet(e.Account), e.Amount)
	case *event.RewardsAccrued:
		if _, err := c.accounts.OwnerOf(e.Account); err != nil {
			return err
		}
		return c.tracker.Transfer(c.external(ledger.SubTypeExternalRewards), ledger.RewardInboxKey(e.Account, c.asset), e.Amount, ledger.JournalTypeRewardsAccrued)
	case *event.LockCreated:
		return c.locks.Create(e.LockID, e.Owner, e.Amount, e.UnlockAt, e.Timestamp)

	// lenders
	case *event.VaultDeposit:
		_, err := c.vault.Deposit(c.wallet(e.Lender), vault.ShareKey(e.Lender), e.Assets)
		return err
	case *event.VaultRedeem:
		_, err := c.vault.Redeem(vault.ShareKey(e.Lender), c.wallet(e.Lender), e.Shares)
		return err

	// lending facet
	case *event.CollateralDeposit:
		kind, err := state.ParseCollateralKind(e.Kind)
		if err != nil {
			return err
		}
		return c.facet.AddCollateral(e.Caller, e.Account, kind, e.Quantity)
	case *event.CollateralWithdrawal:
		kind, err := state.ParseCollateralKind(e.Kind)
		if err != nil {
			return err
		}
		return c.facet.RemoveCollateral(e.Caller, e.Account, kind, e.Quantity)
	case *event.BorrowRequest:
		_, _, err := c.facet.Borrow(e.Caller, e.Account, e.Amount)
		return err
	case *event.DebtRepayment:
		_, err := c.facet.Pay(e.Caller, e.Account, e.Amount)
		return err
	case *event.YieldClaim:
		_, err := c.facet.ClaimYield(e.Caller, e.Account)
		return err
	case *event.RewardsProcess:
		_, err := c.facet.ProcessRewards(e.Caller, e.Account, e.Amount)
		return err
	case *event.RewardRouteUpdate:
		route, err := facet.RouteFromSpec(e.Route)
		if err != nil {
			return err
		}
		return c.facet.SetRewardRoute(e.Caller, e.Account, route)
	case *event.BatchRequest:
		steps, err := facet.StepsFromEvent(e.Steps)
		if err != nil {
			return err
		}
		return c.facet.Batch(e.Caller, e.Account, steps)
	case *event.SettlementRequest:
		_, err := c.facet.Sync(e.Caller, e.Account)
		return err
	case *event.CollateralRefresh:
		return c.facet.Refresh(e.Caller, e.Account)

	// administration
	case *event.VaultAdmin:
		return c.handleVaultAdmin(e)
	case *event.RateCurveUpdate:
		curve, err := ratecurve.Build(e.Curve)
		if err != nil {
			return err
		}
		return c.vault.SetRateCurve(curve)
	case *event.RiskParamUpdate:
		return c.handleRiskParamUpdate(e)

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

func (c *DeterministicCore) handleVaultAdmin(evt *event.VaultAdmin) error {
	switch evt.Action {
	case event.AdminActionPause:
		c.vault.Pause()
	case event.AdminActionUnpause:
		c.vault.Unpause()
	default:
		return fmt.Errorf("unknown admin action %q", evt.Action)
	}
	return nil
}

// handleRiskParamUpdate swaps the params, pushes the origination fee to the
// vault and re-reconciles every indebted account against the new LTV.
func (c *DeterministicCore) handleRiskParamUpdate(evt *event.RiskParamUpdate) error {
	params := state.RiskParams{
		LTVBps:            evt.LTVBps,
		ProtocolFeeBps:    evt.ProtocolFeeBps,
		RewardRouteFeeBps: evt.RewardRouteFeeBps,
		OriginationFeeBps: evt.OriginationFeeBps,
		EffectiveSeq:      c.sequence,
	}
	if err := c.risk.UpdateRiskParams(params); err != nil {
		return fmt.Errorf("risk param update rejected: %w", err)
	}
	if err := c.vault.SetOriginationFeeBps(params.OriginationFeeBps); err != nil {
		return err
	}
	return c.collateral.RefreshAll()
}

func (c *DeterministicCore) wallet(owner uuid.UUID) ledger.AccountKey {
	return ledger.WalletKey(owner, c.asset)
}

func (c *DeterministicCore) external(sub ledger.AccountSubType) ledger.AccountKey {
	return ledger.NewExternalAccountKey(sub, c.asset)
}

// Package facet is the lending facet: the thin layer that authorizes calls
// on an account, drives the collateral ledger and routes rewards. It holds
// no accounting state of its own apart from each account's reward route.
package facet

import (
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
	"LendLedger/internal/txn"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
)

// Pool is the part of the vault the facet calls directly.
type Pool interface {
	Asset() ledger.AssetID
	CurrentEpoch() int64
	Deposit(payer, receiver ledger.AccountKey, assets int64) (int64, error)
	RepayWithRewards(payer ledger.AccountKey, account uuid.UUID, amount int64) error
}

type Facet struct {
	log        *txn.Log
	accounts   *state.AccountRegistry
	collateral *state.CollateralManager
	pool       Pool
	token      vault.Token
	recorder   event.Recorder

	routes *txn.Map[uuid.UUID, RewardRoute]
}

func New(
	log *txn.Log,
	accounts *state.AccountRegistry,
	collateral *state.CollateralManager,
	pool Pool,
	token vault.Token,
	recorder event.Recorder,
) *Facet {
	if recorder == nil {
		recorder = event.NopRecorder{}
	}
	return &Facet{
		log:        log,
		accounts:   accounts,
		collateral: collateral,
		pool:       pool,
		token:      token,
		recorder:   recorder,
		routes:     txn.NewMap[uuid.UUID, RewardRoute](log),
	}
}

// === Typed entry points ===

func (f *Facet) AddCollateral(caller, account uuid.UUID, kind state.CollateralKind, quantity int64) error {
	_, err := f.Dispatch(OpAddCollateral, Call{Caller: caller, Account: account, Kind: kind, Quantity: quantity})
	return err
}

func (f *Facet) RemoveCollateral(caller, account uuid.UUID, kind state.CollateralKind, quantity int64) error {
	_, err := f.Dispatch(OpRemoveCollateral, Call{Caller: caller, Account: account, Kind: kind, Quantity: quantity})
	return err
}

// Borrow draws amount into the account's wallet and returns the amount
// received after the origination fee.
func (f *Facet) Borrow(caller, account uuid.UUID, amount int64) (net, fee int64, err error) {
	res, err := f.Dispatch(OpBorrow, Call{Caller: caller, Account: account, Amount: amount})
	return res.Net, res.Fee, err
}

// Pay repays fees then principal from the account's wallet, or from the
// caller's wallet when the caller is not the owner. The excess is left in
// the paying wallet.
func (f *Facet) Pay(caller, account uuid.UUID, amount int64) (excess int64, err error) {
	res, err := f.Dispatch(OpPay, Call{Caller: caller, Account: account, Amount: amount})
	return res.Excess, err
}

func (f *Facet) ClaimYield(caller, account uuid.UUID) (state.YieldClaim, error) {
	res, err := f.Dispatch(OpClaimYield, Call{Caller: caller, Account: account})
	return res.Claim, err
}

// ProcessRewards routes amount from the account's reward inbox; zero means
// the whole inbox.
func (f *Facet) ProcessRewards(caller, account uuid.UUID, amount int64) (int64, error) {
	res, err := f.Dispatch(OpProcessRewards, Call{Caller: caller, Account: account, Amount: amount})
	return res.Net, err
}

func (f *Facet) SetRewardRoute(caller, account uuid.UUID, route RewardRoute) error {
	_, err := f.Dispatch(OpSetRewardRoute, Call{Caller: caller, Account: account, Route: route})
	return err
}

func (f *Facet) Sync(caller, account uuid.UUID) (vault.Settlement, error) {
	res, err := f.Dispatch(OpSync, Call{Caller: caller, Account: account})
	return res.Settlement, err
}

func (f *Facet) Refresh(caller, account uuid.UUID) error {
	_, err := f.Dispatch(OpRefresh, Call{Caller: caller, Account: account})
	return err
}

func (f *Facet) Batch(caller, account uuid.UUID, steps []Step) error {
	_, err := f.Dispatch(OpBatch, Call{Caller: caller, Account: account, Steps: steps})
	return err
}

// Route returns the account's reward route, PayToRecipient{account} when
// none was set.
func (f *Facet) Route(account uuid.UUID) RewardRoute {
	if r, ok := f.routes.Get(account); ok {
		return r
	}
	return DefaultRoute(account)
}

// === Handlers ===

func (f *Facet) addCollateral(call Call) (Result, error) {
	return Result{}, f.collateral.AddCollateral(call.Account, call.Kind, call.Quantity)
}

func (f *Facet) removeCollateral(call Call) (Result, error) {
	return Result{}, f.collateral.RemoveCollateral(call.Account, call.Kind, call.Quantity)
}

func (f *Facet) borrow(call Call) (Result, error) {
	net, fee, err := f.collateral.IncreaseTotalDebt(call.Account, f.wallet(call.Account), call.Amount)
	if err != nil {
		return Result{}, err
	}
	return Result{Net: net, Fee: fee}, nil
}

// pay repays from the account's wallet. Any other authorized caller pays
// from its own wallet, drawing on the allowance it granted the account.
func (f *Facet) pay(call Call) (Result, error) {
	owner, err := f.accounts.OwnerOf(call.Account)
	if err != nil {
		return Result{}, err
	}
	amount, unused := call.Amount, int64(0)
	if call.Caller != owner && call.Amount > 0 {
		if amount, err = f.pullFromCaller(call); err != nil {
			return Result{}, err
		}
		unused = call.Amount - amount
		if amount == 0 {
			return Result{Excess: unused}, nil
		}
	}
	excess, err := f.collateral.DecreaseTotalDebt(call.Account, f.wallet(call.Account), amount)
	if err != nil {
		return Result{}, err
	}
	return Result{Excess: excess + unused}, nil
}

// pullFromCaller moves what the account owes, capped at call.Amount, from
// the caller's wallet into the account's wallet. Nothing above the debt is
// pulled, so the caller keeps its excess.
func (f *Facet) pullFromCaller(call Call) (int64, error) {
	if _, err := f.collateral.Sync(call.Account); err != nil {
		return 0, err
	}
	da := f.collateral.DebtAccount(call.Account)
	owed, err := fpmath.AddChecked(da.Debt, da.UnpaidFees)
	if err != nil {
		return 0, err
	}
	pull := fpmath.Min(call.Amount, owed)
	if pull == 0 {
		return 0, nil
	}
	account := f.wallet(call.Account)
	if err := f.token.TransferFrom(account, f.wallet(call.Caller), account, pull, ledger.JournalTypeRepay); err != nil {
		return 0, err
	}
	return pull, nil
}

func (f *Facet) claimYield(call Call) (Result, error) {
	claim, err := f.collateral.ClaimYield(call.Account)
	if err != nil {
		return Result{}, err
	}
	if err := f.route(call.Account, claim.Net); err != nil {
		return Result{}, err
	}
	return Result{Claim: claim, Net: claim.Net, Fee: claim.Fee}, nil
}

func (f *Facet) processRewards(call Call) (Result, error) {
	if call.Amount < 0 {
		return Result{}, ErrZeroAmount
	}
	available := f.token.BalanceOf(f.inbox(call.Account))
	amount := call.Amount
	if amount == 0 {
		amount = available
	}
	if amount == 0 {
		return Result{}, ErrNoRewards
	}
	if amount > available {
		return Result{}, fmt.Errorf("%w: inbox holds %d, requested %d", ErrNoRewards, available, amount)
	}
	if err := f.route(call.Account, amount); err != nil {
		return Result{}, err
	}
	return Result{Net: amount}, nil
}

func (f *Facet) setRewardRoute(call Call) (Result, error) {
	if call.Route == nil {
		return Result{}, fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	if p, ok := call.Route.(PayToRecipient); ok && p.Recipient == uuid.Nil {
		return Result{}, fmt.Errorf("%w: pay_to_recipient without recipient", ErrInvalidRoute)
	}
	f.routes.Set(call.Account, call.Route)
	f.record(event.AuditRecord{
		Kind:         event.AuditRewardRouteSet,
		Account:      call.Account,
		Route:        call.Route.Kind(),
		Counterparty: SpecOf(call.Route).Recipient,
	})
	return Result{}, nil
}

func (f *Facet) sync(call Call) (Result, error) {
	s, err := f.collateral.Sync(call.Account)
	if err != nil {
		return Result{}, err
	}
	return Result{Settlement: s}, nil
}

func (f *Facet) refresh(call Call) (Result, error) {
	_, err := f.collateral.Refresh(call.Account)
	return Result{}, err
}

// route moves amount out of the account's reward inbox according to its
// reward route.
func (f *Facet) route(account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	inbox := f.inbox(account)
	r := f.Route(account)

	var (
		fee          int64
		counterparty uuid.UUID
		err          error
	)
	switch r := r.(type) {
	case PayToRecipient:
		counterparty = r.Recipient
		if err := f.token.Transfer(inbox, f.wallet(r.Recipient), amount, ledger.JournalTypeRewardPayout); err != nil {
			return err
		}
	case IncreaseCollateral:
		if fee, err = f.accrueRouteFee(account, amount); err != nil {
			return err
		}
		if err := f.collateral.TopUpCollateral(account, inbox, amount); err != nil {
			return err
		}
	case InvestToVault:
		if fee, err = f.accrueRouteFee(account, amount); err != nil {
			return err
		}
		if _, err := f.pool.Deposit(inbox, vault.ShareKey(account), amount); err != nil {
			return err
		}
	case PayDebt:
		// settle through the collateral ledger first so the deposit below
		// finds nothing vested left to fold behind its back
		if _, err := f.collateral.Sync(account); err != nil {
			return err
		}
		if err := f.pool.RepayWithRewards(inbox, account, amount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %T", ErrInvalidRoute, r)
	}

	f.record(event.AuditRecord{
		Kind:         event.AuditRewardsProcessed,
		Account:      account,
		Amount:       amount,
		Fee:          fee,
		Route:        r.Kind(),
		Counterparty: counterparty,
	})
	return nil
}

func (f *Facet) accrueRouteFee(account uuid.UUID, amount int64) (int64, error) {
	fee := fpmath.ApplyBps(amount, f.collateral.RiskParams().RewardRouteFeeBps, fpmath.RoundDown)
	return fee, f.collateral.AccrueFee(account, fee)
}

func (f *Facet) wallet(owner uuid.UUID) ledger.AccountKey {
	return ledger.WalletKey(owner, f.pool.Asset())
}

func (f *Facet) inbox(account uuid.UUID) ledger.AccountKey {
	return ledger.RewardInboxKey(account, f.pool.Asset())
}

func (f *Facet) record(rec event.AuditRecord) {
	rec.Epoch = f.pool.CurrentEpoch()
	f.recorder.Record(rec)
}

// === Snapshot ===

// Routes returns the explicitly set routes in wire form.
func (f *Facet) Routes() map[uuid.UUID]event.RouteSpec {
	out := make(map[uuid.UUID]event.RouteSpec, f.routes.Len())
	f.routes.Range(func(account uuid.UUID, r RewardRoute) bool {
		out[account] = SpecOf(r)
		return true
	})
	return out
}

func (f *Facet) RestoreRoutes(specs map[uuid.UUID]event.RouteSpec) error {
	routes := make(map[uuid.UUID]RewardRoute, len(specs))
	for account, spec := range specs {
		r, err := RouteFromSpec(spec)
		if err != nil {
			return fmt.Errorf("restore route of %s: %w", account, err)
		}
		routes[account] = r
	}
	f.routes.Restore(routes)
	return nil
}

package core_test

import (
	"context"
	"math"
	"reflect"
	"testing"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epochLen = 100

// --- Test helpers ---

type testCore struct {
	*core.DeterministicCore
	persist chan core.CoreOutput
	proj    chan core.CoreOutput

	next map[string]int64
	ts   int64
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) *testCore {
	t.Helper()
	persist := make(chan core.CoreOutput, 1024)
	proj := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(context.Background(), core.Config{
		Vault: vault.Config{
			Asset: ledger.AssetUSDC,
			Clock: fpmath.EpochClock{DurationMicros: epochLen},
		},
		Risk:              state.DefaultRiskParams,
		FullCheckInterval: 1,
	}, persist, proj, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &testCore{DeterministicCore: c, persist: persist, proj: proj, next: make(map[string]int64)}
}

// stamp assigns the next source sequence of the event's partition and a
// timestamp no earlier than the previous event.
func (tc *testCore) stamp(evt event.Event, ts int64) event.Event {
	if ts < tc.ts {
		ts = tc.ts
	}
	tc.ts = ts
	partition := evt.PartitionKey()
	v := reflect.ValueOf(evt).Elem()
	v.FieldByName("Sequence").SetInt(tc.next[partition])
	v.FieldByName("Timestamp").SetInt(ts)
	tc.next[partition]++
	return evt
}

func (tc *testCore) apply(t *testing.T, evt event.Event) core.CoreOutput {
	t.Helper()
	return tc.applyAt(t, evt, tc.ts)
}

func (tc *testCore) applyAt(t *testing.T, evt event.Event, ts int64) core.CoreOutput {
	t.Helper()
	require.NoError(t, tc.ProcessEvent(tc.stamp(evt, ts)))
	select {
	case out := <-tc.persist:
		return out
	default:
		t.Fatalf("no output for %s", evt.EventType())
		return core.CoreOutput{}
	}
}

func (tc *testCore) mustApply(t *testing.T, evt event.Event) core.CoreOutput {
	t.Helper()
	out := tc.apply(t, evt)
	require.False(t, out.Envelope.Rejected, "rejected: %s", out.Envelope.RejectReason)
	return out
}

func call(account, caller uuid.UUID) event.AccountCall {
	return event.AccountCall{RequestID: uuid.New(), Account: account, Caller: caller}
}

type scenario struct {
	lender  uuid.UUID
	owner   uuid.UUID
	account uuid.UUID
}

func newScenario() scenario {
	return scenario{lender: uuid.New(), owner: uuid.New(), account: uuid.New()}
}

// setup supplies 1000 of liquidity and pledges a 400 lock to the account.
func (s scenario) setup(t *testing.T, tc *testCore) {
	t.Helper()
	tc.mustApply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: s.lender, Amount: 1_000})
	tc.mustApply(t, &event.VaultDeposit{RequestID: uuid.New(), Lender: s.lender, Assets: 1_000})
	tc.mustApply(t, &event.AccountRegistered{RequestID: uuid.New(), Account: s.account, Owner: s.owner})
	tc.mustApply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: s.account, Amount: 400})
	tc.mustApply(t, &event.LockCreated{RequestID: uuid.New(), LockID: 1, Owner: s.account, Amount: 400})
	tc.mustApply(t, &event.CollateralDeposit{AccountCall: call(s.account, s.owner), Kind: event.CollateralKindLock, Quantity: 1})
}

func (s scenario) wallet() ledger.AccountKey {
	return ledger.WalletKey(s.account, ledger.AssetUSDC)
}

// ============================================================================
// Test: Borrow / repay
// ============================================================================

func TestBorrowAndRepay(t *testing.T) {
	tc := newTestCore(t)
	s := newScenario()
	s.setup(t, tc)

	out := tc.mustApply(t, &event.BorrowRequest{AccountCall: call(s.account, s.owner), Amount: 150})
	require.Len(t, out.Batch.Journals, 1)
	j := out.Batch.Journals[0]
	assert.Equal(t, ledger.JournalTypeBorrow, j.JournalType)
	assert.Equal(t, int64(150), j.Amount)
	assert.Equal(t, s.wallet(), j.DebitAccount)

	assert.Equal(t, int64(150), tc.Collateral().Debt(s.account))
	assert.Equal(t, int64(150), tc.Balances().BalanceOf(s.wallet()))
	assert.Equal(t, int64(150), tc.Vault().TotalLoanedAssets())

	tc.mustApply(t, &event.DebtRepayment{AccountCall: call(s.account, s.owner), Amount: 100})
	assert.Equal(t, int64(50), tc.Collateral().Debt(s.account))
	assert.Equal(t, int64(50), tc.Balances().BalanceOf(s.wallet()))
	assert.NoError(t, tc.CheckInvariants())
}

func TestRejectedEventRollsBackAndConsumesSequence(t *testing.T) {
	tc := newTestCore(t)
	s := newScenario()
	s.setup(t, tc)
	before := tc.GetSequence()

	out := tc.apply(t, &event.BorrowRequest{AccountCall: call(s.account, s.owner), Amount: 250})
	assert.True(t, out.Envelope.Rejected)
	assert.Contains(t, out.Envelope.RejectReason, "borrow")
	assert.Empty(t, out.Batch.Journals)
	assert.Empty(t, out.Records)
	assert.Equal(t, before, out.Envelope.Sequence)
	assert.Equal(t, before+1, tc.GetSequence())

	assert.Equal(t, int64(0), tc.Collateral().Debt(s.account))
	assert.Equal(t, int64(0), tc.Balances().BalanceOf(s.wallet()))
	assert.Equal(t, int64(0), tc.Vault().TotalLoanedAssets())
	assert.NoError(t, tc.CheckInvariants())
}

func TestUnauthorizedCallerRejected(t *testing.T) {
	tc := newTestCore(t)
	s := newScenario()
	s.setup(t, tc)

	out := tc.apply(t, &event.BorrowRequest{AccountCall: call(s.account, uuid.New()), Amount: 10})
	assert.True(t, out.Envelope.Rejected)
	assert.Equal(t, int64(0), tc.Collateral().Debt(s.account))
}

// ============================================================================
// Test: External funding and amount bounds
// ============================================================================

func TestExternalFundingApplies(t *testing.T) {
	tc := newTestCore(t)
	s := newScenario()
	tc.mustApply(t, &event.AccountRegistered{RequestID: uuid.New(), Account: s.account, Owner: s.owner})
	tc.mustApply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: s.account, Amount: 1_000})
	tc.mustApply(t, &event.RewardsAccrued{RequestID: uuid.New(), Account: s.account, Amount: 70})
	tc.mustApply(t, &event.LockCreated{RequestID: uuid.New(), LockID: 1, Owner: s.account, Amount: 400})

	deposits := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetUSDC)
	rewards := ledger.NewExternalAccountKey(ledger.SubTypeExternalRewards, ledger.AssetUSDC)
	assert.Equal(t, int64(-1_000), tc.Balances().BalanceOf(deposits))
	assert.Equal(t, int64(-70), tc.Balances().BalanceOf(rewards))
	assert.Equal(t, int64(600), tc.Balances().BalanceOf(s.wallet()))
	assert.Equal(t, int64(70), tc.Balances().BalanceOf(ledger.RewardInboxKey(s.account, ledger.AssetUSDC)))
	assert.Equal(t, int64(4), tc.GetSequence())
	assert.NoError(t, tc.CheckInvariants())
}

func TestOverflowingDepositRejected(t *testing.T) {
	tc := newTestCore(t)
	owner := uuid.New()
	half := int64(math.MaxInt64/2 + 1)
	wallet := ledger.WalletKey(owner, ledger.AssetUSDC)

	tc.mustApply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: owner, Amount: half})
	before := tc.GetSequence()

	out := tc.apply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: owner, Amount: half})
	assert.True(t, out.Envelope.Rejected)
	assert.Contains(t, out.Envelope.RejectReason, fpmath.ErrOverflow.Error())
	assert.Empty(t, out.Batch.Journals)
	assert.Equal(t, before+1, tc.GetSequence())
	assert.Equal(t, half, tc.Balances().BalanceOf(wallet))

	// the core keeps serving after the rejection
	tc.mustApply(t, &event.WalletWithdrawal{RequestID: uuid.New(), Owner: owner, Amount: 1})
	assert.Equal(t, half-1, tc.Balances().BalanceOf(wallet))
	assert.NoError(t, tc.CheckInvariants())
}

func TestHelperRepaysFromApprovedWallet(t *testing.T) {
	tc := newTestCore(t)
	s := newScenario()
	s.setup(t, tc)
	helper := uuid.New()
	helperWallet := ledger.WalletKey(helper, ledger.AssetUSDC)

	tc.mustApply(t, &event.BorrowRequest{AccountCall: call(s.account, s.owner), Amount: 100})
	tc.mustApply(t, &event.CallerAuthorization{RequestID: uuid.New(), Account: s.account, Actor: s.owner, Caller: helper})
	tc.mustApply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: helper, Amount: 200})

	out := tc.apply(t, &event.DebtRepayment{AccountCall: call(s.account, helper), Amount: 60})
	assert.True(t, out.Envelope.Rejected, "no allowance yet")
	assert.Contains(t, out.Envelope.RejectReason, "pay")

	tc.mustApply(t, &event.WalletApproval{RequestID: uuid.New(), Owner: helper, Account: s.account, Amount: 80})
	tc.mustApply(t, &event.DebtRepayment{AccountCall: call(s.account, helper), Amount: 60})

	assert.Equal(t, int64(40), tc.Collateral().Debt(s.account))
	assert.Equal(t, int64(140), tc.Balances().BalanceOf(helperWallet))
	assert.Equal(t, int64(100), tc.Balances().BalanceOf(s.wallet()))
	assert.Equal(t, int64(20), tc.Balances().Allowance(helperWallet, s.wallet()))
	assert.NoError(t, tc.CheckInvariants())
}

// ============================================================================
// Test: Rewards settle into debt
// ============================================================================

func TestPayDebtRouteSettlesNextEpoch(t *testing.T) {
	tc := newTestCore(t)
	s := newScenario()
	s.setup(t, tc)

	tc.mustApply(t, &event.BorrowRequest{AccountCall: call(s.account, s.owner), Amount: 150})
	tc.mustApply(t, &event.RewardRouteUpdate{
		AccountCall: call(s.account, s.owner),
		Route:       event.RouteSpec{Kind: event.RouteKindPayDebt},
	})
	tc.mustApply(t, &event.RewardsAccrued{RequestID: uuid.New(), Account: s.account, Amount: 50})
	out := tc.mustApply(t, &event.RewardsProcess{AccountCall: call(s.account, s.owner)})
	assert.NotEmpty(t, out.Records)
	assert.Equal(t, int64(150), tc.Collateral().Debt(s.account))

	out = tc.applyAt(t, &event.SettlementRequest{AccountCall: call(s.account, uuid.New())}, epochLen)
	require.False(t, out.Envelope.Rejected, out.Envelope.RejectReason)

	var settled []event.AuditRecord
	for _, rec := range out.Records {
		if rec.Kind == event.AuditRewardsSettled {
			settled = append(settled, rec)
		}
	}
	require.Len(t, settled, 1)
	assert.Equal(t, int64(10), settled[0].Fee)
	assert.Equal(t, int64(40), settled[0].Net)
	assert.Equal(t, int64(110), tc.Collateral().Debt(s.account))
	assert.NoError(t, tc.CheckInvariants())
}

// ============================================================================
// Test: Idempotency and ordering
// ============================================================================

func TestDuplicateEventSkipped(t *testing.T) {
	tc := newTestCore(t)
	owner := uuid.New()

	deposit := &event.WalletDeposit{RequestID: uuid.New(), Owner: owner, Amount: 100}
	tc.mustApply(t, deposit)
	seq := tc.GetSequence()

	// redelivery with the same key and source sequence
	require.NoError(t, tc.ProcessEvent(deposit))
	assert.Equal(t, seq, tc.GetSequence())
	assert.Empty(t, tc.persist)
	assert.Equal(t, int64(100), tc.Balances().BalanceOf(ledger.WalletKey(owner, ledger.AssetUSDC)))
}

func TestSequenceGapReturnsError(t *testing.T) {
	tc := newTestCore(t)
	evt := &event.WalletDeposit{RequestID: uuid.New(), Owner: uuid.New(), Amount: 100, Sequence: 5}

	err := tc.ProcessEvent(evt)
	assert.ErrorIs(t, err, core.ErrSequenceGap)
	assert.Equal(t, int64(0), tc.GetSequence())
	assert.Empty(t, tc.persist)
}

func TestOutOfOrderReturnsError(t *testing.T) {
	tc := newTestCore(t)
	tc.mustApply(t, &event.WalletDeposit{RequestID: uuid.New(), Owner: uuid.New(), Amount: 100})

	late := &event.WalletDeposit{RequestID: uuid.New(), Owner: uuid.New(), Amount: 100, Sequence: 0}
	err := tc.ProcessEvent(late)
	assert.ErrorIs(t, err, core.ErrOutOfOrder)
}

// ============================================================================
// Test: Hash chain
// ============================================================================

func TestHashChainDeterministic(t *testing.T) {
	b := newTestCore(t)
	for _, evt := range replayScript(t) {
		require.NoError(t, b.ProcessEvent(evt))
	}
	c := newTestCore(t)
	for _, evt := range replayScript(t) {
		require.NoError(t, c.ProcessEvent(evt))
	}

	assert.Equal(t, b.GetStateHash(), c.GetStateHash())
	assert.NotEqual(t, core.GenesisHash(), b.GetStateHash())
	assert.Equal(t, b.GetSequence(), c.GetSequence())
}

var (
	fixedLender  = uuid.MustParse("0d6a3bde-61a6-4a35-9c0b-6b1c6a2f0a01")
	fixedOwner   = uuid.MustParse("0d6a3bde-61a6-4a35-9c0b-6b1c6a2f0a02")
	fixedAccount = uuid.MustParse("0d6a3bde-61a6-4a35-9c0b-6b1c6a2f0a03")
)

func fixedID(n byte) uuid.UUID {
	id := fixedAccount
	id[15] = 0x80 | n
	return id
}

// replayScript returns a fully stamped, id-stable event sequence.
func replayScript(t *testing.T) []event.Event {
	t.Helper()
	next := map[string]int64{}
	var ts int64
	stamp := func(evt event.Event) event.Event {
		ts++
		v := reflect.ValueOf(evt).Elem()
		v.FieldByName("Sequence").SetInt(next[evt.PartitionKey()])
		v.FieldByName("Timestamp").SetInt(ts)
		next[evt.PartitionKey()]++
		return evt
	}
	acct := func(n byte) event.AccountCall {
		return event.AccountCall{RequestID: fixedID(n), Account: fixedAccount, Caller: fixedOwner}
	}
	return []event.Event{
		stamp(&event.WalletDeposit{RequestID: fixedID(1), Owner: fixedLender, Amount: 1_000}),
		stamp(&event.VaultDeposit{RequestID: fixedID(2), Lender: fixedLender, Assets: 1_000}),
		stamp(&event.AccountRegistered{RequestID: fixedID(3), Account: fixedAccount, Owner: fixedOwner}),
		stamp(&event.WalletDeposit{RequestID: fixedID(4), Owner: fixedAccount, Amount: 400}),
		stamp(&event.LockCreated{RequestID: fixedID(5), LockID: 1, Owner: fixedAccount, Amount: 400}),
		stamp(&event.CollateralDeposit{AccountCall: acct(6), Kind: event.CollateralKindLock, Quantity: 1}),
		stamp(&event.BorrowRequest{AccountCall: acct(7), Amount: 120}),
		stamp(&event.BorrowRequest{AccountCall: acct(8), Amount: 500}),
		stamp(&event.RewardsAccrued{RequestID: fixedID(9), Account: fixedAccount, Amount: 30}),
		stamp(&event.RewardsProcess{AccountCall: acct(10)}),
	}
}

func TestHashChainLinksEnvelopes(t *testing.T) {
	tc := newTestCore(t)
	var outs []core.CoreOutput
	for _, evt := range replayScript(t) {
		require.NoError(t, tc.ProcessEvent(evt))
		outs = append(outs, <-tc.persist)
	}

	assert.Equal(t, core.GenesisHash(), outs[0].Envelope.PrevHash)
	for i := 1; i < len(outs); i++ {
		assert.Equal(t, outs[i-1].Envelope.StateHash, outs[i].Envelope.PrevHash, "link %d", i)
		assert.Equal(t, int64(i), outs[i].Envelope.Sequence)
	}
	assert.True(t, outs[7].Envelope.Rejected, "second borrow exceeds the LTV")
	assert.Equal(t, tc.GetStateHash(), outs[len(outs)-1].Envelope.StateHash)
}

// ============================================================================
// Test: Snapshot
// ============================================================================

func TestSnapshotRestoreContinuesChain(t *testing.T) {
	events := replayScript(t)
	split := 7

	full := newTestCore(t)
	for _, evt := range events {
		require.NoError(t, full.ProcessEvent(evt))
	}

	first := newTestCore(t)
	for _, evt := range events[:split] {
		require.NoError(t, first.ProcessEvent(evt))
	}
	snap := first.CreateSnapshotState()
	assert.Equal(t, int64(split), snap.Sequence)

	restored := newTestCore(t)
	require.NoError(t, restored.RestoreFromSnapshot(snap))
	assert.Equal(t, first.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, first.Collateral().Debt(fixedAccount), restored.Collateral().Debt(fixedAccount))

	// an already-applied event is recognized after restore
	require.NoError(t, restored.ProcessEvent(events[split-1]))
	assert.Equal(t, int64(split), restored.GetSequence())

	for _, evt := range events[split:] {
		require.NoError(t, restored.ProcessEvent(evt))
	}
	assert.Equal(t, full.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, full.GetSequence(), restored.GetSequence())
	assert.NoError(t, restored.CheckInvariants())
}

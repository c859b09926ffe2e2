package vault_test

import (
	"math"
	"testing"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/ratecurve"
	"LendLedger/internal/txn"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epochLen = 100

type fixture struct {
	log     *txn.Log
	tracker *ledger.BalanceTracker
	vault   *vault.Vault
	audit   *event.SliceRecorder
	lender  uuid.UUID
}

func newFixture(t *testing.T, originationFeeBps int64) *fixture {
	t.Helper()
	log := txn.NewLog()
	tracker := ledger.NewBalanceTracker(log)
	audit := &event.SliceRecorder{}

	v, err := vault.New(vault.Config{
		Asset:             ledger.AssetUSDC,
		Clock:             fpmath.EpochClock{GenesisMicros: 0, DurationMicros: epochLen},
		OriginationFeeBps: originationFeeBps,
	}, tracker, ratecurve.Default(), log, audit)
	require.NoError(t, err)

	return &fixture{log: log, tracker: tracker, vault: v, audit: audit, lender: uuid.New()}
}

func (f *fixture) fund(t *testing.T, owner uuid.UUID, amount int64) {
	t.Helper()
	src := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetUSDC)
	require.NoError(t, f.tracker.Transfer(src, ledger.WalletKey(owner, ledger.AssetUSDC), amount, ledger.JournalTypeWalletDeposit))
}

func (f *fixture) supply(t *testing.T, amount int64) {
	t.Helper()
	f.fund(t, f.lender, amount)
	_, err := f.vault.Deposit(ledger.WalletKey(f.lender, ledger.AssetUSDC), vault.ShareKey(f.lender), amount)
	require.NoError(t, err)
}

func (f *fixture) wallet(owner uuid.UUID) int64 {
	return f.tracker.BalanceOf(ledger.WalletKey(owner, ledger.AssetUSDC))
}

func (f *fixture) advanceEpochs(n int64) {
	f.vault.AdvanceTo(f.vault.Now() + n*epochLen)
}

// ============================================================================
// Test: Utilization ceiling
// ============================================================================

func TestBorrow_UnderUtilizationCap(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()

	net, fee, err := f.vault.Borrow(account, ledger.WalletKey(account, ledger.AssetUSDC), 790)
	require.NoError(t, err)
	assert.Equal(t, int64(790), net)
	assert.Equal(t, int64(0), fee)
	assert.Less(t, f.vault.UtilizationBps(), int64(8_000))
	assert.Equal(t, int64(790), f.wallet(account))
	require.NoError(t, f.vault.CheckInvariants())
}

func TestBorrow_SecondDrawExceedsCap(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	receiver := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, receiver, 790)
	require.NoError(t, err)

	_, _, err = f.vault.Borrow(account, receiver, 100)
	require.ErrorIs(t, err, vault.ErrUtilizationCap)

	assert.Equal(t, int64(790), f.vault.DebtOf(account))
	assert.Equal(t, int64(790), f.vault.TotalLoanedAssets())
	assert.Equal(t, int64(210), f.vault.LiquidAssets())
	require.NoError(t, f.vault.CheckInvariants())
}

func TestBorrow_OriginationFeeStaysInPool(t *testing.T) {
	f := newFixture(t, 50)
	f.supply(t, 1_000)
	account := uuid.New()

	net, fee, err := f.vault.Borrow(account, ledger.WalletKey(account, ledger.AssetUSDC), 200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fee)
	assert.Equal(t, int64(199), net)
	assert.Equal(t, int64(200), f.vault.DebtOf(account))
	assert.Equal(t, int64(801), f.vault.LiquidAssets())
	assert.Equal(t, int64(1_001), f.vault.TotalAssets())
	require.NoError(t, f.vault.CheckInvariants())
}

func TestBorrow_ZeroAmount(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	_, _, err := f.vault.Borrow(uuid.New(), ledger.WalletKey(uuid.New(), ledger.AssetUSDC), 0)
	assert.ErrorIs(t, err, vault.ErrZeroAmount)
}

func TestRateAtHalfUtilization(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()

	_, _, err := f.vault.Borrow(account, ledger.WalletKey(account, ledger.AssetUSDC), 500)
	require.NoError(t, err)

	assert.Equal(t, int64(5_000), f.vault.UtilizationBps())
	rate, err := f.vault.GetVaultRatioBps()
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), rate)
}

// ============================================================================
// Test: Repay
// ============================================================================

func TestRepay_CapsAtPrincipal(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 300)
	require.NoError(t, err)
	f.fund(t, account, 100)

	repaid, excess, err := f.vault.Repay(wallet, account, 350)
	require.NoError(t, err)
	assert.Equal(t, int64(300), repaid)
	assert.Equal(t, int64(50), excess)
	assert.Equal(t, int64(0), f.vault.DebtOf(account))
	assert.Equal(t, int64(100), f.wallet(account))
	require.NoError(t, f.vault.CheckInvariants())
}

func TestRepay_FailedTransferRollsBack(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 300)
	require.NoError(t, err)
	require.NoError(t, f.tracker.Transfer(wallet, ledger.WalletKey(uuid.New(), ledger.AssetUSDC), 250, ledger.JournalTypeAdjustment))
	before := f.vault.Export()

	_, _, err = f.vault.Repay(wallet, account, 300)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.Equal(t, before, f.vault.Export())
	require.NoError(t, f.vault.CheckInvariants())
}

// ============================================================================
// Test: Reward vesting
// ============================================================================

func TestRepayWithRewards_VestsNextEpoch(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 500)
	require.NoError(t, err)
	epoch := f.vault.CurrentEpoch()

	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 100))
	assert.Equal(t, int64(100), f.vault.Bucket(epoch).TotalRewardAssetsDeposited)

	// same epoch: nothing vests
	s, err := f.vault.Sync(account)
	require.NoError(t, err)
	assert.True(t, s.Empty())
	assert.Equal(t, int64(500), f.vault.DebtOf(account))

	f.advanceEpochs(1)
	preview, err := f.vault.PreviewDebt(account)
	require.NoError(t, err)

	s, err = f.vault.Sync(account)
	require.NoError(t, err)
	require.Len(t, s.Epochs, 1)
	assert.Equal(t, int64(2_000), s.Epochs[0].RateBps)
	assert.Equal(t, int64(20), s.Premium)
	assert.Equal(t, int64(80), s.Principal)

	assert.Less(t, f.vault.DebtOf(account), int64(500))
	assert.Equal(t, int64(420), f.vault.DebtOf(account))
	assert.Equal(t, preview, f.vault.DebtOf(account))
	assert.Equal(t, int64(20), f.vault.Bucket(epoch).TokenClaimedPerEpoch)
	assert.Equal(t, int64(2_000), f.vault.GetCurrentVaultRatioBps())
	assert.Equal(t, int64(500), f.vault.DebtAt(account, epoch))
	assert.Equal(t, int64(420), f.vault.DebtAt(account, epoch+1))

	settled := f.audit.OfKind(event.AuditRewardsSettled)
	require.Len(t, settled, 1)
	assert.Equal(t, epoch, settled[0].Epoch)
	require.NoError(t, f.vault.CheckInvariants())
}

func TestRepayWithRewards_ExcessPaidAsAssetNotShares(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 100)
	require.NoError(t, err)
	f.fund(t, account, 150)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 150))

	supplyBefore := f.vault.TotalSupply()
	assetsBefore := f.vault.TotalAssets()
	walletBefore := f.wallet(account)

	f.advanceEpochs(1)
	s, err := f.vault.Sync(account)
	require.NoError(t, err)

	assert.Equal(t, int64(30), s.Premium)
	assert.Equal(t, int64(100), s.Principal)
	assert.Equal(t, int64(20), s.Excess)
	assert.Equal(t, int64(0), f.vault.DebtOf(account))
	assert.Greater(t, f.wallet(account), walletBefore)
	assert.Equal(t, walletBefore+20, f.wallet(account))
	assert.Equal(t, supplyBefore, f.vault.TotalSupply())
	assert.Equal(t, int64(0), f.vault.ShareBalance(vault.ShareKey(account)))
	// share price never drops on settlement
	assert.GreaterOrEqual(t, f.vault.TotalAssets()*supplyBefore, assetsBefore*f.vault.TotalSupply())
	require.NoError(t, f.vault.CheckInvariants())
}

func TestSettlement_IdempotentWithinEpoch(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 400)
	require.NoError(t, err)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 60))
	f.advanceEpochs(2)

	_, err = f.vault.UpdateUserDebtBalance(account)
	require.NoError(t, err)
	first := f.vault.DebtOf(account)

	s, err := f.vault.UpdateUserDebtBalance(account)
	require.NoError(t, err)
	assert.True(t, s.Empty())
	assert.Equal(t, first, f.vault.DebtOf(account))
}

type rewardPlan map[int64]int64 // epoch -> reward deposit

func runSchedule(t *testing.T, plan rewardPlan, lastEpoch int64, syncEveryEpoch bool) *fixture {
	t.Helper()
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.MustParse("7b1f4c1e-0000-4000-8000-000000000001")
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 300)
	require.NoError(t, err)
	f.fund(t, account, 10_000)

	for e := int64(0); e <= lastEpoch; e++ {
		f.vault.AdvanceTo(e * epochLen)
		if syncEveryEpoch {
			_, err := f.vault.Sync(account)
			require.NoError(t, err)
		}
		if amount, ok := plan[e]; ok {
			require.NoError(t, f.vault.RepayWithRewards(wallet, account, amount))
		}
	}
	_, err = f.vault.Sync(account)
	require.NoError(t, err)
	require.NoError(t, f.vault.CheckInvariants())
	return f
}

func TestSettlement_StaleRecoveryMatchesPerEpoch(t *testing.T) {
	plans := []rewardPlan{
		{0: 50, 1: 80, 3: 200, 4: 100},
		{0: 10},
		{2: 400, 7: 5},
		{0: 1, 1: 1, 2: 1, 3: 1, 4: 1, 5: 1, 6: 1, 7: 1},
	}
	account := uuid.MustParse("7b1f4c1e-0000-4000-8000-000000000001")

	for i, plan := range plans {
		eager := runSchedule(t, plan, 8, true)
		lazy := runSchedule(t, plan, 8, false)

		assert.Equal(t, eager.vault.DebtOf(account), lazy.vault.DebtOf(account), "plan %d debt", i)
		assert.Equal(t, eager.wallet(account), lazy.wallet(account), "plan %d wallet", i)
		assert.Equal(t, eager.vault.Pool(), lazy.vault.Pool(), "plan %d pool", i)
		assert.Empty(t, lazy.vault.PendingRewards(account))
	}
}

func TestSettlement_FoldsManySkippedEpochs(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 500)
	require.NoError(t, err)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 100))
	f.advanceEpochs(1)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 100)) // settles epoch 0 first
	f.advanceEpochs(1_000)

	s, err := f.vault.Sync(account)
	require.NoError(t, err)
	require.Len(t, s.Epochs, 1)
	assert.Empty(t, f.vault.PendingRewards(account))
	require.NoError(t, f.vault.CheckInvariants())
}

// ============================================================================
// Test: Pause + reentrancy
// ============================================================================

func TestPause_BlocksValueMovesButNotSync(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 500)
	require.NoError(t, err)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 100))

	f.vault.Pause()
	_, _, err = f.vault.Borrow(account, wallet, 1)
	assert.ErrorIs(t, err, vault.ErrPaused)
	_, _, err = f.vault.Repay(wallet, account, 1)
	assert.ErrorIs(t, err, vault.ErrPaused)
	assert.ErrorIs(t, f.vault.RepayWithRewards(wallet, account, 1), vault.ErrPaused)
	_, err = f.vault.Deposit(wallet, vault.ShareKey(account), 1)
	assert.ErrorIs(t, err, vault.ErrPaused)
	_, err = f.vault.Redeem(vault.ShareKey(f.lender), ledger.WalletKey(f.lender, ledger.AssetUSDC), 1)
	assert.ErrorIs(t, err, vault.ErrPaused)

	f.advanceEpochs(1)
	_, err = f.vault.Sync(account)
	require.NoError(t, err)
	assert.Equal(t, int64(420), f.vault.DebtOf(account))

	f.vault.Unpause()
	_, _, err = f.vault.Borrow(account, wallet, 1)
	require.NoError(t, err)
}

type reentrantToken struct {
	*ledger.BalanceTracker
	vault *vault.Vault
	armed bool
}

func (r *reentrantToken) Transfer(from, to ledger.AccountKey, amount int64, jt ledger.JournalType) error {
	if err := r.BalanceTracker.Transfer(from, to, amount, jt); err != nil {
		return err
	}
	if r.armed {
		r.armed = false
		_, _, err := r.vault.Borrow(uuid.New(), to, 1)
		return err
	}
	return nil
}

func TestReentrantCallRejectedAndRolledBack(t *testing.T) {
	log := txn.NewLog()
	tracker := ledger.NewBalanceTracker(log)
	token := &reentrantToken{BalanceTracker: tracker}
	v, err := vault.New(vault.Config{
		Asset: ledger.AssetUSDC,
		Clock: fpmath.EpochClock{DurationMicros: epochLen},
	}, token, nil, log, nil)
	require.NoError(t, err)
	token.vault = v

	lender := uuid.New()
	src := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetUSDC)
	require.NoError(t, tracker.Transfer(src, ledger.WalletKey(lender, ledger.AssetUSDC), 1_000, ledger.JournalTypeWalletDeposit))
	_, err = v.Deposit(ledger.WalletKey(lender, ledger.AssetUSDC), vault.ShareKey(lender), 1_000)
	require.NoError(t, err)

	account := uuid.New()
	token.armed = true
	_, _, err = v.Borrow(account, ledger.WalletKey(account, ledger.AssetUSDC), 100)
	require.ErrorIs(t, err, vault.ErrReentrantCall)

	assert.Equal(t, int64(0), v.DebtOf(account))
	assert.Equal(t, int64(1_000), v.LiquidAssets())
	require.NoError(t, v.CheckInvariants())
}

// ============================================================================
// Test: Shares
// ============================================================================

func TestDeposit_OverflowRejected(t *testing.T) {
	f := newFixture(t, 0)
	half := int64(math.MaxInt64/2 + 1)
	f.supply(t, half)

	other := uuid.New()
	f.fund(t, other, half)
	_, err := f.vault.Deposit(ledger.WalletKey(other, ledger.AssetUSDC), vault.ShareKey(other), half)
	require.ErrorIs(t, err, fpmath.ErrOverflow)

	assert.Equal(t, half, f.vault.LiquidAssets())
	assert.Equal(t, half, f.vault.TotalSupply())
	assert.Equal(t, half, f.wallet(other))
	assert.Equal(t, int64(0), f.vault.ShareBalance(vault.ShareKey(other)))
	require.NoError(t, f.vault.CheckInvariants())
}

func TestRedeem_LimitedByLiquidity(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()

	_, _, err := f.vault.Borrow(account, ledger.WalletKey(account, ledger.AssetUSDC), 700)
	require.NoError(t, err)

	lenderShares := vault.ShareKey(f.lender)
	_, err = f.vault.Redeem(lenderShares, ledger.WalletKey(f.lender, ledger.AssetUSDC), 1_000)
	require.ErrorIs(t, err, vault.ErrInsufficientLiquidity)

	assert.Equal(t, int64(300), f.vault.MaxWithdraw(lenderShares))
	shares, err := f.vault.Withdraw(lenderShares, ledger.WalletKey(f.lender, ledger.AssetUSDC), 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), shares)
	require.NoError(t, f.vault.CheckInvariants())
}

func TestShares_PremiumRaisesSharePrice(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)

	_, _, err := f.vault.Borrow(account, wallet, 500)
	require.NoError(t, err)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 100))
	f.advanceEpochs(1)
	_, err = f.vault.Sync(account)
	require.NoError(t, err)

	assert.Equal(t, int64(1_020), f.vault.ConvertToAssets(1_000))

	other := uuid.New()
	f.fund(t, other, 102)
	shares, err := f.vault.Deposit(ledger.WalletKey(other, ledger.AssetUSDC), vault.ShareKey(other), 102)
	require.NoError(t, err)
	assert.Equal(t, int64(100), shares)
	require.NoError(t, f.vault.CheckInvariants())
}

func TestTransferShares(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)

	escrow := ledger.CollateralEscrowKey(f.lender)
	require.NoError(t, f.vault.TransferShares(vault.ShareKey(f.lender), escrow, 400))
	assert.Equal(t, int64(400), f.vault.ShareBalance(escrow))

	err := f.vault.TransferShares(vault.ShareKey(f.lender), escrow, 601)
	assert.ErrorIs(t, err, vault.ErrInsufficientShares)
}

// ============================================================================
// Test: Curve swap + snapshot
// ============================================================================

func TestSetRateCurve_TouchesNoOtherState(t *testing.T) {
	f := newFixture(t, 0)
	f.supply(t, 1_000)
	account := uuid.New()
	_, _, err := f.vault.Borrow(account, ledger.WalletKey(account, ledger.AssetUSDC), 500)
	require.NoError(t, err)

	pool := f.vault.Pool()
	debt := f.vault.DebtOf(account)

	kink, err := ratecurve.NewKink(ratecurve.Kink{BaseBps: 100, MultiplierBps: 1_000, JumpMultiplierBps: 5_000, KinkBps: 8_000})
	require.NoError(t, err)
	require.NoError(t, f.vault.SetRateCurve(kink))

	assert.Equal(t, pool, f.vault.Pool())
	assert.Equal(t, debt, f.vault.DebtOf(account))
	rate, err := f.vault.GetVaultRatioBps()
	require.NoError(t, err)
	assert.Equal(t, int64(600), rate)
}

func TestExportRestore(t *testing.T) {
	f := newFixture(t, 25)
	f.supply(t, 1_000)
	account := uuid.New()
	wallet := ledger.WalletKey(account, ledger.AssetUSDC)
	_, _, err := f.vault.Borrow(account, wallet, 400)
	require.NoError(t, err)
	require.NoError(t, f.vault.RepayWithRewards(wallet, account, 50))
	f.advanceEpochs(1)
	_, err = f.vault.Sync(account)
	require.NoError(t, err)

	st := f.vault.Export()

	restored, err := vault.New(vault.Config{
		Asset: ledger.AssetUSDC,
		Clock: fpmath.EpochClock{DurationMicros: epochLen},
	}, f.tracker, nil, txn.NewLog(), nil)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(st))

	assert.Equal(t, st, restored.Export())
	require.NoError(t, restored.CheckInvariants())
}

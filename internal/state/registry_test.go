package state_test

import (
	"testing"

	"LendLedger/internal/ledger"
	"LendLedger/internal/state"
	"LendLedger/internal/txn"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRegistry_Tiers(t *testing.T) {
	log := txn.NewLog()
	ar := state.NewAccountRegistry(log)
	account, owner, helper, router, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, ar.Register(account, owner, 10))
	assert.ErrorIs(t, ar.Register(account, owner, 11), state.ErrAccountExists)

	require.NoError(t, ar.Authorize(account, owner, helper, false))
	assert.ErrorIs(t, ar.Authorize(account, helper, stranger, false), state.ErrUnauthorized)
	ar.SetBatchRouter(router, true)

	tests := []struct {
		caller uuid.UUID
		tier   state.Tier
		ok     bool
	}{
		{owner, state.TierOwner, true},
		{helper, state.TierOwner, false},
		{helper, state.TierAuthorized, true},
		{router, state.TierAuthorized, false},
		{router, state.TierBatch, true},
		{helper, state.TierBatch, true},
		{stranger, state.TierBatch, false},
	}
	for _, tt := range tests {
		err := ar.Check(account, tt.caller, tt.tier)
		if tt.ok {
			assert.NoError(t, err, "tier %s", tt.tier)
		} else {
			assert.ErrorIs(t, err, state.ErrUnauthorized, "tier %s", tt.tier)
		}
	}

	require.NoError(t, ar.Authorize(account, owner, helper, true))
	assert.ErrorIs(t, ar.Check(account, helper, state.TierAuthorized), state.ErrUnauthorized)
	ar.SetBatchRouter(router, false)
	assert.ErrorIs(t, ar.Check(account, router, state.TierBatch), state.ErrUnauthorized)

	assert.ErrorIs(t, ar.Check(uuid.New(), owner, state.TierOwner), state.ErrUnknownAccount)
}

func TestAccountRegistry_AuthorizedStaysSortedAndRollsBack(t *testing.T) {
	log := txn.NewLog()
	ar := state.NewAccountRegistry(log)
	account, owner := uuid.New(), uuid.New()
	require.NoError(t, ar.Register(account, owner, 0))

	callers := []uuid.UUID{
		uuid.MustParse("30000000-0000-4000-8000-000000000000"),
		uuid.MustParse("10000000-0000-4000-8000-000000000000"),
		uuid.MustParse("20000000-0000-4000-8000-000000000000"),
	}
	for _, c := range callers {
		require.NoError(t, ar.Authorize(account, owner, c, false))
	}
	acc, _ := ar.Get(account)
	assert.Equal(t, []uuid.UUID{callers[1], callers[2], callers[0]}, acc.Authorized)

	err := log.Atomic(func() error {
		require.NoError(t, ar.Authorize(account, owner, callers[2], true))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	acc, _ = ar.Get(account)
	assert.Len(t, acc.Authorized, 3)
}

func TestLockRegistry(t *testing.T) {
	log := txn.NewLog()
	tracker := ledger.NewBalanceTracker(log)
	lr := state.NewLockRegistry(log, tracker, ledger.AssetUSDC)
	owner, buyer := uuid.New(), uuid.New()

	src := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetUSDC)
	require.NoError(t, tracker.Transfer(src, ledger.WalletKey(owner, ledger.AssetUSDC), 1_000, ledger.JournalTypeWalletDeposit))

	require.NoError(t, lr.Create(1, owner, 600, 5_000, 1))
	assert.ErrorIs(t, lr.Create(1, owner, 100, 5_000, 1), state.ErrLockExists)
	assert.ErrorIs(t, lr.Create(2, owner, 600, 5_000, 1), ledger.ErrInsufficientBalance)
	_, ok := lr.Get(2)
	assert.False(t, ok, "failed create must not leave a lock behind")

	assert.ErrorIs(t, lr.Transfer(1, buyer, owner), state.ErrNotLockOwner)
	require.NoError(t, lr.Transfer(1, owner, buyer))
	got, err := lr.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, buyer, got)

	require.NoError(t, lr.IncreaseAmount(1, ledger.WalletKey(owner, ledger.AssetUSDC), 400))
	locked, err := lr.Locked(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), locked)
	assert.Equal(t, int64(1_000), tracker.BalanceOf(ledger.LockEscrowKey(owner, ledger.AssetUSDC)))
	require.NoError(t, lr.CheckInvariants())

	_, err = lr.Locked(42)
	assert.ErrorIs(t, err, state.ErrUnknownLock)
}

package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/state"
	"LendLedger/internal/testutil"
	"LendLedger/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCore(t *testing.T, persist, proj chan core.CoreOutput) *core.DeterministicCore {
	t.Helper()
	c, err := core.NewDeterministicCore(context.Background(), core.Config{
		Vault: vault.Config{
			Asset:             ledger.AssetUSDC,
			Clock:             fpmath.EpochClock{DurationMicros: 1_000},
			MaxUtilizationBps: vault.DefaultMaxUtilizationBps,
		},
		Risk: state.DefaultRiskParams,
	}, persist, proj, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// seed funds each lender's wallet and deposits 2000 into the vault. All
// events share the global partition.
func seed(t *testing.T, c *core.DeterministicCore, lenders ...uuid.UUID) {
	t.Helper()
	var seq int64
	for _, lender := range lenders {
		deposit := &event.WalletDeposit{RequestID: uuid.New(), Owner: lender, Amount: 5_000, Sequence: seq, Timestamp: 10 + seq}
		require.NoError(t, c.ProcessEvent(deposit))
		seq++
		supply := &event.VaultDeposit{RequestID: uuid.New(), Lender: lender, Assets: 2_000, Sequence: seq, Timestamp: 10 + seq}
		require.NoError(t, c.ProcessEvent(supply))
		seq++
	}
}

// persistAll drains persist into Postgres through the worker.
func persistAll(t *testing.T, db *sql.DB, persist chan core.CoreOutput) {
	t.Helper()
	close(persist)
	w := persistence.NewPersistenceWorker(db, persist, 2, 5*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))
}

func TestPostgres_PersistAndRecover(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	persist := make(chan core.CoreOutput, 64)
	c := newCore(t, persist, nil)
	seed(t, c, uuid.New(), uuid.New())
	persistAll(t, db, persist)

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.GetSequence()-1, latest)

	restored := newCore(t, make(chan core.CoreOutput, 64), nil)
	replayed, err := persistence.Recover(ctx, restored, sm, nil, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 4, replayed)
	assert.Equal(t, c.GetSequence(), restored.GetSequence())
	assert.Equal(t, c.GetStateHash(), restored.GetStateHash())
	assert.Equal(t, c.Vault().Pool(), restored.Vault().Pool())
}

func TestPostgres_SnapshotVerifiedDuringReplay(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	persist := make(chan core.CoreOutput, 64)
	c := newCore(t, persist, nil)
	seed(t, c, uuid.New())

	sm := persistence.NewSnapshotManager(db)
	snap := c.CreateSnapshotState()
	_, err := sm.SaveSnapshot(ctx, &persistence.SnapshotData{
		Sequence:  snap.Sequence,
		StateHash: snap.StateHash[:],
		State:     *snap,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	persistAll(t, db, persist)

	// an unverified snapshot is not a restore point
	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	restored := newCore(t, make(chan core.CoreOutput, 64), nil)
	_, err = persistence.Recover(ctx, restored, sm, nil, zerolog.Nop())
	require.NoError(t, err)

	loaded, err = sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.Sequence, loaded.Sequence)

	// second start restores from the snapshot and replays nothing
	again := newCore(t, make(chan core.CoreOutput, 64), nil)
	replayed, err := persistence.Recover(ctx, again, sm, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, replayed)
	assert.Equal(t, c.GetStateHash(), again.GetStateHash())
}

func TestPostgres_ProjectionsAndIntegrity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	persist := make(chan core.CoreOutput, 64)
	proj := make(chan core.CoreOutput, 64)
	c := newCore(t, persist, proj)
	lender := uuid.New()
	seed(t, c, lender)
	persistAll(t, db, persist)

	close(proj)
	feed := projection.NewAuditFeed(16)
	pw := projection.NewProjectionWorker(db, proj, feed, nil, zerolog.Nop())
	require.NoError(t, pw.Run(ctx))
	assert.Equal(t, c.GetSequence()-1, pw.LastSequence())

	qs := query.NewQueryService(db, nil, feed)

	pool, err := qs.GetVaultPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), pool.LiquidAssets)
	assert.Equal(t, int64(2_000), pool.TotalAssets)

	balances, err := qs.GetAccountBalances(ctx, lender)
	require.NoError(t, err)
	assert.NotEmpty(t, balances.Balances)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Empty(t, report.HashChainBreaks)

	require.NoError(t, projection.RebuildProjections(ctx, db, zerolog.Nop()))
	rebuilt, err := qs.GetAccountBalances(ctx, lender)
	require.NoError(t, err)
	assert.Equal(t, balances.Balances, rebuilt.Balances)
}

func TestPostgres_MigratorStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)

	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	status, err := m.Status(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, status)
	for _, s := range status {
		assert.True(t, s.Applied, s.Filename)
	}
}

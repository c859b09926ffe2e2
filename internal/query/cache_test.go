package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, ttl time.Duration) (*query.Cache, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return query.NewCache(rdb, ttl, metrics), mr, metrics
}

func TestCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cache, _, metrics := newCache(t, time.Minute)

	loads := 0
	load := func(context.Context) (interface{}, error) {
		loads++
		return query.PoolResponse{LiquidAssets: 210, TotalLoanedAssets: 790, UtilizationBps: 7900}, nil
	}

	var first, second query.PoolResponse
	require.NoError(t, cache.ReadThrough(ctx, "pool", &first, load))
	require.NoError(t, cache.ReadThrough(ctx, "pool", &second, load))

	assert.Equal(t, 1, loads)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(7900), second.UtilizationBps)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueryCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueryCache.WithLabelValues("hit")))
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newCache(t, 2*time.Second)

	loads := 0
	load := func(context.Context) (interface{}, error) {
		loads++
		return query.DebtAccountResponse{Debt: int64(loads)}, nil
	}

	var d query.DebtAccountResponse
	require.NoError(t, cache.ReadThrough(ctx, "debt:x", &d, load))
	mr.FastForward(3 * time.Second)
	require.NoError(t, cache.ReadThrough(ctx, "debt:x", &d, load))

	assert.Equal(t, 2, loads)
	assert.Equal(t, int64(2), d.Debt)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newCache(t, time.Minute)

	var p query.PoolResponse
	require.NoError(t, cache.ReadThrough(ctx, "pool", &p, func(context.Context) (interface{}, error) {
		return query.PoolResponse{Epoch: 3}, nil
	}))
	assert.True(t, mr.Exists("lendledger:query:pool"))

	require.NoError(t, cache.Invalidate(ctx, "pool"))
	assert.False(t, mr.Exists("lendledger:query:pool"))
}

func TestCache_RedisDownFallsBackToLoader(t *testing.T) {
	ctx := context.Background()
	cache, mr, metrics := newCache(t, time.Minute)
	mr.Close()

	var p query.PoolResponse
	require.NoError(t, cache.ReadThrough(ctx, "pool", &p, func(context.Context) (interface{}, error) {
		return query.PoolResponse{Epoch: 9}, nil
	}))
	assert.Equal(t, int64(9), p.Epoch)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QueryCache.WithLabelValues("error")))
}

func TestCache_LoaderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	cache, mr, _ := newCache(t, time.Minute)

	boom := errors.New("projection unavailable")
	var p query.PoolResponse
	err := cache.ReadThrough(ctx, "pool", &p, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lendledger:query:pool"))
}

func TestCache_NilCacheLoadsDirectly(t *testing.T) {
	var cache *query.Cache
	var p query.PoolResponse
	require.NoError(t, cache.ReadThrough(context.Background(), "pool", &p, func(context.Context) (interface{}, error) {
		return query.PoolResponse{TotalSupply: 1000}, nil
	}))
	assert.Equal(t, int64(1000), p.TotalSupply)
}

func TestGetAuditFeed_ServedFromMemory(t *testing.T) {
	account := uuid.New()
	feed := projection.NewAuditFeed(16)
	feed.Add(4, []event.AuditRecord{{Kind: event.AuditDebtIncreased, Account: account, Amount: 150}})
	feed.Add(5, []event.AuditRecord{{Kind: event.AuditDebtDecreased, Account: account, Amount: 100}})

	qs := query.NewQueryService(nil, nil, feed)
	entries, err := qs.GetAuditFeed(context.Background(), account, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(5), entries[0].Sequence)
	assert.Equal(t, int64(100), entries[0].Record.Amount)
}

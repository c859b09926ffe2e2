package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"LendLedger/internal/observability"

	"github.com/allegro/bigcache/v3"
)

// DBIdempotencyChecker is the tier-2 (Postgres) lookup.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: a bigcache of
// recently applied keys in front of the event log.
type IdempotencyChecker struct {
	cache     *bigcache.BigCache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics

	lruHits      int64
	postgresHits int64
	tier2Errors  int64
}

// DefaultIdempotencyTTL keeps keys in tier 1 for a day.
const DefaultIdempotencyTTL = 24 * time.Hour

var processedMarker = []byte{1}

func NewIdempotencyChecker(ctx context.Context, ttl time.Duration, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("idempotency cache: %w", err)
	}
	return &IdempotencyChecker{
		cache:     cache,
		dbChecker: dbChecker,
		metrics:   metrics,
	}, nil
}

func compositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate checks tier 1, then tier 2. A tier-2 failure is treated as
// "not a duplicate"; the unique index on the event log still rejects a
// real duplicate at write time.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if _, err := ic.cache.Get(key); err == nil {
		ic.lruHits++
		ic.recordDuplicate("cache")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		ic.tier2Errors++
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if isDup {
		ic.postgresHits++
		ic.recordDuplicate("postgres")
		_ = ic.cache.Set(key, processedMarker)
		return true
	}
	return false
}

// Seen checks tier 1 only. Replay uses it: every replayed event is in
// tier 2 by definition.
func (ic *IdempotencyChecker) Seen(eventType string, idempotencyKey string) bool {
	_, err := ic.cache.Get(compositeKey(eventType, idempotencyKey))
	return err == nil
}

// MarkProcessed adds the key to tier 1 after the event was applied.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	_ = ic.cache.Set(compositeKey(eventType, idempotencyKey), processedMarker)
	if ic.metrics != nil {
		ic.metrics.DedupCacheEntries.Set(float64(ic.cache.Len()))
	}
}

// Warm loads composite keys (from a snapshot) into tier 1.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		_ = ic.cache.Set(key, processedMarker)
	}
}

// Keys returns the composite keys currently held in tier 1, sorted.
func (ic *IdempotencyChecker) Keys() []string {
	var keys []string
	it := ic.cache.Iterator()
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			if errors.Is(err, bigcache.ErrInvalidIteratorState) {
				break
			}
			continue
		}
		keys = append(keys, entry.Key())
	}
	sort.Strings(keys)
	return keys
}

func (ic *IdempotencyChecker) Len() int {
	return ic.cache.Len()
}

// Hits returns the duplicate counts per tier.
func (ic *IdempotencyChecker) Hits() (cache, postgres int64) {
	return ic.lruHits, ic.postgresHits
}

func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

func (ic *IdempotencyChecker) Close() error {
	return ic.cache.Close()
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LendLedger/internal/observability"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "lendledger:query:"

// Cache is a read-through JSON cache in front of the projection tables.
// Redis failures degrade to direct reads.
type Cache struct {
	rdb     redis.Cmdable
	ttl     time.Duration
	metrics *observability.Metrics
}

func NewCache(rdb redis.Cmdable, ttl time.Duration, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl, metrics: metrics}
}

// ReadThrough decodes key into dst, or calls load, stores its result and
// decodes that into dst.
func (c *Cache) ReadThrough(ctx context.Context, key string, dst interface{}, load func(context.Context) (interface{}, error)) error {
	if c == nil || c.rdb == nil {
		return fill(ctx, dst, load)
	}

	data, err := c.rdb.Get(ctx, cacheKeyPrefix+key).Bytes()
	switch {
	case err == nil:
		if jerr := json.Unmarshal(data, dst); jerr == nil {
			c.count("hit")
			return nil
		}
		c.count("corrupt")
	case errors.Is(err, redis.Nil):
		c.count("miss")
	default:
		c.count("error")
		return fill(ctx, dst, load)
	}

	v, err := load(ctx)
	if err != nil {
		return err
	}
	data, err = json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.count("error")
	}
	return json.Unmarshal(data, dst)
}

// Invalidate drops cached keys, e.g. after an admin rebuild.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = cacheKeyPrefix + k
	}
	return c.rdb.Del(ctx, full...).Err()
}

// Ping reports whether Redis is reachable; used by the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) count(result string) {
	if c.metrics != nil {
		c.metrics.QueryCache.WithLabelValues(result).Inc()
	}
}

func fill(ctx context.Context, dst interface{}, load func(context.Context) (interface{}, error)) error {
	v, err := load(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

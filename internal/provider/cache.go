package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachingBarSource is a read-through Redis cache in front of a BarSource. Empty
// results are not cached so a late upstream publish is picked up on the next call.
type CachingBarSource struct {
	inner     BarSource
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	logger    zerolog.Logger
}

var _ BarSource = (*CachingBarSource)(nil)

// NewCachingBarSource decorates inner. A nil rdb disables caching; ttl defaults to 10 minutes.
func NewCachingBarSource(inner BarSource, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachingBarSource {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachingBarSource{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: "eodbars:bars",
		logger:    logger.With().Str("component", "bar_cache").Logger(),
	}
}

// Name reports the wrapped source name.
func (c *CachingBarSource) Name() string { return c.inner.Name() }

// FetchBars serves from cache when possible and fills it on a miss.
func (c *CachingBarSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]BarRecord, error) {
	if c.rdb == nil {
		return c.inner.FetchBars(ctx, symbol, start, end)
	}

	key := c.cacheKey(symbol, start, end)
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []BarRecord
		if err := json.Unmarshal(b, &out); err == nil {
			c.logger.Debug().Str("key", key).Int("rows", len(out)).Msg("cache hit")
			return out, nil
		}
		_ = c.rdb.Del(ctx, key).Err()
	} else if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	out, err := c.inner.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	if b, err := json.Marshal(out); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return out, nil
}

func (c *CachingBarSource) cacheKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		c.namespace,
		safe(c.inner.Name()),
		safe(symbol),
		start.Format(dateLayout),
		end.Format(dateLayout),
	)
}

// safe escapes characters that would collide with the key separator or SCAN globbing.
func safe(s string) string {
	r := strings.NewReplacer(":", "_", "*", "_", "?", "_", "[", "_", "]", "_", " ", "_")
	return strings.ToUpper(r.Replace(s))
}

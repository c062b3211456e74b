package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedSource wraps a Source with a Redis TTL cache. Snapshot and
// dominant-contract lookups are cached; returns are always fetched
// fresh since the risk manager needs the newest series.
type CachedSource struct {
	source Source
	redis  *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedSource creates a caching wrapper around a market source
func NewCachedSource(source Source, redisClient *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedSource {
	return &CachedSource{
		source: source,
		redis:  redisClient,
		ttl:    ttl,
		log:    log.With().Str("component", "market_cache").Logger(),
	}
}

// GetSnapshot fetches a snapshot, serving from cache when fresh
func (c *CachedSource) GetSnapshot(ctx context.Context, symbol string, timeframe Timeframe) (*Snapshot, error) {
	cacheKey := fmt.Sprintf("cherryquant:snapshot:%s:%s", symbol, timeframe)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var snap Snapshot
		if unmarshalErr := json.Unmarshal([]byte(cached), &snap); unmarshalErr == nil {
			c.log.Debug().Str("symbol", symbol).Str("cache_key", cacheKey).Msg("Snapshot cache hit")
			return &snap, nil
		}
		c.log.Warn().Str("cache_key", cacheKey).Msg("Failed to unmarshal cached snapshot, fetching fresh")
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Msg("Redis error during snapshot lookup")
	}

	snap, err := c.source.GetSnapshot(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}

	c.storeAsync(cacheKey, snap)
	return snap, nil
}

// ResolveDominantContracts resolves a commodity's dominant contracts,
// caching the mapping since dominance shifts slowly
func (c *CachedSource) ResolveDominantContracts(ctx context.Context, commodity string) ([]string, error) {
	cacheKey := fmt.Sprintf("cherryquant:dominant:%s", commodity)

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	if err == nil {
		var symbols []string
		if unmarshalErr := json.Unmarshal([]byte(cached), &symbols); unmarshalErr == nil {
			return symbols, nil
		}
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Msg("Redis error during dominant contract lookup")
	}

	symbols, err := c.source.ResolveDominantContracts(ctx, commodity)
	if err != nil {
		return nil, err
	}

	c.storeAsync(cacheKey, symbols)
	return symbols, nil
}

// RecentReturns always passes through to the underlying source
func (c *CachedSource) RecentReturns(ctx context.Context, symbol string, window int) ([]float64, error) {
	return c.source.RecentReturns(ctx, symbol, window)
}

// storeAsync writes to the cache without blocking the caller; a failed
// cache write only costs the next lookup
func (c *CachedSource) storeAsync(cacheKey string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("cache_key", cacheKey).Msg("Failed to marshal value for cache")
		return
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := c.redis.Set(cacheCtx, cacheKey, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("cache_key", cacheKey).Msg("Failed to cache value")
		}
	}()
}

package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "prospector:search:"

// Cache stores provider hits in redis. Cache errors are treated as misses.
type Cache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCache creates a cache with the given entry TTL.
func NewCache(rdb redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(provider, query string, maxResults int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", provider, maxResults, query)))
	return keyPrefix + provider + ":" + hex.EncodeToString(sum[:16])
}

// Get returns cached hits for the query, if any.
func (c *Cache) Get(ctx context.Context, provider, query string, maxResults int) ([]Hit, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(provider, query, maxResults)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Debug("search: cache get failed", zap.Error(err))
		}
		return nil, false
	}
	var hits []Hit
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, false
	}
	return hits, true
}

// Set stores hits for the query.
func (c *Cache) Set(ctx context.Context, provider, query string, maxResults int, hits []Hit) {
	raw, err := json.Marshal(hits)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(provider, query, maxResults), raw, c.ttl).Err(); err != nil {
		zap.L().Debug("search: cache set failed", zap.Error(err))
	}
}

package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "crescendo:cache:v1:"

// Cache is a small JSON value cache for provider metadata and search
// results, backed by Redis. A nil Cache (or empty address) disables caching
// without changing call sites.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(addr string, ttl time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

// Get unmarshals the cached value for key into out, reporting whether it was
// present.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}
	val, err := c.rdb.Get(ctx, cachePrefix+key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		slog.Debug("Dropping unreadable cache entry", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores value under key; failures only cost us the cache hit.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cachePrefix+key, data, c.ttl).Err(); err != nil {
		slog.Debug("Cache write failed", "key", key, "error", err)
	}
}

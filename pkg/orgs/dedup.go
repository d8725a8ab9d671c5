package orgs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupCache remembers which notifications were already sent
type DedupCache interface {
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
}

// RedisDedupCache stores markers as Redis keys with a TTL
type RedisDedupCache struct {
	client redis.Cmdable
}

// NewRedisDedupCache creates a Redis-backed dedup cache
func NewRedisDedupCache(client redis.Cmdable) *RedisDedupCache {
	return &RedisDedupCache{client: client}
}

// Get reports whether key is marked
func (c *RedisDedupCache) Get(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Set marks key for ttl
func (c *RedisDedupCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark %s: %w", key, err)
	}
	return nil
}

// MemoryDedupCache is a bounded in-process dedup cache for single-instance
// deployments. Markers are lost on restart.
type MemoryDedupCache struct {
	cache *expirable.LRU[string, time.Time]
	now   func() time.Time
}

// NewMemoryDedupCache creates an in-process cache holding up to size markers.
// maxTTL caps every marker's lifetime.
func NewMemoryDedupCache(size int, maxTTL time.Duration) *MemoryDedupCache {
	return &MemoryDedupCache{
		cache: expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		now:   time.Now,
	}
}

// Get reports whether key is marked and unexpired
func (c *MemoryDedupCache) Get(ctx context.Context, key string) (bool, error) {
	expiresAt, ok := c.cache.Get(key)
	if !ok {
		return false, nil
	}
	if !c.now().Before(expiresAt) {
		c.cache.Remove(key)
		return false, nil
	}
	return true, nil
}

// Set marks key for ttl
func (c *MemoryDedupCache) Set(ctx context.Context, key string, ttl time.Duration) error {
	c.cache.Add(key, c.now().Add(ttl))
	return nil
}

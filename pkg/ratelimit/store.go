package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CounterStore is an atomic integer counter store shared by every instance
type CounterStore interface {
	// Increment atomically adds one to key, creating it at zero, and returns the new value
	Increment(ctx context.Context, key string) (int64, error)
	// Expire sets the key's time to live
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Get returns the key's value, 0 if it does not exist
	Get(ctx context.Context, key string) (int64, error)
}

// expiringIncrementer is implemented by stores that can increment and set a
// TTL in one round trip
type expiringIncrementer interface {
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounterStore implements CounterStore with Redis INCR/EXPIRE
type RedisCounterStore struct {
	client redis.Cmdable
}

// NewRedisCounterStore creates a Redis-backed counter store
func NewRedisCounterStore(client redis.Cmdable) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Increment runs INCR on key
func (s *RedisCounterStore) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return n, nil
}

// Expire runs EXPIRE on key
func (s *RedisCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ttl on %s: %w", key, err)
	}
	return nil
}

// Get runs GET on key
func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return n, nil
}

// IncrementWithTTL runs INCR and EXPIRE in a single MULTI/EXEC transaction
func (s *RedisCounterStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

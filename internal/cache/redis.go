// Package cache implements the key-value tier in front of durable storage.
// It is a performance optimization, never a correctness dependency: callers
// treat every cache error as a miss and fall back to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key is absent or has expired.
var ErrCacheMiss = errors.New("cache miss")

// RedisCache wraps a Redis client with the operations the resolution and
// click-accounting paths need: JSON get/set with TTL, delete, and
// seed-or-increment counters.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache on top of an established client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves the value at key and unmarshals it into v.
func (c *RedisCache) Get(ctx context.Context, key string, v any) error {
	const op = "cache.RedisCache.Get"

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: failed to unmarshal cached value: %w", op, err)
	}

	return nil
}

// Set stores v at key for the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	const op = "cache.RedisCache.Set"

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal value: %w", op, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Delete removes keys. Deleting absent keys is not an error.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	const op = "cache.RedisCache.Delete"

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// GetCounter reads an integer counter. Returns ErrCacheMiss when absent.
func (c *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	const op = "cache.RedisCache.GetCounter"

	n, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrCacheMiss
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

// SetCounter stores an integer counter with the given TTL.
func (c *RedisCache) SetCounter(ctx context.Context, key string, n int64, ttl time.Duration) error {
	const op = "cache.RedisCache.SetCounter"

	if err := c.client.Set(ctx, key, n, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// IncrementWithSeed increments the counter at key if it exists; otherwise it
// seeds the key with seed and the given TTL. The exists/seed pair is not
// atomic across clients, which is an accepted bounded-inaccuracy trade-off
// for advisory click counts.
func (c *RedisCache) IncrementWithSeed(ctx context.Context, key string, seed int64, ttl time.Duration) (int64, error) {
	const op = "cache.RedisCache.IncrementWithSeed"

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if exists > 0 {
		n, err := c.client.Incr(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		return n, nil
	}

	if err := c.client.Set(ctx, key, seed, ttl).Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return seed, nil
}

// ScanKeys returns all keys matching pattern. Used by the periodic click-count
// reconciler to find pending counters.
func (c *RedisCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	const op = "cache.RedisCache.ScanKeys"

	var (
		keys   []string
		cursor uint64
	)

	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		keys = append(keys, batch...)
		cursor = next

		if cursor == 0 {
			return keys, nil
		}
	}
}

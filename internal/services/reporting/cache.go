package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores computed read models for at most their TTL, which is the
// staleness bound of every cached report.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const cachePrefix = "commission_report:"

// RedisCache keeps reports as JSON strings in Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis backed report cache
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get decodes the cached value into dest and reports whether it was present
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := c.client.Get(ctx, cachePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error reading report cache: %w", err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("error decoding cached report: %w", err)
	}
	return true, nil
}

// Set stores value for ttl
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error encoding report: %w", err)
	}
	if err := c.client.Set(ctx, cachePrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("error writing report cache: %w", err)
	}
	return nil
}

// NoopCache never holds anything
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, interface{}) (bool, error) { return false, nil }

func (NoopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }

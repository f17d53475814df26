package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kycgate/internal/kyc/metrics"
	"kycgate/pkg/platform/sentinel"
)

// RedisCache stores correlation records in Redis with native key expiry.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	metrics *metrics.Metrics
}

// NewRedisCache wraps client. prefix namespaces every key, e.g. "kyc:".
func NewRedisCache(client redis.UniversalClient, prefix string, m *metrics.Metrics) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, metrics: m}
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer c.observe("set", time.Now())
	if ttl <= 0 {
		return fmt.Errorf("set %s: ttl must be positive: %w", key, sentinel.ErrInvalidState)
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set cache key: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	defer c.observe("get", time.Now())
	v, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get cache key: %w", err)
	}
	return v, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	defer c.observe("delete", time.Now())
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete cache key: %w", err)
	}
	return nil
}

// SetMany writes all entries in one pipelined round trip.
func (c *RedisCache) SetMany(ctx context.Context, entries []Entry) error {
	defer c.observe("set_many", time.Now())
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			if e.TTL <= 0 {
				return fmt.Errorf("set %s: ttl must be positive: %w", e.Key, sentinel.ErrInvalidState)
			}
			pipe.Set(ctx, c.prefix+e.Key, e.Value, e.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set cache batch: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) observe(op string, start time.Time) {
	c.metrics.ObserveCache(op, time.Since(start).Seconds())
}

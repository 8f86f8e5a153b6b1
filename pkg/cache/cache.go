// Package cache provides a read-through cache of utilization metric names
// keyed by their normalized name.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

const keyPrefix = "metric_name:key:"

// MetricNameCache caches lookups by name key.
type MetricNameCache interface {
	// Get returns the cached record and true, or nil and false on a miss.
	Get(ctx context.Context, nameKey string) (*models.UtilizationMetricName, bool, error)
	Set(ctx context.Context, m *models.UtilizationMetricName) error
	Invalidate(ctx context.Context, nameKeys ...string) error
}

// RedisMetricNameCache stores JSON-encoded records in Redis.
type RedisMetricNameCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMetricNameCache creates a cache backed by client.
func NewRedisMetricNameCache(client *redis.Client, ttl time.Duration) *RedisMetricNameCache {
	return &RedisMetricNameCache{client: client, ttl: ttl}
}

// cachedMetricName is the stored form. NameKey is kept because the model
// does not serialize it.
type cachedMetricName struct {
	models.UtilizationMetricName
	NameKey string `json:"name_key"`
}

func (c *RedisMetricNameCache) Get(ctx context.Context, nameKey string) (*models.UtilizationMetricName, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+nameKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}

	var cached cachedMetricName
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached metric name: %w", err)
	}
	m := cached.UtilizationMetricName
	m.NameKey = cached.NameKey

	return &m, true, nil
}

func (c *RedisMetricNameCache) Set(ctx context.Context, m *models.UtilizationMetricName) error {
	stored := cachedMetricName{UtilizationMetricName: *m, NameKey: m.NameKey}
	stored.Nodes = nil

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode metric name: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+m.NameKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

func (c *RedisMetricNameCache) Invalidate(ctx context.Context, nameKeys ...string) error {
	if len(nameKeys) == 0 {
		return nil
	}
	keys := make([]string, len(nameKeys))
	for i, k := range nameKeys {
		keys[i] = keyPrefix + k
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

var _ MetricNameCache = (*RedisMetricNameCache)(nil)

// NoopMetricNameCache is used when Redis is not configured. Every Get misses.
type NoopMetricNameCache struct{}

func (NoopMetricNameCache) Get(context.Context, string) (*models.UtilizationMetricName, bool, error) {
	return nil, false, nil
}

func (NoopMetricNameCache) Set(context.Context, *models.UtilizationMetricName) error { return nil }

func (NoopMetricNameCache) Invalidate(context.Context, ...string) error { return nil }

var _ MetricNameCache = NoopMetricNameCache{}

// New returns a Redis cache when client is non-nil, otherwise the no-op cache.
func New(client *redis.Client, ttl time.Duration) MetricNameCache {
	if client == nil {
		return NoopMetricNameCache{}
	}
	return NewRedisMetricNameCache(client, ttl)
}

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"starmus-recorder/conf"
	"starmus-recorder/logging"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss returned by Cache.Get when the key is absent or caching is off
var ErrCacheMiss = errors.New("cache miss")

// NewRedisClient connects to redis. Returns nil, nil when redis is disabled.
func NewRedisClient(ctx context.Context, cfg conf.RedisConfig, logger *logging.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.Enabled {
		logger.Info(ctx, "redis is disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info(ctx, "redis connected", zap.String("addr", client.Options().Addr),
		zap.Int("db", cfg.DB), zap.Int("cache_ttl_s", cfg.CacheTTL))
	return client, nil
}

// Cache JSON value cache on top of redis. A nil client turns every call into a no-op miss.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Enabled check if a redis client is attached
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Set set cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache for key %s: %w", key, err)
	}
	return nil
}

// Get get cache by key, ErrCacheMiss when absent
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.Enabled() {
		return ErrCacheMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return nil
}

// Delete delete cache by key
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache for key %s: %w", key, err)
	}
	return nil
}

// Package cache provides the Redis-backed response cache and the seen-hash
// shortcut used by the ingestion runner.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/civicmesh/civicmesh/internal/observability"
)

var (
	// ErrMiss is returned when a key is absent.
	ErrMiss = errors.New("cache miss")

	// ErrInvalid is returned when a cached payload fails to decode.
	ErrInvalid = errors.New("invalid cached data")
)

// Config tunes the Redis cache.
type Config struct {
	Enabled    bool
	DefaultTTL time.Duration
	KeyPrefix  string
}

// DefaultConfig returns the defaults used when configuration omits the
// cache section.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		DefaultTTL: 5 * time.Minute,
		KeyPrefix:  "civicmesh:",
	}
}

// Redis is a thin tenant-aware wrapper over a Redis client. A disabled
// cache behaves as always-miss so callers need no branching.
type Redis struct {
	client *redis.Client
	config Config
	logger observability.Logger

	hits   int64
	misses int64
}

// NewRedis creates the cache wrapper.
func NewRedis(client *redis.Client, config Config, logger observability.Logger) *Redis {
	return &Redis{
		client: client,
		config: config,
		logger: logger.WithPrefix("cache"),
	}
}

// Get retrieves raw bytes. Absence and disabled both return ErrMiss.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.config.Enabled {
		return nil, ErrMiss
	}

	val, err := c.client.Get(ctx, c.config.KeyPrefix+key).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get error: %w", err)
	}

	atomic.AddInt64(&c.hits, 1)
	return val, nil
}

// Set stores raw bytes. A zero ttl uses the configured default.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.config.Enabled {
		return nil
	}
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}

	if err := c.client.Set(ctx, c.config.KeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

// Delete removes one key.
func (c *Redis) Delete(ctx context.Context, key string) error {
	if !c.config.Enabled {
		return nil
	}
	if err := c.client.Del(ctx, c.config.KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// GetJSON retrieves and decodes a JSON value.
func (c *Redis) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// SetJSON encodes and stores a JSON value.
func (c *Redis) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// Clear removes all keys under the configured prefix.
func (c *Redis) Clear(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("Cache clear error", map[string]interface{}{
				"key":   iter.Val(),
				"error": err.Error(),
			})
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache clear error: %w", err)
	}
	return nil
}

// Stats returns hit counters for the stats endpoint.
func (c *Redis) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return map[string]interface{}{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
	}
}

// hashKey derives a stable short key from arbitrary input.
func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

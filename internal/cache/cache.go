package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/nlpgrid/nlp-service/internal/nlp"
)

// Cache maps a (kind, fingerprint) pair to a previously computed task
// result. It is advisory, not a system of record: every read or write
// failure degrades to a cache miss and is never surfaced to the caller.
type Cache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	enabled    bool
}

// Config holds content cache settings
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Enabled  bool
}

// New creates a content cache backed by redis
func New(cfg Config) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}

	return &Cache{
		client:     client,
		prefix:     cfg.Prefix,
		defaultTTL: ttl,
		enabled:    cfg.Enabled,
	}
}

// Enabled reports whether caching is turned on
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Ping checks connectivity to redis
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying redis client
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key builds the cache key: {prefix}:{task_kind}:{fingerprint_hex}
func (c *Cache) Key(kind nlp.Kind, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, fingerprint)
}

// Get returns the cached result for the fingerprint, or nil on miss.
// Errors and expired entries behave as misses.
func (c *Cache) Get(ctx context.Context, kind nlp.Kind, fingerprint string) json.RawMessage {
	if !c.enabled {
		return nil
	}

	key := c.Key(kind, fingerprint)
	value, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		}
		return nil
	}

	if !json.Valid(value) {
		log.Warn().Str("key", key).Msg("Cache entry is not valid JSON, treating as miss")
		return nil
	}
	return value
}

// Put stores a result under the fingerprint with the given TTL (the
// default TTL when ttl <= 0). Write failures are logged and swallowed.
func (c *Cache) Put(ctx context.Context, kind nlp.Kind, fingerprint string, result json.RawMessage, ttl time.Duration) {
	if !c.enabled {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	key := c.Key(kind, fingerprint)
	if err := c.client.Set(ctx, key, []byte(result), ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Invalidate deletes every entry for the given kind and returns the number
// of keys removed
func (c *Cache) Invalidate(ctx context.Context, kind nlp.Kind) (int, error) {
	pattern := fmt.Sprintf("%s:%s:*", c.prefix, kind)

	removed := 0
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete cache key %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache scan failed: %w", err)
	}
	return removed, nil
}

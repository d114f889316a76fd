// Package cache provides a small Redis-backed byte cache used for retrieval
// results and chat responses. A nil Redis client disables caching: every Get
// misses and every Set is a no-op, so callers never branch on availability.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores opaque byte values under string keys with per-entry TTL.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Cache. client may be nil, which disables caching.
func New(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger}
}

// Enabled reports whether a backing Redis client is configured.
func (c *Cache) Enabled() bool { return c != nil && c.client != nil }

// Get returns the cached value and true on a hit. Backend errors are logged
// and reported as misses so the caller falls through to the source of truth.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

// Set stores value under key with the given TTL. Errors are logged, not
// returned; a failed write only costs a future cache miss.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}

// Key builds a namespaced cache key from a prefix and the SHA-256 of the
// input parts, keeping keys bounded regardless of question length.
func Key(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(h.Sum(nil)))
}

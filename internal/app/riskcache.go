/**
 * @description
 * Redis-backed implementation of the risk score cache. Scores live under a
 * namespaced key with a short TTL; every failure is surfaced to the caller,
 * which treats the cache as advisory and recomputes.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 */

package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRiskCache stores risk scores in Redis with per-entry TTLs.
type RedisRiskCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRiskCache creates a cache namespaced under prefix.
func NewRedisRiskCache(client redis.UniversalClient, prefix string) *RedisRiskCache {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "bondtx:risk"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisRiskCache{client: client, prefix: trimmed}
}

func (c *RedisRiskCache) key(transactionID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", c.prefix, transactionID)
}

// Get returns the cached score and whether one was present.
func (c *RedisRiskCache) Get(ctx context.Context, transactionID uuid.UUID) (float64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(transactionID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("unexpected cached risk score %q: %w", raw, err)
	}
	return score, true, nil
}

// Set caches a score for ttl.
func (c *RedisRiskCache) Set(ctx context.Context, transactionID uuid.UUID, score float64, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return c.client.Set(ctx, c.key(transactionID), strconv.FormatFloat(score, 'f', -1, 64), ttl).Err()
}

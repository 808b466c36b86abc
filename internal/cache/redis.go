package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragcore/internal/service"
)

// RedisQueryTier is the shared-across-replica RedisTier implementation: a
// thin JSON-over-go-redis wrapper. Every failure is logged and treated as a
// miss — the shared tier is an optimization, never a dependency the query
// path can fail on.
type RedisQueryTier struct {
	client *redis.Client
}

// NewRedisQueryTier wraps an already-connected redis.Client.
func NewRedisQueryTier(client *redis.Client) *RedisQueryTier {
	return &RedisQueryTier{client: client}
}

// Get fetches and decodes a cached RetrievalOutcome by key.
func (t *RedisQueryTier) Get(ctx context.Context, key string) (*service.RetrievalOutcome, bool) {
	raw, err := t.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("[CACHE] redis tier get failed", "key", key, "error", err)
		}
		return nil, false
	}

	var result service.RetrievalOutcome
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Warn("[CACHE] redis tier decode failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

// Set encodes and writes a RetrievalOutcome with the given TTL.
func (t *RedisQueryTier) Set(ctx context.Context, key string, result *service.RetrievalOutcome, ttl time.Duration) {
	raw, err := json.Marshal(result)
	if err != nil {
		slog.Warn("[CACHE] redis tier encode failed", "key", key, "error", err)
		return
	}
	if err := t.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		slog.Warn("[CACHE] redis tier set failed", "key", key, "error", err)
	}
}

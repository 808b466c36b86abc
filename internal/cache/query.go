// Package cache provides in-memory query result caching for the RAG pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/connexus-ai/ragcore/internal/service"
)

// RedisTier is the shared-across-replica cache tier consulted on a
// process-local miss and written through on every Set. The process-local map
// stays the fast path; Redis absorbs cache misses after a replica restart or
// rollout. A nil tier (the default) makes QueryCache purely in-process.
type RedisTier interface {
	Get(ctx context.Context, key string) (*service.RetrievalOutcome, bool)
	Set(ctx context.Context, key string, result *service.RetrievalOutcome, ttl time.Duration)
}

// QueryCache caches RetrievalOutcome by (userID, query). Thread-safe via
// sync.RWMutex. Entries auto-expire after TTL.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stopCh  chan struct{}
	redis   RedisTier
}

type cacheEntry struct {
	result    *service.RetrievalOutcome
	createdAt time.Time
	expiresAt time.Time
}

// New creates a QueryCache with the given TTL and starts background cleanup.
func New(ttl time.Duration) *QueryCache {
	c := &QueryCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// SetRedisTier attaches an optional shared cache tier consulted on a
// process-local miss. A nil tier (the default) leaves the cache purely
// in-process.
func (c *QueryCache) SetRedisTier(tier RedisTier) {
	c.redis = tier
}

// Get returns a cached RetrievalOutcome if present and not expired. A
// process-local miss falls through to the Redis tier when one is attached,
// repopulating the local map on a Redis hit.
func (c *QueryCache) Get(userID, query string) (*service.RetrievalOutcome, bool) {
	key := cacheKey(userID, query)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if time.Now().After(entry.expiresAt) {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		} else {
			slog.Info("[CACHE] hit",
				"user_id", userID,
				"query_hash", key[strings.LastIndex(key, ":")+1:],
				"age_ms", time.Since(entry.createdAt).Milliseconds(),
			)
			return entry.result, true
		}
	}

	if c.redis == nil {
		return nil, false
	}
	result, ok := c.redis.Get(context.Background(), key)
	if !ok {
		return nil, false
	}
	slog.Info("[CACHE] redis tier hit", "user_id", userID, "query_hash", key[strings.LastIndex(key, ":")+1:])
	c.storeLocal(key, result)
	return result, true
}

// Set stores a RetrievalOutcome in the cache, writing through to the Redis
// tier when one is attached.
func (c *QueryCache) Set(userID, query string, result *service.RetrievalOutcome) {
	key := cacheKey(userID, query)
	c.storeLocal(key, result)

	if c.redis != nil {
		c.redis.Set(context.Background(), key, result, c.ttl)
	}

	slog.Info("[CACHE] set",
		"user_id", userID,
		"query_hash", key[strings.LastIndex(key, ":")+1:],
		"ttl_s", int(c.ttl.Seconds()),
		"total_entries", c.Len(),
	)
}

func (c *QueryCache) storeLocal(key string, result *service.RetrievalOutcome) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		result:    result,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()
}

// InvalidateUser removes all process-local cached entries for a user.
// Copies in the Redis tier are not removed; they expire by their TTL.
// Call this when documents are uploaded, deleted, or re-indexed.
func (c *QueryCache) InvalidateUser(userID string) {
	prefix := "qc:" + userID + ":"
	c.mu.Lock()
	count := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			count++
		}
	}
	c.mu.Unlock()

	if count > 0 {
		slog.Info("[CACHE] invalidated user",
			"user_id", userID,
			"entries_removed", count,
		)
	}
}

// Len returns the number of entries in the cache.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *QueryCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *QueryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			before := len(c.entries)
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			after := len(c.entries)
			c.mu.Unlock()
			if before != after {
				slog.Info("[CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}

// cacheKey builds a deterministic key: "qc:{userID}:{sha256(query)}"
func cacheKey(userID, query string) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("qc:%s:%x", userID, h[:8])
}

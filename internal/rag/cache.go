package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/PerceptivePenguin/ragcore/internal/vector"
)

// embeddingCachePrefix matches the teacher's cache.go key convention.
const embeddingCachePrefix = "emb_"

// EmbeddingCache is the process-wide, content-hash-keyed embedding cache
// (§4.2). It outlives any single session — evicting a session never
// touches this cache. Built on github.com/patrickmn/go-cache, the
// ecosystem sliding-TTL map the teacher's hand-rolled LRUCache
// (internal/rag/cache.go in the original tree) approximates by hand.
type EmbeddingCache struct {
	store    *gocache.Cache
	ttl      time.Duration
	hits     int64
	misses   int64
}

// NewEmbeddingCache creates a cache with the given sliding-expiration
// window (spec default: 30 minutes).
func NewEmbeddingCache(ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		store: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

// CacheKey returns the "emb_"-prefixed SHA-256 hex digest of text, the
// same scheme as the teacher's GenerateCacheKey.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return embeddingCachePrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for text, if present, refreshing its
// TTL (go-cache has no native per-access sliding refresh, so a hit is
// re-inserted with a fresh expiration to approximate one). Increments the
// hit/miss counters atomically either way.
func (c *EmbeddingCache) Get(text string) (vector.Vector, bool) {
	key := CacheKey(text)
	v, ok := c.store.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	vec := v.(vector.Vector)
	c.store.Set(key, vec, c.ttl)
	return vec, true
}

// Set inserts an embedding under text's content-hash key with the
// cache's configured sliding TTL.
func (c *EmbeddingCache) Set(text string, vec vector.Vector) {
	c.store.Set(CacheKey(text), vec, c.ttl)
}

// Stats returns the process-wide (hits, misses) tuple required by §4.2's
// cache_stats() contract.
func (c *EmbeddingCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Size reports the number of currently-cached entries.
func (c *EmbeddingCache) Size() int {
	return c.store.ItemCount()
}

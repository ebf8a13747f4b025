package rag

import (
	"testing"
	"time"

	"github.com/PerceptivePenguin/ragcore/internal/vector"
)

func TestEmbeddingCacheMissThenHit(t *testing.T) {
	c := NewEmbeddingCache(time.Minute)

	if _, ok := c.Get("hello"); ok {
		t.Fatal("expected a miss on an empty cache")
	}
	hits, misses := c.Stats()
	if hits != 0 || misses != 1 {
		t.Fatalf("expected 0 hits / 1 miss, got %d/%d", hits, misses)
	}

	want := vector.Vector{0.1, 0.2, 0.3}
	c.Set("hello", want)

	got, ok := c.Get("hello")
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("expected same vector back, got %v", got)
	}

	hits, misses = c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("expected 1 hit / 1 miss, got %d/%d", hits, misses)
	}
}

func TestEmbeddingCacheKeyIsContentAddressed(t *testing.T) {
	k1 := CacheKey("same text")
	k2 := CacheKey("same text")
	k3 := CacheKey("different text")

	if k1 != k2 {
		t.Fatal("expected identical keys for identical text")
	}
	if k1 == k3 {
		t.Fatal("expected different keys for different text")
	}
	if len(k1) <= len(embeddingCachePrefix) {
		t.Fatal("expected key to carry the emb_ prefix plus a hash")
	}
}

func TestEmbeddingCacheCountersMonotonic(t *testing.T) {
	c := NewEmbeddingCache(time.Minute)
	c.Set("x", vector.Vector{1})

	for i := 0; i < 5; i++ {
		if _, ok := c.Get("x"); !ok {
			t.Fatal("expected repeated hits for the same cached text")
		}
	}
	hits, _ := c.Stats()
	if hits != 5 {
		t.Fatalf("expected 5 monotonically increasing hits, got %d", hits)
	}
}

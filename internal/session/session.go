// Package session implements the Session Manager (C4): creation,
// lookup with sliding TTL, eviction, and global stats across every live
// session.
package session

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/vector"
)

// newSessionID returns a 20-char URL-safe session id: "rag_" plus 16 hex
// chars (§4.4), hex-encoding only the first 8 bytes of a v4 UUID's
// entropy rather than all 16.
func newSessionID() string {
	id := uuid.New()
	return "rag_" + hex.EncodeToString(id[:8])
}

// Session is the per-caller container of documents, their derived
// vector index, and accumulated metrics (§3). ExpiresAt advances on any
// access through the owning Manager; Session itself does not manage its
// own TTL.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Config    rag.SessionConfig

	mu        sync.RWMutex
	documents []rag.Document

	Index   *vector.Index[rag.EmbeddedChunk]
	metrics rag.Metrics
}

func newSession(id string, cfg rag.SessionConfig, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.SessionTTL),
		Config:    cfg,
		Index: vector.NewIndex[rag.EmbeddedChunk](vector.Config{
			SimilarityThreshold: cfg.MinSimilarityScore,
			EnableSIMD:          true,
		}),
	}
}

// Documents returns a snapshot of the session's document bag.
func (s *Session) Documents() []rag.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rag.Document, len(s.documents))
	copy(out, s.documents)
	return out
}

// DocumentCount returns the number of documents currently owned by the session.
func (s *Session) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// AddDocument appends doc to the session's bag, enforcing the
// max_documents invariant (§3: |documents| ≤ config.max_documents).
func (s *Session) AddDocument(doc rag.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.documents) >= s.Config.MaxDocuments {
		return rag.ErrDocumentLimit
	}
	s.documents = append(s.documents, doc)
	return nil
}

// AccumulateMetrics folds a per-operation Metrics snapshot into the
// session's running total (§3: session_metrics accumulates across
// queries and ingestions).
func (s *Session) AccumulateMetrics(m rag.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Accumulate(m)
}

// Metrics returns a copy of the session's accumulated metrics.
func (s *Session) Metrics() rag.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Manager owns the session map (the only cross-session state per §9's
// design notes) with sliding TTL eviction. Grounded on the teacher's
// internal/rag/cache.go LRUCache (TTL + eviction callback) rebuilt atop
// github.com/patrickmn/go-cache, with a companion id registry kept in
// sync via OnEvicted so GlobalStats never needs to scan go-cache's
// internal shards.
type Manager struct {
	store *gocache.Cache

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewManager creates a Session Manager. defaultTTL seeds go-cache's
// cleanup interval; individual sessions may carry a different TTL via
// their own SessionConfig, re-armed explicitly on every Get/ttl touch.
func NewManager(defaultTTL time.Duration) *Manager {
	m := &Manager{
		store: gocache.New(defaultTTL, defaultTTL/2),
		ids:   make(map[string]struct{}),
	}
	m.store.OnEvicted(func(id string, _ interface{}) {
		m.mu.Lock()
		delete(m.ids, id)
		m.mu.Unlock()
	})
	return m
}

// Create allocates a new session with cfg, registers it, and returns it.
func (m *Manager) Create(cfg rag.SessionConfig) *Session {
	id := newSessionID()
	now := time.Now()
	sess := newSession(id, cfg, now)

	m.mu.Lock()
	m.ids[id] = struct{}{}
	m.mu.Unlock()

	m.store.Set(id, sess, cfg.SessionTTL)
	return sess
}

// Get looks up a session by id. A hit extends ExpiresAt to now+TTL
// ("touch on get", §8 invariant 7 / §9 Open Question #3); a miss (or an
// expired session) returns ok=false without side effects.
func (m *Manager) Get(id string) (*Session, bool) {
	v, ok := m.store.Get(id)
	if !ok {
		return nil, false
	}
	sess := v.(*Session)
	sess.ExpiresAt = time.Now().Add(sess.Config.SessionTTL)
	m.store.Set(id, sess, sess.Config.SessionTTL)
	return sess, true
}

// Remove evicts a session immediately, releasing its documents and
// vector index (§3 Ownership).
func (m *Manager) Remove(id string) bool {
	if _, ok := m.store.Get(id); !ok {
		return false
	}
	m.store.Delete(id)
	return true
}

// GlobalStats aggregates across every live (non-expired) session.
type GlobalStats struct {
	ActiveSessions int
	TotalDocuments int
	TotalChunks    int
}

// GlobalStats computes GlobalStats by scanning the live id registry.
func (m *Manager) GlobalStats() GlobalStats {
	m.mu.Lock()
	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var stats GlobalStats
	for _, id := range ids {
		v, ok := m.store.Get(id)
		if !ok {
			continue
		}
		sess := v.(*Session)
		stats.ActiveSessions++
		stats.TotalDocuments += sess.DocumentCount()
		stats.TotalChunks += sess.Index.Size()
	}
	return stats
}

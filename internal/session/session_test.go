package session

import (
	"testing"
	"time"

	"github.com/PerceptivePenguin/ragcore/internal/rag"
)

func testConfig(ttl time.Duration) rag.SessionConfig {
	cfg := rag.DefaultSessionConfig()
	cfg.SessionTTL = ttl
	return cfg
}

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(time.Minute)
	sess := m.Create(testConfig(time.Minute))

	got, ok := m.Get(sess.ID)
	if !ok {
		t.Fatal("expected freshly created session to be found")
	}
	if got.ID != sess.ID {
		t.Fatalf("expected id %q, got %q", sess.ID, got.ID)
	}
}

func TestManagerGetUnknownIDReturnsFalse(t *testing.T) {
	m := NewManager(time.Minute)
	_, ok := m.Get("rag_doesnotexist")
	if ok {
		t.Fatal("expected lookup of an unknown id to fail")
	}
}

func TestManagerGetTouchesTTL(t *testing.T) {
	m := NewManager(time.Minute)
	sess := m.Create(testConfig(50 * time.Millisecond))
	firstExpiry := sess.ExpiresAt

	time.Sleep(20 * time.Millisecond)
	got, ok := m.Get(sess.ID)
	if !ok {
		t.Fatal("expected session still live")
	}
	if !got.ExpiresAt.After(firstExpiry) {
		t.Fatalf("expected ExpiresAt to advance on Get, got %v (was %v)", got.ExpiresAt, firstExpiry)
	}
}

func TestManagerRemove(t *testing.T) {
	m := NewManager(time.Minute)
	sess := m.Create(testConfig(time.Minute))

	if !m.Remove(sess.ID) {
		t.Fatal("expected Remove to report success for a live session")
	}
	if _, ok := m.Get(sess.ID); ok {
		t.Fatal("expected session to be gone after Remove")
	}
	if m.Remove(sess.ID) {
		t.Fatal("expected a second Remove to report failure")
	}
}

func TestManagerGlobalStatsTracksLiveSessionsOnly(t *testing.T) {
	m := NewManager(time.Minute)
	s1 := m.Create(testConfig(time.Minute))
	s2 := m.Create(testConfig(time.Minute))
	_ = s2

	doc := rag.NewDocument("doc1", "a.txt", "hello world")
	if err := s1.AddDocument(doc); err != nil {
		t.Fatalf("unexpected error adding document: %v", err)
	}

	stats := m.GlobalStats()
	if stats.ActiveSessions != 2 {
		t.Fatalf("expected 2 active sessions, got %d", stats.ActiveSessions)
	}
	if stats.TotalDocuments != 1 {
		t.Fatalf("expected 1 total document, got %d", stats.TotalDocuments)
	}

	m.Remove(s1.ID)
	stats = m.GlobalStats()
	if stats.ActiveSessions != 1 {
		t.Fatalf("expected 1 active session after removal, got %d", stats.ActiveSessions)
	}
	if stats.TotalDocuments != 0 {
		t.Fatalf("expected 0 total documents after removing the only doc-bearing session, got %d", stats.TotalDocuments)
	}
}

func TestSessionAddDocumentEnforcesMaxDocuments(t *testing.T) {
	cfg := testConfig(time.Minute)
	cfg.MaxDocuments = 1
	m := NewManager(time.Minute)
	sess := m.Create(cfg)

	if err := sess.AddDocument(rag.NewDocument("doc1", "a.txt", "x")); err != nil {
		t.Fatalf("unexpected error on first document: %v", err)
	}
	if err := sess.AddDocument(rag.NewDocument("doc2", "b.txt", "y")); err != rag.ErrDocumentLimit {
		t.Fatalf("expected ErrDocumentLimit on exceeding max_documents, got %v", err)
	}
}

func TestSessionAccumulateMetrics(t *testing.T) {
	m := NewManager(time.Minute)
	sess := m.Create(testConfig(time.Minute))

	sess.AccumulateMetrics(rag.Metrics{ChunksRetrieved: 3, TotalTimeMs: 10})
	sess.AccumulateMetrics(rag.Metrics{ChunksRetrieved: 2, TotalTimeMs: 5})

	got := sess.Metrics()
	if got.ChunksRetrieved != 5 || got.TotalTimeMs != 15 {
		t.Fatalf("expected accumulated metrics {5,15}, got %+v", got)
	}
}

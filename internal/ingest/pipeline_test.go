package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/session"
)

// fakeEmbeddingServer mimics the OpenAI embeddings endpoint's wire shape
// closely enough for github.com/sashabaranov/go-openai's client to
// decode a successful response.
func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"embedding": []float32{0.1, 0.2, 0.3},
				"index":     i,
			}
		}
		resp := map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embedding-model",
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func testSession(t *testing.T, maxDocs int, maxFileBytes int) *session.Session {
	t.Helper()
	mgr := session.NewManager(time.Minute)
	cfg := rag.DefaultSessionConfig()
	cfg.MaxDocuments = maxDocs
	cfg.MaxFileSizeBytes = maxFileBytes
	return mgr.Create(cfg)
}

func TestIngestHappyPathEmitsFixedPhaseSequence(t *testing.T) {
	srv := fakeEmbeddingServer(t)
	defer srv.Close()

	embedder := rag.NewEmbeddingClient("test-key", srv.URL, rag.DefaultEmbeddingProviderConfig(), zerolog.Nop())
	pipeline := NewPipeline(embedder)
	sess := testSession(t, 2, 102400)

	updates := pipeline.Ingest(context.Background(), sess, "a.txt", "AAAA_BBBB_CCCC_DDDD_EEEE",
		rag.ChunkingOptions{Strategy: rag.ChunkFixedSize, Size: 10, Overlap: 5})

	var all []ProgressUpdate
	for u := range updates {
		all = append(all, u)
	}

	// The embedding phase reports one update per completed chunk (§4.5),
	// so collapse consecutive duplicate phases before checking the
	// checkpoint order.
	var phases []Phase
	for i, u := range all {
		if i > 0 && all[i-1].Phase == u.Phase {
			continue
		}
		phases = append(phases, u.Phase)
	}

	want := []Phase{PhaseStarting, PhaseChunking, PhaseEmbedding, PhaseIndexing, PhaseComplete}
	if len(phases) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected phases %v, got %v", want, phases)
		}
	}

	var lastPercent float64 = -1
	for _, u := range all {
		if u.Phase != PhaseEmbedding {
			continue
		}
		if u.PercentComplete < 30 || u.PercentComplete > 80 {
			t.Fatalf("expected embedding PercentComplete within [30, 80], got %v", u.PercentComplete)
		}
		if u.PercentComplete < lastPercent {
			t.Fatalf("expected embedding PercentComplete to be non-decreasing, got %v after %v", u.PercentComplete, lastPercent)
		}
		lastPercent = u.PercentComplete
	}

	if sess.DocumentCount() != 1 {
		t.Fatalf("expected 1 document after successful ingest, got %d", sess.DocumentCount())
	}
	if sess.Index.Size() < 4 {
		t.Fatalf("expected at least 4 indexed chunks, got %d", sess.Index.Size())
	}
}

func TestIngestDocumentLimitRejectsThirdDocument(t *testing.T) {
	srv := fakeEmbeddingServer(t)
	defer srv.Close()

	embedder := rag.NewEmbeddingClient("test-key", srv.URL, rag.DefaultEmbeddingProviderConfig(), zerolog.Nop())
	pipeline := NewPipeline(embedder)
	sess := testSession(t, 2, 102400)

	for i := 0; i < 2; i++ {
		updates := pipeline.Ingest(context.Background(), sess, "a.txt", "some content to embed", rag.DefaultChunkingOptions())
		for range updates {
		}
	}
	if sess.DocumentCount() != 2 {
		t.Fatalf("expected 2 documents after two successful ingests, got %d", sess.DocumentCount())
	}

	updates := pipeline.Ingest(context.Background(), sess, "c.txt", "more content", rag.DefaultChunkingOptions())
	var last ProgressUpdate
	for u := range updates {
		last = u
	}
	if last.Phase != PhaseError {
		t.Fatalf("expected an Error update for the third ingest, got %+v", last)
	}
	if sess.DocumentCount() != 2 {
		t.Fatalf("expected document count to remain 2 after a rejected ingest, got %d", sess.DocumentCount())
	}
}

func TestIngestFileTooLargeEmitsError(t *testing.T) {
	srv := fakeEmbeddingServer(t)
	defer srv.Close()

	embedder := rag.NewEmbeddingClient("test-key", srv.URL, rag.DefaultEmbeddingProviderConfig(), zerolog.Nop())
	pipeline := NewPipeline(embedder)
	sess := testSession(t, 2, 1024)

	oversized := make([]byte, 2048)
	for i := range oversized {
		oversized[i] = 'x'
	}

	updates := pipeline.Ingest(context.Background(), sess, "big.txt", string(oversized), rag.DefaultChunkingOptions())
	var last ProgressUpdate
	for u := range updates {
		last = u
	}
	if last.Phase != PhaseError {
		t.Fatalf("expected an Error update for an oversized file, got %+v", last)
	}
	if sess.DocumentCount() != 0 {
		t.Fatalf("expected no document added for a rejected ingest, got %d", sess.DocumentCount())
	}
}

func TestIngestCancellationDuringEmbeddingTerminatesWithError(t *testing.T) {
	srv := fakeEmbeddingServer(t)
	defer srv.Close()

	embedder := rag.NewEmbeddingClient("test-key", srv.URL, rag.DefaultEmbeddingProviderConfig(), zerolog.Nop())
	pipeline := NewPipeline(embedder)
	sess := testSession(t, 2, 102400)

	ctx, cancel := context.WithCancel(context.Background())
	updates := pipeline.Ingest(ctx, sess, "a.txt", "some content to chunk and embed across multiple pieces", rag.DefaultChunkingOptions())

	first := <-updates
	if first.Phase != PhaseStarting {
		t.Fatalf("expected first update to be Starting, got %+v", first)
	}
	cancel()

	var saw []Phase
	for u := range updates {
		saw = append(saw, u.Phase)
	}
	if len(saw) == 0 || saw[len(saw)-1] != PhaseError {
		t.Fatalf("expected the stream to terminate with an Error update after cancellation, got %v", saw)
	}
}

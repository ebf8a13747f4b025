package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PerceptivePenguin/ragcore/internal/orchestrator"
	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/session"
)

func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "embedding": []float32{0.1, 0.2, 0.3}, "index": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test", "usage": map[string]any{}})
	}))
}

func fakeGenerationServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"an answer"}]}}]}`))
	}))
}

func testServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	embedSrv := fakeEmbeddingServer(t)
	t.Cleanup(embedSrv.Close)
	genSrv := fakeGenerationServer(t)
	t.Cleanup(genSrv.Close)

	embedder := rag.NewEmbeddingClient("key", embedSrv.URL, rag.DefaultEmbeddingProviderConfig(), zerolog.Nop())
	genCfg := rag.DefaultGenerationProviderConfig()
	genCfg.BaseURL = genSrv.URL
	generator := rag.NewGenerationClient(genCfg, zerolog.Nop())

	orch := orchestrator.New(embedder, generator)
	mgr := session.NewManager(time.Minute)
	return New(mgr, orch, AllowAll, nil), mgr
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// parseSSE splits a raw "data: ...\n\n" framed body into its payloads,
// excluding the terminal "[DONE]" sentinel.
func parseSSE(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	reader := bufio.NewReader(strings.NewReader(body))
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if payload, ok := strings.CutPrefix(line, "data: "); ok {
				payload = strings.TrimRight(payload, "\n")
				if payload != "[DONE]" {
					events = append(events, payload)
				}
			}
		}
		if err != nil {
			break
		}
	}
	return events
}

func TestCreateSessionReturnsSessionID(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/rag/session", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	id, _ := resp["sessionId"].(string)
	if !strings.HasPrefix(id, "rag_") {
		t.Fatalf("expected a rag_-prefixed session id, got %q", id)
	}
}

func TestIngestUnknownSessionReturns404(t *testing.T) {
	srv, _ := testServer(t)

	body := strings.NewReader(`{"sessionId":"nope","fileName":"a.txt","content":"hello world"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rag/ingest", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestEmptyContentReturns400(t *testing.T) {
	srv, mgr := testServer(t)
	sess := mgr.Create(rag.DefaultSessionConfig())

	body := strings.NewReader(`{"sessionId":"` + sess.ID + `","fileName":"a.txt","content":""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rag/ingest", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty content, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestHappyPathStreamsSSEFrames(t *testing.T) {
	srv, mgr := testServer(t)
	sess := mgr.Create(rag.DefaultSessionConfig())

	body := strings.NewReader(`{"sessionId":"` + sess.ID + `","fileName":"a.txt","content":"some reasonably long document content to chunk and embed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rag/ingest", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
	events := parseSSE(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatalf("expected at least one SSE event, got none. body=%s", rec.Body.String())
	}
	var last map[string]any
	decodeJSON2(t, events[len(events)-1], &last)
	if last["phase"] != "complete" {
		t.Fatalf("expected the last ingest event to be the complete phase, got %+v", last)
	}
}

func TestQueryEmptySessionStreamsErrorEvent(t *testing.T) {
	srv, mgr := testServer(t)
	sess := mgr.Create(rag.DefaultSessionConfig())

	body := strings.NewReader(`{"sessionId":"` + sess.ID + `","query":"what is go"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rag/query", body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	events := parseSSE(t, rec.Body.String())
	if len(events) != 1 {
		t.Fatalf("expected exactly one event for an empty index, got %d: %v", len(events), events)
	}
	var evt map[string]any
	decodeJSON2(t, events[0], &evt)
	if evt["type"] != "error" {
		t.Fatalf("expected an error event, got %+v", evt)
	}
}

func TestDeleteUnknownSessionReturns404(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/rag/session/nope", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGlobalStatsReflectsActiveSessions(t *testing.T) {
	srv, mgr := testServer(t)
	mgr.Create(rag.DefaultSessionConfig())
	mgr.Create(rag.DefaultSessionConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/rag/global-stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	if n, _ := resp["activeSessions"].(float64); n != 2 {
		t.Fatalf("expected 2 active sessions, got %v", resp["activeSessions"])
	}
}

func TestUnauthorizedRequestReturns401(t *testing.T) {
	embedSrv := fakeEmbeddingServer(t)
	defer embedSrv.Close()
	genSrv := fakeGenerationServer(t)
	defer genSrv.Close()

	embedder := rag.NewEmbeddingClient("key", embedSrv.URL, rag.DefaultEmbeddingProviderConfig(), zerolog.Nop())
	genCfg := rag.DefaultGenerationProviderConfig()
	genCfg.BaseURL = genSrv.URL
	generator := rag.NewGenerationClient(genCfg, zerolog.Nop())
	orch := orchestrator.New(embedder, generator)
	mgr := session.NewManager(time.Minute)
	srv := New(mgr, orch, func(*http.Request) bool { return false }, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/rag/global-stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func decodeJSON2(t *testing.T, payload string, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		t.Fatalf("decode SSE payload %q: %v", payload, err)
	}
}

// Package httpapi implements §6.1's HTTP/SSE external interface atop
// the Orchestrator and Session Manager.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/PerceptivePenguin/ragcore/internal/orchestrator"
	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/session"
)

// Server wires the §6.1 routes to the Session Manager and Orchestrator.
type Server struct {
	router  http.Handler
	auth    AuthFunc
	manager *session.Manager
	orch    *orchestrator.Orchestrator
}

// AuthFunc validates the incoming request's auth and reports whether it
// is authorized. The core itself carries no identity/authorization
// model (spec Non-goals), so this is a single pluggable seam rather
// than a built-out auth subsystem.
type AuthFunc func(r *http.Request) bool

// AllowAll is an AuthFunc that authorizes every request, suitable for
// local development.
func AllowAll(*http.Request) bool { return true }

// New constructs a Server. corsOrigins lists the allowed CORS origins;
// pass nil to allow all.
func New(manager *session.Manager, orch *orchestrator.Orchestrator, auth AuthFunc, corsOrigins []string) *Server {
	if auth == nil {
		auth = AllowAll
	}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{router: mux, auth: auth, manager: manager, orch: orch}

	mux.Route("/api/rag", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/session", s.handleCreateSession)
		r.Post("/ingest", s.handleIngest)
		r.Post("/query", s.handleQuery)
		r.Get("/stats", s.handleStats)
		r.Get("/global-stats", s.handleGlobalStats)
		r.Delete("/session/{id}", s.handleDeleteSession)
	})

	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth(r) {
			writeError(w, http.StatusUnauthorized, errors.New("auth missing"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createSessionRequest struct {
	Config *sessionConfigOverride `json:"config,omitempty"`
}

type sessionConfigOverride struct {
	MaxDocuments     *int     `json:"maxDocuments,omitempty"`
	MaxFileSizeBytes *int     `json:"maxFileSizeBytes,omitempty"`
	ChunkSize        *int     `json:"chunkSize,omitempty"`
	ChunkOverlap     *int     `json:"chunkOverlap,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	MinSimilarity    *float32 `json:"minSimilarityScore,omitempty"`
}

func (o *sessionConfigOverride) apply(cfg rag.SessionConfig) rag.SessionConfig {
	if o == nil {
		return cfg
	}
	if o.MaxDocuments != nil {
		cfg.MaxDocuments = *o.MaxDocuments
	}
	if o.MaxFileSizeBytes != nil {
		cfg.MaxFileSizeBytes = *o.MaxFileSizeBytes
	}
	if o.ChunkSize != nil {
		cfg.ChunkSize = *o.ChunkSize
	}
	if o.ChunkOverlap != nil {
		cfg.ChunkOverlap = *o.ChunkOverlap
	}
	if o.TopK != nil {
		cfg.TopK = *o.TopK
	}
	if o.MinSimilarity != nil {
		cfg.MinSimilarityScore = *o.MinSimilarity
	}
	return cfg
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	cfg := req.Config.apply(rag.DefaultSessionConfig())
	sess := s.manager.Create(cfg)

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId":        sess.ID,
		"expiresAt":        sess.ExpiresAt,
		"maxDocuments":     sess.Config.MaxDocuments,
		"maxFileSizeBytes": sess.Config.MaxFileSizeBytes,
	})
}

type ingestRequest struct {
	SessionID        string `json:"sessionId"`
	FileName         string `json:"fileName"`
	Content          string `json:"content"`
	ChunkingStrategy string `json:"chunkingStrategy,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if rag.IsEmpty(req.Content) {
		writeRAGError(w, rag.ErrEmptyContent)
		return
	}
	if rag.IsEmpty(req.FileName) {
		writeRAGError(w, rag.ErrEmptyFileName)
		return
	}

	sess, ok := s.manager.Get(req.SessionID)
	if !ok {
		writeRAGError(w, rag.NewSessionNotFoundError(req.SessionID))
		return
	}

	opts := rag.DefaultChunkingOptions()
	if req.ChunkingStrategy != "" {
		opts.Strategy = rag.ChunkStrategy(req.ChunkingStrategy)
	}
	opts.Size = sess.Config.ChunkSize
	opts.Overlap = sess.Config.ChunkOverlap

	startSSE(w)
	flusher, _ := w.(http.Flusher)

	updates := s.orch.Ingest(r.Context(), sess, req.FileName, req.Content, opts)
	for u := range updates {
		writeSSE(w, flusher, u)
	}
	writeSSEDone(w, flusher)
}

type queryRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Strategy  string `json:"strategy,omitempty"`
	TopK      int    `json:"topK,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if rag.IsEmpty(req.Query) {
		writeRAGError(w, rag.ErrEmptyQuery)
		return
	}

	sess, ok := s.manager.Get(req.SessionID)
	if !ok {
		writeRAGError(w, rag.NewSessionNotFoundError(req.SessionID))
		return
	}

	startSSE(w)
	flusher, _ := w.(http.Flusher)

	events := s.orch.Query(r.Context(), sess, orchestrator.QueryRequest{
		Query:    req.Query,
		Strategy: rag.RetrievalStrategyType(req.Strategy),
		TopK:     req.TopK,
	})
	for e := range events {
		writeSSE(w, flusher, e)
	}
	writeSSEDone(w, flusher)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	sess, ok := s.manager.Get(id)
	if !ok {
		writeRAGError(w, rag.NewSessionNotFoundError(id))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":     sess.ID,
		"documentCount": sess.DocumentCount(),
		"chunkCount":    sess.Index.Size(),
		"expiresAt":     sess.ExpiresAt,
		"metrics":       sess.Metrics(),
	})
}

func (s *Server) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.GlobalStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"activeSessions": stats.ActiveSessions,
		"totalDocuments": stats.TotalDocuments,
		"totalChunks":    stats.TotalChunks,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.manager.Remove(id) {
		writeRAGError(w, rag.NewSessionNotFoundError(id))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeRAGError(w http.ResponseWriter, err *rag.RAGError) {
	writeJSON(w, err.HTTPStatusCode(), map[string]any{"error": err.Message})
}

// startSSE writes the §6.1 SSE response headers.
func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// writeSSE frames payload as "data: <json>\n\n" and flushes immediately
// so the client observes each event as it is produced.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	if flusher != nil {
		flusher.Flush()
	}
}

// writeSSEDone writes the terminal "data: [DONE]\n\n" frame (§6.1).
func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// Package orchestrator implements the Orchestrator (C7): the public
// façade exposing ingest and query as lazy, finite event streams, with
// prompt assembly, citation building, and metrics aggregation.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"text/template"
	"time"

	"github.com/PerceptivePenguin/ragcore/internal/ingest"
	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/session"
)

// EventType tags the variant of a QueryEvent (§4.7's fixed QueryEvent union).
type EventType string

const (
	EventRetrieval  EventType = "retrieval"
	EventGeneration EventType = "generation"
	EventCitation   EventType = "citation"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// QueryEvent is one item on a query stream. Only the fields relevant to
// Type are populated.
type QueryEvent struct {
	Type            EventType             `json:"type"`
	Content         string                 `json:"content,omitempty"`
	RetrievedChunks []rag.RetrievalResult  `json:"retrievedChunks,omitempty"`
	Citation        *rag.Citation          `json:"citation,omitempty"`
	Metrics         *rag.Metrics           `json:"metrics,omitempty"`
}

// QueryRequest carries a caller's query and retrieval preferences.
type QueryRequest struct {
	Query    string
	Strategy rag.RetrievalStrategyType
	TopK     int
}

// promptTemplateSource is the fixed preamble plus per-chunk formatting
// named in §4.7 step 6, expressed as a text/template the way the
// teacher's BasicContextBuilder.BuildContext formats retrieved
// documents.
const promptTemplateSource = `Answer the question using only the information in the sources below. If the sources do not contain the answer, say so plainly.
{{range .Chunks}}
[Source: {{.DocName}}, Relevance: {{.RelevancePct}}%]
{{.Content}}
{{end}}
Question: {{.Question}}
`

type promptChunk struct {
	DocName      string
	RelevancePct int
	Content      string
}

type promptData struct {
	Chunks   []promptChunk
	Question string
}

// Orchestrator wires the Embedding Client, Generation Client, and
// Ingestion Pipeline behind the two public stream operations.
type Orchestrator struct {
	embedder  *rag.EmbeddingClient
	generator *rag.GenerationClient
	pipeline  *ingest.Pipeline
	prompt    *template.Template
}

// New constructs an Orchestrator.
func New(embedder *rag.EmbeddingClient, generator *rag.GenerationClient) *Orchestrator {
	tmpl := template.Must(template.New("prompt").Parse(promptTemplateSource))
	return &Orchestrator{
		embedder:  embedder,
		generator: generator,
		pipeline:  ingest.NewPipeline(embedder),
		prompt:    tmpl,
	}
}

// Ingest relays the Ingestion Pipeline's progress updates verbatim
// (§4.7: "delegates to the Ingestion Pipeline").
func (o *Orchestrator) Ingest(ctx context.Context, sess *session.Session, fileName, content string, opts rag.ChunkingOptions) <-chan ingest.ProgressUpdate {
	return o.pipeline.Ingest(ctx, sess, fileName, content, opts)
}

// Query runs the fixed §4.7 event sequence: optional retrieval, zero or
// more generation fragments, zero or more citations, exactly one done —
// or a single error followed by termination.
func (o *Orchestrator) Query(ctx context.Context, sess *session.Session, req QueryRequest) <-chan QueryEvent {
	out := make(chan QueryEvent, 64)
	go o.run(ctx, sess, req, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, req QueryRequest, out chan<- QueryEvent) {
	defer close(out)
	start := time.Now()

	if sess.Index.Size() == 0 {
		out <- QueryEvent{Type: EventError, Content: rag.ErrNoDocumentsInSession.Message}
		return
	}

	strategyType := req.Strategy
	if strategyType == "" {
		strategyType = sess.Config.DefaultStrategy
	}
	topK := req.TopK
	if topK <= 0 {
		topK = sess.Config.TopK
	}

	strategy := rag.NewStrategy(strategyType)
	retrievalStart := time.Now()
	results, err := strategy.Retrieve(ctx, rag.RetrievalParams{
		Index:     sess.Index,
		Embedder:  o.embedder,
		Generator: o.generator,
		Query:     req.Query,
		TopK:      topK,
		MinScore:  sess.Config.MinSimilarityScore,
	})
	retrievalTimeMs := time.Since(retrievalStart).Milliseconds()

	if err != nil {
		out <- QueryEvent{Type: EventError, Content: "Retrieval failed: " + err.Error()}
		return
	}

	out <- QueryEvent{
		Type:            EventRetrieval,
		Content:         fmt.Sprintf("Retrieved %d chunks using %s strategy", len(results), strategyType),
		RetrievedChunks: results,
	}

	if len(results) == 0 {
		metrics := rag.Metrics{
			RetrievalTimeMs: retrievalTimeMs,
			TotalTimeMs:     time.Since(start).Milliseconds(),
			ChunksRetrieved: 0,
			MemoryUsedBytes: currentMemoryUsage(),
		}
		out <- QueryEvent{Type: EventGeneration, Content: "No relevant information found in the indexed documents for this query."}
		out <- QueryEvent{Type: EventDone, Metrics: &metrics}
		sess.AccumulateMetrics(metrics)
		return
	}

	prompt, err := o.buildPrompt(results, req.Query)
	if err != nil {
		out <- QueryEvent{Type: EventError, Content: "Retrieval failed: " + err.Error()}
		return
	}

	generationStart := time.Now()
	var totalTokens int64
	frags, err := o.generator.Generate(ctx, prompt, rag.GenerationOptions{MaxOutputTokens: 1024, Temperature: 0.7})
	if err != nil {
		out <- QueryEvent{Type: EventError, Content: "Generation failed: " + err.Error()}
		return
	}
	for f := range frags {
		if f.Err != nil {
			out <- QueryEvent{Type: EventError, Content: "Generation failed: " + f.Err.Error()}
			return
		}
		if f.Usage != nil {
			totalTokens = int64(f.Usage.TotalTokens)
		}
		if f.Text != "" {
			out <- QueryEvent{Type: EventGeneration, Content: f.Text}
		}
	}
	generationTimeMs := time.Since(generationStart).Milliseconds()

	for _, r := range results {
		citation := rag.NewCitation(r)
		out <- QueryEvent{Type: EventCitation, Citation: &citation}
	}

	metrics := rag.Metrics{
		RetrievalTimeMs:  retrievalTimeMs,
		GenerationTimeMs: generationTimeMs,
		TotalTimeMs:      time.Since(start).Milliseconds(),
		ChunksRetrieved:  len(results),
		TotalTokensUsed:  totalTokens,
		MemoryUsedBytes:  currentMemoryUsage(),
	}
	out <- QueryEvent{Type: EventDone, Metrics: &metrics}
	sess.AccumulateMetrics(metrics)
}

func (o *Orchestrator) buildPrompt(results []rag.RetrievalResult, question string) (string, error) {
	chunks := make([]promptChunk, len(results))
	for i, r := range results {
		chunks[i] = promptChunk{
			DocName:      r.Chunk.DocumentName,
			RelevancePct: int(r.SimilarityScore * 100),
			Content:      r.Chunk.Content,
		}
	}
	var buf bytes.Buffer
	if err := o.prompt.Execute(&buf, promptData{Chunks: chunks, Question: question}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// currentMemoryUsage approximates the process's live heap usage for
// Metrics.MemoryUsedBytes (§4.7 step 8).
func currentMemoryUsage() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapAlloc)
}

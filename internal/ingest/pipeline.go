// Package ingest implements the Ingestion Pipeline (C5): chunking,
// batched embedding, and indexing of raw document content, reporting
// progress at each stage.
package ingest

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/session"
)

// newDocumentID returns a 16-hex-char document id (§3), hex-encoding
// only the first 8 bytes of a v4 UUID's entropy rather than all 16.
func newDocumentID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// Phase names one of the fixed checkpoints a progress update reports.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseChunking  Phase = "chunking"
	PhaseEmbedding Phase = "embedding"
	PhaseIndexing  Phase = "indexing"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
)

// totalSteps is fixed at 4: chunking, embedding, indexing, complete —
// matching §4.5's documented step count (starting/error are not
// counted steps, just bracketing events).
const totalSteps = 4

// ProgressUpdate is one event on an ingestion's progress stream.
type ProgressUpdate struct {
	Phase           Phase   `json:"phase"`
	CurrentStep     int     `json:"currentStep"`
	TotalSteps      int     `json:"totalSteps"`
	Message         string  `json:"message"`
	PercentComplete float64 `json:"percentComplete"`
}

// Pipeline wires a Chunker and an EmbeddingClient into the ingest flow.
type Pipeline struct {
	chunker  *rag.Chunker
	embedder *rag.EmbeddingClient
}

// NewPipeline constructs a Pipeline backed by embedder.
func NewPipeline(embedder *rag.EmbeddingClient) *Pipeline {
	return &Pipeline{chunker: rag.NewChunker(), embedder: embedder}
}

// Ingest chunks, embeds, and indexes fileName/content into sess,
// streaming ProgressUpdate events on the returned channel. The channel
// is always closed, terminating the stream, after either a Complete or
// an Error event.
func (p *Pipeline) Ingest(ctx context.Context, sess *session.Session, fileName, content string, opts rag.ChunkingOptions) <-chan ProgressUpdate {
	out := make(chan ProgressUpdate, totalSteps+2)
	go p.run(ctx, sess, fileName, content, opts, out)
	return out
}

func (p *Pipeline) run(ctx context.Context, sess *session.Session, fileName, content string, opts rag.ChunkingOptions, out chan<- ProgressUpdate) {
	defer close(out)

	out <- ProgressUpdate{Phase: PhaseStarting, CurrentStep: 0, TotalSteps: totalSteps, Message: "starting ingestion", PercentComplete: 0}

	if err := p.preflight(sess, fileName, content); err != nil {
		out <- errorUpdate(err.Error())
		return
	}

	doc := rag.NewDocument(newDocumentID(), fileName, content)

	out <- ProgressUpdate{Phase: PhaseChunking, CurrentStep: 1, TotalSteps: totalSteps, Message: "splitting document into chunks", PercentComplete: 10}
	chunks, err := p.chunker.ChunkDocument(doc, opts)
	if err != nil {
		out <- errorUpdate(fmt.Sprintf("chunking failed: %v", err))
		return
	}
	if len(chunks) == 0 {
		out <- errorUpdate(rag.ErrNoChunksProduced.Error())
		return
	}
	if err := ctx.Err(); err != nil {
		out <- errorUpdate("ingestion was cancelled")
		return
	}

	out <- ProgressUpdate{Phase: PhaseEmbedding, CurrentStep: 2, TotalSteps: totalSteps, Message: fmt.Sprintf("embedding %d chunks", len(chunks)), PercentComplete: 30}
	indexed, err := p.embedAndIndex(ctx, sess, chunks, out)
	if err != nil {
		out <- errorUpdate(err.Error())
		return
	}
	if indexed == 0 {
		out <- errorUpdate("ingestion failed: no chunks could be embedded")
		return
	}

	out <- ProgressUpdate{Phase: PhaseIndexing, CurrentStep: 3, TotalSteps: totalSteps, Message: fmt.Sprintf("indexed %d/%d chunks", indexed, len(chunks)), PercentComplete: 90}

	if err := sess.AddDocument(doc); err != nil {
		out <- errorUpdate(err.Error())
		return
	}

	out <- ProgressUpdate{Phase: PhaseComplete, CurrentStep: totalSteps, TotalSteps: totalSteps, Message: "ingestion complete", PercentComplete: 100}
}

func errorUpdate(message string) ProgressUpdate {
	return ProgressUpdate{Phase: PhaseError, TotalSteps: totalSteps, Message: message}
}

// preflight runs the validations that must fail before any chunking or
// embedding work begins. It runs inside the progress stream, after the
// Starting update, so a failure is reported as an Error update.
func (p *Pipeline) preflight(sess *session.Session, fileName, content string) error {
	if rag.IsEmpty(fileName) {
		return rag.ErrEmptyFileName
	}
	if rag.IsEmpty(content) {
		return rag.ErrEmptyContent
	}
	if sess.DocumentCount() >= sess.Config.MaxDocuments {
		return rag.ErrDocumentLimit
	}
	if len(content) > sess.Config.MaxFileSizeBytes {
		return rag.FileTooLargeError(len(content), sess.Config.MaxFileSizeBytes)
	}
	return nil
}

// embeddingProgressSpan is the width of the PercentComplete range the
// embedding phase interpolates over (§4.5: 30 + (done/total)*50, up to
// the 80% handoff into indexing).
const embeddingProgressSpan = 50

// embedAndIndex embeds every chunk through the EmbeddingClient's batch
// path (§4.2, §4.5), submitted in batches of at most
// sess.Config.MaxConcurrentEmbeddings chunks so one ingestion cannot
// outrun its session's configured concurrency, and reports progress on
// out as each embedding completes. A per-chunk embedding failure is
// logged and dropped rather than failing the whole ingestion (§4.5
// Stage 3); indexing then appends each surviving EmbeddedChunk in input
// order (§5 Ordering guarantees).
func (p *Pipeline) embedAndIndex(ctx context.Context, sess *session.Session, chunks []rag.Chunk, out chan<- ProgressUpdate) (int, error) {
	batchSize := sess.Config.MaxConcurrentEmbeddings
	if batchSize <= 0 {
		batchSize = 1
	}

	total := len(chunks)
	done := 0
	indexed := 0

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		results, err := p.embedder.EmbedBatch(ctx, texts, func(batchDone, batchTotal int) {
			percent := 30 + (float64(done+batchDone)/float64(total))*embeddingProgressSpan
			out <- ProgressUpdate{
				Phase:           PhaseEmbedding,
				CurrentStep:     2,
				TotalSteps:      totalSteps,
				Message:         fmt.Sprintf("embedded %d/%d chunks", done+batchDone, total),
				PercentComplete: percent,
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return indexed, rag.ErrIngestCancelled
			}
			// Every chunk of this batch failed; EmbedBatch has logged each
			// failure, so the batch is dropped and ingestion goes on.
			done += len(batch)
			continue
		}
		done += len(batch)

		for i, r := range results {
			if r.Err != nil {
				continue
			}
			c := batch[i]
			if addErr := sess.Index.Add(c.ID, r.Vector, rag.EmbeddedChunk{Chunk: c, Embedding: r.Vector}); addErr != nil {
				continue
			}
			indexed++
		}

		if err := ctx.Err(); err != nil {
			return indexed, rag.ErrIngestCancelled
		}
	}

	return indexed, nil
}

// Package rag implements the session-scoped retrieval-augmented
// generation core: chunking, embedding, retrieval strategies, and the
// data types shared across those stages.
package rag

import (
	"fmt"
	"time"

	"github.com/PerceptivePenguin/ragcore/internal/vector"
)

// Document is an immutable user-uploaded text document. ID is a locally
// generated 16-hex-char opaque identifier; CharCount always equals
// len(Content).
type Document struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	Content    string    `json:"content"`
	CharCount  int       `json:"charCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// NewDocument constructs a Document, stamping CharCount from content.
func NewDocument(id, fileName, content string) Document {
	return Document{
		ID:         id,
		FileName:   fileName,
		Content:    content,
		CharCount:  len(content),
		UploadedAt: time.Now(),
	}
}

// ChunkStrategy selects which of the three Chunker algorithms to apply.
type ChunkStrategy string

const (
	ChunkFixedSize ChunkStrategy = "fixed_size"
	ChunkSentence  ChunkStrategy = "sentence"
	ChunkParagraph ChunkStrategy = "paragraph"
)

// ChunkingOptions parameterizes the Chunker. Overlap must be < Size for
// FixedSize's step to be positive.
type ChunkingOptions struct {
	Strategy          ChunkStrategy
	Size              int
	Overlap           int
	ParagraphSeparator string
}

// DefaultChunkingOptions matches SessionConfig's documented defaults
// (chunk_size=512, chunk_overlap=50).
func DefaultChunkingOptions() ChunkingOptions {
	return ChunkingOptions{
		Strategy:           ChunkFixedSize,
		Size:               512,
		Overlap:            50,
		ParagraphSeparator: "\n\n",
	}
}

// Chunk is a contiguous, half-open span [StartIndex, EndIndex) of a
// document's Content. ChunkIndex is a per-document 0-based sequence.
type Chunk struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"documentId"`
	DocumentName string            `json:"documentName"`
	Content      string            `json:"content"`
	StartIndex   int               `json:"startIndex"`
	EndIndex     int               `json:"endIndex"`
	ChunkIndex   int               `json:"chunkIndex"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// chunkID formats the "{document_id}_chunk_{chunk_index}" convention.
func chunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// EmbeddedChunk pairs a Chunk with its dense embedding. All embeddings
// within one session must share the same dimension. The session's Index
// rejects a mismatched vector with vector.ErrDimensionMismatch, and the
// ingestion pipeline skips that chunk without logging it; no
// InvariantViolation error is raised.
type EmbeddedChunk struct {
	Chunk     Chunk
	Embedding vector.Vector
}

// RetrievalResult is one ranked hit from a retrieval strategy. Rank=1 is
// the highest-scoring result within that retrieval.
type RetrievalResult struct {
	Chunk           Chunk   `json:"chunk"`
	SimilarityScore float32 `json:"similarityScore"`
	Rank            int     `json:"rank"`
}

// RetrievalStrategyType selects among the three pluggable C6 strategies.
type RetrievalStrategyType string

const (
	StrategyDirect               RetrievalStrategyType = "direct"
	StrategyQueryExpansion       RetrievalStrategyType = "query_expansion"
	StrategyHypotheticalDocument RetrievalStrategyType = "hypothetical_document"
)

// SessionConfig is immutable for the lifetime of the session it is
// attached to.
type SessionConfig struct {
	SessionTTL              time.Duration
	MaxDocuments            int
	MaxFileSizeBytes        int
	ChunkSize               int
	ChunkOverlap            int
	TopK                    int
	MinSimilarityScore      float32
	DefaultStrategy         RetrievalStrategyType
	DefaultChunkingStrategy ChunkStrategy
	MaxConcurrentEmbeddings int
}

// DefaultSessionConfig matches spec §3 / §6.2's documented defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SessionTTL:              15 * time.Minute,
		MaxDocuments:            2,
		MaxFileSizeBytes:        102400,
		ChunkSize:               512,
		ChunkOverlap:            50,
		TopK:                    5,
		MinSimilarityScore:      0.3,
		DefaultStrategy:         StrategyDirect,
		DefaultChunkingStrategy: ChunkFixedSize,
		MaxConcurrentEmbeddings: 5,
	}
}

// Metrics is computed fresh per query and also accumulated per session
// across queries and ingestions.
type Metrics struct {
	ChunkingTimeMs       int64 `json:"chunkingTimeMs"`
	EmbeddingTimeMs      int64 `json:"embeddingTimeMs"`
	RetrievalTimeMs      int64 `json:"retrievalTimeMs"`
	GenerationTimeMs     int64 `json:"generationTimeMs"`
	TotalTimeMs          int64 `json:"totalTimeMs"`
	TotalChunks          int   `json:"totalChunks"`
	ChunksRetrieved      int   `json:"chunksRetrieved"`
	EmbeddingCacheHits   int64 `json:"embeddingCacheHits"`
	EmbeddingCacheMisses int64 `json:"embeddingCacheMisses"`
	TotalTokensUsed      int64 `json:"totalTokensUsed"`
	MemoryUsedBytes      int64 `json:"memoryUsedBytes"`
}

// Accumulate folds other into m in place, used to roll per-query Metrics
// into a session's running totals.
func (m *Metrics) Accumulate(other Metrics) {
	m.ChunkingTimeMs += other.ChunkingTimeMs
	m.EmbeddingTimeMs += other.EmbeddingTimeMs
	m.RetrievalTimeMs += other.RetrievalTimeMs
	m.GenerationTimeMs += other.GenerationTimeMs
	m.TotalTimeMs += other.TotalTimeMs
	m.TotalChunks += other.TotalChunks
	m.ChunksRetrieved += other.ChunksRetrieved
	m.EmbeddingCacheHits += other.EmbeddingCacheHits
	m.EmbeddingCacheMisses += other.EmbeddingCacheMisses
	m.TotalTokensUsed += other.TotalTokensUsed
	m.MemoryUsedBytes = other.MemoryUsedBytes
}

const citationPreviewLimit = 200

// Citation summarizes a retrieved chunk for display alongside generated
// text.
type Citation struct {
	DocumentName  string  `json:"documentName"`
	ChunkPreview  string  `json:"chunkPreview"`
	RelevanceScore float32 `json:"relevanceScore"`
	ChunkIndex    int     `json:"chunkIndex"`
}

// NewCitation builds a Citation from a RetrievalResult, truncating the
// preview to citationPreviewLimit characters with a trailing ellipsis.
func NewCitation(r RetrievalResult) Citation {
	preview := r.Chunk.Content
	if len(preview) > citationPreviewLimit {
		preview = preview[:citationPreviewLimit] + "..."
	}
	return Citation{
		DocumentName:   r.Chunk.DocumentName,
		ChunkPreview:   preview,
		RelevanceScore: r.SimilarityScore,
		ChunkIndex:     r.Chunk.ChunkIndex,
	}
}

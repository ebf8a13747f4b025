package rag

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/PerceptivePenguin/ragcore/internal/vector"
)

// EmbeddingProviderConfig configures the Embedding Client's retry,
// concurrency, and cache behavior (§4.2 / §6.2 defaults).
type EmbeddingProviderConfig struct {
	Model                 string
	MaxConcurrentRequests int
	MaxRetries            int
	RequestTimeout        time.Duration
	CacheDuration         time.Duration
}

// DefaultEmbeddingProviderConfig matches §6.2's documented defaults.
func DefaultEmbeddingProviderConfig() EmbeddingProviderConfig {
	return EmbeddingProviderConfig{
		Model:                 openai.AdaEmbeddingV2,
		MaxConcurrentRequests: 5,
		MaxRetries:            3,
		RequestTimeout:        30 * time.Second,
		CacheDuration:         30 * time.Minute,
	}
}

// embeddingTransport is the narrow seam EmbeddingClient calls through,
// grounded on the teacher's OpenAIEmbedder which wraps *openai.Client
// directly — kept as an interface here so tests can substitute a stub
// without a live API key.
type embeddingTransport interface {
	CreateEmbedding(ctx context.Context, text, model string) (vector.Vector, error)
}

// openAIEmbeddingTransport calls github.com/sashabaranov/go-openai's
// embeddings endpoint, the provider transport named in SPEC_FULL.md's
// domain stack table.
type openAIEmbeddingTransport struct {
	client *openai.Client
}

func newOpenAIEmbeddingTransport(apiKey, baseURL string) *openAIEmbeddingTransport {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIEmbeddingTransport{client: openai.NewClientWithConfig(cfg)}
}

func (t *openAIEmbeddingTransport) CreateEmbedding(ctx context.Context, text, model string) (vector.Vector, error) {
	resp, err := t.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if len(resp.Data) == 0 {
		return nil, NewParseFailureError("embedding response contained no data", nil)
	}
	return vector.Vector(resp.Data[0].Embedding), nil
}

// EmbeddingClient implements §4.2's public contract: embed, embed_batch,
// cache_stats. The concurrency semaphore and retry/backoff loop are
// grounded on the teacher's OpenAIEmbedder.embedWithRetry and rate
// limiter.
type EmbeddingClient struct {
	transport embeddingTransport
	cache     *EmbeddingCache
	cfg       EmbeddingProviderConfig
	sem       chan struct{}
	log       zerolog.Logger
}

// NewEmbeddingClient wires an OpenAI-backed transport with the process-
// wide embedding cache.
func NewEmbeddingClient(apiKey, baseURL string, cfg EmbeddingProviderConfig, log zerolog.Logger) *EmbeddingClient {
	return newEmbeddingClient(newOpenAIEmbeddingTransport(apiKey, baseURL), cfg, log)
}

func newEmbeddingClient(transport embeddingTransport, cfg EmbeddingProviderConfig, log zerolog.Logger) *EmbeddingClient {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 5
	}
	return &EmbeddingClient{
		transport: transport,
		cache:     NewEmbeddingCache(cfg.CacheDuration),
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrentRequests),
		log:       log,
	}
}

// Embed produces a dense vector for text, consulting and populating the
// process-wide cache. Cache hits bypass the concurrency semaphore
// entirely.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) (vector.Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, NewCancelledError("embedding request was cancelled while waiting for a concurrency permit")
	}
	defer func() { <-c.sem }()

	// Re-check after acquiring the permit: a concurrent caller may have
	// populated the cache while this one waited. This lookup leaves the
	// hit/miss counters alone: the miss above was already counted.
	if v, ok := c.cache.store.Get(CacheKey(text)); ok {
		return v.(vector.Vector), nil
	}

	v, err := c.embedWithRetry(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// embedWithRetry retries up to cfg.MaxRetries times with exponential
// backoff (2^attempt seconds), retrying only on ProviderUnavailable.
func (c *EmbeddingClient) embedWithRetry(ctx context.Context, text string) (vector.Vector, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		v, err := c.transport.CreateEmbedding(timeoutCtx, text, c.cfg.Model)
		cancel()
		if err == nil {
			return v, nil
		}
		lastErr = err

		ragErr, ok := err.(*RAGError)
		if !ok || !ragErr.IsRetryable() || attempt == c.cfg.MaxRetries {
			return err
		}

		delay := ragErr.GetRetryDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return NewCancelledError("embedding retry wait was cancelled")
		}
	}
	return lastErr
}

// EmbedBatchResult is one aligned slot of EmbedBatch's output: either a
// successfully embedded vector, or a failure that the ingestion pipeline
// logs and treats as a dropped chunk.
type EmbedBatchResult struct {
	Vector vector.Vector
	Err    error
}

// EmbedBatch embeds every text concurrently (honoring the semaphore),
// reporting completed_count to progressSink as each input finishes.
// Results are returned aligned to input index; if every input fails, a
// single aggregate error is returned instead.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string, progressSink func(completed, total int)) ([]EmbedBatchResult, error) {
	results := make([]EmbedBatchResult, len(texts))
	if len(texts) == 0 {
		return results, nil
	}

	type outcome struct {
		index int
		vec   vector.Vector
		err   error
	}
	outcomes := make(chan outcome, len(texts))

	for i, text := range texts {
		go func(i int, text string) {
			v, err := c.Embed(ctx, text)
			outcomes <- outcome{index: i, vec: v, err: err}
		}(i, text)
	}

	completed := 0
	failures := 0
	for range texts {
		o := <-outcomes
		results[o.index] = EmbedBatchResult{Vector: o.vec, Err: o.err}
		if o.err != nil {
			failures++
			c.log.Warn().Err(o.err).Int("index", o.index).Msg("embedding failed for batch input")
		}
		completed++
		if progressSink != nil {
			progressSink(completed, len(texts))
		}
	}

	if failures == len(texts) {
		return nil, NewProviderUnavailableError(results[0].Err).WithOperation("EmbedBatch")
	}
	return results, nil
}

// CacheStats returns the process-wide (hits, misses) counters.
func (c *EmbeddingClient) CacheStats() (hits, misses int64) {
	return c.cache.Stats()
}

// classifyProviderError maps a go-openai (or transport-level) error onto
// the spec's ProviderFailure / ProviderUnavailable distinction, mirroring
// the teacher's isRetryableError substring classification.
func classifyProviderError(err error) *RAGError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	retryableMarkers := []string{"rate limit", "429", "service unavailable", "503", "timeout", "connection reset", "temporarily unavailable"}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return NewProviderUnavailableError(err)
		}
	}

	if strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded") {
		return NewCancelledError("provider request cancelled")
	}

	return NewProviderFailureError(0, err.Error())
}

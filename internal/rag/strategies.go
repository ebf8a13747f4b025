package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PerceptivePenguin/ragcore/internal/vector"
)

// RetrievalParams bundles everything a retrieval strategy needs to turn
// a query into ranked results (§4.6). Index and embedder are narrow
// interfaces rather than concrete types so strategies can be tested
// against fakes without a live session or provider.
type RetrievalParams struct {
	Index     indexSearcher
	Embedder  queryEmbedder
	Generator queryGenerator
	Query     string
	TopK      int
	MinScore  float32
}

type indexSearcher interface {
	Search(query vector.Vector, topK int, minScore float32) ([]vector.Result[EmbeddedChunk], error)
}

type queryEmbedder interface {
	Embed(ctx context.Context, text string) (vector.Vector, error)
}

type queryGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerationOptions) (<-chan GenerationFragment, error)
}

// RetrievalStrategy is the common contract all three S-* strategies
// implement: retrieve(session, query_text, top_k) → RetrievalResult[].
// The session itself is represented by RetrievalParams' Index/Embedder
// pair rather than passed whole, keeping this package independent of
// internal/session.
type RetrievalStrategy interface {
	Retrieve(ctx context.Context, p RetrievalParams) ([]RetrievalResult, error)
}

// NewStrategy selects a strategy implementation by enum, the "strategy
// factory" named in §9's design notes.
func NewStrategy(t RetrievalStrategyType) RetrievalStrategy {
	switch t {
	case StrategyQueryExpansion:
		return QueryExpansionStrategy{}
	case StrategyHypotheticalDocument:
		return HypotheticalDocumentStrategy{}
	default:
		return DirectStrategy{}
	}
}

func toRetrievalResults(results []vector.Result[EmbeddedChunk]) []RetrievalResult {
	out := make([]RetrievalResult, len(results))
	for i, r := range results {
		out[i] = RetrievalResult{
			Chunk:           r.Payload.Chunk,
			SimilarityScore: r.Score,
			Rank:            r.Rank,
		}
	}
	return out
}

// DirectStrategy (S-Direct) embeds the query and searches the index
// directly. The baseline every other strategy falls back to.
type DirectStrategy struct{}

func (DirectStrategy) Retrieve(ctx context.Context, p RetrievalParams) ([]RetrievalResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, ErrEmptyQuery
	}
	qv, err := p.Embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, err
	}
	results, err := p.Index.Search(qv, p.TopK, p.MinScore)
	if err != nil {
		return nil, err
	}
	return toRetrievalResults(results), nil
}

// queryExpansionTemplates are the four fixed templates applied to the
// trimmed query (§4.6).
var queryExpansionTemplates = []string{
	"%s",
	"What is %s?",
	"How does %s work?",
	"Examples of %s",
}

// QueryExpansionStrategy (S-QueryExpansion) generates query variations,
// embeds them concurrently, searches with widened parameters, and
// reranks by combining max score with hit count across variations.
type QueryExpansionStrategy struct{}

func (QueryExpansionStrategy) Retrieve(ctx context.Context, p RetrievalParams) ([]RetrievalResult, error) {
	trimmed := strings.TrimSpace(p.Query)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}

	variations := expandQuery(trimmed)

	type embedOutcome struct {
		vec vector.Vector
		err error
	}
	outcomes := make([]embedOutcome, len(variations))
	var wg sync.WaitGroup
	for i, v := range variations {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			vec, err := p.Embedder.Embed(ctx, v)
			outcomes[i] = embedOutcome{vec: vec, err: err}
		}(i, v)
	}
	wg.Wait()

	type merged struct {
		result   vector.Result[EmbeddedChunk]
		maxScore float32
		hitCount int
	}
	byChunkID := make(map[string]*merged)
	order := make([]string, 0)

	succeeded := 0
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		succeeded++

		found, err := p.Index.Search(o.vec, p.TopK*2, p.MinScore*0.8)
		if err != nil {
			continue
		}
		for _, r := range found {
			m, ok := byChunkID[r.ID]
			if !ok {
				m = &merged{result: r, maxScore: r.Score, hitCount: 1}
				byChunkID[r.ID] = m
				order = append(order, r.ID)
				continue
			}
			m.hitCount++
			if r.Score > m.maxScore {
				m.maxScore = r.Score
				m.result = r
			}
		}
	}

	if succeeded == 0 {
		return nil, NewProviderUnavailableError(fmt.Errorf("all %d query expansion variations failed to embed", len(variations))).WithOperation("QueryExpansionStrategy")
	}

	combined := make([]*merged, 0, len(order))
	for _, id := range order {
		combined = append(combined, byChunkID[id])
	}
	sort.SliceStable(combined, func(i, j int) bool {
		ci := combined[i].maxScore + float32(combined[i].hitCount-1)*0.05
		cj := combined[j].maxScore + float32(combined[j].hitCount-1)*0.05
		return ci > cj
	})

	if p.TopK > 0 && len(combined) > p.TopK {
		combined = combined[:p.TopK]
	}

	out := make([]RetrievalResult, len(combined))
	for i, m := range combined {
		out[i] = RetrievalResult{
			Chunk:           m.result.Payload.Chunk,
			SimilarityScore: m.maxScore + float32(m.hitCount-1)*0.05,
			Rank:            i + 1,
		}
	}
	return out, nil
}

// expandQuery applies queryExpansionTemplates to q and deduplicates the
// results case-insensitively, preserving first-occurrence order.
func expandQuery(q string) []string {
	seen := make(map[string]struct{}, len(queryExpansionTemplates))
	out := make([]string, 0, len(queryExpansionTemplates))
	for _, tmpl := range queryExpansionTemplates {
		v := fmt.Sprintf(tmpl, q)
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// hypotheticalDocumentPrompt is the fixed zero-context prompt template
// asking the provider to write a plausible answer (§4.6).
const hypotheticalDocumentPrompt = "Write a short, plausible passage that would answer the following question. " +
	"Do not mention that this is a hypothetical answer.\n\nQuestion: %s"

// HypotheticalDocumentStrategy (S-HypotheticalDocument / HyDE) generates
// a hypothetical answer, embeds it, and searches with that embedding in
// place of the raw query embedding. Falls back to DirectStrategy on any
// failure of generation or embedding — it must never fail the request
// as long as a direct search could have succeeded.
type HypotheticalDocumentStrategy struct{}

func (HypotheticalDocumentStrategy) Retrieve(ctx context.Context, p RetrievalParams) ([]RetrievalResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, ErrEmptyQuery
	}

	hypothesis, err := generateHypothesis(ctx, p)
	if err != nil {
		return DirectStrategy{}.Retrieve(ctx, p)
	}

	qv, err := p.Embedder.Embed(ctx, hypothesis)
	if err != nil {
		return DirectStrategy{}.Retrieve(ctx, p)
	}

	results, err := p.Index.Search(qv, p.TopK, p.MinScore)
	if err != nil {
		return DirectStrategy{}.Retrieve(ctx, p)
	}
	return toRetrievalResults(results), nil
}

func generateHypothesis(ctx context.Context, p RetrievalParams) (string, error) {
	if p.Generator == nil {
		return "", fmt.Errorf("no generation provider configured")
	}
	prompt := fmt.Sprintf(hypotheticalDocumentPrompt, p.Query)
	frags, err := p.Generator.Generate(ctx, prompt, GenerationOptions{MaxOutputTokens: 500, Temperature: 0.3})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for f := range frags {
		if f.Err != nil {
			return "", f.Err
		}
		sb.WriteString(f.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty hypothetical document")
	}
	return sb.String(), nil
}

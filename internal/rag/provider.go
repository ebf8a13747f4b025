package rag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// GenerationOptions carries the §6.3 generate() knobs.
type GenerationOptions struct {
	MaxOutputTokens int
	Temperature     float32
}

// UsageMetadata is the optional trailing usage object a provider may
// interleave at the end of a generation stream (§6.3).
type UsageMetadata struct {
	PromptTokens    int `json:"prompt_tokens"`
	CandidateTokens int `json:"candidate_tokens"`
	TotalTokens     int `json:"total_tokens"`
}

// GenerationFragment is one item read off a generation stream: either a
// text fragment or (on the final item) usage metadata.
type GenerationFragment struct {
	Text  string
	Usage *UsageMetadata
	Err   error
}

// GenerationProviderConfig configures the HTTP generation transport.
type GenerationProviderConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxRetries     int
	RequestTimeout time.Duration
}

// DefaultGenerationProviderConfig matches §6.2's documented defaults.
func DefaultGenerationProviderConfig() GenerationProviderConfig {
	return GenerationProviderConfig{
		MaxRetries:     3,
		RequestTimeout: 60 * time.Second,
	}
}

// GenerationClient implements §6.3's generate(prompt, options) →
// stream<text_fragment> contract over a bespoke HTTP client. Grounded on
// the teacher's chat.Client.ChatStream / handleStreamChat architecture
// (retry loop wrapping a streaming goroutine that writes to a buffered
// channel), but the wire decoding is entirely new: the teacher talks to
// go-openai's SSE-shaped chat-completions stream, while this provider
// must tolerate three distinct shapes an upstream may return (§6.3:
// array of chunks, a single object, or newline-delimited objects
// optionally "data: "-prefixed).
type GenerationClient struct {
	httpClient *http.Client
	cfg        GenerationProviderConfig
	log        zerolog.Logger
}

// NewGenerationClient wires an HTTP client against cfg.BaseURL.
func NewGenerationClient(cfg GenerationProviderConfig, log zerolog.Logger) *GenerationClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &GenerationClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		log:        log,
	}
}

// Generate streams text fragments for prompt, retrying the initial
// request on a ProviderUnavailable classification. Once bytes start
// streaming, a mid-stream failure is surfaced as a single fragment
// carrying Err and the channel is closed — per §7's propagation policy,
// retries never happen after the stream has begun.
func (g *GenerationClient) Generate(ctx context.Context, prompt string, opts GenerationOptions) (<-chan GenerationFragment, error) {
	out := make(chan GenerationFragment, 64)

	body, err := g.requestWithRetry(ctx, prompt, opts)
	if err != nil {
		close(out)
		return nil, err
	}

	go g.streamFragments(body, out)
	return out, nil
}

func (g *GenerationClient) requestWithRetry(ctx context.Context, prompt string, opts GenerationOptions) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		resp, err := g.doRequest(ctx, prompt, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		ragErr, ok := err.(*RAGError)
		if !ok || !ragErr.IsRetryable() || attempt == g.cfg.MaxRetries {
			return nil, err
		}

		delay := ragErr.GetRetryDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, NewCancelledError("generation retry wait was cancelled")
		}
	}
	return nil, lastErr
}

func (g *GenerationClient) doRequest(ctx context.Context, prompt string, opts GenerationOptions) (io.ReadCloser, error) {
	reqBody := map[string]any{
		"model":  g.cfg.Model,
		"prompt": prompt,
		"options": map[string]any{
			"max_output_tokens": opts.MaxOutputTokens,
			"temperature":       opts.Temperature,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewParseFailureError("failed to encode generation request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, classifyProviderError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewProviderUnavailableError(fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewProviderFailureError(resp.StatusCode, string(b))
	}
	return resp.Body, nil
}

// streamChunk mirrors the subset of the wire object §6.3 names:
// candidates[0].content.parts[0].text, plus an optional usage object.
type streamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata"`
}

func (c streamChunk) text() string {
	if len(c.Candidates) == 0 || len(c.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return c.Candidates[0].Content.Parts[0].Text
}

// streamFragments decodes body under all three tolerated wire shapes and
// writes fragments to out in arrival order, closing out on completion.
func (g *GenerationClient) streamFragments(body io.ReadCloser, out chan<- GenerationFragment) {
	defer close(out)
	defer body.Close()

	reader := bufio.NewReaderSize(body, 64*1024)
	first, err := reader.Peek(1)
	if err != nil && err != io.EOF {
		out <- GenerationFragment{Err: NewParseFailureError("failed to read generation stream", err)}
		return
	}

	switch {
	case len(first) > 0 && first[0] == '[':
		g.decodeArray(reader, out)
	case len(first) > 0 && first[0] == '{':
		g.decodeSingleObjectOrNDJSON(reader, out)
	default:
		g.decodeNDJSON(reader, out)
	}
}

// decodeArray handles wire shape (a): a single JSON array of chunk objects.
func (g *GenerationClient) decodeArray(r io.Reader, out chan<- GenerationFragment) {
	var chunks []streamChunk
	if err := json.NewDecoder(r).Decode(&chunks); err != nil {
		out <- GenerationFragment{Err: NewParseFailureError("failed to decode generation response array", err)}
		return
	}
	for _, c := range chunks {
		g.emit(c, out)
	}
}

// decodeSingleObjectOrNDJSON disambiguates wire shape (b) (a lone object)
// from (c) (newline-delimited objects, the first with no "data: "
// prefix) by reading one JSON value and then checking for trailing data.
func (g *GenerationClient) decodeSingleObjectOrNDJSON(r *bufio.Reader, out chan<- GenerationFragment) {
	dec := json.NewDecoder(r)
	var first streamChunk
	if err := dec.Decode(&first); err != nil {
		out <- GenerationFragment{Err: NewParseFailureError("failed to decode generation response object", err)}
		return
	}
	g.emit(first, out)

	buffered := dec.Buffered()
	rest := io.MultiReader(buffered, r)
	g.decodeNDJSONBody(bufio.NewReader(rest), out)
}

// decodeNDJSON handles wire shape (c): newline-delimited objects, each
// optionally prefixed with "data: ".
func (g *GenerationClient) decodeNDJSON(r *bufio.Reader, out chan<- GenerationFragment) {
	g.decodeNDJSONBody(r, out)
}

func (g *GenerationClient) decodeNDJSONBody(r *bufio.Reader, out chan<- GenerationFragment) {
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimPrefix(trimmed, "data: ")
		trimmed = strings.TrimPrefix(trimmed, "data:")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed != "" && trimmed != "[DONE]" {
			var c streamChunk
			if decErr := json.Unmarshal([]byte(trimmed), &c); decErr != nil {
				out <- GenerationFragment{Err: NewParseFailureError("failed to decode generation stream line", decErr)}
				return
			}
			g.emit(c, out)
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			out <- GenerationFragment{Err: NewParseFailureError("failed to read generation stream", err)}
			return
		}
	}
}

func (g *GenerationClient) emit(c streamChunk, out chan<- GenerationFragment) {
	frag := GenerationFragment{Text: c.text()}
	if c.UsageMetadata != nil {
		frag.Usage = c.UsageMetadata
	}
	if frag.Text != "" || frag.Usage != nil {
		out <- frag
	}
}

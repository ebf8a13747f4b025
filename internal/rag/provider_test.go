package rag

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func collectFragments(t *testing.T, frags <-chan GenerationFragment) ([]string, error) {
	t.Helper()
	var texts []string
	for f := range frags {
		if f.Err != nil {
			return texts, f.Err
		}
		if f.Text != "" {
			texts = append(texts, f.Text)
		}
	}
	return texts, nil
}

func newTestGenerationClient(url string) *GenerationClient {
	cfg := GenerationProviderConfig{BaseURL: url, Model: "test-model", MaxRetries: 1, RequestTimeout: 5 * time.Second}
	return NewGenerationClient(cfg, zerolog.Nop())
}

func TestGenerateDecodesArrayShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"candidates":[{"content":{"parts":[{"text":"Hello, "}]}}]},
			{"candidates":[{"content":{"parts":[{"text":"world."}]}}]}
		]`))
	}))
	defer srv.Close()

	client := newTestGenerationClient(srv.URL)
	frags, err := client.Generate(context.Background(), "hi", GenerationOptions{MaxOutputTokens: 100, Temperature: 0.3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	texts, err := collectFragments(t, frags)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(texts) != 2 || texts[0] != "Hello, " || texts[1] != "world." {
		t.Fatalf("unexpected fragments: %v", texts)
	}
}

func TestGenerateDecodesSingleObjectShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"single shot"}]}}]}`))
	}))
	defer srv.Close()

	client := newTestGenerationClient(srv.URL)
	frags, err := client.Generate(context.Background(), "hi", GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	texts, err := collectFragments(t, frags)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(texts) != 1 || texts[0] != "single shot" {
		t.Fatalf("unexpected fragments: %v", texts)
	}
}

func TestGenerateDecodesNDJSONWithDataPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n" +
			"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"b\"}]}}]}\n" +
			"data: {\"usageMetadata\":{\"prompt_tokens\":3,\"candidate_tokens\":2,\"total_tokens\":5}}\n"))
	}))
	defer srv.Close()

	client := newTestGenerationClient(srv.URL)
	frags, err := client.Generate(context.Background(), "hi", GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var texts []string
	var usage *UsageMetadata
	for f := range frags {
		if f.Err != nil {
			t.Fatalf("unexpected stream error: %v", f.Err)
		}
		if f.Text != "" {
			texts = append(texts, f.Text)
		}
		if f.Usage != nil {
			usage = f.Usage
		}
	}
	if len(texts) != 2 || texts[0] != "a" || texts[1] != "b" {
		t.Fatalf("unexpected fragments: %v", texts)
	}
	if usage == nil || usage.TotalTokens != 5 {
		t.Fatalf("expected trailing usage metadata, got %v", usage)
	}
}

func TestGenerateRejectsOn4xxWithoutRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad prompt"))
	}))
	defer srv.Close()

	client := newTestGenerationClient(srv.URL)
	_, err := client.Generate(context.Background(), "hi", GenerationOptions{})
	if err == nil {
		t.Fatal("expected an error for a 4xx response")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable failure, got %d", calls)
	}
}

func TestGenerateRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"recovered"}]}}]}`))
	}))
	defer srv.Close()

	client := newTestGenerationClient(srv.URL)
	frags, err := client.Generate(context.Background(), "hi", GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	texts, err := collectFragments(t, frags)
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if len(texts) != 1 || texts[0] != "recovered" {
		t.Fatalf("unexpected fragments: %v", texts)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// echoCodec is a minimal codec for transport tests.
type echoCodec struct{}

func (echoCodec) Name() string                  { return "echo" }
func (echoCodec) ChatURL(base string) string    { return base + "/chat" }
func (echoCodec) EmbedURL(base string) string   { return base + "/embed" }
func (echoCodec) SetHeaders(req *http.Request)  { req.Header.Set("X-Echo", "1") }
func (echoCodec) EncodeChat(model, prompt string, _ GenerateOptions) ([]byte, error) {
	return json.Marshal(map[string]string{"model": model, "prompt": prompt})
}
func (echoCodec) DecodeChat(body []byte, model string) (*GenerationResult, error) {
	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &GenerationResult{Content: resp.Content, Model: model, FinishReason: "stop"}, nil
}
func (echoCodec) EncodeEmbed(model string, texts []string) ([]byte, error) {
	return json.Marshal(map[string]any{"model": model, "input": texts})
}
func (echoCodec) DecodeEmbed(body []byte, model string) (*EmbedResult, error) {
	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &EmbedResult{Embeddings: resp.Embeddings, Model: model}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        time.Millisecond,
	}
}

func TestHTTPClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Echo") != "1" {
			t.Error("codec headers not applied")
		}
		fmt.Fprint(w, `{"content":"hello"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(echoCodec{}, srv.URL, WithRetryConfig(fastRetry()))
	result, err := c.Generate(context.Background(), "m1", "hi", GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q, want hello", result.Content)
	}
	if result.Provider != "echo" {
		t.Errorf("provider = %q, want echo", result.Provider)
	}
	if result.LatencyMs < 0 {
		t.Errorf("latency = %d, want >= 0", result.LatencyMs)
	}
}

func TestHTTPClientRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"content":"recovered"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(echoCodec{}, srv.URL, WithRetryConfig(fastRetry()))
	result, err := c.Generate(context.Background(), "m1", "hi", GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate after retries: %v", err)
	}
	if result.Content != "recovered" {
		t.Errorf("content = %q, want recovered", result.Content)
	}
	if calls.Load() != 3 {
		t.Errorf("server calls = %d, want 3", calls.Load())
	}
}

func TestHTTPClientFatalNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(echoCodec{}, srv.URL, WithRetryConfig(fastRetry()))
	_, err := c.Generate(context.Background(), "m1", "hi", GenerateOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFatal(err) {
		t.Errorf("401 should be fatal, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on fatal)", calls.Load())
	}
}

func TestHTTPClientRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(echoCodec{}, srv.URL, WithRetryConfig(RetryConfig{
		MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffMultiplier: 1, MaxBackoff: time.Millisecond,
	}))
	_, err := c.Generate(context.Background(), "m1", "hi", GenerateOptions{})
	if !IsTransient(err) {
		t.Errorf("429 should be transient, got %v", err)
	}
}

func TestHTTPClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"embeddings":[[0.1,0.2],[0.3,0.4]]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(echoCodec{}, srv.URL, WithRetryConfig(fastRetry()))
	result, err := c.Embed(context.Background(), "e1", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(result.Embeddings) != 2 {
		t.Fatalf("embeddings = %d, want 2", len(result.Embeddings))
	}
}

func TestHTTPClientEmbedEmptyInput(t *testing.T) {
	c := NewHTTPClient(echoCodec{}, "http://unused")
	result, err := c.Embed(context.Background(), "e1", nil)
	if err != nil {
		t.Fatalf("Embed with no texts: %v", err)
	}
	if len(result.Embeddings) != 0 {
		t.Errorf("expected no embeddings, got %d", len(result.Embeddings))
	}
}

func TestHTTPClientMissingModel(t *testing.T) {
	c := NewHTTPClient(echoCodec{}, "http://unused")
	if _, err := c.Generate(context.Background(), "", "hi", GenerateOptions{}); !IsFatal(err) {
		t.Errorf("missing model should be fatal, got %v", err)
	}
}

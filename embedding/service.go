// Package embedding provides cached, batched text embedding plus vector
// similarity utilities. Pipeline stages use it opportunistically; it is
// never required for pipeline correctness.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/concordlabs/concord/llm"
)

// DefaultBatchSize bounds one provider submission.
const DefaultBatchSize = 64

// Result is the outcome of one EmbedTexts call.
type Result struct {
	// Embeddings holds one vector per input text, in input order.
	Embeddings [][]float32 `json:"embeddings"`

	// Model produced the vectors.
	Model string `json:"model"`

	// Dimensions is the vector width.
	Dimensions int `json:"dimensions"`

	// PromptTokens consumed by the provider for cache misses.
	PromptTokens int `json:"prompt_tokens"`

	// LatencyMs is the total provider time spent.
	LatencyMs int64 `json:"latency_ms"`

	// CacheHits and CacheMisses count per-text cache outcomes.
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Service embeds texts through a provider with a content-hash cache.
type Service struct {
	provider  llm.Provider
	model     string
	cache     *fifoCache
	group     singleflight.Group
	batchSize int
	logger    *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Service.
type Option func(*Service)

// WithCacheCapacity bounds the cache entry count.
func WithCacheCapacity(capacity int) Option {
	return func(s *Service) {
		s.cache = newFIFOCache(capacity)
	}
}

// WithBatchSize bounds one provider submission.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates an embedding service over the provider.
func NewService(provider llm.Provider, model string, opts ...Option) *Service {
	s := &Service{
		provider:  provider,
		model:     model,
		cache:     newFIFOCache(10000),
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbedOption adjusts a single EmbedTexts call.
type EmbedOption func(*embedRequest)

type embedRequest struct {
	model string
}

// WithModel overrides the service's default model for one call.
func WithModel(model string) EmbedOption {
	return func(r *embedRequest) {
		if model != "" {
			r.model = model
		}
	}
}

// EmbedTexts embeds every text, serving repeats from the cache and
// batching the misses. Identical concurrent requests are collapsed into
// one provider round trip. Cache entries are scoped to the model that
// produced them, so an override never serves another model's vectors.
func (s *Service) EmbedTexts(ctx context.Context, texts []string, opts ...EmbedOption) (*Result, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	req := embedRequest{model: s.model}
	for _, opt := range opts {
		opt(&req)
	}

	hashes := make([]string, len(texts))
	for i, text := range texts {
		hashes[i] = contentHash(req.model + "\x00" + text)
	}

	key := requestKey(hashes)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.embed(ctx, req.model, texts, hashes)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Service) embed(ctx context.Context, model string, texts []string, hashes []string) (*Result, error) {
	result := &Result{
		Model:      model,
		Embeddings: make([][]float32, len(texts)),
	}

	var missIdx []int
	for i, hash := range hashes {
		if vec, ok := s.cache.get(hash); ok {
			result.Embeddings[i] = vec
			result.CacheHits++
			s.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		result.CacheMisses++
		s.misses.Add(1)
	}

	for start := 0; start < len(missIdx); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		batchTexts := make([]string, len(batch))
		for j, idx := range batch {
			batchTexts[j] = texts[idx]
		}

		startedAt := time.Now()
		embedded, err := s.provider.Embed(ctx, model, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("embed batch of %d: %w", len(batchTexts), err)
		}
		result.LatencyMs += time.Since(startedAt).Milliseconds()
		result.PromptTokens += embedded.PromptTokens

		if len(embedded.Embeddings) != len(batch) {
			return nil, fmt.Errorf("provider returned %d embeddings for %d texts",
				len(embedded.Embeddings), len(batch))
		}
		for j, idx := range batch {
			result.Embeddings[idx] = embedded.Embeddings[j]
			s.cache.put(hashes[idx], embedded.Embeddings[j])
		}
	}

	if len(result.Embeddings) > 0 && result.Embeddings[0] != nil {
		result.Dimensions = len(result.Embeddings[0])
	}
	return result, nil
}

// Stats reports cumulative cache counters.
func (s *Service) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Size:   s.cache.len(),
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func requestKey(hashes []string) string {
	return contentHash(strings.Join(hashes, "|"))
}

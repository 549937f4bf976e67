// Package llmtest provides a deterministic Provider double for tests.
package llmtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/concordlabs/concord/llm"
)

// StubProvider is a deterministic in-memory Provider. Responses are
// configured per model; unconfigured models echo a canned completion.
// All calls are recorded for assertion.
type StubProvider struct {
	mu sync.Mutex

	// responses maps model id to a queue of scripted responses.
	responses map[string][]stubResponse

	// generateCalls counts Generate invocations per model.
	generateCalls map[string]int

	// embedCalls counts Embed invocations per model.
	embedCalls map[string]int

	// dimensions is the embedding vector width. Defaults to 8.
	dimensions int
}

type stubResponse struct {
	content string
	err     error
}

// NewStubProvider creates an empty stub.
func NewStubProvider() *StubProvider {
	return &StubProvider{
		responses:     make(map[string][]stubResponse),
		generateCalls: make(map[string]int),
		embedCalls:    make(map[string]int),
		dimensions:    8,
	}
}

// Name returns "stub".
func (s *StubProvider) Name() string {
	return "stub"
}

// Respond scripts the next response for a model. Responses are consumed in
// order; the last one repeats once the queue is exhausted.
func (s *StubProvider) Respond(model, content string) *StubProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[model] = append(s.responses[model], stubResponse{content: content})
	return s
}

// Fail scripts the next call on a model to fail.
func (s *StubProvider) Fail(model string, err error) *StubProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[model] = append(s.responses[model], stubResponse{err: err})
	return s
}

// GenerateCalls returns how many times Generate ran for a model.
func (s *StubProvider) GenerateCalls(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls[model]
}

// EmbedCalls returns how many times Embed ran for a model.
func (s *StubProvider) EmbedCalls(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embedCalls[model]
}

// Generate returns the next scripted response for the model.
func (s *StubProvider) Generate(_ context.Context, model, prompt string, _ llm.GenerateOptions) (*llm.GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generateCalls[model]++

	resp := stubResponse{content: fmt.Sprintf("stub completion for %q", model)}
	if queue := s.responses[model]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			s.responses[model] = queue[1:]
		}
	}

	if resp.err != nil {
		return nil, resp.err
	}

	promptTokens := len(prompt) / 4
	completionTokens := len(resp.content) / 4
	return &llm.GenerationResult{
		Content:  resp.content,
		Model:    model,
		Provider: "stub",
		Usage: llm.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		LatencyMs:    1,
		FinishReason: "stop",
	}, nil
}

// Embed returns deterministic vectors derived from each text's hash, so the
// same text always embeds to the same vector.
func (s *StubProvider) Embed(_ context.Context, model string, texts []string) (*llm.EmbedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.embedCalls[model]++

	embeddings := make([][]float32, len(texts))
	promptTokens := 0
	for i, text := range texts {
		embeddings[i] = deterministicVector(text, s.dimensions)
		promptTokens += len(text) / 4
	}

	return &llm.EmbedResult{
		Embeddings:   embeddings,
		Model:        model,
		PromptTokens: promptTokens,
		LatencyMs:    1,
	}, nil
}

// deterministicVector derives a unit-scale vector from the text hash.
func deterministicVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000
	}
	return vec
}

// Package llm defines the inference provider contract and a provider-agnostic
// HTTP client. Concrete backends (Anthropic, OpenAI-compatible servers such as
// Ollama or vLLM) are wire codecs registered by the providers subpackage; a
// deterministic stub in llmtest satisfies the same contract for tests.
package llm

import (
	"context"
)

// GenerateOptions are per-call generation parameters.
type GenerateOptions struct {
	// SystemPrompt optionally sets model behavior.
	SystemPrompt string

	// MaxTokens limits response length. 0 uses the backend default.
	MaxTokens int

	// Temperature controls randomness. nil uses the backend default.
	Temperature *float64
}

// Usage is token consumption for a single generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the outcome of one generation call.
type GenerationResult struct {
	// Content is the generated text.
	Content string `json:"content"`

	// Model is the model that produced the content.
	Model string `json:"model"`

	// Provider is the backend that served the call.
	Provider string `json:"provider"`

	// Usage holds token consumption.
	Usage Usage `json:"usage"`

	// LatencyMs is the wall-clock duration of the call.
	LatencyMs int64 `json:"latency_ms"`

	// CostUSD is the computed cost of the call. Filled in by the router
	// from catalog pricing; providers leave it zero.
	CostUSD float64 `json:"cost_usd"`

	// FinishReason indicates why generation stopped.
	FinishReason string `json:"finish_reason"`
}

// EmbedResult is the outcome of one embedding call.
type EmbedResult struct {
	// Embeddings holds one vector per input text, in input order.
	Embeddings [][]float32 `json:"embeddings"`

	// Model is the model that produced the vectors.
	Model string `json:"model"`

	// PromptTokens is the token count of the submitted texts.
	PromptTokens int `json:"prompt_tokens"`

	// LatencyMs is the wall-clock duration of the call.
	LatencyMs int64 `json:"latency_ms"`
}

// Provider is the uniform inference backend contract.
// A live HTTP client and a deterministic test double both satisfy it.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// Generate produces a completion for the prompt on the named model.
	Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (*GenerationResult, error)

	// Embed produces embedding vectors for the texts on the named model.
	Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error)
}

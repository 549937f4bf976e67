// Package providers implements wire codecs for inference backends.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/concordlabs/concord/llm"
)

// AnthropicCodec speaks the Anthropic messages API.
type AnthropicCodec struct{}

// anthropicVersion is the API version to use.
const anthropicVersion = "2023-06-01"

func init() {
	llm.RegisterCodec(&AnthropicCodec{})
}

// Name returns the codec identifier.
func (a *AnthropicCodec) Name() string {
	return "anthropic"
}

// ChatURL constructs the Anthropic messages endpoint.
func (a *AnthropicCodec) ChatURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

// EmbedURL is unsupported; Anthropic has no embeddings endpoint.
// The request will fail with a fatal error at encode time.
func (a *AnthropicCodec) EmbedURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/embeddings"
}

// SetHeaders adds Anthropic authentication headers.
func (a *AnthropicCodec) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

// anthropicRequest is the Anthropic API request format.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeChat creates the Anthropic request body.
func (a *AnthropicCodec) EncodeChat(model, prompt string, opts llm.GenerateOptions) ([]byte, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096 // Anthropic requires an explicit max_tokens
	}

	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      opts.SystemPrompt,
		Temperature: opts.Temperature,
	}

	return json.Marshal(req)
}

// anthropicResponse is the Anthropic API response format.
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// DecodeChat extracts content from an Anthropic response.
func (a *AnthropicCodec) DecodeChat(body []byte, _ string) (*llm.GenerationResult, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	totalTokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return &llm.GenerationResult{
		Content: content,
		Model:   resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      totalTokens,
		},
		FinishReason: resp.StopReason,
	}, nil
}

// EncodeEmbed always fails: Anthropic does not serve embeddings.
func (a *AnthropicCodec) EncodeEmbed(_ string, _ []string) ([]byte, error) {
	return nil, fmt.Errorf("anthropic backend does not support embeddings")
}

// DecodeEmbed always fails: Anthropic does not serve embeddings.
func (a *AnthropicCodec) DecodeEmbed(_ []byte, _ string) (*llm.EmbedResult, error) {
	return nil, fmt.Errorf("anthropic backend does not support embeddings")
}

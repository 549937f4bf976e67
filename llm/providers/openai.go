package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/concordlabs/concord/llm"
)

// OpenAICodec speaks the OpenAI-compatible API served by OpenAI itself and
// by local inference servers such as Ollama and vLLM.
type OpenAICodec struct{}

func init() {
	llm.RegisterCodec(&OpenAICodec{})
}

// Name returns the codec identifier.
func (o *OpenAICodec) Name() string {
	return "openai"
}

// ChatURL constructs the chat completions endpoint.
func (o *OpenAICodec) ChatURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// EmbedURL constructs the embeddings endpoint.
func (o *OpenAICodec) EmbedURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return strings.TrimSuffix(baseURL, "/") + "/embeddings"
}

// SetHeaders adds bearer auth when an API key is configured.
func (o *OpenAICodec) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// openAIRequest is the OpenAI-compatible chat request format.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeChat creates the OpenAI-compatible request body.
func (o *OpenAICodec) EncodeChat(model, prompt string, opts llm.GenerateOptions) ([]byte, error) {
	var messages []openAIMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	req := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature, // nil = use default, 0 = deterministic
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = &opts.MaxTokens
	}

	return json.Marshal(req)
}

// openAIResponse is the OpenAI-compatible chat response format.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// DecodeChat extracts content from an OpenAI-compatible response.
func (o *OpenAICodec) DecodeChat(body []byte, _ string) (*llm.GenerationResult, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &llm.GenerationResult{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}

// openAIEmbedRequest is the OpenAI-compatible embeddings request format.
type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EncodeEmbed creates the embeddings request body.
func (o *OpenAICodec) EncodeEmbed(model string, texts []string) ([]byte, error) {
	return json.Marshal(openAIEmbedRequest{Model: model, Input: texts})
}

// openAIEmbedResponse is the OpenAI-compatible embeddings response format.
type openAIEmbedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// DecodeEmbed extracts vectors from an OpenAI-compatible embeddings response.
func (o *OpenAICodec) DecodeEmbed(body []byte, model string) (*llm.EmbedResult, error) {
	var resp openAIEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}

	name := resp.Model
	if name == "" {
		name = model
	}
	return &llm.EmbedResult{
		Embeddings:   embeddings,
		Model:        name,
		PromptTokens: resp.Usage.PromptTokens,
	}, nil
}

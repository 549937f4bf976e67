package providers

import (
	"encoding/json"
	"testing"

	"github.com/concordlabs/concord/llm"
)

func TestCodecsRegistered(t *testing.T) {
	for _, name := range []string{"anthropic", "openai"} {
		if llm.GetCodec(name) == nil {
			t.Errorf("codec %q not registered", name)
		}
	}
}

func TestAnthropicEncodeChat(t *testing.T) {
	codec := &AnthropicCodec{}
	body, err := codec.EncodeChat("claude-sonnet", "hello", llm.GenerateOptions{
		SystemPrompt: "be brief",
		MaxTokens:    100,
	})
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}

	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.System != "be brief" {
		t.Errorf("system = %q", req.System)
	}
	if req.MaxTokens != 100 {
		t.Errorf("max_tokens = %d", req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestAnthropicDefaultMaxTokens(t *testing.T) {
	codec := &AnthropicCodec{}
	body, _ := codec.EncodeChat("claude-sonnet", "hi", llm.GenerateOptions{})

	var req anthropicRequest
	_ = json.Unmarshal(body, &req)
	if req.MaxTokens != 4096 {
		t.Errorf("default max_tokens = %d, want 4096", req.MaxTokens)
	}
}

func TestAnthropicDecodeChat(t *testing.T) {
	codec := &AnthropicCodec{}
	body := []byte(`{
		"content": [{"type": "text", "text": "answer"}],
		"model": "claude-sonnet",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)

	result, err := codec.DecodeChat(body, "claude-sonnet")
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	if result.Content != "answer" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", result.Usage.TotalTokens)
	}
}

func TestAnthropicEmbedUnsupported(t *testing.T) {
	codec := &AnthropicCodec{}
	if _, err := codec.EncodeEmbed("claude-sonnet", []string{"x"}); err == nil {
		t.Error("expected embeddings to be unsupported")
	}
}

func TestOpenAIChatURL(t *testing.T) {
	codec := &OpenAICodec{}
	tests := []struct {
		base     string
		expected string
	}{
		{"", "http://localhost:11434/v1/chat/completions"},
		{"http://host/v1", "http://host/v1/chat/completions"},
		{"http://host/v1/", "http://host/v1/chat/completions"},
		{"http://host/v1/chat/completions", "http://host/v1/chat/completions"},
	}

	for _, tt := range tests {
		if got := codec.ChatURL(tt.base); got != tt.expected {
			t.Errorf("ChatURL(%q) = %q, want %q", tt.base, got, tt.expected)
		}
	}
}

func TestOpenAIEncodeChatSystemPrompt(t *testing.T) {
	codec := &OpenAICodec{}
	body, err := codec.EncodeChat("qwen", "hello", llm.GenerateOptions{SystemPrompt: "be brief"})
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}

	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Errorf("roles = %s,%s", req.Messages[0].Role, req.Messages[1].Role)
	}
}

func TestOpenAIDecodeEmbedOrdersByIndex(t *testing.T) {
	codec := &OpenAICodec{}
	body := []byte(`{
		"model": "embed-1",
		"data": [
			{"index": 1, "embedding": [0.3]},
			{"index": 0, "embedding": [0.1]}
		],
		"usage": {"prompt_tokens": 4, "total_tokens": 4}
	}`)

	result, err := codec.DecodeEmbed(body, "embed-1")
	if err != nil {
		t.Fatalf("DecodeEmbed: %v", err)
	}
	if result.Embeddings[0][0] != 0.1 || result.Embeddings[1][0] != 0.3 {
		t.Errorf("embeddings not reordered by index: %v", result.Embeddings)
	}
}

func TestOpenAIDecodeChatNoChoices(t *testing.T) {
	codec := &OpenAICodec{}
	if _, err := codec.DecodeChat([]byte(`{"choices": []}`), "qwen"); err == nil {
		t.Error("expected error for empty choices")
	}
}

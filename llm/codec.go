package llm

import (
	"net/http"
	"sync"
)

// Codec translates between the uniform provider contract and one backend's
// wire format. Codecs are stateless; the HTTP client owns transport concerns.
type Codec interface {
	// Name returns the backend identifier (e.g. "anthropic", "openai").
	Name() string

	// ChatURL constructs the completion endpoint from a base URL.
	ChatURL(baseURL string) string

	// EmbedURL constructs the embedding endpoint from a base URL.
	EmbedURL(baseURL string) string

	// SetHeaders adds backend-specific headers to the request.
	SetHeaders(req *http.Request)

	// EncodeChat builds the completion request body.
	EncodeChat(model, prompt string, opts GenerateOptions) ([]byte, error)

	// DecodeChat extracts a GenerationResult from the response body.
	DecodeChat(body []byte, model string) (*GenerationResult, error)

	// EncodeEmbed builds the embedding request body.
	EncodeEmbed(model string, texts []string) ([]byte, error)

	// DecodeEmbed extracts an EmbedResult from the response body.
	DecodeEmbed(body []byte, model string) (*EmbedResult, error)
}

// codecRegistry holds registered codecs.
var (
	codecRegistry = make(map[string]Codec)
	codecMu       sync.RWMutex
)

// RegisterCodec adds a codec to the registry.
// The providers subpackage registers its codecs via init().
func RegisterCodec(c Codec) {
	codecMu.Lock()
	defer codecMu.Unlock()
	codecRegistry[c.Name()] = c
}

// GetCodec retrieves a codec by name. Returns nil if not registered.
func GetCodec(name string) Codec {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return codecRegistry[name]
}

// ListCodecs returns all registered codec names.
func ListCodecs() []string {
	codecMu.RLock()
	defer codecMu.RUnlock()

	names := make([]string, 0, len(codecRegistry))
	for name := range codecRegistry {
		names = append(names, name)
	}
	return names
}

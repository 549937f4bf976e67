package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// maxResponseSize limits response bodies to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// HTTPClient is a Provider backed by an HTTP inference endpoint.
// One client serves one backend; the wire format comes from its codec.
type HTTPClient struct {
	codec       Codec
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
	breaker     *CircuitBreaker
	logger      *slog.Logger
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(client *HTTPClient) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) HTTPClientOption {
	return func(client *HTTPClient) {
		client.retryConfig = cfg
	}
}

// WithCircuitBreaker sets the circuit breaker guarding the backend.
func WithCircuitBreaker(b *CircuitBreaker) HTTPClientOption {
	return func(client *HTTPClient) {
		client.breaker = b
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPClientOption {
	return func(client *HTTPClient) {
		client.logger = logger
	}
}

// NewHTTPClient creates a Provider for one backend endpoint.
func NewHTTPClient(codec Codec, baseURL string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		codec:       codec,
		baseURL:     baseURL,
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for slow completions
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the backend identifier.
func (c *HTTPClient) Name() string {
	return c.codec.Name()
}

// Generate produces a completion, retrying transient failures with
// exponential backoff and jitter.
func (c *HTTPClient) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (*GenerationResult, error) {
	if model == "" {
		return nil, NewFatalError(fmt.Errorf("model is required"))
	}

	body, err := c.codec.EncodeChat(model, prompt, opts)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode chat request: %w", err))
	}

	start := time.Now()
	respBody, err := c.doWithRetry(ctx, c.codec.ChatURL(c.baseURL), body)
	if err != nil {
		return nil, err
	}

	result, err := c.codec.DecodeChat(respBody, model)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("decode chat response: %w", err))
	}

	result.Provider = c.codec.Name()
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// Embed produces embedding vectors for the texts.
func (c *HTTPClient) Embed(ctx context.Context, model string, texts []string) (*EmbedResult, error) {
	if model == "" {
		return nil, NewFatalError(fmt.Errorf("model is required"))
	}
	if len(texts) == 0 {
		return &EmbedResult{Model: model}, nil
	}

	body, err := c.codec.EncodeEmbed(model, texts)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode embed request: %w", err))
	}

	start := time.Now()
	respBody, err := c.doWithRetry(ctx, c.codec.EmbedURL(c.baseURL), body)
	if err != nil {
		return nil, err
	}

	result, err := c.codec.DecodeEmbed(respBody, model)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("decode embed response: %w", err))
	}

	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// doWithRetry posts the body, retrying transient failures up to MaxAttempts.
func (c *HTTPClient) doWithRetry(ctx context.Context, url string, body []byte) ([]byte, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, errCircuitOpen(c.codec.Name())
	}

	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		respBody, err := c.doRequest(ctx, url, body)
		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			return respBody, nil
		}

		lastErr = err
		if IsFatal(err) {
			// Fatal responses mean the backend answered; the circuit
			// stays closed.
			return nil, err
		}
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Request failed, retrying",
				"url", url,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, NewTransientError(ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return nil, lastErr
}

// calculateBackoff computes exponential backoff with jitter.
// Jitter prevents synchronized retries across concurrent callers.
func (c *HTTPClient) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP POST.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	c.codec.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// classifyHTTPError determines whether an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("inference API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}

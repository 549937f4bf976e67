// Package config provides configuration loading and management for Concord.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete Concord configuration.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Router    RouterConfig    `yaml:"router"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ModelsConfig locates the model catalog and provider endpoints.
type ModelsConfig struct {
	// CatalogPath is the YAML model catalog file.
	CatalogPath string `yaml:"catalog_path"`

	// WatchCatalog reloads the catalog on file changes.
	WatchCatalog bool `yaml:"watch_catalog"`

	// OpenAIEndpoint serves openai-compatible models (default Ollama).
	OpenAIEndpoint string `yaml:"openai_endpoint"`

	// AnthropicEndpoint serves anthropic models.
	AnthropicEndpoint string `yaml:"anthropic_endpoint"`
}

// RouterConfig tunes routing and budget accounting.
type RouterConfig struct {
	// DailyBudgetUSD caps hosted-model spend per day. Zero disables.
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`

	// BudgetWarnRatio of the budget at which a warning event fires.
	BudgetWarnRatio float64 `yaml:"budget_warn_ratio"`

	// DisableSameModelRetry skips the colder same-model retry on a
	// quality failure and falls back immediately.
	DisableSameModelRetry bool `yaml:"disable_same_model_retry"`
}

// PipelineConfig tunes stage execution.
type PipelineConfig struct {
	// StageTimeout bounds one stage handler attempt.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// MaxRetriesPerStage is how many times a failed attempt is retried.
	MaxRetriesPerStage int `yaml:"max_retries_per_stage"`

	// ContextBucket is the JetStream KV bucket for run checkpoints.
	// Empty keeps checkpoints in memory.
	ContextBucket string `yaml:"context_bucket"`
}

// EmbeddingConfig tunes the embedding service.
type EmbeddingConfig struct {
	// Model is the embedding model id.
	Model string `yaml:"model"`

	// CacheCapacity bounds the embedding cache entry count.
	CacheCapacity int `yaml:"cache_capacity"`

	// BatchSize bounds one provider submission.
	BatchSize int `yaml:"batch_size"`
}

// NATSConfig configures the event bridge connection.
type NATSConfig struct {
	// URL is the NATS server URL. Empty disables the bridge.
	URL string `yaml:"url"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set (e.g. ":9090").
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			CatalogPath:    "models.yaml",
			WatchCatalog:   false,
			OpenAIEndpoint: "http://localhost:11434/v1",
		},
		Router: RouterConfig{
			DailyBudgetUSD:  10.0,
			BudgetWarnRatio: 0.8,
		},
		Pipeline: PipelineConfig{
			StageTimeout:       60 * time.Second,
			MaxRetriesPerStage: 2,
		},
		Embedding: EmbeddingConfig{
			Model:         "local-embed",
			CacheCapacity: 10000,
			BatchSize:     64,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Models.CatalogPath == "" {
		return fmt.Errorf("models.catalog_path is required")
	}
	if c.Router.DailyBudgetUSD < 0 {
		return fmt.Errorf("router.daily_budget_usd must not be negative")
	}
	if c.Router.BudgetWarnRatio < 0 || c.Router.BudgetWarnRatio > 1 {
		return fmt.Errorf("router.budget_warn_ratio must be between 0 and 1")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be positive")
	}
	if c.Pipeline.MaxRetriesPerStage < 0 {
		return fmt.Errorf("pipeline.max_retries_per_stage must not be negative")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one; non-zero values in other
// take precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Models.CatalogPath != "" {
		c.Models.CatalogPath = other.Models.CatalogPath
	}
	if other.Models.WatchCatalog {
		c.Models.WatchCatalog = true
	}
	if other.Models.OpenAIEndpoint != "" {
		c.Models.OpenAIEndpoint = other.Models.OpenAIEndpoint
	}
	if other.Models.AnthropicEndpoint != "" {
		c.Models.AnthropicEndpoint = other.Models.AnthropicEndpoint
	}

	if other.Router.DailyBudgetUSD != 0 {
		c.Router.DailyBudgetUSD = other.Router.DailyBudgetUSD
	}
	if other.Router.BudgetWarnRatio != 0 {
		c.Router.BudgetWarnRatio = other.Router.BudgetWarnRatio
	}
	if other.Router.DisableSameModelRetry {
		c.Router.DisableSameModelRetry = true
	}

	if other.Pipeline.StageTimeout != 0 {
		c.Pipeline.StageTimeout = other.Pipeline.StageTimeout
	}
	if other.Pipeline.MaxRetriesPerStage != 0 {
		c.Pipeline.MaxRetriesPerStage = other.Pipeline.MaxRetriesPerStage
	}
	if other.Pipeline.ContextBucket != "" {
		c.Pipeline.ContextBucket = other.Pipeline.ContextBucket
	}

	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.CacheCapacity != 0 {
		c.Embedding.CacheCapacity = other.Embedding.CacheCapacity
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}
}

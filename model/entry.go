// Package model provides the inference model catalog: registration, search,
// best-model selection, fallback chains and health tracking. The router
// consults the registry on every route; health checks and explicit status
// updates are the only writers of entry status.
package model

import "time"

// Tier is the cost/locality class of a model.
type Tier int

const (
	// TierNone means no inference backing (placeholder entries).
	TierNone Tier = 0

	// TierLocal is a local, free model.
	TierLocal Tier = 1

	// TierHosted is a hosted, paid model.
	TierHosted Tier = 2
)

// String returns a short label for the tier.
func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierHosted:
		return "hosted"
	default:
		return "none"
	}
}

// Status is the availability state of a model.
type Status string

const (
	// StatusAvailable means the model is serving normally.
	StatusAvailable Status = "available"

	// StatusDegraded means the model is serving with elevated latency or errors.
	StatusDegraded Status = "degraded"

	// StatusUnavailable means the model is not serving.
	StatusUnavailable Status = "unavailable"
)

// Entry describes one model in the catalog.
type Entry struct {
	// ID uniquely identifies the model within the registry.
	ID string `json:"id" yaml:"id"`

	// Name is the identifier sent to the provider.
	Name string `json:"name" yaml:"name"`

	// Provider is the backend serving the model ("anthropic", "openai").
	Provider string `json:"provider" yaml:"provider"`

	// Tier is the cost/locality class.
	Tier Tier `json:"tier" yaml:"tier"`

	// Capabilities lists what the model can do ("chat", "vision", "embedding").
	Capabilities []string `json:"capabilities" yaml:"capabilities"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window" yaml:"context_window"`

	// TokensPerSecond is observed generation throughput.
	TokensPerSecond float64 `json:"tokens_per_second" yaml:"tokens_per_second"`

	// CostPer1KTokens is the blended price in USD per thousand tokens.
	CostPer1KTokens float64 `json:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`

	// Languages the model is fluent in. Empty means unrestricted.
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`

	// Specializations lists domains the model is tuned for.
	Specializations []string `json:"specializations,omitempty" yaml:"specializations,omitempty"`

	// Status is the current availability state.
	Status Status `json:"status" yaml:"status"`

	// LastHealthCheck is when the status was last verified. Zero if never.
	LastHealthCheck time.Time `json:"last_health_check,omitempty" yaml:"last_health_check,omitempty"`
}

// HasCapability reports whether the entry lists the capability.
func (e *Entry) HasCapability(capability string) bool {
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether the entry serves the language.
// An entry with no language list serves every language.
func (e *Entry) SupportsLanguage(language string) bool {
	if len(e.Languages) == 0 {
		return true
	}
	for _, l := range e.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// clone returns a copy so callers never share registry-owned state.
func (e *Entry) clone() *Entry {
	cp := *e
	cp.Capabilities = append([]string(nil), e.Capabilities...)
	cp.Languages = append([]string(nil), e.Languages...)
	cp.Specializations = append([]string(nil), e.Specializations...)
	return &cp
}

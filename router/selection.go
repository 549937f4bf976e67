package router

import (
	"github.com/concordlabs/concord/model"
	"github.com/concordlabs/concord/quality"
	"github.com/concordlabs/concord/task"
)

// maxFallbacks caps the fallback chain length.
const maxFallbacks = 3

// Selection is the routing decision for one task: which model to try
// first, which to fall back to, and how to judge the output.
type Selection struct {
	// PrimaryModel is the registry id tried first.
	PrimaryModel string `json:"primary_model"`

	// FallbackModels are tried in order after the primary. Never contains
	// the primary, deduplicated, at most three entries.
	FallbackModels []string `json:"fallback_models"`

	// Tier is the highest tier this selection may spend against.
	Tier model.Tier `json:"tier"`

	// MaxRetries bounds total generation attempts across the chain.
	MaxRetries int `json:"max_retries"`

	// Quality configures the gate run on generated content.
	Quality quality.Options `json:"quality"`

	// QualityEnabled turns the gate on for this selection.
	QualityEnabled bool `json:"quality_enabled"`

	// Reasoning explains the decision for audit logs.
	Reasoning string `json:"reasoning"`

	// Classification is the difficulty analysis that drove the decision.
	Classification *task.Classification `json:"classification"`
}

// BaseSelection is the per-difficulty starting point for routing.
type BaseSelection struct {
	// PreferredModel is the registry id to use when available.
	PreferredModel string `json:"preferred_model" yaml:"preferred_model"`

	// Fallbacks are preferred alternates, in order.
	Fallbacks []string `json:"fallbacks" yaml:"fallbacks"`

	// Tier is the ceiling for this difficulty.
	Tier model.Tier `json:"tier" yaml:"tier"`

	// MaxRetries bounds attempts for this difficulty.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Quality configures the gate for this difficulty.
	Quality quality.Options `json:"quality" yaml:"quality"`

	// QualityEnabled turns the gate on.
	QualityEnabled bool `json:"quality_enabled" yaml:"quality_enabled"`
}

// DefaultSelections maps each difficulty to its base selection. Trivial
// and simple work stays local and ungated; moderate work is gated but
// local; complex and critical work may spend against hosted models and
// escalates on quality failure.
func DefaultSelections() map[task.Difficulty]BaseSelection {
	return map[task.Difficulty]BaseSelection{
		task.DifficultyTrivial: {
			PreferredModel: "local-chat",
			Tier:           model.TierLocal,
			MaxRetries:     2,
		},
		task.DifficultySimple: {
			PreferredModel: "local-chat",
			Tier:           model.TierLocal,
			MaxRetries:     2,
		},
		task.DifficultyModerate: {
			PreferredModel: "local-chat",
			Tier:           model.TierLocal,
			MaxRetries:     3,
			QualityEnabled: true,
			Quality: quality.Options{
				MinConfidence: 60,
			},
		},
		task.DifficultyComplex: {
			PreferredModel: "hosted-sonnet",
			Fallbacks:      []string{"hosted-haiku", "local-chat"},
			Tier:           model.TierHosted,
			MaxRetries:     3,
			QualityEnabled: true,
			Quality: quality.Options{
				MinConfidence:     70,
				EscalateOnFailure: true,
			},
		},
		task.DifficultyCritical: {
			PreferredModel: "hosted-sonnet",
			Fallbacks:      []string{"hosted-haiku"},
			Tier:           model.TierHosted,
			MaxRetries:     4,
			QualityEnabled: true,
			Quality: quality.Options{
				MinConfidence:     75,
				EscalateOnFailure: true,
				RequiresReview:    true,
				Validators:        []string{quality.ValidatorCompleteness, quality.ValidatorCoherence},
			},
		},
	}
}

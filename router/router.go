// Package router decides which inference model handles each task and
// drives execution through a fallback chain under a daily cost budget.
// Routing is classify → select → execute → quality-check → fallback;
// the first passing result wins.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/concordlabs/concord/events"
	"github.com/concordlabs/concord/llm"
	"github.com/concordlabs/concord/model"
	"github.com/concordlabs/concord/quality"
	"github.com/concordlabs/concord/task"
)

// Config tunes router behavior.
type Config struct {
	// DailyBudgetUSD caps hosted-model spend per UTC day. Zero disables
	// budget enforcement.
	DailyBudgetUSD float64 `json:"daily_budget_usd" yaml:"daily_budget_usd"`

	// BudgetWarnRatio of the daily budget at which a warning event fires.
	BudgetWarnRatio float64 `json:"budget_warn_ratio" yaml:"budget_warn_ratio"`

	// RetrySameModel retries a quality failure once on the same model with
	// reduced temperature before moving to the next candidate.
	RetrySameModel bool `json:"retry_same_model" yaml:"retry_same_model"`

	// Selections overrides the per-difficulty base selections.
	Selections map[task.Difficulty]BaseSelection `json:"-" yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DailyBudgetUSD:  10.0,
		BudgetWarnRatio: 0.8,
		RetrySameModel:  true,
		Selections:      DefaultSelections(),
	}
}

// Router selects models and executes tasks against them.
type Router struct {
	registry  *model.Registry
	gate      *quality.Gate
	providers map[string]llm.Provider
	config    Config
	bus       *events.Bus
	logger    *slog.Logger

	// mu guards stats and budget. Fallback attempts are sequential, so
	// accounting within one execute call is already ordered; the lock
	// covers concurrent execute calls.
	mu    sync.Mutex
	stats statsState
}

// Option configures a Router.
type Option func(*Router)

// WithProvider registers the provider serving entries with the given
// provider name.
func WithProvider(name string, p llm.Provider) Option {
	return func(r *Router) {
		r.providers[name] = p
	}
}

// WithQualityGate sets the quality gate.
func WithQualityGate(g *quality.Gate) Option {
	return func(r *Router) {
		r.gate = g
	}
}

// WithBus sets the event bus.
func WithBus(bus *events.Bus) Option {
	return func(r *Router) {
		r.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// New creates a router over the registry.
func New(registry *model.Registry, config Config, opts ...Option) *Router {
	if config.Selections == nil {
		config.Selections = DefaultSelections()
	}
	if config.BudgetWarnRatio <= 0 {
		config.BudgetWarnRatio = 0.8
	}

	r := &Router{
		registry:  registry,
		providers: make(map[string]llm.Provider),
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.gate == nil {
		r.gate = quality.NewGate(quality.WithLogger(r.logger))
	}
	return r
}

// Route classifies the task and produces a model selection. Route never
// fails: when nothing suitable is registered it still names the
// preferred model optimistically so execution can surface the real error.
func (r *Router) Route(t *task.Task) *Selection {
	classification := task.Classify(t)

	base, ok := r.config.Selections[classification.Difficulty]
	if !ok {
		base = r.config.Selections[task.DifficultyModerate]
	}

	filter := model.Filter{
		Capabilities: t.RequiredCapabilities,
		Language:     t.Language,
	}
	candidates := r.registry.FindModels(filter)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CostPer1KTokens != candidates[j].CostPer1KTokens {
			return candidates[i].CostPer1KTokens < candidates[j].CostPer1KTokens
		}
		return candidates[i].TokensPerSecond > candidates[j].TokensPerSecond
	})

	primary, reasoning := choosePrimary(base, candidates)
	fallbacks := buildFallbacks(primary, base.Fallbacks, candidates)

	tier := model.TierLocal
	if classification.RequiresTier2 {
		tier = model.TierHosted
	}

	selection := &Selection{
		PrimaryModel:   primary,
		FallbackModels: fallbacks,
		Tier:           tier,
		MaxRetries:     base.MaxRetries,
		Quality:        base.Quality,
		QualityEnabled: base.QualityEnabled,
		Reasoning:      fmt.Sprintf("%s difficulty: %s", classification.Difficulty, reasoning),
		Classification: &classification,
	}

	// Budget exhaustion forces the run back to free local models. The
	// route still succeeds; only the tier choice changes.
	if tier == model.TierHosted && r.budgetExhausted() {
		r.reselectLocal(selection, candidates)
	}

	r.publish(events.RouterModelSelected, map[string]any{
		"task":       string(t.Type),
		"difficulty": classification.Difficulty.String(),
		"primary":    selection.PrimaryModel,
		"fallbacks":  strings.Join(selection.FallbackModels, ","),
		"tier":       int(selection.Tier),
	})

	return selection
}

// choosePrimary picks the primary model id from cost-sorted candidates.
func choosePrimary(base BaseSelection, candidates []*model.Entry) (string, string) {
	for _, c := range candidates {
		if c.ID == base.PreferredModel {
			return c.ID, "preferred model available"
		}
	}

	// Preferred unavailable: cheapest candidate at or below the base tier.
	for _, c := range candidates {
		if base.Tier == 0 || c.Tier <= base.Tier {
			return c.ID, fmt.Sprintf("preferred %s unavailable, using cheapest in-tier candidate", base.PreferredModel)
		}
	}

	if len(candidates) > 0 {
		return candidates[0].ID, fmt.Sprintf("preferred %s unavailable, using cheapest available model", base.PreferredModel)
	}

	// Nothing registered matches. Name the preferred model anyway and let
	// execution report the failure.
	return base.PreferredModel, "no matching models registered, selecting preferred optimistically"
}

// buildFallbacks merges configured fallbacks with remaining candidates:
// configured first, then others by ascending cost, deduplicated, primary
// excluded, capped.
func buildFallbacks(primary string, configured []string, candidates []*model.Entry) []string {
	available := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		available[c.ID] = true
	}

	seen := map[string]bool{primary: true}
	var out []string

	add := func(id string) {
		if len(out) >= maxFallbacks || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, id := range configured {
		if available[id] {
			add(id)
		}
	}
	for _, c := range candidates {
		add(c.ID)
	}
	return out
}

// reselectLocal rewrites a hosted-tier selection to tier-1-only after
// budget exhaustion.
func (r *Router) reselectLocal(selection *Selection, candidates []*model.Entry) {
	var local []*model.Entry
	for _, c := range candidates {
		if c.Tier == model.TierLocal {
			local = append(local, c)
		}
	}

	primary := selection.PrimaryModel
	if len(local) > 0 {
		primary = local[0].ID
	}

	selection.PrimaryModel = primary
	selection.FallbackModels = buildFallbacks(primary, nil, local)
	selection.Tier = model.TierLocal
	selection.Reasoning += "; daily budget exhausted, forced tier-1 reselection"

	r.logger.Warn("Daily budget exhausted, routing to local tier",
		"primary", primary,
		"budget_usd", r.config.DailyBudgetUSD)
	r.publish(events.RouterBudgetExceeded, map[string]any{
		"budget_usd": r.config.DailyBudgetUSD,
		"spent_usd":  r.budgetSpent(),
	})
}

func (r *Router) publish(eventType events.EventType, data map[string]any) {
	if r.bus != nil {
		r.bus.Publish(eventType, data)
	}
}

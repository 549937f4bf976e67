package router

import (
	"time"

	"github.com/concordlabs/concord/events"
	"github.com/concordlabs/concord/model"
)

// ModelStats accumulates per-model execution counters.
type ModelStats struct {
	Requests  int64   `json:"requests"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`
	Tokens    int64   `json:"tokens"`
	CostUSD   float64 `json:"cost_usd"`
	LatencyMs int64   `json:"latency_ms"`
}

// Stats is an idempotent snapshot of router accounting.
type Stats struct {
	TotalRequests    int64                     `json:"total_requests"`
	TotalSuccesses   int64                     `json:"total_successes"`
	TotalFailures    int64                     `json:"total_failures"`
	TotalTokens      int64                     `json:"total_tokens"`
	TotalCostUSD     float64                   `json:"total_cost_usd"`
	AvgLatencyMs     int64                     `json:"avg_latency_ms"`
	PerModel         map[string]ModelStats     `json:"per_model"`
	PerTier          map[model.Tier]ModelStats `json:"per_tier"`
	BudgetSpentToday float64                   `json:"budget_spent_today"`
	DailyBudgetUSD   float64                   `json:"daily_budget_usd"`
}

// statsState is the router's internal mutable accounting, guarded by
// Router.mu.
type statsState struct {
	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalTokens    int64
	totalCostUSD   float64
	totalLatencyMs int64

	perModel map[string]ModelStats
	perTier  map[model.Tier]ModelStats

	budgetDay        string
	budgetSpentToday float64
	warned           bool
}

// GetStats returns a snapshot. Repeated calls without intervening
// executions return identical values.
func (r *Router) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollBudgetDayLocked()

	snapshot := Stats{
		TotalRequests:    r.stats.totalRequests,
		TotalSuccesses:   r.stats.totalSuccesses,
		TotalFailures:    r.stats.totalFailures,
		TotalTokens:      r.stats.totalTokens,
		TotalCostUSD:     r.stats.totalCostUSD,
		PerModel:         make(map[string]ModelStats, len(r.stats.perModel)),
		PerTier:          make(map[model.Tier]ModelStats, len(r.stats.perTier)),
		BudgetSpentToday: r.stats.budgetSpentToday,
		DailyBudgetUSD:   r.config.DailyBudgetUSD,
	}
	if r.stats.totalRequests > 0 {
		snapshot.AvgLatencyMs = r.stats.totalLatencyMs / r.stats.totalRequests
	}
	for id, s := range r.stats.perModel {
		snapshot.PerModel[id] = s
	}
	for tier, s := range r.stats.perTier {
		snapshot.PerTier[tier] = s
	}
	return snapshot
}

// recordAttempt folds one generation attempt into the counters.
func (r *Router) recordAttempt(modelID string, tier model.Tier, success bool, tokens int64, costUSD float64, latencyMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollBudgetDayLocked()

	if r.stats.perModel == nil {
		r.stats.perModel = make(map[string]ModelStats)
		r.stats.perTier = make(map[model.Tier]ModelStats)
	}

	r.stats.totalRequests++
	r.stats.totalTokens += tokens
	r.stats.totalCostUSD += costUSD
	r.stats.totalLatencyMs += latencyMs
	if success {
		r.stats.totalSuccesses++
	} else {
		r.stats.totalFailures++
	}

	ms := r.stats.perModel[modelID]
	ms.Requests++
	ms.Tokens += tokens
	ms.CostUSD += costUSD
	ms.LatencyMs += latencyMs
	if success {
		ms.Successes++
	} else {
		ms.Failures++
	}
	r.stats.perModel[modelID] = ms

	ts := r.stats.perTier[tier]
	ts.Requests++
	ts.Tokens += tokens
	ts.CostUSD += costUSD
	ts.LatencyMs += latencyMs
	if success {
		ts.Successes++
	} else {
		ts.Failures++
	}
	r.stats.perTier[tier] = ts

	r.stats.budgetSpentToday += costUSD

	if r.config.DailyBudgetUSD <= 0 {
		return
	}
	warnAt := r.config.DailyBudgetUSD * r.config.BudgetWarnRatio
	if !r.stats.warned && r.stats.budgetSpentToday >= warnAt && r.stats.budgetSpentToday < r.config.DailyBudgetUSD {
		r.stats.warned = true
		r.publish(events.RouterBudgetWarning, map[string]any{
			"spent_usd":  r.stats.budgetSpentToday,
			"budget_usd": r.config.DailyBudgetUSD,
		})
	}
}

// budgetExhausted reports whether today's spend has reached the cap.
func (r *Router) budgetExhausted() bool {
	if r.config.DailyBudgetUSD <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rollBudgetDayLocked()
	return r.stats.budgetSpentToday >= r.config.DailyBudgetUSD
}

func (r *Router) budgetSpent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.budgetSpentToday
}

// rollBudgetDayLocked resets the daily counter when the UTC day changes.
func (r *Router) rollBudgetDayLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if r.stats.budgetDay != today {
		r.stats.budgetDay = today
		r.stats.budgetSpentToday = 0
		r.stats.warned = false
	}
}

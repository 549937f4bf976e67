package model

import (
	"context"
	"time"

	"github.com/concordlabs/concord/events"
)

// HealthChecker probes a model's backend. Implementations are pluggable:
// the live checker issues a tiny generation, test checkers script outcomes.
type HealthChecker interface {
	// Check probes the model and reports observed status.
	Check(ctx context.Context, entry *Entry) CheckResult
}

// CheckResult is the outcome of one health probe.
type CheckResult struct {
	// Status is the observed availability.
	Status Status `json:"status"`

	// LatencyMs is the probe round-trip time.
	LatencyMs int64 `json:"latency_ms"`

	// TokensPerSecond is observed throughput, when the probe measured it.
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`

	// Error describes the failure for non-available statuses.
	Error string `json:"error,omitempty"`
}

// HealthCheckerFunc adapts a function to the HealthChecker interface.
type HealthCheckerFunc func(ctx context.Context, entry *Entry) CheckResult

// Check calls the function.
func (f HealthCheckerFunc) Check(ctx context.Context, entry *Entry) CheckResult {
	return f(ctx, entry)
}

// CheckHealth probes one model and persists the observed status, latency
// and throughput. Unknown ids report unavailable rather than failing; a
// status regression raises a health degraded event.
func (r *Registry) CheckHealth(ctx context.Context, id string) CheckResult {
	entry := r.Get(id)
	if entry == nil {
		return CheckResult{Status: StatusUnavailable, Error: "not found"}
	}

	if r.checker == nil {
		// No checker configured: trust the recorded status.
		return CheckResult{Status: entry.Status}
	}

	result := r.checker.Check(ctx, entry)

	r.mu.Lock()
	stored, ok := r.entries[id]
	var previous Status
	if ok {
		previous = stored.Status
		stored.Status = result.Status
		stored.LastHealthCheck = time.Now().UTC()
		if result.TokensPerSecond > 0 {
			stored.TokensPerSecond = result.TokensPerSecond
		}
	}
	r.mu.Unlock()

	if !ok {
		// Unregistered between Get and store; report what we saw.
		return result
	}

	r.publish(events.RegistryHealthChecked, map[string]any{
		"model": id, "status": string(result.Status), "latency_ms": result.LatencyMs,
	})

	if regressed(previous, result.Status) {
		r.logger.Warn("Model health regressed",
			"model", id,
			"from", previous,
			"to", result.Status,
			"error", result.Error)
		r.publish(events.RegistryHealthDegraded, map[string]any{
			"model": id, "from": string(previous), "to": string(result.Status), "error": result.Error,
		})
	}
	if previous != result.Status {
		r.publish(events.RegistryStatusChanged, map[string]any{
			"model": id, "from": string(previous), "to": string(result.Status),
		})
	}

	return result
}

// regressed reports whether the status transition is a downgrade.
func regressed(from, to Status) bool {
	rank := map[Status]int{StatusAvailable: 2, StatusDegraded: 1, StatusUnavailable: 0}
	return rank[to] < rank[from]
}

// StartSweep runs CheckHealth for every registered model on the interval
// until the context is cancelled. Off unless explicitly started.
func (r *Registry) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, entry := range r.List() {
					r.CheckHealth(ctx, entry.ID)
				}
			}
		}
	}()
}

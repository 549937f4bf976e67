// Package metrics exposes prometheus collectors for router and pipeline
// activity, fed from the event bus so instrumented components stay
// unaware of prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/concordlabs/concord/events"
)

// Metrics holds the collector set on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	generations   *prometheus.CounterVec
	qualityChecks *prometheus.CounterVec
	fallbacks     prometheus.Counter
	stageDuration *prometheus.HistogramVec
	budgetSpent   prometheus.Gauge
	activeRuns    prometheus.Gauge

	// stageStarts tracks stage_entered timestamps per run+stage so the
	// completion event can observe a duration.
	mu          sync.Mutex
	stageStarts map[string]time.Time
}

// New creates and registers the collector set.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "router_generations_total",
			Help:      "Generation attempts by model and outcome.",
		}, []string{"model", "outcome"}),
		qualityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "router_quality_checks_total",
			Help:      "Quality gate runs by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "concord",
			Name:      "router_fallbacks_total",
			Help:      "Model fallback transitions.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concord",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		budgetSpent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "concord",
			Name:      "router_budget_spent_usd",
			Help:      "Hosted-model spend today in USD.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "concord",
			Name:      "pipeline_active_runs",
			Help:      "Pipeline runs currently resident in the engine.",
		}),
		stageStarts: make(map[string]time.Time),
	}

	m.registry.MustRegister(
		m.generations,
		m.qualityChecks,
		m.fallbacks,
		m.stageDuration,
		m.budgetSpent,
		m.activeRuns,
	)
	return m
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe subscribes to the bus and folds events into collectors.
// Returns the unsubscribe function.
func (m *Metrics) Observe(bus *events.Bus) func() {
	return bus.SubscribeAll(m.handle)
}

func (m *Metrics) handle(e events.Event) {
	switch e.Type {
	case events.RouterGenerationCompleted:
		m.generations.WithLabelValues(str(e.Data["model"]), "success").Inc()
	case events.RouterGenerationFailed:
		m.generations.WithLabelValues(str(e.Data["model"]), "failure").Inc()
	case events.RouterQualityChecked:
		outcome := "failed"
		if passed, _ := e.Data["passed"].(bool); passed {
			outcome = "passed"
		}
		m.qualityChecks.WithLabelValues(outcome).Inc()
	case events.RouterModelFallback:
		m.fallbacks.Inc()
	case events.RouterBudgetWarning, events.RouterBudgetExceeded:
		if spent, ok := e.Data["spent_usd"].(float64); ok {
			m.budgetSpent.Set(spent)
		}

	case events.PipelineStarted:
		m.activeRuns.Inc()
	case events.PipelineCompleted, events.PipelineError:
		m.activeRuns.Dec()
	case events.PipelineStageEntered:
		m.mu.Lock()
		m.stageStarts[stageKey(e)] = e.Timestamp
		m.mu.Unlock()
	case events.PipelineStageCompleted:
		key := stageKey(e)
		m.mu.Lock()
		started, ok := m.stageStarts[key]
		delete(m.stageStarts, key)
		m.mu.Unlock()
		if ok {
			m.stageDuration.WithLabelValues(str(e.Data["stage"])).
				Observe(e.Timestamp.Sub(started).Seconds())
		}
	}
}

func stageKey(e events.Event) string {
	return str(e.Data["run"]) + "/" + str(e.Data["stage"])
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/concordlabs/concord/events"
)

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if check() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestObserveGenerations(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()

	m := New()
	defer m.Observe(bus)()

	bus.Publish(events.RouterGenerationCompleted, map[string]any{"model": "local-chat"})
	bus.Publish(events.RouterGenerationFailed, map[string]any{"model": "local-chat"})
	bus.Publish(events.RouterGenerationCompleted, map[string]any{"model": "local-chat"})

	waitFor(t, func() bool {
		return testutil.ToFloat64(m.generations.WithLabelValues("local-chat", "success")) == 2 &&
			testutil.ToFloat64(m.generations.WithLabelValues("local-chat", "failure")) == 1
	})
}

func TestObserveActiveRuns(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()

	m := New()
	defer m.Observe(bus)()

	bus.Publish(events.PipelineStarted, map[string]any{"run": "r1"})
	bus.Publish(events.PipelineStarted, map[string]any{"run": "r2"})
	bus.Publish(events.PipelineCompleted, map[string]any{"run": "r1"})

	waitFor(t, func() bool {
		return testutil.ToFloat64(m.activeRuns) == 1
	})
}

func TestObserveBudgetGauge(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()

	m := New()
	defer m.Observe(bus)()

	bus.Publish(events.RouterBudgetWarning, map[string]any{"spent_usd": 8.5, "budget_usd": 10.0})

	waitFor(t, func() bool {
		return testutil.ToFloat64(m.budgetSpent) == 8.5
	})
}

func TestObserveStageDurations(t *testing.T) {
	bus := events.NewBus(10)
	defer bus.Close()

	m := New()
	defer m.Observe(bus)()

	bus.Publish(events.PipelineStageEntered, map[string]any{"run": "r1", "stage": "signal_intake"})
	bus.Publish(events.PipelineStageCompleted, map[string]any{"run": "r1", "stage": "signal_intake"})

	waitFor(t, func() bool {
		count, err := testutil.GatherAndCount(m.registry, "concord_pipeline_stage_duration_seconds")
		return err == nil && count == 1
	})
}

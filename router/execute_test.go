package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/concordlabs/concord/llm/llmtest"
	"github.com/concordlabs/concord/task"
)

const passingContent = "# Assessment\n\nThe proposal is sound and the risk profile acceptable.\n\n- liquidity unaffected\n- exposure unchanged\n"

func TestExecutePrimarySuccess(t *testing.T) {
	stub := llmtest.NewStubProvider().Respond("local-chat", "hello back")
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), chatterTask("hi"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "hello back" {
		t.Errorf("content = %q", result.Content)
	}
	if len(result.ModelsTried) != 1 || result.ModelsTried[0] != "local-chat" {
		t.Errorf("models tried = %v", result.ModelsTried)
	}
	if result.Escalated {
		t.Error("unescalated run marked escalated")
	}
}

func TestExecuteFallsBackOnProviderError(t *testing.T) {
	stub := llmtest.NewStubProvider().
		Fail("hosted-sonnet", errors.New("connection refused")).
		Respond("hosted-haiku", passingContent)
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Model != "hosted-haiku" {
		t.Errorf("model = %s, want fallback hosted-haiku", result.Model)
	}
	if len(result.ModelsTried) != 2 {
		t.Errorf("models tried = %v, want 2", result.ModelsTried)
	}
}

func TestExecuteQualityEscalation(t *testing.T) {
	// Sonnet produces junk twice (initial plus the colder retry), haiku
	// produces a passing document.
	stub := llmtest.NewStubProvider().
		Respond("hosted-sonnet", "...").
		Respond("hosted-sonnet", "...").
		Respond("hosted-haiku", passingContent)
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Model != "hosted-haiku" {
		t.Errorf("model = %s, want hosted-haiku after escalation", result.Model)
	}
	if !result.Escalated {
		t.Error("escalated flag not set")
	}
	if stub.GenerateCalls("hosted-sonnet") != 2 {
		t.Errorf("sonnet calls = %d, want 2 (initial + colder retry)", stub.GenerateCalls("hosted-sonnet"))
	}
}

func TestExecuteSameModelRetryRecovers(t *testing.T) {
	// First sample fails the gate, the colder retry passes: no fallback.
	stub := llmtest.NewStubProvider().
		Respond("hosted-sonnet", "...").
		Respond("hosted-sonnet", passingContent)
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Model != "hosted-sonnet" {
		t.Errorf("model = %s, want hosted-sonnet", result.Model)
	}
	if stub.GenerateCalls("hosted-haiku") != 0 {
		t.Error("fallback model called despite same-model recovery")
	}
}

func TestExecuteNoRetrySameModelDisabled(t *testing.T) {
	config := DefaultConfig()
	config.RetrySameModel = false

	stub := llmtest.NewStubProvider().
		Respond("hosted-sonnet", "the recommendation is...").
		Respond("hosted-haiku", passingContent)
	r := New(newTestRegistry(), config, WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Model != "hosted-haiku" {
		t.Errorf("model = %s", result.Model)
	}
	if stub.GenerateCalls("hosted-sonnet") != 1 {
		t.Errorf("sonnet calls = %d, want 1", stub.GenerateCalls("hosted-sonnet"))
	}
}

func TestExecuteExhaustionAggregateError(t *testing.T) {
	providerErr := errors.New("backend down")
	stub := llmtest.NewStubProvider()
	for _, m := range []string{"hosted-sonnet", "hosted-haiku", "local-chat"} {
		for i := 0; i < 5; i++ {
			stub.Fail(m, providerErr)
		}
	}
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	_, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err == nil {
		t.Fatal("expected aggregate error")
	}
	if !strings.Contains(err.Error(), "hosted-sonnet") {
		t.Errorf("error does not name tried models: %v", err)
	}
	if !errors.Is(err, providerErr) {
		t.Errorf("error does not wrap the last failure: %v", err)
	}
}

func TestExecuteAcceptsWithReviewWithoutEscalation(t *testing.T) {
	config := DefaultConfig()
	selections := DefaultSelections()
	critical := selections[task.DifficultyCritical]
	critical.Quality.EscalateOnFailure = false
	selections[task.DifficultyCritical] = critical
	config.Selections = selections

	stub := llmtest.NewStubProvider().Respond("hosted-sonnet", "the recommendation is...")
	r := New(newTestRegistry(), config, WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.QualityCheck == nil {
		t.Fatal("no quality check attached")
	}
	if result.QualityCheck.Passed {
		t.Error("truncated content should not pass the critical gate")
	}
	if !result.QualityCheck.RequiresReview {
		t.Error("accepted-with-failure content not flagged for review")
	}
}

func TestExecuteStatsAccumulate(t *testing.T) {
	stub := llmtest.NewStubProvider().Respond("local-chat", "fine")
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	if _, err := r.Execute(context.Background(), chatterTask("hi")); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stats := r.GetStats()
	if stats.TotalRequests != 1 || stats.TotalSuccesses != 1 {
		t.Errorf("requests/successes = %d/%d", stats.TotalRequests, stats.TotalSuccesses)
	}
	if stats.PerModel["local-chat"].Requests != 1 {
		t.Errorf("per-model requests = %d", stats.PerModel["local-chat"].Requests)
	}
	if stats.TotalTokens == 0 {
		t.Error("token accounting missing")
	}
}

func TestExecuteCostAccounting(t *testing.T) {
	stub := llmtest.NewStubProvider().Respond("hosted-sonnet", passingContent)
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	result, err := r.Execute(context.Background(), criticalTask("decide the treasury allocation policy"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.CostUSD <= 0 {
		t.Error("hosted generation has zero cost")
	}

	stats := r.GetStats()
	if stats.BudgetSpentToday != result.CostUSD {
		t.Errorf("budget spent = %v, want %v", stats.BudgetSpentToday, result.CostUSD)
	}
}

func TestExecuteTaskFacade(t *testing.T) {
	stub := llmtest.NewStubProvider().Respond("local-chat", "summarized")
	r := New(newTestRegistry(), DefaultConfig(), WithProvider("stub", stub))

	content, err := r.ExecuteTask(context.Background(), TaskParams{
		Type:   task.TypeChatter,
		Prompt: "summarize this",
	})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if content != "summarized" {
		t.Errorf("content = %q", content)
	}
}

func TestExecuteUnknownProvider(t *testing.T) {
	// Registry entries name a provider the router has no client for.
	r := New(newTestRegistry(), DefaultConfig())

	_, err := r.Execute(context.Background(), chatterTask("hi"))
	if err == nil {
		t.Fatal("expected error with no providers wired")
	}
	if !strings.Contains(err.Error(), "no provider configured") {
		t.Errorf("error = %v", err)
	}
}

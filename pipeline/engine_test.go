package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordlabs/concord/events"
	"github.com/concordlabs/concord/govern"
	"github.com/concordlabs/concord/pipeline"
	"github.com/concordlabs/concord/router"
)

// stubExecutor satisfies the router facade with canned decision-record
// content so pipeline tests need no inference backend.
type stubExecutor struct{}

func (stubExecutor) ExecuteTask(_ context.Context, _ router.TaskParams) (string, error) {
	return "## Issue\nFunding gap.\n## Options\nA or B.\n## Recommendation\nB.\n## Risk\nLow.", nil
}

type failingExecutor struct{}

func (failingExecutor) ExecuteTask(_ context.Context, _ router.TaskParams) (string, error) {
	return "", errors.New("inference backend down")
}

type testWorld struct {
	services  pipeline.Services
	safety    *govern.SafeAutonomy
	dualHouse *govern.DualHouse
	documents *govern.DocumentRegistry
}

func newTestWorld() *testWorld {
	documents := govern.NewDocumentRegistry()
	safety := govern.NewSafeAutonomy()
	dualHouse := govern.NewDualHouse()

	return &testWorld{
		services: pipeline.Services{
			SafeAutonomy: safety,
			Orchestrator: govern.NewOrchestrator(documents),
			Documents:    documents,
			DualHouse:    dualHouse,
			Router:       stubExecutor{},
		},
		safety:    safety,
		dualHouse: dualHouse,
		documents: documents,
	}
}

func fastConfig() pipeline.Config {
	return pipeline.Config{
		StageTimeout:       2 * time.Second,
		MaxRetriesPerStage: 2,
		BackoffBase:        time.Millisecond,
		MaxBackoff:         10 * time.Millisecond,
	}
}

func TestRunLowRiskCompletes(t *testing.T) {
	world := newTestWorld()
	engine := pipeline.NewEngine(world.services, fastConfig())

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		Signals: []pipeline.Signal{
			{ID: "s1", Source: "forum", Content: "documentation is outdated"},
		},
		WorkflowType: pipeline.WorkflowTypeA,
		RiskLevel:    pipeline.RiskLow,
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	assert.True(t, result.Success)
	assert.Equal(t, pipeline.StageOrder, result.Context.CompletedStages)
	assert.False(t, result.Context.Blocked, "low risk must never lock")
	assert.Empty(t, result.Context.VotingID, "low risk opens no voting")
	assert.NotNil(t, result.Context.CompletedAt)
	require.NotNil(t, result.Context.Verification)
	assert.True(t, result.Context.Verification.Success)
	assert.True(t, result.Context.Verification.WorkflowVerified)
	assert.NotEmpty(t, result.Documents)
	for _, doc := range result.Documents {
		assert.True(t, doc.Published, "document %s not published", doc.ID)
	}
	assert.Empty(t, engine.ActiveRuns(), "completed run still resident")
}

func TestRunSynthesizesIssueFromSignals(t *testing.T) {
	world := newTestWorld()
	engine := pipeline.NewEngine(world.services, fastConfig())

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		Signals:   []pipeline.Signal{{ID: "s1", Source: "forum", Content: "fees spiked"}},
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Context.IssueID)
	require.NotNil(t, result.Context.Issue)
	assert.True(t, result.Context.Issue.Synthesized)
}

func TestRunMidRiskOpensVoting(t *testing.T) {
	world := newTestWorld()
	engine := pipeline.NewEngine(world.services, fastConfig())

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:      "issue-7",
		WorkflowType: pipeline.WorkflowTypeB,
		RiskLevel:    pipeline.RiskMid,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Context.VotingID)
	require.NotNil(t, result.VotingResult)
	assert.Equal(t, pipeline.VotingOpen, result.VotingResult.Status)
	// The open session does not hold the run; it rides along in the
	// result for callers to track.
	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	assert.True(t, result.Success)
	assert.Equal(t, pipeline.StageOrder, result.Context.CompletedStages)
	assert.Empty(t, result.Context.LockedActionID, "mid risk needs no locked action")
}

func TestRunHighRiskLocksUntilApproved(t *testing.T) {
	world := newTestWorld()
	store := pipeline.NewMemoryStore()
	engine := pipeline.NewEngine(world.services, fastConfig(), pipeline.WithStore(store))

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:      "issue-9",
		WorkflowType: pipeline.WorkflowTypeC,
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusLocked, result.Status)
	assert.False(t, result.Success)
	assert.True(t, result.Context.Blocked)
	assert.Equal(t, pipeline.RiskHigh, result.Context.RiskLevel)
	assert.NotEmpty(t, result.Context.LockedActionID)
	assert.NotEmpty(t, result.Context.ApprovalID)
	require.NotNil(t, result.ApprovalStatus)
	assert.False(t, result.ApprovalStatus.Approved)

	// The run halted before verification.
	assert.NotContains(t, result.Context.CompletedStages, pipeline.StageOutcomeVerification)
	// Documents are held back until approval.
	for _, id := range result.Context.Documents {
		doc, err := world.documents.GetDocument(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, doc.Published, "document published before approval")
	}
}

func TestResumeAfterApprovalCompletes(t *testing.T) {
	world := newTestWorld()
	engine := pipeline.NewEngine(world.services, fastConfig())

	ctx := context.Background()
	locked, err := engine.Run(ctx, pipeline.Trigger{
		IssueID:      "issue-10",
		WorkflowType: pipeline.WorkflowTypeC,
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusLocked, locked.Status)

	// Human approves the action and the houses conclude the vote.
	require.NoError(t, world.safety.Approve(locked.Context.LockedActionID, "operator"))
	require.NoError(t, world.dualHouse.CastVote(locked.Context.VotingID, true))
	require.NoError(t, world.dualHouse.CloseVoting(locked.Context.VotingID))

	resumed, err := engine.Resume(ctx, locked.Context.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed)

	assert.Equal(t, pipeline.StatusCompleted, resumed.Status)
	assert.True(t, resumed.Success)
	assert.Equal(t, pipeline.StageOrder, resumed.Context.CompletedStages)
	require.NotNil(t, resumed.ApprovalStatus)
	assert.True(t, resumed.ApprovalStatus.Approved)
	assert.Equal(t, "operator", resumed.ApprovalStatus.By)
	for _, doc := range resumed.Documents {
		assert.True(t, doc.Published)
	}
}

func TestResumeUnknownRunIsNoOp(t *testing.T) {
	world := newTestWorld()
	engine := pipeline.NewEngine(world.services, fastConfig())

	result, err := engine.Resume(context.Background(), "never-existed")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestResumeFromStoreSurvivesRestart(t *testing.T) {
	world := newTestWorld()
	store := pipeline.NewMemoryStore()
	ctx := context.Background()

	first := pipeline.NewEngine(world.services, fastConfig(), pipeline.WithStore(store))
	locked, err := first.Run(ctx, pipeline.Trigger{
		IssueID:      "issue-11",
		WorkflowType: pipeline.WorkflowTypeC,
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusLocked, locked.Status)

	require.NoError(t, world.safety.Approve(locked.Context.LockedActionID, "operator"))
	require.NoError(t, world.dualHouse.CastVote(locked.Context.VotingID, true))
	require.NoError(t, world.dualHouse.CloseVoting(locked.Context.VotingID))

	// A fresh engine sharing only the store resumes the run.
	second := pipeline.NewEngine(world.services, fastConfig(), pipeline.WithStore(store))
	resumed, err := second.Resume(ctx, locked.Context.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, pipeline.StatusCompleted, resumed.Status)
}

func TestStageRetrySucceedsAfterTransientFailures(t *testing.T) {
	world := newTestWorld()

	var mu sync.Mutex
	attempts := 0
	flaky := func(ctx context.Context, pc *pipeline.Context, s pipeline.Services) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("transient dependency failure")
		}
		pc.Intake = &pipeline.IntakeInfo{Source: "manual"}
		return nil
	}

	engine := pipeline.NewEngine(world.services, fastConfig(),
		pipeline.WithHandler(pipeline.StageSignalIntake, flaky))

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:   "issue-12",
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	assert.Equal(t, 3, attempts)
}

func TestStageExhaustionYieldsErrorResult(t *testing.T) {
	world := newTestWorld()
	engine := pipeline.NewEngine(world.services, fastConfig(),
		pipeline.WithHandler(pipeline.StageIssueDetection,
			func(context.Context, *pipeline.Context, pipeline.Services) error {
				return errors.New("permanent failure")
			}))

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		Signals:   []pipeline.Signal{{ID: "s1", Source: "forum", Content: "x"}},
		RiskLevel: pipeline.RiskLow,
	})
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, pipeline.StatusError, result.Status)
	assert.False(t, result.Success)
	assert.Contains(t, result.Context.Error, "permanent failure")
	// The failed stage never joins completedStages.
	assert.Equal(t, []pipeline.Stage{pipeline.StageSignalIntake}, result.Context.CompletedStages)
	assert.Empty(t, engine.ActiveRuns())
}

func TestStageTimeoutFeedsRetry(t *testing.T) {
	world := newTestWorld()
	config := fastConfig()
	config.StageTimeout = 20 * time.Millisecond
	config.MaxRetriesPerStage = 1

	var mu sync.Mutex
	attempts := 0
	slowOnce := func(ctx context.Context, pc *pipeline.Context, s pipeline.Services) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return ctx.Err()
		}
		return nil
	}

	engine := pipeline.NewEngine(world.services, config,
		pipeline.WithHandler(pipeline.StageSignalIntake, slowOnce))

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:   "issue-13",
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, result.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestStageTimeoutExhaustionIsTyped(t *testing.T) {
	world := newTestWorld()
	config := fastConfig()
	config.StageTimeout = 20 * time.Millisecond
	config.MaxRetriesPerStage = 0

	engine := pipeline.NewEngine(world.services, config,
		pipeline.WithHandler(pipeline.StageSignalIntake,
			func(ctx context.Context, pc *pipeline.Context, s pipeline.Services) error {
				<-ctx.Done()
				return ctx.Err()
			}))

	_, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:   "issue-14",
		RiskLevel: pipeline.RiskLow,
	})
	require.Error(t, err)

	var timeoutErr *pipeline.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr), "error chain should carry the timeout: %v", err)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	world := newTestWorld()
	bus := events.NewBus(100)
	defer bus.Close()

	var mu sync.Mutex
	var seen []events.EventType
	unsubscribe := bus.SubscribeAll(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})
	defer unsubscribe()

	engine := pipeline.NewEngine(world.services, fastConfig(), pipeline.WithBus(bus))
	_, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:   "issue-15",
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		counts := map[events.EventType]int{}
		for _, et := range seen {
			counts[et]++
		}
		mu.Unlock()

		if counts[events.PipelineStarted] == 1 &&
			counts[events.PipelineStageEntered] == len(pipeline.StageOrder) &&
			counts[events.PipelineStageCompleted] == len(pipeline.StageOrder) &&
			counts[events.PipelineCompleted] == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("lifecycle events incomplete: %v", counts)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// brokenDocuments serves writes from the wrapped registry but fails
// every read, the shape of a registry backend losing records mid-run.
type brokenDocuments struct {
	pipeline.DocumentRegistry
}

func (brokenDocuments) GetDocument(context.Context, string) (*pipeline.Document, error) {
	return nil, errors.New("registry unavailable")
}

func TestVerificationDegradesOnLookupFailure(t *testing.T) {
	world := newTestWorld()
	world.services.Documents = brokenDocuments{world.documents}

	engine := pipeline.NewEngine(world.services, fastConfig())
	result, err := engine.Run(context.Background(), pipeline.Trigger{
		Signals:   []pipeline.Signal{{ID: "s1", Source: "forum", Content: "docs drift"}},
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err, "failed lookups must not abort the run")

	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	require.NotNil(t, result.Context.Verification)
	assert.False(t, result.Context.Verification.Success)
	assert.Zero(t, result.Context.Verification.DocumentsVerified)
	require.NotEmpty(t, result.Context.Verification.Documents)
	for _, check := range result.Context.Verification.Documents {
		assert.False(t, check.Verified)
		assert.NotEmpty(t, check.Detail)
	}
}

// stalledOrchestrator reports every workflow as failed regardless of
// what actually ran.
type stalledOrchestrator struct {
	pipeline.Orchestrator
}

func (stalledOrchestrator) GetWorkflowState(context.Context, string) (pipeline.WorkflowState, error) {
	return pipeline.WorkflowFailed, nil
}

func TestVerificationChecksWorkflowState(t *testing.T) {
	world := newTestWorld()
	world.services.Orchestrator = stalledOrchestrator{world.services.Orchestrator}

	engine := pipeline.NewEngine(world.services, fastConfig())
	result, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:   "issue-17",
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	require.NotNil(t, result.Context.Verification)
	assert.False(t, result.Context.Verification.WorkflowVerified)
	assert.False(t, result.Context.Verification.Success)
	assert.NotZero(t, result.Context.Verification.DocumentsVerified,
		"document checks still run when the workflow check fails")
}

func TestAbandonedAttemptDoesNotLeakIntoRun(t *testing.T) {
	world := newTestWorld()
	config := fastConfig()
	config.StageTimeout = 20 * time.Millisecond
	config.MaxRetriesPerStage = 1

	var mu sync.Mutex
	attempts := 0
	release := make(chan struct{})
	wrote := make(chan struct{})
	straggler := func(ctx context.Context, pc *pipeline.Context, s pipeline.Services) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			// Outlive the timeout, then keep writing.
			<-release
			pc.IssueID = "stale-issue"
			pc.SetMeta("straggler", true)
			close(wrote)
		}
		return nil
	}

	engine := pipeline.NewEngine(world.services, config,
		pipeline.WithHandler(pipeline.StageSignalIntake, straggler))

	result, err := engine.Run(context.Background(), pipeline.Trigger{
		IssueID:   "issue-16",
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusCompleted, result.Status)

	// Let the abandoned first attempt finish its late writes, then
	// confirm none of them reached the run context.
	close(release)
	<-wrote
	assert.Equal(t, "issue-16", result.Context.IssueID)
	_, ok := result.Context.Meta("straggler")
	assert.False(t, ok, "abandoned attempt leaked into the run context")
}

func TestRouterFailureDoesNotFailRun(t *testing.T) {
	world := newTestWorld()
	world.services.Router = failingExecutor{}

	engine := pipeline.NewEngine(world.services, fastConfig())
	result, err := engine.Run(context.Background(), pipeline.Trigger{
		Signals:   []pipeline.Signal{{ID: "s1", Source: "forum", Content: "fees spiked"}},
		RiskLevel: pipeline.RiskLow,
	})
	require.NoError(t, err)

	// Generation failures fall back to templates; the run still completes.
	assert.Equal(t, pipeline.StatusCompleted, result.Status)
	require.NotNil(t, result.Context.Issue)
	assert.NotEmpty(t, result.Context.Documents)
}

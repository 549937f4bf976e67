package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/events"
)

// softActiveThreshold is the active-run count above which the engine
// reports degraded health. It is not a cap.
const softActiveThreshold = 100

// Handler runs one stage, mutating the run context in place.
type Handler func(ctx context.Context, pc *Context, services Services) error

// Config tunes stage execution.
type Config struct {
	// StageTimeout bounds one handler attempt.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`

	// MaxRetriesPerStage is how many times a failed attempt is retried.
	MaxRetriesPerStage int `json:"max_retries_per_stage" yaml:"max_retries_per_stage"`

	// BackoffBase scales the exponential retry delay (base * 2^attempt).
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StageTimeout:       60 * time.Second,
		MaxRetriesPerStage: 2,
		BackoffBase:        time.Second,
		MaxBackoff:         30 * time.Second,
	}
}

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusLocked    Status = "locked"
	StatusError     Status = "error"

	// Reserved for integrations that finalize runs themselves; the
	// default stage handlers never produce these.
	StatusPendingApproval Status = "pending_approval"
	StatusRejected        Status = "rejected"
)

// Result is the immutable final snapshot of a run.
type Result struct {
	Context        *Context        `json:"context"`
	Success        bool            `json:"success"`
	Status         Status          `json:"status"`
	Documents      []*Document     `json:"documents,omitempty"`
	VotingResult   *Voting         `json:"voting_result,omitempty"`
	ApprovalStatus *ApprovalStatus `json:"approval_status,omitempty"`
}

// TimeoutError is the typed condition produced when a stage attempt
// outlives its timeout. It feeds the retry path.
type TimeoutError struct {
	Stage   Stage
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

// Trigger starts a run.
type Trigger struct {
	// IssueID references an existing governance issue, when known.
	IssueID string `json:"issue_id,omitempty"`

	// Signals are raw inputs when no issue exists yet.
	Signals []Signal `json:"signals,omitempty"`

	// WorkflowType selects the specialist workflow. Defaults to A.
	WorkflowType WorkflowType `json:"workflow_type,omitempty"`

	// RiskLevel presets the risk; empty means classify during dispatch.
	RiskLevel RiskLevel `json:"risk_level,omitempty"`
}

// Engine walks runs through the nine fixed stages.
type Engine struct {
	services Services
	store    ContextStore
	config   Config
	bus      *events.Bus
	logger   *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[Stage]Handler

	activeMu sync.Mutex
	active   map[string]*Context
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the context checkpoint store.
func WithStore(store ContextStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithBus sets the event bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHandler replaces the handler for one stage.
func WithHandler(stage Stage, h Handler) Option {
	return func(e *Engine) {
		e.handlers[stage] = h
	}
}

// NewEngine creates an engine with the default stage handlers.
func NewEngine(services Services, config Config, opts ...Option) *Engine {
	if config.StageTimeout <= 0 {
		config.StageTimeout = DefaultConfig().StageTimeout
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultConfig().BackoffBase
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultConfig().MaxBackoff
	}

	e := &Engine{
		services: services,
		config:   config,
		logger:   slog.Default(),
		handlers: defaultHandlers(),
		active:   make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	return e
}

// SetHandler swaps the handler for a stage at runtime.
func (e *Engine) SetHandler(stage Stage, h Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[stage] = h
}

// ActiveRuns returns the ids of runs currently resident in the engine.
func (e *Engine) ActiveRuns() []string {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// Run starts a new pipeline run and drives it to a terminal state.
func (e *Engine) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	workflowType := trigger.WorkflowType
	if workflowType == "" {
		workflowType = WorkflowTypeA
	}

	pc := &Context{
		ID:           uuid.NewString(),
		Signals:      trigger.Signals,
		IssueID:      trigger.IssueID,
		WorkflowType: workflowType,
		RiskLevel:    trigger.RiskLevel,
		StartedAt:    time.Now().UTC(),
	}

	e.addActive(pc)
	e.publish(events.PipelineStarted, map[string]any{
		"run": pc.ID, "workflow_type": string(workflowType), "issue": pc.IssueID,
	})

	return e.drive(ctx, pc)
}

// Resume continues a blocked run. The engine prefers its resident
// context and falls back to the checkpoint store; an id unknown to both
// returns (nil, nil).
func (e *Engine) Resume(ctx context.Context, id string) (*Result, error) {
	e.activeMu.Lock()
	pc := e.active[id]
	e.activeMu.Unlock()

	if pc == nil {
		stored, err := e.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load context %s: %w", id, err)
		}
		if stored == nil {
			return nil, nil
		}
		pc = stored
		e.addActive(pc)
	}

	if pc.Blocked {
		pc.Blocked = false
		// Re-run the stage that blocked so its side effects (the approval
		// re-check, document publication) actually happen this time.
		if n := len(pc.CompletedStages); n > 0 {
			pc.CompletedStages = pc.CompletedStages[:n-1]
		}
	}
	e.logger.Info("Resuming pipeline run",
		"run", pc.ID,
		"completed_stages", len(pc.CompletedStages))

	return e.drive(ctx, pc)
}

// drive walks the remaining stages to a terminal state.
func (e *Engine) drive(ctx context.Context, pc *Context) (*Result, error) {
	for {
		stage, ok := pc.NextStage()
		if !ok {
			break
		}
		pc.Stage = stage

		e.publish(events.PipelineStageEntered, map[string]any{
			"run": pc.ID, "stage": string(stage),
		})

		if err := e.runStage(ctx, stage, pc); err != nil {
			pc.Error = err.Error()
			e.removeActive(pc.ID)
			e.checkpoint(ctx, pc)
			e.logger.Error("Pipeline run failed",
				"run", pc.ID,
				"stage", stage,
				"error", err)
			e.publish(events.PipelineError, map[string]any{
				"run": pc.ID, "stage": string(stage), "error": err.Error(),
			})
			return &Result{Context: pc, Status: StatusError}, err
		}

		pc.CompletedStages = append(pc.CompletedStages, stage)
		e.checkpoint(ctx, pc)
		e.publish(events.PipelineStageCompleted, map[string]any{
			"run": pc.ID, "stage": string(stage),
		})

		// A blocked run stops immediately; remaining stages wait for
		// Resume after the locked action is approved.
		if pc.Blocked {
			e.publish(events.PipelineBlocked, map[string]any{
				"run": pc.ID, "stage": string(stage), "action": pc.LockedActionID,
			})
			return e.finalize(ctx, pc, StatusLocked), nil
		}
	}

	now := time.Now().UTC()
	pc.CompletedAt = &now
	e.removeActive(pc.ID)
	if err := e.store.Delete(ctx, pc.ID); err != nil {
		e.logger.Warn("Failed to clear run checkpoint", "run", pc.ID, "error", err)
	}

	// A voting session the houses have not yet closed does not hold the
	// run: every stage is done, and the open session rides along in
	// VotingResult for callers to track.
	e.publish(events.PipelineCompleted, map[string]any{
		"run": pc.ID, "status": string(StatusCompleted), "documents": len(pc.Documents),
	})
	return e.finalize(ctx, pc, StatusCompleted), nil
}

// runStage executes one stage under timeout with exponential backoff
// retries.
func (e *Engine) runStage(ctx context.Context, stage Stage, pc *Context) error {
	e.handlersMu.RLock()
	handler := e.handlers[stage]
	e.handlersMu.RUnlock()
	if handler == nil {
		return fmt.Errorf("no handler for stage %s", stage)
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetriesPerStage; attempt++ {
		if attempt > 0 {
			backoff := e.config.BackoffBase << uint(attempt)
			if backoff > e.config.MaxBackoff {
				backoff = e.config.MaxBackoff
			}
			e.logger.Warn("Retrying stage",
				"run", pc.ID,
				"stage", stage,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := e.runAttempt(ctx, stage, handler, pc)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("stage %s failed after %d attempts: %w",
		stage, e.config.MaxRetriesPerStage+1, lastErr)
}

// runAttempt races the handler against the stage timeout. Whichever
// settles first wins; a timeout feeds the retry path, not an abort.
// The handler mutates a private clone that is committed only when the
// attempt succeeds, so a goroutine abandoned at its timeout cannot
// touch the context a later attempt sees.
func (e *Engine) runAttempt(ctx context.Context, stage Stage, handler Handler, pc *Context) error {
	stageCtx, cancel := context.WithTimeout(ctx, e.config.StageTimeout)
	defer cancel()

	attempt := pc.clone()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("stage %s panicked: %v", stage, r)
			}
		}()
		done <- handler(stageCtx, attempt, e.services)
	}()

	select {
	case err := <-done:
		if err == nil {
			*pc = *attempt
		}
		return err
	case <-stageCtx.Done():
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Stage: stage, Timeout: e.config.StageTimeout}
		}
		return stageCtx.Err()
	}
}

// finalize builds the immutable result snapshot, resolving referenced
// records best-effort.
func (e *Engine) finalize(ctx context.Context, pc *Context, status Status) *Result {
	result := &Result{
		Context: pc,
		Status:  status,
		Success: status == StatusCompleted,
	}

	for _, id := range pc.Documents {
		doc, err := e.services.Documents.GetDocument(ctx, id)
		if err != nil {
			e.logger.Warn("Failed to resolve document", "run", pc.ID, "document", id, "error", err)
			continue
		}
		result.Documents = append(result.Documents, doc)
	}

	result.VotingResult = e.fetchVoting(ctx, pc)

	if pc.LockedActionID != "" {
		approval, err := e.services.SafeAutonomy.CheckApproval(ctx, pc.LockedActionID)
		if err == nil {
			result.ApprovalStatus = &approval
		}
	}

	return result
}

func (e *Engine) fetchVoting(ctx context.Context, pc *Context) *Voting {
	if pc.VotingID == "" {
		return nil
	}
	voting, err := e.services.DualHouse.GetVoting(ctx, pc.VotingID)
	if err != nil {
		e.logger.Warn("Failed to resolve voting", "run", pc.ID, "voting", pc.VotingID, "error", err)
		return nil
	}
	return voting
}

func (e *Engine) addActive(pc *Context) {
	e.activeMu.Lock()
	e.active[pc.ID] = pc
	count := len(e.active)
	e.activeMu.Unlock()

	if count > softActiveThreshold {
		e.logger.Warn("Active run count above soft threshold",
			"active", count,
			"threshold", softActiveThreshold)
	}
}

func (e *Engine) removeActive(id string) {
	e.activeMu.Lock()
	delete(e.active, id)
	e.activeMu.Unlock()
}

// checkpoint persists the context, logging rather than failing the run
// on store errors.
func (e *Engine) checkpoint(ctx context.Context, pc *Context) {
	if err := e.store.Save(ctx, pc); err != nil {
		e.logger.Warn("Failed to checkpoint run", "run", pc.ID, "error", err)
	}
}

func (e *Engine) publish(eventType events.EventType, data map[string]any) {
	if e.bus != nil {
		e.bus.Publish(eventType, data)
	}
}

package pipeline

import (
	"context"
	"time"

	"github.com/concordlabs/concord/router"
)

// Action describes what a run intends to do, for risk classification.
type Action struct {
	IssueID      string       `json:"issue_id"`
	WorkflowType WorkflowType `json:"workflow_type"`
	Description  string       `json:"description"`
}

// ApprovalStatus is the state of a locked action's human gate.
type ApprovalStatus struct {
	Approved bool   `json:"approved"`
	By       string `json:"by,omitempty"`
}

// LockedActionParams creates a safe-autonomy lock.
type LockedActionParams struct {
	RunID       string    `json:"run_id"`
	IssueID     string    `json:"issue_id"`
	Description string    `json:"description"`
	RiskLevel   RiskLevel `json:"risk_level"`
}

// SafeAutonomy is the lock-and-approve gate for risky actions.
type SafeAutonomy interface {
	ClassifyRisk(ctx context.Context, action Action) (RiskLevel, error)
	CreateLockedAction(ctx context.Context, params LockedActionParams) (string, error)
	CheckApproval(ctx context.Context, actionID string) (ApprovalStatus, error)
}

// WorkflowState is a workflow instance's lifecycle state.
type WorkflowState string

const (
	WorkflowCreated   WorkflowState = "created"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
)

// Orchestrator dispatches and runs specialist workflows.
type Orchestrator interface {
	CreateWorkflow(ctx context.Context, issueID string, workflowType WorkflowType) (string, error)
	RunWorkflow(ctx context.Context, workflowID string) ([]string, error)
	GetWorkflowState(ctx context.Context, workflowID string) (WorkflowState, error)
}

// Document is a governance artifact (decision record, analysis, draft).
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Published bool      `json:"published"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentParams creates a document.
type DocumentParams struct {
	Title   string `json:"title"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DocumentRegistry stores governance documents.
type DocumentRegistry interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	CreateDocument(ctx context.Context, params DocumentParams) (*Document, error)
	PublishDocument(ctx context.Context, id string) error
}

// VotingStatus is the state of a dual-house voting session.
type VotingStatus string

const (
	VotingOpen     VotingStatus = "open"
	VotingPassed   VotingStatus = "passed"
	VotingRejected VotingStatus = "rejected"
)

// Voting is a dual-house voting session.
type Voting struct {
	ID      string       `json:"id"`
	IssueID string       `json:"issue_id"`
	Title   string       `json:"title"`
	Status  VotingStatus `json:"status"`
	For     int          `json:"for"`
	Against int          `json:"against"`
}

// VotingParams opens a voting session.
type VotingParams struct {
	IssueID   string    `json:"issue_id"`
	Title     string    `json:"title"`
	RiskLevel RiskLevel `json:"risk_level"`
}

// Approval is a high-risk approval record tied to a locked action.
type Approval struct {
	ID       string `json:"id"`
	ActionID string `json:"action_id"`
	Approved bool   `json:"approved"`
	By       string `json:"by,omitempty"`
}

// ApprovalParams creates a high-risk approval.
type ApprovalParams struct {
	ActionID string `json:"action_id"`
	IssueID  string `json:"issue_id"`
	Reason   string `json:"reason"`
}

// DualHouse runs voting sessions and high-risk approvals.
type DualHouse interface {
	CreateVoting(ctx context.Context, params VotingParams) (string, error)
	GetVoting(ctx context.Context, id string) (*Voting, error)
	CreateHighRiskApproval(ctx context.Context, params ApprovalParams) (string, error)
	GetHighRiskApproval(ctx context.Context, id string) (*Approval, error)
}

// TaskExecutor is the thin model-router facade stages call for
// generation work.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, params router.TaskParams) (string, error)
}

// Services bundles every external collaborator a stage handler may use.
// All fields are injected; the engine owns none of them.
type Services struct {
	SafeAutonomy SafeAutonomy
	Orchestrator Orchestrator
	Documents    DocumentRegistry
	DualHouse    DualHouse
	Router       TaskExecutor
}

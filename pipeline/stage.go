// Package pipeline implements the nine-stage governance workflow: a
// fixed state machine that moves a proposal from raw signals through
// issue detection, specialist work, dual-house review and approval to
// execution and verification. Stages run strictly in order with
// per-stage timeout and retry; high-risk runs halt until a human
// approves the locked action.
package pipeline

// Stage is one step of the fixed governance workflow.
type Stage string

const (
	StageSignalIntake        Stage = "signal_intake"
	StageIssueDetection      Stage = "issue_detection"
	StageWorkflowDispatch    Stage = "workflow_dispatch"
	StageSpecialistWork      Stage = "specialist_work"
	StageDocumentProduction  Stage = "document_production"
	StageDualHouseReview     Stage = "dual_house_review"
	StageApprovalRouting     Stage = "approval_routing"
	StageExecution           Stage = "execution"
	StageOutcomeVerification Stage = "outcome_verification"
)

// StageOrder is the fixed execution order. Stages are never skipped or
// reordered; completedStages is always a strict prefix of this list.
var StageOrder = []Stage{
	StageSignalIntake,
	StageIssueDetection,
	StageWorkflowDispatch,
	StageSpecialistWork,
	StageDocumentProduction,
	StageDualHouseReview,
	StageApprovalRouting,
	StageExecution,
	StageOutcomeVerification,
}

// RiskLevel grades how dangerous a run's execution action is.
type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskMid  RiskLevel = "MID"
	RiskHigh RiskLevel = "HIGH"
)

// WorkflowType selects one of the five specialist workflows.
type WorkflowType string

const (
	WorkflowTypeA WorkflowType = "A" // research and analysis
	WorkflowTypeB WorkflowType = "B" // policy drafting
	WorkflowTypeC WorkflowType = "C" // treasury operation
	WorkflowTypeD WorkflowType = "D" // protocol change
	WorkflowTypeE WorkflowType = "E" // community action
)

// IsValid reports whether the workflow type is one of A-E.
func (w WorkflowType) IsValid() bool {
	switch w {
	case WorkflowTypeA, WorkflowTypeB, WorkflowTypeC, WorkflowTypeD, WorkflowTypeE:
		return true
	}
	return false
}

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/concordlabs/concord/router"
	"github.com/concordlabs/concord/task"
)

func defaultHandlers() map[Stage]Handler {
	return map[Stage]Handler{
		StageSignalIntake:        handleSignalIntake,
		StageIssueDetection:      handleIssueDetection,
		StageWorkflowDispatch:    handleWorkflowDispatch,
		StageSpecialistWork:      handleSpecialistWork,
		StageDocumentProduction:  handleDocumentProduction,
		StageDualHouseReview:     handleDualHouseReview,
		StageApprovalRouting:     handleApprovalRouting,
		StageExecution:           handleExecution,
		StageOutcomeVerification: handleOutcomeVerification,
	}
}

// handleSignalIntake classifies where the signals came from and
// summarizes them through the router. Summarization is best-effort; a
// generation failure leaves the summary empty rather than failing the
// stage.
func handleSignalIntake(ctx context.Context, pc *Context, s Services) error {
	intake := &IntakeInfo{Source: classifyIntakeSource(pc)}
	pc.Intake = intake

	if len(pc.Signals) == 0 || s.Router == nil {
		return nil
	}

	var sb strings.Builder
	for _, signal := range pc.Signals {
		fmt.Fprintf(&sb, "[%s] %s\n", signal.Source, signal.Content)
	}

	summary, err := s.Router.ExecuteTask(ctx, router.TaskParams{
		Type:         task.TypeSummarization,
		Prompt:       "Summarize the following governance signals in a short paragraph:\n\n" + sb.String(),
		SystemPrompt: "You digest community signals for a governance pipeline. Be factual and brief.",
	})
	if err == nil {
		intake.Summary = summary
	}
	return nil
}

func classifyIntakeSource(pc *Context) string {
	if pc.IssueID != "" {
		return "issue"
	}
	if len(pc.Signals) == 0 {
		return "manual"
	}

	sources := make(map[string]bool)
	for _, signal := range pc.Signals {
		sources[signal.Source] = true
	}
	if len(sources) == 1 {
		for source := range sources {
			return source
		}
	}
	return "mixed"
}

// handleIssueDetection synthesizes a governance issue from signal
// context when the trigger did not name one. Generation failure falls
// back to a templated issue.
func handleIssueDetection(ctx context.Context, pc *Context, s Services) error {
	if pc.IssueID != "" {
		return nil
	}

	summary := ""
	if pc.Intake != nil {
		summary = pc.Intake.Summary
	}
	if summary == "" && len(pc.Signals) > 0 {
		summary = pc.Signals[0].Content
	}

	issue := &IssueInfo{
		Title:       fmt.Sprintf("Governance issue from %d signal(s)", len(pc.Signals)),
		Description: summary,
		Synthesized: true,
	}

	if s.Router != nil && summary != "" {
		description, err := s.Router.ExecuteTask(ctx, router.TaskParams{
			Type:         task.TypeScouting,
			Prompt:       "Describe the governance issue raised by these signals in two sentences:\n\n" + summary,
			SystemPrompt: "You detect actionable governance issues from community signals.",
		})
		if err == nil {
			issue.Description = description
		}
	}

	pc.Issue = issue
	pc.IssueID = "issue-" + pc.ID
	return nil
}

// handleWorkflowDispatch classifies the run's risk and creates the
// specialist workflow instance.
func handleWorkflowDispatch(ctx context.Context, pc *Context, s Services) error {
	if pc.RiskLevel == "" {
		risk, err := s.SafeAutonomy.ClassifyRisk(ctx, Action{
			IssueID:      pc.IssueID,
			WorkflowType: pc.WorkflowType,
			Description:  issueDescription(pc),
		})
		if err != nil {
			return fmt.Errorf("classify risk: %w", err)
		}
		pc.RiskLevel = risk
	}

	workflowID, err := s.Orchestrator.CreateWorkflow(ctx, pc.IssueID, pc.WorkflowType)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	pc.WorkflowID = workflowID
	return nil
}

// handleSpecialistWork runs the workflow and collects produced
// document ids.
func handleSpecialistWork(ctx context.Context, pc *Context, s Services) error {
	documents, err := s.Orchestrator.RunWorkflow(ctx, pc.WorkflowID)
	if err != nil {
		return fmt.Errorf("run workflow %s: %w", pc.WorkflowID, err)
	}
	pc.Documents = append(pc.Documents, documents...)
	return nil
}

// handleDocumentProduction synthesizes a default decision record when
// specialist work produced nothing. The recommendation comes from the
// router; generation failure falls back to a template.
func handleDocumentProduction(ctx context.Context, pc *Context, s Services) error {
	if len(pc.Documents) > 0 {
		return nil
	}

	recommendation := "No automated recommendation available; requires specialist review."
	if s.Router != nil {
		generated, err := s.Router.ExecuteTask(ctx, router.TaskParams{
			Type: task.TypeCoreDecision,
			Prompt: fmt.Sprintf(
				"Draft a decision record for issue %s.\nIssue: %s\nInclude sections: issue, options, recommendation, risk.",
				pc.IssueID, issueDescription(pc)),
			SystemPrompt: "You draft structured governance decision records.",
		})
		if err == nil {
			recommendation = generated
		}
	}

	doc, err := s.Documents.CreateDocument(ctx, DocumentParams{
		Title:   fmt.Sprintf("Decision record for %s", pc.IssueID),
		Type:    "decision_record",
		Content: recommendation,
	})
	if err != nil {
		return fmt.Errorf("create decision record: %w", err)
	}
	pc.Documents = append(pc.Documents, doc.ID)
	return nil
}

// handleDualHouseReview opens a voting session for MID and HIGH risk
// runs. LOW risk proceeds without a vote.
func handleDualHouseReview(ctx context.Context, pc *Context, s Services) error {
	if pc.RiskLevel != RiskMid && pc.RiskLevel != RiskHigh {
		return nil
	}

	votingID, err := s.DualHouse.CreateVoting(ctx, VotingParams{
		IssueID:   pc.IssueID,
		Title:     fmt.Sprintf("Vote on %s", pc.IssueID),
		RiskLevel: pc.RiskLevel,
	})
	if err != nil {
		return fmt.Errorf("create voting: %w", err)
	}
	pc.VotingID = votingID
	return nil
}

// handleApprovalRouting creates a locked action plus a tied high-risk
// approval for HIGH risk runs.
func handleApprovalRouting(ctx context.Context, pc *Context, s Services) error {
	if pc.RiskLevel != RiskHigh {
		return nil
	}

	actionID, err := s.SafeAutonomy.CreateLockedAction(ctx, LockedActionParams{
		RunID:       pc.ID,
		IssueID:     pc.IssueID,
		Description: issueDescription(pc),
		RiskLevel:   pc.RiskLevel,
	})
	if err != nil {
		return fmt.Errorf("create locked action: %w", err)
	}
	pc.LockedActionID = actionID

	approvalID, err := s.DualHouse.CreateHighRiskApproval(ctx, ApprovalParams{
		ActionID: actionID,
		IssueID:  pc.IssueID,
		Reason:   "high-risk execution requires human approval",
	})
	if err != nil {
		return fmt.Errorf("create high-risk approval: %w", err)
	}
	pc.ApprovalID = approvalID
	return nil
}

// handleExecution re-checks approval for HIGH risk and, if approved (or
// not high-risk), publishes every produced document. An unapproved
// action blocks the run; that is a deliberate outcome, not an error.
func handleExecution(ctx context.Context, pc *Context, s Services) error {
	if pc.RiskLevel == RiskHigh {
		approval, err := s.SafeAutonomy.CheckApproval(ctx, pc.LockedActionID)
		if err != nil {
			return fmt.Errorf("check approval for %s: %w", pc.LockedActionID, err)
		}
		if !approval.Approved {
			pc.Blocked = true
			return nil
		}
	}

	for _, id := range pc.Documents {
		if err := s.Documents.PublishDocument(ctx, id); err != nil {
			return fmt.Errorf("publish document %s: %w", id, err)
		}
	}
	return nil
}

// handleOutcomeVerification re-fetches every referenced record to
// confirm existence and expected state, then computes the run summary.
// The stage never fails the run: a lookup that errors marks the record
// unverified, and Success reflects the whole picture.
func handleOutcomeVerification(ctx context.Context, pc *Context, s Services) error {
	verification := &VerificationInfo{Success: true}

	for _, id := range pc.Documents {
		check := DocumentCheck{ID: id}
		switch doc, err := s.Documents.GetDocument(ctx, id); {
		case err != nil:
			check.Detail = err.Error()
		case !doc.Published:
			check.Detail = "not published"
		default:
			check.Verified = true
			verification.DocumentsVerified++
		}
		if !check.Verified {
			verification.Success = false
		}
		verification.Documents = append(verification.Documents, check)
	}

	if pc.WorkflowID != "" {
		state, err := s.Orchestrator.GetWorkflowState(ctx, pc.WorkflowID)
		verification.WorkflowVerified = err == nil && state == WorkflowCompleted
		if !verification.WorkflowVerified {
			verification.Success = false
		}
	}

	if pc.VotingID != "" {
		_, err := s.DualHouse.GetVoting(ctx, pc.VotingID)
		verification.VotingVerified = err == nil
		if err != nil {
			verification.Success = false
		}
	}

	if pc.ApprovalID != "" {
		_, err := s.DualHouse.GetHighRiskApproval(ctx, pc.ApprovalID)
		verification.ApprovalVerified = err == nil
		if err != nil {
			verification.Success = false
		}
	}

	verification.Duration = durationSince(pc)
	pc.Verification = verification
	return nil
}

func issueDescription(pc *Context) string {
	if pc.Issue != nil && pc.Issue.Description != "" {
		return pc.Issue.Description
	}
	return pc.IssueID
}

func durationSince(pc *Context) time.Duration {
	return time.Since(pc.StartedAt)
}

package govern

import (
	"context"
	"testing"

	"github.com/concordlabs/concord/pipeline"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name   string
		action pipeline.Action
		want   pipeline.RiskLevel
	}{
		{
			name:   "treasury workflow type is high",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeC, Description: "routine report"},
			want:   pipeline.RiskHigh,
		},
		{
			name:   "protocol workflow type is high",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeD},
			want:   pipeline.RiskHigh,
		},
		{
			name:   "funds transfer description is high",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeA, Description: "approve funds transfer to vendor"},
			want:   pipeline.RiskHigh,
		},
		{
			name:   "dollar amount is high",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeA, Description: "allocate $50,000 for audits"},
			want:   pipeline.RiskHigh,
		},
		{
			name:   "policy change is mid",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeA, Description: "update the moderation policy"},
			want:   pipeline.RiskMid,
		},
		{
			name:   "membership vote is mid",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeB, Description: "open a membership election"},
			want:   pipeline.RiskMid,
		},
		{
			name:   "plain report is low",
			action: pipeline.Action{WorkflowType: pipeline.WorkflowTypeA, Description: "summarize community feedback"},
			want:   pipeline.RiskLow,
		},
	}

	safety := NewSafeAutonomy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := safety.ClassifyRisk(context.Background(), tt.action)
			if err != nil {
				t.Fatalf("ClassifyRisk: %v", err)
			}
			if got != tt.want {
				t.Errorf("risk = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLockedActionApprovalFlow(t *testing.T) {
	safety := NewSafeAutonomy()
	ctx := context.Background()

	id, err := safety.CreateLockedAction(ctx, pipeline.LockedActionParams{
		RunID:       "run-1",
		IssueID:     "issue-1",
		Description: "execute treasury payout",
		RiskLevel:   pipeline.RiskHigh,
	})
	if err != nil {
		t.Fatalf("CreateLockedAction: %v", err)
	}

	status, err := safety.CheckApproval(ctx, id)
	if err != nil {
		t.Fatalf("CheckApproval: %v", err)
	}
	if status.Approved {
		t.Error("new locked action should not be approved")
	}

	if err := safety.Approve(id, "operator"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	status, err = safety.CheckApproval(ctx, id)
	if err != nil {
		t.Fatalf("CheckApproval after approve: %v", err)
	}
	if !status.Approved || status.By != "operator" {
		t.Errorf("status = %+v, want approved by operator", status)
	}

	if _, err := safety.CheckApproval(ctx, "lock-missing"); err == nil {
		t.Error("expected error for unknown action")
	}
	if err := safety.Approve("lock-missing", "operator"); err == nil {
		t.Error("expected error approving unknown action")
	}
}

func TestVotingLifecycle(t *testing.T) {
	dual := NewDualHouse()
	ctx := context.Background()

	id, err := dual.CreateVoting(ctx, pipeline.VotingParams{
		IssueID:   "issue-1",
		Title:     "Adopt new budget",
		RiskLevel: pipeline.RiskMid,
	})
	if err != nil {
		t.Fatalf("CreateVoting: %v", err)
	}

	voting, err := dual.GetVoting(ctx, id)
	if err != nil {
		t.Fatalf("GetVoting: %v", err)
	}
	if voting.Status != pipeline.VotingOpen {
		t.Errorf("status = %s, want open", voting.Status)
	}

	for _, inFavor := range []bool{true, true, false} {
		if err := dual.CastVote(id, inFavor); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}
	if err := dual.CloseVoting(id); err != nil {
		t.Fatalf("CloseVoting: %v", err)
	}

	voting, err = dual.GetVoting(ctx, id)
	if err != nil {
		t.Fatalf("GetVoting after close: %v", err)
	}
	if voting.Status != pipeline.VotingPassed {
		t.Errorf("status = %s, want passed", voting.Status)
	}
	if voting.For != 2 || voting.Against != 1 {
		t.Errorf("tally = %d/%d, want 2/1", voting.For, voting.Against)
	}

	// Votes on a closed session are rejected.
	if err := dual.CastVote(id, true); err == nil {
		t.Error("expected error voting on closed session")
	}
}

func TestVotingRejectedOnMajorityAgainst(t *testing.T) {
	dual := NewDualHouse()
	ctx := context.Background()

	id, _ := dual.CreateVoting(ctx, pipeline.VotingParams{IssueID: "issue-2", Title: "Proposal"})
	_ = dual.CastVote(id, false)
	_ = dual.CloseVoting(id)

	voting, err := dual.GetVoting(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if voting.Status != pipeline.VotingRejected {
		t.Errorf("status = %s, want rejected", voting.Status)
	}
}

func TestHighRiskApproval(t *testing.T) {
	dual := NewDualHouse()
	ctx := context.Background()

	id, err := dual.CreateHighRiskApproval(ctx, pipeline.ApprovalParams{
		ActionID: "lock-1",
		IssueID:  "issue-1",
		Reason:   "treasury movement",
	})
	if err != nil {
		t.Fatalf("CreateHighRiskApproval: %v", err)
	}

	approval, err := dual.GetHighRiskApproval(ctx, id)
	if err != nil {
		t.Fatalf("GetHighRiskApproval: %v", err)
	}
	if approval.Approved || approval.ActionID != "lock-1" {
		t.Errorf("approval = %+v, want unapproved for lock-1", approval)
	}

	if err := dual.GrantApproval(id, "council"); err != nil {
		t.Fatalf("GrantApproval: %v", err)
	}
	approval, _ = dual.GetHighRiskApproval(ctx, id)
	if !approval.Approved || approval.By != "council" {
		t.Errorf("approval = %+v, want granted by council", approval)
	}
}

func TestOrchestratorWorkflow(t *testing.T) {
	documents := NewDocumentRegistry()
	orch := NewOrchestrator(documents)
	ctx := context.Background()

	if _, err := orch.CreateWorkflow(ctx, "issue-1", pipeline.WorkflowType("Z")); err == nil {
		t.Error("expected error for invalid workflow type")
	}

	id, err := orch.CreateWorkflow(ctx, "issue-1", pipeline.WorkflowTypeB)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	state, err := orch.GetWorkflowState(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkflowState: %v", err)
	}
	if state != pipeline.WorkflowCreated {
		t.Errorf("state = %s, want created", state)
	}

	docIDs, err := orch.RunWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if len(docIDs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docIDs))
	}

	doc, err := documents.GetDocument(ctx, docIDs[0])
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Type != "analysis" || doc.Published {
		t.Errorf("doc = %+v, want unpublished analysis", doc)
	}

	state, _ = orch.GetWorkflowState(ctx, id)
	if state != pipeline.WorkflowCompleted {
		t.Errorf("state = %s, want completed", state)
	}

	if _, err := orch.RunWorkflow(ctx, "wf-missing"); err == nil {
		t.Error("expected error for unknown workflow")
	}
}

func TestDocumentPublish(t *testing.T) {
	documents := NewDocumentRegistry()
	ctx := context.Background()

	doc, err := documents.CreateDocument(ctx, pipeline.DocumentParams{
		Title:   "Decision Record",
		Type:    "decision_record",
		Content: "## Issue\nBudget gap.",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Published {
		t.Error("new document should be a draft")
	}

	if err := documents.PublishDocument(ctx, doc.ID); err != nil {
		t.Fatalf("PublishDocument: %v", err)
	}
	fetched, err := documents.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !fetched.Published {
		t.Error("document not published")
	}

	if err := documents.PublishDocument(ctx, "doc-missing"); err == nil {
		t.Error("expected error publishing unknown document")
	}
}

package govern

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/pipeline"
)

type workflow struct {
	issueID      string
	workflowType pipeline.WorkflowType
	state        pipeline.WorkflowState
	documents    []string
}

// Orchestrator is the in-memory specialist workflow runner. By default
// a workflow run produces one analysis document through the registry.
type Orchestrator struct {
	mu        sync.Mutex
	workflows map[string]*workflow
	documents pipeline.DocumentRegistry
}

// NewOrchestrator creates an orchestrator producing documents through
// the given registry.
func NewOrchestrator(documents pipeline.DocumentRegistry) *Orchestrator {
	return &Orchestrator{
		workflows: make(map[string]*workflow),
		documents: documents,
	}
}

// CreateWorkflow registers a workflow instance for the issue.
func (o *Orchestrator) CreateWorkflow(_ context.Context, issueID string, workflowType pipeline.WorkflowType) (string, error) {
	if !workflowType.IsValid() {
		return "", fmt.Errorf("invalid workflow type %q", workflowType)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	id := "wf-" + uuid.NewString()
	o.workflows[id] = &workflow{
		issueID:      issueID,
		workflowType: workflowType,
		state:        pipeline.WorkflowCreated,
	}
	return id, nil
}

// RunWorkflow executes the workflow and returns the produced document
// ids.
func (o *Orchestrator) RunWorkflow(ctx context.Context, workflowID string) ([]string, error) {
	o.mu.Lock()
	wf, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	wf.state = pipeline.WorkflowRunning
	issueID := wf.issueID
	workflowType := wf.workflowType
	o.mu.Unlock()

	doc, err := o.documents.CreateDocument(ctx, pipeline.DocumentParams{
		Title:   fmt.Sprintf("Specialist analysis for %s", issueID),
		Type:    "analysis",
		Content: fmt.Sprintf("Workflow %s analysis of issue %s.", workflowType, issueID),
	})
	if err != nil {
		o.mu.Lock()
		wf.state = pipeline.WorkflowFailed
		o.mu.Unlock()
		return nil, fmt.Errorf("produce analysis document: %w", err)
	}

	o.mu.Lock()
	wf.state = pipeline.WorkflowCompleted
	wf.documents = append(wf.documents, doc.ID)
	o.mu.Unlock()

	return []string{doc.ID}, nil
}

// GetWorkflowState reports the workflow's lifecycle state.
func (o *Orchestrator) GetWorkflowState(_ context.Context, workflowID string) (pipeline.WorkflowState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	wf, ok := o.workflows[workflowID]
	if !ok {
		return "", fmt.Errorf("workflow %s not found", workflowID)
	}
	return wf.state, nil
}

// Package govern provides in-memory reference implementations of the
// pipeline's external collaborators: the safe-autonomy lock manager,
// the workflow orchestrator, the document registry and the dual-house
// voting system. They back `concord run` and the orchestration tests;
// production deployments substitute their own services behind the same
// interfaces.
package govern

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/pipeline"
)

// highRiskPatterns escalate an action straight to HIGH.
var highRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)treasury|funds? transfer|\$[0-9,]+|[0-9,]+ (tokens?|coins?)`),
	regexp.MustCompile(`(?i)irreversible|protocol (change|upgrade)|security`),
}

// midRiskPatterns escalate an action to at least MID.
var midRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)policy|vote|election|membership|budget`),
}

type lockedAction struct {
	params   pipeline.LockedActionParams
	approved bool
	by       string
}

// SafeAutonomy is the in-memory lock-and-approve gate.
type SafeAutonomy struct {
	mu      sync.Mutex
	actions map[string]*lockedAction
}

// NewSafeAutonomy creates an empty gate.
func NewSafeAutonomy() *SafeAutonomy {
	return &SafeAutonomy{actions: make(map[string]*lockedAction)}
}

// ClassifyRisk grades an action by workflow type and description
// patterns. Treasury and protocol workflows are HIGH by construction.
func (s *SafeAutonomy) ClassifyRisk(_ context.Context, action pipeline.Action) (pipeline.RiskLevel, error) {
	if action.WorkflowType == pipeline.WorkflowTypeC || action.WorkflowType == pipeline.WorkflowTypeD {
		return pipeline.RiskHigh, nil
	}

	description := strings.ToLower(action.Description)
	for _, p := range highRiskPatterns {
		if p.MatchString(description) {
			return pipeline.RiskHigh, nil
		}
	}
	for _, p := range midRiskPatterns {
		if p.MatchString(description) {
			return pipeline.RiskMid, nil
		}
	}
	return pipeline.RiskLow, nil
}

// CreateLockedAction registers an unapproved lock and returns its id.
func (s *SafeAutonomy) CreateLockedAction(_ context.Context, params pipeline.LockedActionParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := "lock-" + uuid.NewString()
	s.actions[id] = &lockedAction{params: params}
	return id, nil
}

// CheckApproval reports the approval state of a locked action.
func (s *SafeAutonomy) CheckApproval(_ context.Context, actionID string) (pipeline.ApprovalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[actionID]
	if !ok {
		return pipeline.ApprovalStatus{}, fmt.Errorf("locked action %s not found", actionID)
	}
	return pipeline.ApprovalStatus{Approved: action.approved, By: action.by}, nil
}

// Approve marks a locked action approved. This is the human gate.
func (s *SafeAutonomy) Approve(actionID, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[actionID]
	if !ok {
		return fmt.Errorf("locked action %s not found", actionID)
	}
	action.approved = true
	action.by = by
	return nil
}

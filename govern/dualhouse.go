package govern

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/concordlabs/concord/pipeline"
)

// DualHouse is the in-memory voting and high-risk approval system.
type DualHouse struct {
	mu        sync.Mutex
	votings   map[string]*pipeline.Voting
	approvals map[string]*pipeline.Approval
}

// NewDualHouse creates an empty voting system.
func NewDualHouse() *DualHouse {
	return &DualHouse{
		votings:   make(map[string]*pipeline.Voting),
		approvals: make(map[string]*pipeline.Approval),
	}
}

// CreateVoting opens a voting session for the issue.
func (d *DualHouse) CreateVoting(_ context.Context, params pipeline.VotingParams) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	voting := &pipeline.Voting{
		ID:      "vote-" + uuid.NewString(),
		IssueID: params.IssueID,
		Title:   params.Title,
		Status:  pipeline.VotingOpen,
	}
	d.votings[voting.ID] = voting
	return voting.ID, nil
}

// GetVoting returns a copy of the voting session.
func (d *DualHouse) GetVoting(_ context.Context, id string) (*pipeline.Voting, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	voting, ok := d.votings[id]
	if !ok {
		return nil, fmt.Errorf("voting %s not found", id)
	}
	cp := *voting
	return &cp, nil
}

// CastVote records one vote. Closed sessions reject further votes.
func (d *DualHouse) CastVote(id string, inFavor bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	voting, ok := d.votings[id]
	if !ok {
		return fmt.Errorf("voting %s not found", id)
	}
	if voting.Status != pipeline.VotingOpen {
		return fmt.Errorf("voting %s is %s", id, voting.Status)
	}
	if inFavor {
		voting.For++
	} else {
		voting.Against++
	}
	return nil
}

// CloseVoting finalizes a session: more for than against passes.
func (d *DualHouse) CloseVoting(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	voting, ok := d.votings[id]
	if !ok {
		return fmt.Errorf("voting %s not found", id)
	}
	if voting.For > voting.Against {
		voting.Status = pipeline.VotingPassed
	} else {
		voting.Status = pipeline.VotingRejected
	}
	return nil
}

// CreateHighRiskApproval registers a pending approval tied to a locked
// action.
func (d *DualHouse) CreateHighRiskApproval(_ context.Context, params pipeline.ApprovalParams) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	approval := &pipeline.Approval{
		ID:       "approval-" + uuid.NewString(),
		ActionID: params.ActionID,
	}
	d.approvals[approval.ID] = approval
	return approval.ID, nil
}

// GetHighRiskApproval returns a copy of the approval record.
func (d *DualHouse) GetHighRiskApproval(_ context.Context, id string) (*pipeline.Approval, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	approval, ok := d.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s not found", id)
	}
	cp := *approval
	return &cp, nil
}

// GrantApproval marks the approval granted, recording who granted it.
func (d *DualHouse) GrantApproval(id, by string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	approval, ok := d.approvals[id]
	if !ok {
		return fmt.Errorf("approval %s not found", id)
	}
	approval.Approved = true
	approval.By = by
	return nil
}

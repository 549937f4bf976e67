package pipeline

import "time"

// Signal is one unit of raw input that may justify governance action.
type Signal struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// IntakeInfo is the signal_intake stage product.
type IntakeInfo struct {
	// Source classifies where the signals came from.
	Source string `json:"source"`

	// Summary is the router-generated digest of the signals, when
	// summarization succeeded.
	Summary string `json:"summary,omitempty"`
}

// IssueInfo is the issue_detection stage product.
type IssueInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`

	// Synthesized is true when the issue was generated from signal
	// context rather than supplied by the trigger.
	Synthesized bool `json:"synthesized"`
}

// DocumentCheck records one document's verification outcome.
type DocumentCheck struct {
	ID       string `json:"id"`
	Verified bool   `json:"verified"`
	Detail   string `json:"detail,omitempty"`
}

// VerificationInfo is the outcome_verification stage product. A record
// that cannot be fetched is recorded as unverified, not an error;
// Success is true only when every referenced record checked out.
type VerificationInfo struct {
	Documents         []DocumentCheck `json:"documents,omitempty"`
	DocumentsVerified int             `json:"documents_verified"`
	WorkflowVerified  bool            `json:"workflow_verified"`
	VotingVerified    bool            `json:"voting_verified"`
	ApprovalVerified  bool            `json:"approval_verified"`
	Duration          time.Duration   `json:"duration"`
	Success           bool            `json:"success"`
}

// Context is the mutable state of one pipeline run. It is exclusively
// owned by the engine for the run's lifetime; stage handlers mutate it
// in place and must not retain references past their return.
type Context struct {
	// ID identifies the run.
	ID string `json:"id"`

	// Stage is the stage currently or most recently executed.
	Stage Stage `json:"stage"`

	// Signals are the triggering inputs, if any.
	Signals []Signal `json:"signals,omitempty"`

	// IssueID is the governance issue under consideration.
	IssueID string `json:"issue_id,omitempty"`

	// WorkflowType selects the specialist workflow (A-E).
	WorkflowType WorkflowType `json:"workflow_type,omitempty"`

	// WorkflowID is the dispatched workflow instance.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Documents are ids of documents produced so far.
	Documents []string `json:"documents,omitempty"`

	// RiskLevel is the classified risk of the execution action.
	RiskLevel RiskLevel `json:"risk_level,omitempty"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CompletedStages is a strict prefix of StageOrder.
	CompletedStages []Stage `json:"completed_stages"`

	// VotingID is the dual-house voting session, for MID/HIGH risk.
	VotingID string `json:"voting_id,omitempty"`

	// ApprovalID is the high-risk approval record.
	ApprovalID string `json:"approval_id,omitempty"`

	// LockedActionID is the safe-autonomy lock guarding execution.
	LockedActionID string `json:"locked_action_id,omitempty"`

	// Blocked is set by the execution stage when a high-risk action is
	// not yet approved. The run loop stops on it; Resume clears it.
	Blocked bool `json:"blocked"`

	// Stage products.
	Intake       *IntakeInfo       `json:"intake,omitempty"`
	Issue        *IssueInfo        `json:"issue,omitempty"`
	Verification *VerificationInfo `json:"verification,omitempty"`

	// Metadata is the escape hatch for custom handlers.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Error holds the terminal failure, if the run errored.
	Error string `json:"error,omitempty"`
}

// NextStage returns the first stage not yet completed, or false when
// every stage is done.
func (c *Context) NextStage() (Stage, bool) {
	if len(c.CompletedStages) >= len(StageOrder) {
		return "", false
	}
	return StageOrder[len(c.CompletedStages)], true
}

// clone returns a deep copy. The engine hands each stage attempt a
// clone so a handler abandoned at its timeout keeps writing to its own
// copy instead of racing the next attempt.
func (c *Context) clone() *Context {
	cp := *c
	cp.Signals = append([]Signal(nil), c.Signals...)
	cp.Documents = append([]string(nil), c.Documents...)
	cp.CompletedStages = append([]Stage(nil), c.CompletedStages...)
	if c.Intake != nil {
		intake := *c.Intake
		cp.Intake = &intake
	}
	if c.Issue != nil {
		issue := *c.Issue
		cp.Issue = &issue
	}
	if c.Verification != nil {
		verification := *c.Verification
		verification.Documents = append([]DocumentCheck(nil), c.Verification.Documents...)
		cp.Verification = &verification
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Meta reads a metadata value, tolerating a nil map.
func (c *Context) Meta(key string) (any, bool) {
	v, ok := c.Metadata[key]
	return v, ok
}

// SetMeta writes a metadata value, allocating the map on first use.
func (c *Context) SetMeta(key string, value any) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunConverged RunState = "converged"
	RunAborted   RunState = "aborted"
	RunFailed    RunState = "failed"
)

// Terminal reports whether a state permits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunConverged || s == RunAborted || s == RunFailed
}

// Well-known termination reasons recorded on terminal transitions.
const (
	ReasonBudgetExhausted = "budget-exhausted"
	ReasonAbortRequested  = "abort-requested"
)

// Run is one execution of a simulation. State transitions into a terminal
// state exactly once; terminal runs are immutable apart from appended
// outcome and audit records.
type Run struct {
	ID           uuid.UUID `json:"id"`
	OrgID        uuid.UUID `json:"org_id"`
	SimulationID uuid.UUID `json:"simulation_id"`
	State        RunState  `json:"state"`
	// TurnCount is the sequence number of the most recent turn (0 before
	// the first step). The next turn gets sequence TurnCount+1.
	TurnCount       int64      `json:"turn_count"`
	BudgetRemaining int        `json:"budget_remaining"`
	Reason          *string    `json:"reason,omitempty"`
	AbortRequested  bool       `json:"abort_requested"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`

	// Claim is the per-run exclusivity token. Nil when no step or abort is
	// in flight. Stored alongside run state so independent processes agree
	// on ownership without a shared lock table.
	Claim *RunClaim `json:"claim,omitempty"`
}

// RunClaim identifies the caller currently holding exclusive access to a run.
type RunClaim struct {
	Owner     uuid.UUID `json:"owner"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Turn is one agent's recorded action at a sequence position within a run.
// Append-only: never edited or deleted; Seq is the sole ordering key and is
// gapless starting at 1.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	OrgID     uuid.UUID `json:"org_id"`
	Seq       int64     `json:"seq"`
	AgentRole string    `json:"agent_role"`
	Content   string    `json:"content"`
	// FeedbackID references the most recent feedback visible when this turn
	// was produced, if any. Past turns never acquire later feedback.
	FeedbackID *uuid.UUID `json:"feedback_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Feedback is a caller-supplied note attached to a run. It becomes visible
// context for turns produced after it and never alters earlier turns.
type Feedback struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	OrgID uuid.UUID `json:"org_id"`
	// Seq orders feedback by insertion within a run.
	Seq int64 `json:"seq"`
	// AfterTurn is the run's turn count when the feedback was posted. A
	// turn with sequence s sees feedback where AfterTurn < s.
	AfterTurn int64     `json:"after_turn"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Metric is a named measurement derived from a turn, keyed by
// (run, turn sequence, name). Immutable once written.
type Metric struct {
	RunID     uuid.UUID `json:"run_id"`
	OrgID     uuid.UUID `json:"org_id"`
	TurnSeq   int64     `json:"turn_seq"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Label     *string   `json:"label,omitempty"` // set for categorical measurements
	CreatedAt time.Time `json:"created_at"`
}

// OutcomeTrigger records what produced an outcome.
type OutcomeTrigger string

const (
	OutcomeTriggerConvergence OutcomeTrigger = "convergence"
	OutcomeTriggerTermination OutcomeTrigger = "termination"
	OutcomeTriggerSummarize   OutcomeTrigger = "summarize"
)

// Outcome is a summarizing judgment about a run's trajectory. Outcomes are
// appended, never replaced: a regenerated summary is a new record and prior
// ones are retained for audit.
type Outcome struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	OrgID     uuid.UUID      `json:"org_id"`
	Trigger   OutcomeTrigger `json:"trigger"`
	Converged bool           `json:"converged"`
	Reason    string         `json:"reason,omitempty"`
	TurnCount int64          `json:"turn_count"`
	Summary   string         `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
}

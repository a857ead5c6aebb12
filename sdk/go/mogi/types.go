package mogi

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SimulationStatus is the lifecycle state of a simulation definition.
type SimulationStatus string

const (
	SimulationActive   SimulationStatus = "active"
	SimulationArchived SimulationStatus = "archived"
)

// PolicyKind selects the convergence rule for a simulation's runs.
type PolicyKind string

const (
	PolicyFixedTurnCount  PolicyKind = "fixed_turn_count"
	PolicyMetricThreshold PolicyKind = "metric_threshold"
	PolicyAgreement       PolicyKind = "agreement"
)

// ThresholdDirection says which side of a metric bound counts as crossed.
type ThresholdDirection string

const (
	ThresholdAbove ThresholdDirection = "above"
	ThresholdBelow ThresholdDirection = "below"
)

// Policy is a simulation's convergence policy.
type Policy struct {
	Kind PolicyKind `json:"kind"`

	// TurnCount applies to fixed_turn_count policies.
	TurnCount int64 `json:"turn_count,omitempty"`

	// MetricName, Threshold, and Direction apply to metric_threshold policies.
	MetricName string             `json:"metric_name,omitempty"`
	Threshold  float64            `json:"threshold,omitempty"`
	Direction  ThresholdDirection `json:"direction,omitempty"`
}

// AgentSpec is one participating agent role in a simulation's roster.
// The roster order is the turn rotation order.
type AgentSpec struct {
	Role  string `json:"role"`
	Brief string `json:"brief,omitempty"`
}

// Simulation is a scenario definition: the agent roster, the convergence
// policy, and the default step budget for its runs.
type Simulation struct {
	ID            uuid.UUID        `json:"id"`
	OrgID         uuid.UUID        `json:"org_id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Roster        []AgentSpec      `json:"roster"`
	Policy        Policy           `json:"policy"`
	StepBudget    int              `json:"step_budget"`
	Status        SimulationStatus `json:"status"`
	ArchiveReason *string          `json:"archive_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ArchivedAt    *time.Time       `json:"archived_at,omitempty"`
}

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

// RunClaim identifies the caller currently holding exclusive access to a run.
type RunClaim struct {
	Owner     uuid.UUID `json:"owner"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Run is one execution of a simulation.
type Run struct {
	ID              uuid.UUID  `json:"id"`
	OrgID           uuid.UUID  `json:"org_id"`
	SimulationID    uuid.UUID  `json:"simulation_id"`
	State           RunState   `json:"state"`
	TurnCount       int64      `json:"turn_count"`
	BudgetRemaining int        `json:"budget_remaining"`
	Reason          *string    `json:"reason,omitempty"`
	AbortRequested  bool       `json:"abort_requested"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Claim           *RunClaim  `json:"claim,omitempty"`
}

// Turn is one agent's recorded action at a sequence position within a run.
type Turn struct {
	ID         uuid.UUID  `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	OrgID      uuid.UUID  `json:"org_id"`
	Seq        int64      `json:"seq"`
	AgentRole  string     `json:"agent_role"`
	Content    string     `json:"content"`
	FeedbackID *uuid.UUID `json:"feedback_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Feedback is a moderator note attached to a run. It becomes visible
// context for turns produced after it and never alters earlier turns.
type Feedback struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	OrgID     uuid.UUID `json:"org_id"`
	Seq       int64     `json:"seq"`
	AfterTurn int64     `json:"after_turn"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Metric is a named measurement derived from a turn.
type Metric struct {
	RunID     uuid.UUID `json:"run_id"`
	OrgID     uuid.UUID `json:"org_id"`
	TurnSeq   int64     `json:"turn_seq"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Label     *string   `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OutcomeTrigger records what produced an outcome.
type OutcomeTrigger string

const (
	OutcomeTriggerConvergence OutcomeTrigger = "convergence"
	OutcomeTriggerTermination OutcomeTrigger = "termination"
	OutcomeTriggerSummarize   OutcomeTrigger = "summarize"
)

// Outcome is a summarizing judgment about a run's trajectory.
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

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"org_id"`
	SimulationID *uuid.UUID     `json:"simulation_id,omitempty"`
	RunID        *uuid.UUID     `json:"run_id,omitempty"`
	EventType    string         `json:"event_type"`
	Actor        string         `json:"actor"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Actor is an authenticated identity within an organization.
type Actor struct {
	ID        uuid.UUID `json:"id"`
	ActorID   string    `json:"actor_id"`
	OrgID     uuid.UUID `json:"org_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunDigest is the tamper-evidence digest of a run's transcript.
type RunDigest struct {
	RunID     uuid.UUID `json:"run_id"`
	TurnCount int       `json:"turn_count"`
	Algorithm string    `json:"algorithm"`
	RootHash  string    `json:"root_hash"`
}

// HealthResponse is the server's liveness report.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage"`
	Uptime  int64  `json:"uptime_seconds"`
}

// Duration marshals as a quoted Go duration string ("30s"), the format the
// server accepts for per-request timeouts.
type Duration time.Duration

// MarshalJSON renders the duration as a quoted Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

// UnmarshalJSON accepts either a quoted duration string or a number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		parsed, err := time.ParseDuration(string(b[1 : len(b)-1]))
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if _, err := fmt.Sscan(string(b), &ns); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// --- Request types ---

// CreateSimulationRequest is the input for Client.CreateSimulation.
type CreateSimulationRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Roster      []AgentSpec `json:"roster"`
	Policy      Policy      `json:"policy"`
	StepBudget  int         `json:"step_budget"`
}

// UpdateSimulationRequest is the input for Client.UpdateSimulation.
// Nil fields are left unchanged.
type UpdateSimulationRequest struct {
	Name        *string     `json:"name,omitempty"`
	Description *string     `json:"description,omitempty"`
	Roster      []AgentSpec `json:"roster,omitempty"`
	Policy      *Policy     `json:"policy,omitempty"`
	StepBudget  *int        `json:"step_budget,omitempty"`
}

// StartRunRequest is the input for Client.StartRun.
type StartRunRequest struct {
	// StepBudget overrides the simulation's default budget when positive.
	StepBudget int `json:"step_budget,omitempty"`
}

// StepRequest is the input for Client.StepRun.
type StepRequest struct {
	// ProviderTimeout bounds the action provider call for this step.
	// Zero means the server default.
	ProviderTimeout Duration `json:"provider_timeout,omitempty"`
}

// StepResult is the result of a single step.
type StepResult struct {
	Run Run `json:"run"`
	// Turn is nil when the step terminated the run without producing one.
	Turn *Turn `json:"turn,omitempty"`
}

// DriveRequest is the input for Client.DriveRun. MaxSteps and MaxDuration
// are caller-side safety valves, distinct from the run's own step budget.
type DriveRequest struct {
	MaxSteps        int      `json:"max_steps,omitempty"`
	MaxDuration     Duration `json:"max_duration,omitempty"`
	ProviderTimeout Duration `json:"provider_timeout,omitempty"`
}

// DriveResult is the result of running a run to completion.
type DriveResult struct {
	Run           Run   `json:"run"`
	StepsExecuted int   `json:"steps_executed"`
	Turns         int64 `json:"turns"`
}

// CreateActorRequest is the input for Client.CreateActor. Requires admin role.
type CreateActorRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	APIKey  string `json:"api_key"`
}

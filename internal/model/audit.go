package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType categorizes audit log entries.
type AuditEventType string

const (
	// Simulation registry events.
	AuditSimulationCreated  AuditEventType = "simulation.created"
	AuditSimulationUpdated  AuditEventType = "simulation.updated"
	AuditSimulationArchived AuditEventType = "simulation.archived"

	// Run lifecycle events, exactly one per state transition.
	AuditRunCreated AuditEventType = "run.created"
	AuditRunStarted AuditEventType = "run.started"
	AuditRunStepped AuditEventType = "run.stepped"
	AuditRunFedBack AuditEventType = "run.fed_back"
	// AuditAbortRequested records an abort that could not claim the run and
	// was deferred to the in-flight step's checkpoint. Not a state
	// transition; the eventual run.aborted entry is.
	AuditAbortRequested AuditEventType = "run.abort_requested"
	AuditRunConverged   AuditEventType = "run.converged"
	AuditRunAborted     AuditEventType = "run.aborted"
	AuditRunFailed      AuditEventType = "run.failed"

	// Directory events.
	AuditActorCreated AuditEventType = "actor.created"
	AuditActorDeleted AuditEventType = "actor.deleted"

	// Step degradation events. These record that a step proceeded with
	// reduced observability, not that the run failed.
	AuditStepProviderError      AuditEventType = "step.provider_error"
	AuditStepDegradedMetrics    AuditEventType = "step.degraded_metrics"
	AuditStepDegradedEvaluation AuditEventType = "step.degraded_evaluation"

	// Outcome events.
	AuditOutcomeSummarized AuditEventType = "outcome.summarized"
)

// AuditEntry is an append-only compliance record. Never mutated or deleted;
// the definitive record for replaying what happened to a run.
type AuditEntry struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"org_id"`
	SimulationID *uuid.UUID     `json:"simulation_id,omitempty"`
	RunID        *uuid.UUID     `json:"run_id,omitempty"`
	EventType    AuditEventType `json:"event_type"`
	Actor        string         `json:"actor"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	SimulationID *uuid.UUID
	RunID        *uuid.UUID
	EventType    *AuditEventType
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

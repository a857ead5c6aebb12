package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// MaxClaimAge is how long a run claim stays authoritative. A claim older
// than this belongs to a caller that died mid-step (claims are otherwise
// released on every exit path) and may be taken over. Any late mutation
// from the original holder then fails with ErrClaimLost.
const MaxClaimAge = 5 * time.Minute

// Store is the persistence boundary for the run engine. Implementations
// must provide org-scoped reads, the ordering and uniqueness guarantees of
// the ledger, and atomic application of the bundled mutations: either every
// record in a mutation is durable or none is.
//
// Two implementations exist: Postgres (internal/storage) and in-memory
// (internal/memstore, used by tests and single-process dev mode).
type Store interface {
	// Simulations. Mutations carry their audit entries so the registry
	// write and its compliance record commit together.
	CreateSimulation(ctx context.Context, sim model.Simulation, audit []model.AuditEntry) error
	GetSimulation(ctx context.Context, orgID, id uuid.UUID) (model.Simulation, error)
	// UpdateSimulation replaces the mutable definition fields. Fails with
	// ErrSimulationReferenced once any run exists, and with
	// ErrSimulationArchived after archival.
	UpdateSimulation(ctx context.Context, sim model.Simulation, audit []model.AuditEntry) error
	ArchiveSimulation(ctx context.Context, orgID, id uuid.UUID, reason string, audit []model.AuditEntry) (model.Simulation, error)
	ListSimulations(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]model.Simulation, int, error)

	// Runs.
	CreateRun(ctx context.Context, run model.Run, audit []model.AuditEntry) error
	GetRun(ctx context.Context, orgID, id uuid.UUID) (model.Run, error)
	ListRuns(ctx context.Context, orgID, simulationID uuid.UUID, limit, offset int) ([]model.Run, int, error)

	// ClaimRun atomically acquires the run's exclusivity claim for owner.
	// Fails fast: ErrRunBusy when another claim is live and younger than
	// MaxClaimAge, ErrRunNotRunning when the run is not in the running
	// state, ErrRunNotFound otherwise. A claim past MaxClaimAge is taken
	// over. Returns the run snapshot as of the claim.
	ClaimRun(ctx context.Context, orgID, runID, owner uuid.UUID, now time.Time) (model.Run, error)
	// ReleaseRun drops the claim if owner still holds it. Used on error
	// paths that never reach an atomic mutation; releasing an already-lost
	// claim is not an error.
	ReleaseRun(ctx context.Context, orgID, runID, owner uuid.UUID) error
	// RequestAbort sets the abort flag without claiming. The in-flight
	// step observes it at the post-append checkpoint.
	RequestAbort(ctx context.Context, orgID, runID uuid.UUID, audit []model.AuditEntry) (model.Run, error)
	// FinishRun performs a terminal transition under an already-held claim
	// and releases the claim in the same mutation.
	FinishRun(ctx context.Context, fin FinishMutation) (model.Run, error)
	// ApplyStep applies one step's full effect atomically: turn append
	// (with gapless-sequence enforcement), metrics, run-state update,
	// optional outcome, audit entries, and claim release. Returns the
	// updated run.
	ApplyStep(ctx context.Context, mut StepMutation) (model.Run, error)

	// Ledger reads. Turns are keyed and paginated by sequence number so a
	// cursor stays stable under concurrent appends.
	ListTurns(ctx context.Context, orgID, runID uuid.UUID, afterSeq int64, limit int) ([]model.Turn, error)
	// CreateFeedback assigns the feedback's Seq and AfterTurn from current
	// run state atomically with the insert. Fails with ErrRunNotRunning
	// once the run is terminal.
	CreateFeedback(ctx context.Context, fb model.Feedback, audit []model.AuditEntry) (model.Feedback, error)
	// ListFeedback returns feedback posted after the given turn count, in
	// insertion order. afterTurn < 0 lists all.
	ListFeedback(ctx context.Context, orgID, runID uuid.UUID, afterTurn int64) ([]model.Feedback, error)
	ListMetrics(ctx context.Context, orgID, runID uuid.UUID, afterSeq int64, limit int) ([]model.Metric, error)

	// Outcomes are append-only; regenerated summaries become new records.
	CreateOutcome(ctx context.Context, out model.Outcome, audit []model.AuditEntry) error
	ListOutcomes(ctx context.Context, orgID, runID uuid.UUID, limit, offset int) ([]model.Outcome, int, error)

	// Audit listing. Appends happen only through the mutations above so
	// that no transition can commit without its entry.
	ListAudit(ctx context.Context, orgID uuid.UUID, filter model.AuditFilter) ([]model.AuditEntry, int, error)
}

// StepMutation is the atomic effect of one step. Turn is nil when the
// provider call failed and the step only consumes budget.
type StepMutation struct {
	OrgID uuid.UUID
	RunID uuid.UUID
	// Owner must match the live claim or the mutation fails with
	// ErrClaimLost and applies nothing.
	Owner uuid.UUID

	Turn    *model.Turn
	Metrics []model.Metric

	State           model.RunState
	BudgetRemaining int
	Reason          *string
	EndedAt         *time.Time

	Outcome *model.Outcome
	Audit   []model.AuditEntry

	// AbortOverride is consulted inside the mutation: if the run's abort
	// flag is set and State would remain running, the store applies this
	// terminal transition instead (after the turn is durably appended).
	AbortOverride *AbortOverride
}

// AbortOverride is the terminal transition a step applies when it observes
// a pending abort at its checkpoint.
type AbortOverride struct {
	Reason  string
	Outcome *model.Outcome
	Audit   model.AuditEntry
}

// FinishMutation is a claimed terminal transition (used by abort).
type FinishMutation struct {
	OrgID   uuid.UUID
	RunID   uuid.UUID
	Owner   uuid.UUID
	State   model.RunState
	Reason  string
	EndedAt time.Time
	Outcome *model.Outcome
	Audit   []model.AuditEntry
}

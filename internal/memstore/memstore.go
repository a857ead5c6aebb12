// Package memstore provides an in-memory engine.Store for tests and
// single-process development mode (MOGI_STORAGE=memory).
//
// A single mutex guards all state, which makes every mutation trivially
// atomic and gives the same all-or-nothing semantics the Postgres store
// gets from transactions. Reads return copies so callers cannot reach into
// shared state.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

// Store is an in-memory implementation of engine.Store.
type Store struct {
	mu sync.Mutex

	simulations map[uuid.UUID]model.Simulation
	runs        map[uuid.UUID]model.Run
	turns       map[uuid.UUID][]model.Turn     // keyed by run ID, ordered by Seq
	feedback    map[uuid.UUID][]model.Feedback // keyed by run ID, ordered by Seq
	metrics     map[uuid.UUID][]model.Metric   // keyed by run ID, insertion order
	outcomes    map[uuid.UUID][]model.Outcome  // keyed by run ID, insertion order
	audit       []model.AuditEntry

	organizations map[uuid.UUID]model.Organization
	actors        map[uuid.UUID]model.Actor
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		simulations: make(map[uuid.UUID]model.Simulation),
		runs:        make(map[uuid.UUID]model.Run),
		turns:       make(map[uuid.UUID][]model.Turn),
		feedback:    make(map[uuid.UUID][]model.Feedback),
		metrics:     make(map[uuid.UUID][]model.Metric),
		outcomes:    make(map[uuid.UUID][]model.Outcome),

		organizations: make(map[uuid.UUID]model.Organization),
		actors:        make(map[uuid.UUID]model.Actor),
	}
}

var _ engine.Store = (*Store)(nil)

// Ping reports connectivity. The in-memory store is always reachable.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) CreateSimulation(_ context.Context, sim model.Simulation, audit []model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.simulations[sim.ID] = sim
	s.audit = append(s.audit, audit...)
	return nil
}

func (s *Store) GetSimulation(_ context.Context, orgID, id uuid.UUID) (model.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSimulationLocked(orgID, id)
}

func (s *Store) getSimulationLocked(orgID, id uuid.UUID) (model.Simulation, error) {
	sim, ok := s.simulations[id]
	if !ok || sim.OrgID != orgID {
		return model.Simulation{}, engine.ErrSimulationNotFound
	}
	return sim, nil
}

func (s *Store) UpdateSimulation(_ context.Context, sim model.Simulation, audit []model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.simulations[sim.ID]
	if !ok || current.OrgID != sim.OrgID {
		return engine.ErrSimulationNotFound
	}
	if current.Status == model.SimulationArchived {
		return engine.ErrSimulationArchived
	}
	for _, run := range s.runs {
		if run.SimulationID == sim.ID {
			return engine.ErrSimulationReferenced
		}
	}

	s.simulations[sim.ID] = sim
	s.audit = append(s.audit, audit...)
	return nil
}

func (s *Store) ArchiveSimulation(_ context.Context, orgID, id uuid.UUID, reason string, audit []model.AuditEntry) (model.Simulation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, err := s.getSimulationLocked(orgID, id)
	if err != nil {
		return model.Simulation{}, err
	}
	if sim.Status == model.SimulationArchived {
		return model.Simulation{}, engine.ErrSimulationArchived
	}

	now := time.Now().UTC()
	sim.Status = model.SimulationArchived
	sim.ArchivedAt = &now
	sim.UpdatedAt = now
	if reason != "" {
		sim.ArchiveReason = &reason
	}
	s.simulations[id] = sim
	s.audit = append(s.audit, audit...)
	return sim, nil
}

func (s *Store) ListSimulations(_ context.Context, orgID uuid.UUID, limit, offset int) ([]model.Simulation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]model.Simulation, 0, len(s.simulations))
	for _, sim := range s.simulations {
		if sim.OrgID == orgID {
			all = append(all, sim)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, limit, offset), len(all), nil
}

func (s *Store) CreateRun(_ context.Context, run model.Run, audit []model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sim, ok := s.simulations[run.SimulationID]; !ok || sim.OrgID != run.OrgID {
		return engine.ErrSimulationNotFound
	}
	s.runs[run.ID] = run
	s.audit = append(s.audit, audit...)
	return nil
}

func (s *Store) GetRun(_ context.Context, orgID, id uuid.UUID) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRunLocked(orgID, id)
}

func (s *Store) getRunLocked(orgID, id uuid.UUID) (model.Run, error) {
	run, ok := s.runs[id]
	if !ok || run.OrgID != orgID {
		return model.Run{}, engine.ErrRunNotFound
	}
	return run, nil
}

func (s *Store) ListRuns(_ context.Context, orgID, simulationID uuid.UUID, limit, offset int) ([]model.Run, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.Run
	for _, run := range s.runs {
		if run.OrgID == orgID && run.SimulationID == simulationID {
			all = append(all, run)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	return page(all, limit, offset), len(all), nil
}

func (s *Store) ClaimRun(_ context.Context, orgID, runID, owner uuid.UUID, now time.Time) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunLocked(orgID, runID)
	if err != nil {
		return model.Run{}, err
	}
	if run.State != model.RunRunning {
		return model.Run{}, engine.ErrRunNotRunning
	}
	// A claim past MaxClaimAge belongs to a dead caller and is taken over.
	if run.Claim != nil && now.Sub(run.Claim.ClaimedAt) <= engine.MaxClaimAge {
		return model.Run{}, engine.ErrRunBusy
	}

	run.Claim = &model.RunClaim{Owner: owner, ClaimedAt: now}
	s.runs[runID] = run
	return run, nil
}

func (s *Store) ReleaseRun(_ context.Context, orgID, runID, owner uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunLocked(orgID, runID)
	if err != nil {
		return err
	}
	if run.Claim == nil || run.Claim.Owner != owner {
		return nil // already released or reclaimed; not an error
	}
	run.Claim = nil
	s.runs[runID] = run
	return nil
}

func (s *Store) RequestAbort(_ context.Context, orgID, runID uuid.UUID, audit []model.AuditEntry) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunLocked(orgID, runID)
	if err != nil {
		return model.Run{}, err
	}
	if run.State != model.RunRunning {
		return model.Run{}, engine.ErrRunNotRunning
	}

	run.AbortRequested = true
	s.runs[runID] = run
	s.audit = append(s.audit, audit...)
	return run, nil
}

func (s *Store) FinishRun(_ context.Context, fin engine.FinishMutation) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunLocked(fin.OrgID, fin.RunID)
	if err != nil {
		return model.Run{}, err
	}
	if run.Claim == nil || run.Claim.Owner != fin.Owner {
		return model.Run{}, engine.ErrClaimLost
	}
	if run.State.Terminal() {
		return model.Run{}, engine.ErrRunAlreadyTerminal
	}

	reason := fin.Reason
	endedAt := fin.EndedAt
	run.State = fin.State
	run.Reason = &reason
	run.EndedAt = &endedAt
	run.AbortRequested = false
	run.Claim = nil
	s.runs[fin.RunID] = run

	if fin.Outcome != nil {
		s.outcomes[fin.RunID] = append(s.outcomes[fin.RunID], *fin.Outcome)
	}
	s.audit = append(s.audit, fin.Audit...)
	return run, nil
}

func (s *Store) ApplyStep(_ context.Context, mut engine.StepMutation) (model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunLocked(mut.OrgID, mut.RunID)
	if err != nil {
		return model.Run{}, err
	}
	if run.Claim == nil || run.Claim.Owner != mut.Owner {
		return model.Run{}, engine.ErrClaimLost
	}

	if mut.Turn != nil {
		existing := s.turns[mut.RunID]
		var lastSeq int64
		if len(existing) > 0 {
			lastSeq = existing[len(existing)-1].Seq
		}
		if mut.Turn.Seq != lastSeq+1 {
			return model.Run{}, engine.ErrSequenceGap
		}
		s.turns[mut.RunID] = append(existing, *mut.Turn)
		run.TurnCount = mut.Turn.Seq
	}

	s.metrics[mut.RunID] = append(s.metrics[mut.RunID], mut.Metrics...)

	run.State = mut.State
	run.BudgetRemaining = mut.BudgetRemaining
	run.Reason = mut.Reason
	run.EndedAt = mut.EndedAt

	outcome := mut.Outcome
	auditEntries := mut.Audit

	// Consume a pending abort only if the step itself leaves the run
	// running; convergence and budget exhaustion take precedence.
	if run.AbortRequested && mut.State == model.RunRunning && mut.AbortOverride != nil {
		run.State = model.RunAborted
		reason := mut.AbortOverride.Reason
		run.Reason = &reason
		endedAt := time.Now().UTC()
		run.EndedAt = &endedAt
		outcome = mut.AbortOverride.Outcome
		auditEntries = append(auditEntries, mut.AbortOverride.Audit)
	}
	if run.State.Terminal() {
		run.AbortRequested = false
	}

	run.Claim = nil
	s.runs[mut.RunID] = run

	if outcome != nil {
		s.outcomes[mut.RunID] = append(s.outcomes[mut.RunID], *outcome)
	}
	s.audit = append(s.audit, auditEntries...)
	return run, nil
}

func (s *Store) ListTurns(_ context.Context, orgID, runID uuid.UUID, afterSeq int64, limit int) ([]model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getRunLocked(orgID, runID); err != nil {
		return nil, err
	}
	var out []model.Turn
	for _, t := range s.turns[runID] {
		if t.Seq > afterSeq {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreateFeedback(_ context.Context, fb model.Feedback, audit []model.AuditEntry) (model.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getRunLocked(fb.OrgID, fb.RunID)
	if err != nil {
		return model.Feedback{}, err
	}
	if run.State != model.RunPending && run.State != model.RunRunning {
		return model.Feedback{}, engine.ErrRunNotRunning
	}

	fb.Seq = int64(len(s.feedback[fb.RunID])) + 1
	fb.AfterTurn = run.TurnCount
	s.feedback[fb.RunID] = append(s.feedback[fb.RunID], fb)
	s.audit = append(s.audit, audit...)
	return fb, nil
}

func (s *Store) ListFeedback(_ context.Context, orgID, runID uuid.UUID, afterTurn int64) ([]model.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getRunLocked(orgID, runID); err != nil {
		return nil, err
	}
	var out []model.Feedback
	for _, fb := range s.feedback[runID] {
		if afterTurn < 0 || fb.AfterTurn > afterTurn {
			out = append(out, fb)
		}
	}
	return out, nil
}

func (s *Store) ListMetrics(_ context.Context, orgID, runID uuid.UUID, afterSeq int64, limit int) ([]model.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getRunLocked(orgID, runID); err != nil {
		return nil, err
	}
	var out []model.Metric
	for _, m := range s.metrics[runID] {
		if m.TurnSeq > afterSeq {
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreateOutcome(_ context.Context, out model.Outcome, audit []model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getRunLocked(out.OrgID, out.RunID); err != nil {
		return err
	}
	s.outcomes[out.RunID] = append(s.outcomes[out.RunID], out)
	s.audit = append(s.audit, audit...)
	return nil
}

func (s *Store) ListOutcomes(_ context.Context, orgID, runID uuid.UUID, limit, offset int) ([]model.Outcome, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getRunLocked(orgID, runID); err != nil {
		return nil, 0, err
	}
	all := append([]model.Outcome(nil), s.outcomes[runID]...)
	return page(all, limit, offset), len(all), nil
}

func (s *Store) ListAudit(_ context.Context, orgID uuid.UUID, filter model.AuditFilter) ([]model.AuditEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []model.AuditEntry
	for _, e := range s.audit {
		if e.OrgID != orgID {
			continue
		}
		if filter.SimulationID != nil && (e.SimulationID == nil || *e.SimulationID != *filter.SimulationID) {
			continue
		}
		if filter.RunID != nil && (e.RunID == nil || *e.RunID != *filter.RunID) {
			continue
		}
		if filter.EventType != nil && e.EventType != *filter.EventType {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.CreatedAt.After(*filter.Until) {
			continue
		}
		all = append(all, e)
	}
	return page(all, filter.Limit, filter.Offset), len(all), nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil
	}
	rest := all[offset:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	return append([]T(nil), rest...)
}

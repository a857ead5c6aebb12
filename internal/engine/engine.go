// Package engine implements the run execution state machine: lifecycle,
// per-run step serialization, feedback injection, budget enforcement, and
// the append-only audit trail.
//
// Both the HTTP API and MCP server delegate to the Controller, eliminating
// duplicated logic and ensuring consistent behavior (claim handling, metric
// aggregation, convergence evaluation, transactional writes) across all
// interfaces. The Controller is the sole writer of run state; reads go
// straight to the Store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/mogi/internal/convergence"
	"github.com/ashita-ai/mogi/internal/ctxutil"
	"github.com/ashita-ai/mogi/internal/metrics"
	"github.com/ashita-ai/mogi/internal/model"
	"github.com/ashita-ai/mogi/internal/provider"
	"github.com/ashita-ai/mogi/internal/telemetry"
)

// DefaultProviderTimeout bounds the action provider call within a step when
// the caller does not override it.
const DefaultProviderTimeout = 60 * time.Second

// Options configure a Controller.
type Options struct {
	// ProviderTimeout is the default per-step bound on the action provider
	// call. Callers may override it per request.
	ProviderTimeout time.Duration
	// Clock supplies timestamps. Overridden in tests.
	Clock func() time.Time
}

// Controller owns the run lifecycle. All mutating operations funnel through
// it; every state transition it makes carries its audit entry in the same
// store mutation.
type Controller struct {
	store    Store
	provider provider.ActionProvider
	logger   *slog.Logger
	opts     Options

	stepDuration     metric.Float64Histogram
	providerDuration metric.Float64Histogram

	summarizeGroup singleflight.Group
}

// New creates a Controller backed by the given store and action provider.
func New(store Store, prov provider.ActionProvider, logger *slog.Logger, optFns ...func(o *Options)) *Controller {
	opts := Options{
		ProviderTimeout: DefaultProviderTimeout,
		Clock:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	meter := telemetry.Meter("mogi/engine")
	stepDur, _ := meter.Float64Histogram("mogi.step.duration",
		metric.WithDescription("Time to execute one run step (ms)"),
		metric.WithUnit("ms"),
	)
	provDur, _ := meter.Float64Histogram("mogi.provider.duration",
		metric.WithDescription("Time spent in the action provider per step (ms)"),
		metric.WithUnit("ms"),
	)
	return &Controller{
		store:            store,
		provider:         prov,
		logger:           logger,
		opts:             opts,
		stepDuration:     stepDur,
		providerDuration: provDur,
	}
}

// StartRun creates a run for an active simulation and moves it to running.
// The step budget comes from the simulation definition unless the request
// overrides it.
func (c *Controller) StartRun(ctx context.Context, orgID, simulationID uuid.UUID, req model.StartRunRequest) (model.Run, error) {
	sim, err := c.store.GetSimulation(ctx, orgID, simulationID)
	if err != nil {
		return model.Run{}, err
	}
	if sim.Status == model.SimulationArchived {
		return model.Run{}, ErrSimulationArchived
	}

	budget := sim.StepBudget
	if req.StepBudget != 0 {
		if req.StepBudget < 0 || req.StepBudget > model.MaxStepBudget {
			return model.Run{}, fmt.Errorf("%w: step_budget must be between 1 and %d", ErrInvalidArgument, model.MaxStepBudget)
		}
		budget = req.StepBudget
	}

	now := c.opts.Clock().UTC()
	run := model.Run{
		ID:              uuid.New(),
		OrgID:           orgID,
		SimulationID:    simulationID,
		State:           model.RunRunning, // pending is transient; created and started commit together
		BudgetRemaining: budget,
		StartedAt:       now,
	}
	audit := []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditRunCreated, &simulationID, &run.ID, map[string]any{
			"step_budget": budget,
			"state":       string(model.RunPending),
		}),
		c.auditEntry(ctx, orgID, model.AuditRunStarted, &simulationID, &run.ID, map[string]any{
			"state": string(model.RunRunning),
		}),
	}
	if err := c.store.CreateRun(ctx, run, audit); err != nil {
		return model.Run{}, err
	}

	c.logger.Info("run started",
		"run_id", run.ID,
		"simulation_id", simulationID,
		"step_budget", budget,
	)
	return run, nil
}

// Step executes one turn of a run: claims the run, selects the next agent in
// rotation, invokes the action provider with the full history plus visible
// feedback, appends the turn, aggregates metrics, evaluates convergence, and
// applies the whole effect atomically. The claim is released on every exit
// path.
//
// On provider failure the step consumes budget but appends no turn; the
// returned result carries the updated run alongside the wrapped
// ErrProviderFailure so callers can see the budget drain.
func (c *Controller) Step(ctx context.Context, orgID, runID uuid.UUID, req model.StepRequest) (model.StepResult, error) {
	start := c.opts.Clock()
	owner := uuid.New()

	run, err := c.store.ClaimRun(ctx, orgID, runID, owner, start.UTC())
	if err != nil {
		return model.StepResult{}, err
	}
	// Error paths before the atomic mutation must not leave the run claimed.
	applied := false
	defer func() {
		if !applied {
			if relErr := c.store.ReleaseRun(context.WithoutCancel(ctx), orgID, runID, owner); relErr != nil {
				c.logger.Error("step: claim release failed", "run_id", runID, "error", relErr)
			}
		}
	}()

	sim, err := c.store.GetSimulation(ctx, orgID, run.SimulationID)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("engine: step: load simulation: %w", err)
	}

	seq := run.TurnCount + 1
	agent := sim.AgentAt(seq)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("mogi.run_id", runID.String()),
		attribute.Int64("mogi.seq", seq),
		attribute.String("mogi.agent_role", agent.Role),
	)

	history, err := c.store.ListTurns(ctx, orgID, runID, 0, 0)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("engine: step: load turns: %w", err)
	}
	feedback, err := c.store.ListFeedback(ctx, orgID, runID, -1)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("engine: step: load feedback: %w", err)
	}

	timeout := c.opts.ProviderTimeout
	if req.ProviderTimeout > 0 {
		timeout = req.ProviderTimeout.Std()
	}
	provCtx, cancel := context.WithTimeout(ctx, timeout)
	provStart := c.opts.Clock()
	action, provErr := c.provider.ProduceAction(provCtx, provider.Request{
		Simulation: sim,
		Agent:      agent,
		Seq:        seq,
		History:    history,
		Feedback:   feedback,
	})
	cancel()
	c.providerDuration.Record(ctx, float64(c.opts.Clock().Sub(provStart).Milliseconds()))

	now := c.opts.Clock().UTC()
	budgetAfter := run.BudgetRemaining - 1

	if provErr != nil {
		res, aerr := c.applyProviderFailure(ctx, run, owner, seq, agent.Role, budgetAfter, now, provErr)
		if aerr != nil {
			return model.StepResult{}, aerr
		}
		applied = true
		c.stepDuration.Record(ctx, float64(c.opts.Clock().Sub(start).Milliseconds()))
		return res, fmt.Errorf("engine: step run %s seq %d: %w: %v", runID, seq, ErrProviderFailure, provErr)
	}

	content := action.Content
	if len(content) > model.MaxTurnLen {
		c.logger.Debug("step: truncating oversized turn", "run_id", runID, "seq", seq, "len", len(content))
		content = content[:model.MaxTurnLen]
	}
	turn := model.Turn{
		ID:        uuid.New(),
		RunID:     runID,
		OrgID:     orgID,
		Seq:       seq,
		AgentRole: agent.Role,
		Content:   content,
		CreatedAt: now,
	}
	if len(feedback) > 0 {
		turn.FeedbackID = &feedback[len(feedback)-1].ID
	}

	prior, err := c.store.ListMetrics(ctx, orgID, runID, 0, 0)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("engine: step: load metrics: %w", err)
	}

	var prevTurn *model.Turn
	if len(history) > 0 {
		prevTurn = &history[len(history)-1]
	}

	auditEntries := []model.AuditEntry{}

	turnMetrics, merr := metrics.Compute(turn, prevTurn, prior)
	if merr != nil {
		// Metrics are observability, not correctness. The turn still lands.
		c.logger.Warn("step: metric aggregation degraded", "run_id", runID, "seq", seq, "error", merr)
		turnMetrics = nil
		auditEntries = append(auditEntries, c.auditEntry(ctx, orgID, model.AuditStepDegradedMetrics, &run.SimulationID, &runID, map[string]any{
			"seq":   seq,
			"error": merr.Error(),
		}))
	}
	for i := range turnMetrics {
		turnMetrics[i].CreatedAt = now
	}

	verdict := convergence.Evaluate(sim.Policy, append(history, turn), append(prior, turnMetrics...))
	if verdict.Degraded {
		c.logger.Warn("step: convergence evaluation degraded", "run_id", runID, "seq", seq, "reason", verdict.DegradedReason)
		auditEntries = append(auditEntries, c.auditEntry(ctx, orgID, model.AuditStepDegradedEvaluation, &run.SimulationID, &runID, map[string]any{
			"seq":    seq,
			"reason": verdict.DegradedReason,
		}))
	}

	steppedPayload := map[string]any{
		"seq":              seq,
		"agent_role":       agent.Role,
		"provider":         c.provider.Name(),
		"budget_remaining": budgetAfter,
	}
	if action.Model != "" {
		steppedPayload["model"] = action.Model
	}
	auditEntries = append(auditEntries, c.auditEntry(ctx, orgID, model.AuditRunStepped, &run.SimulationID, &runID, steppedPayload))

	mut := StepMutation{
		OrgID:           orgID,
		RunID:           runID,
		Owner:           owner,
		Turn:            &turn,
		Metrics:         turnMetrics,
		State:           model.RunRunning,
		BudgetRemaining: budgetAfter,
	}

	switch {
	case verdict.Converged:
		reason := verdict.Reason
		mut.State = model.RunConverged
		mut.Reason = &reason
		mut.EndedAt = &now
		mut.Outcome = c.newOutcome(orgID, runID, model.OutcomeTriggerConvergence, true, reason, seq, now)
		auditEntries = append(auditEntries, c.auditEntry(ctx, orgID, model.AuditRunConverged, &run.SimulationID, &runID, map[string]any{
			"seq":    seq,
			"reason": reason,
		}))
	case budgetAfter == 0:
		reason := model.ReasonBudgetExhausted
		mut.State = model.RunFailed
		mut.Reason = &reason
		mut.EndedAt = &now
		mut.Outcome = c.newOutcome(orgID, runID, model.OutcomeTriggerTermination, false, reason, seq, now)
		auditEntries = append(auditEntries, c.auditEntry(ctx, orgID, model.AuditRunFailed, &run.SimulationID, &runID, map[string]any{
			"seq":    seq,
			"reason": reason,
		}))
	default:
		// A pending abort is consumed at this checkpoint, after the turn is
		// durably part of history. Convergence above wins over abort.
		mut.AbortOverride = &AbortOverride{
			Reason:  model.ReasonAbortRequested,
			Outcome: c.newOutcome(orgID, runID, model.OutcomeTriggerTermination, false, model.ReasonAbortRequested, seq, now),
			Audit: c.auditEntry(ctx, orgID, model.AuditRunAborted, &run.SimulationID, &runID, map[string]any{
				"seq": seq,
				"via": "step-checkpoint",
			}),
		}
	}
	mut.Audit = auditEntries

	updated, err := c.store.ApplyStep(ctx, mut)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("engine: step run %s seq %d: %w", runID, seq, err)
	}
	applied = true

	c.stepDuration.Record(ctx, float64(c.opts.Clock().Sub(start).Milliseconds()))
	c.logger.Info("run stepped",
		"run_id", runID,
		"seq", seq,
		"agent_role", agent.Role,
		"state", updated.State,
		"budget_remaining", updated.BudgetRemaining,
	)
	return model.StepResult{Run: updated, Turn: &turn}, nil
}

// applyProviderFailure consumes budget for a step whose provider call
// failed. No turn is appended; the run stays running unless the drained
// budget forces the failed terminal state.
func (c *Controller) applyProviderFailure(ctx context.Context, run model.Run, owner uuid.UUID, seq int64, agentRole string, budgetAfter int, now time.Time, provErr error) (model.StepResult, error) {
	auditEntries := []model.AuditEntry{
		c.auditEntry(ctx, run.OrgID, model.AuditStepProviderError, &run.SimulationID, &run.ID, map[string]any{
			"seq":              seq,
			"agent_role":       agentRole,
			"provider":         c.provider.Name(),
			"error":            provErr.Error(),
			"budget_remaining": budgetAfter,
		}),
	}

	mut := StepMutation{
		OrgID:           run.OrgID,
		RunID:           run.ID,
		Owner:           owner,
		State:           model.RunRunning,
		BudgetRemaining: budgetAfter,
	}
	if budgetAfter == 0 {
		reason := model.ReasonBudgetExhausted
		mut.State = model.RunFailed
		mut.Reason = &reason
		mut.EndedAt = &now
		mut.Outcome = c.newOutcome(run.OrgID, run.ID, model.OutcomeTriggerTermination, false, reason, run.TurnCount, now)
		auditEntries = append(auditEntries, c.auditEntry(ctx, run.OrgID, model.AuditRunFailed, &run.SimulationID, &run.ID, map[string]any{
			"seq":    seq,
			"reason": reason,
		}))
	} else {
		mut.AbortOverride = &AbortOverride{
			Reason:  model.ReasonAbortRequested,
			Outcome: c.newOutcome(run.OrgID, run.ID, model.OutcomeTriggerTermination, false, model.ReasonAbortRequested, run.TurnCount, now),
			Audit: c.auditEntry(ctx, run.OrgID, model.AuditRunAborted, &run.SimulationID, &run.ID, map[string]any{
				"seq": seq,
				"via": "step-checkpoint",
			}),
		}
	}
	mut.Audit = auditEntries

	updated, err := c.store.ApplyStep(ctx, mut)
	if err != nil {
		return model.StepResult{}, fmt.Errorf("engine: step run %s seq %d: %w", run.ID, seq, err)
	}
	return model.StepResult{Run: updated}, nil
}

func (c *Controller) newOutcome(orgID, runID uuid.UUID, trigger model.OutcomeTrigger, converged bool, reason string, turnCount int64, now time.Time) *model.Outcome {
	return &model.Outcome{
		ID:        uuid.New(),
		RunID:     runID,
		OrgID:     orgID,
		Trigger:   trigger,
		Converged: converged,
		Reason:    reason,
		TurnCount: turnCount,
		CreatedAt: now,
	}
}

func (c *Controller) auditEntry(ctx context.Context, orgID uuid.UUID, eventType model.AuditEventType, simulationID, runID *uuid.UUID, payload map[string]any) model.AuditEntry {
	return model.AuditEntry{
		ID:           uuid.New(),
		OrgID:        orgID,
		SimulationID: simulationID,
		RunID:        runID,
		EventType:    eventType,
		Actor:        ctxutil.ActorFromContext(ctx),
		Payload:      payload,
		CreatedAt:    c.opts.Clock().UTC(),
	}
}

// errorsIsAny reports whether err matches any of the given sentinels.
func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

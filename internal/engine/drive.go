package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// DefaultDriveMaxSteps caps run-to-completion when the caller supplies no
// iteration cap. It exceeds the largest permitted step budget so the run's
// own budget is normally the binding limit.
const DefaultDriveMaxSteps = model.MaxStepBudget + 1

// RunUntilConverged repeatedly steps a run until it leaves the running
// state, or until the caller-side iteration/time caps are reached. The caps
// are safety valves distinct from the run's own step budget.
//
// A failed terminal transition (budget exhaustion) is a result, not an
// error: the final run state is returned with a nil error. Step-level
// provider failures are logged, consume budget, and the drive continues.
// External aborts are observed between steps and consumed at each step's
// checkpoint.
func (c *Controller) RunUntilConverged(ctx context.Context, orgID, runID uuid.UUID, req model.DriveRequest) (model.DriveResult, error) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultDriveMaxSteps
	}
	var deadline time.Time
	if req.MaxDuration > 0 {
		deadline = c.opts.Clock().Add(req.MaxDuration.Std())
	}

	run, err := c.store.GetRun(ctx, orgID, runID)
	if err != nil {
		return model.DriveResult{}, err
	}
	if run.State != model.RunRunning {
		if run.State.Terminal() {
			return model.DriveResult{}, ErrRunAlreadyTerminal
		}
		return model.DriveResult{}, ErrRunNotRunning
	}

	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return model.DriveResult{Run: run, StepsExecuted: steps, Turns: run.TurnCount}, fmt.Errorf("engine: drive run %s: %w", runID, err)
		}
		if steps >= maxSteps {
			c.logger.Info("drive: iteration cap reached", "run_id", runID, "steps", steps)
			return model.DriveResult{Run: run, StepsExecuted: steps, Turns: run.TurnCount}, nil
		}
		if !deadline.IsZero() && !c.opts.Clock().Before(deadline) {
			c.logger.Info("drive: time cap reached", "run_id", runID, "steps", steps)
			return model.DriveResult{Run: run, StepsExecuted: steps, Turns: run.TurnCount}, nil
		}

		res, err := c.Step(ctx, orgID, runID, model.StepRequest{ProviderTimeout: req.ProviderTimeout})
		switch {
		case err == nil:
			steps++
			run = res.Run
		case errors.Is(err, ErrProviderFailure):
			// Budget was consumed; the run decides termination, not the
			// provider's flakiness.
			steps++
			run = res.Run
			c.logger.Warn("drive: step provider failure", "run_id", runID, "steps", steps, "error", err)
		case errorsIsAny(err, ErrRunNotRunning, ErrRunAlreadyTerminal) && steps > 0:
			// The run left running between our steps (external abort).
			// Report the terminal state we drove it to observe.
			final, gerr := c.store.GetRun(ctx, orgID, runID)
			if gerr != nil {
				return model.DriveResult{}, gerr
			}
			return model.DriveResult{Run: final, StepsExecuted: steps, Turns: final.TurnCount}, nil
		default:
			return model.DriveResult{Run: run, StepsExecuted: steps, Turns: run.TurnCount}, err
		}

		if run.State.Terminal() {
			c.logger.Info("drive: run reached terminal state",
				"run_id", runID,
				"state", run.State,
				"steps", steps,
				"turns", run.TurnCount,
			)
			return model.DriveResult{Run: run, StepsExecuted: steps, Turns: run.TurnCount}, nil
		}
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/ctxutil"
	"github.com/ashita-ai/mogi/internal/model"
)

// PostAgentFeedback attaches a moderator note to a live run. The feedback
// becomes visible context for every turn produced after it; history is
// never rewritten. The turn sequence does not advance.
func (c *Controller) PostAgentFeedback(ctx context.Context, orgID, runID uuid.UUID, req model.PostFeedbackRequest) (model.Feedback, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return model.Feedback{}, fmt.Errorf("%w: feedback content is required", ErrInvalidArgument)
	}
	if len(content) > model.MaxFeedbackLen {
		return model.Feedback{}, fmt.Errorf("%w: feedback content exceeds %d bytes", ErrInvalidArgument, model.MaxFeedbackLen)
	}

	run, err := c.store.GetRun(ctx, orgID, runID)
	if err != nil {
		return model.Feedback{}, err
	}
	if run.State != model.RunPending && run.State != model.RunRunning {
		return model.Feedback{}, ErrRunNotRunning
	}

	now := c.opts.Clock().UTC()
	fb := model.Feedback{
		ID:        uuid.New(),
		RunID:     runID,
		OrgID:     orgID,
		Author:    ctxutil.ActorFromContext(ctx),
		Content:   content,
		CreatedAt: now,
	}
	audit := []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditRunFedBack, &run.SimulationID, &runID, map[string]any{
			"author": fb.Author,
		}),
	}
	// Seq and AfterTurn come from run state inside the store mutation, so a
	// concurrently appended turn cannot make the feedback claim visibility
	// it never had.
	created, err := c.store.CreateFeedback(ctx, fb, audit)
	if err != nil {
		return model.Feedback{}, err
	}

	c.logger.Info("feedback posted", "run_id", runID, "after_turn", created.AfterTurn, "author", created.Author)
	return created, nil
}

// AbortRun forces a running run to the aborted terminal state. If a step
// currently holds the run's claim the abort cannot apply immediately;
// instead the abort flag is set and the in-flight step consumes it at its
// post-append checkpoint. In that case the returned run is still running
// with AbortRequested set, and the caller polls for the terminal state.
//
// Aborting an already terminal run fails with ErrRunAlreadyTerminal.
func (c *Controller) AbortRun(ctx context.Context, orgID, runID uuid.UUID) (model.Run, error) {
	owner := uuid.New()
	now := c.opts.Clock().UTC()

	run, err := c.store.ClaimRun(ctx, orgID, runID, owner, now)
	switch {
	case err == nil:
		// Claim held: apply the terminal transition directly.
	case errors.Is(err, ErrRunBusy):
		return c.requestAbort(ctx, orgID, runID)
	case errors.Is(err, ErrRunNotRunning):
		current, gerr := c.store.GetRun(ctx, orgID, runID)
		if gerr != nil {
			return model.Run{}, gerr
		}
		if current.State.Terminal() {
			return current, ErrRunAlreadyTerminal
		}
		return model.Run{}, ErrRunNotRunning
	default:
		return model.Run{}, err
	}

	updated, err := c.store.FinishRun(ctx, FinishMutation{
		OrgID:   orgID,
		RunID:   runID,
		Owner:   owner,
		State:   model.RunAborted,
		Reason:  model.ReasonAbortRequested,
		EndedAt: now,
		Outcome: c.newOutcome(orgID, runID, model.OutcomeTriggerTermination, false, model.ReasonAbortRequested, run.TurnCount, now),
		Audit: []model.AuditEntry{
			c.auditEntry(ctx, orgID, model.AuditRunAborted, &run.SimulationID, &runID, map[string]any{
				"turn_count": run.TurnCount,
			}),
		},
	})
	if err != nil {
		if relErr := c.store.ReleaseRun(context.WithoutCancel(ctx), orgID, runID, owner); relErr != nil {
			c.logger.Error("abort: claim release failed", "run_id", runID, "error", relErr)
		}
		return model.Run{}, fmt.Errorf("engine: abort run %s: %w", runID, err)
	}

	c.logger.Info("run aborted", "run_id", runID, "turn_count", updated.TurnCount)
	return updated, nil
}

// requestAbort records an abort that lost the claim race to an in-flight
// step. The step observes the flag after its turn is durable.
func (c *Controller) requestAbort(ctx context.Context, orgID, runID uuid.UUID) (model.Run, error) {
	run, err := c.store.GetRun(ctx, orgID, runID)
	if err != nil {
		return model.Run{}, err
	}
	updated, err := c.store.RequestAbort(ctx, orgID, runID, []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditAbortRequested, &run.SimulationID, &runID, map[string]any{
			"turn_count": run.TurnCount,
		}),
	})
	if err != nil {
		// The step may have finished the run between our claim attempt and
		// the flag write.
		if errors.Is(err, ErrRunNotRunning) {
			current, gerr := c.store.GetRun(ctx, orgID, runID)
			if gerr == nil && current.State.Terminal() {
				return current, ErrRunAlreadyTerminal
			}
		}
		return model.Run{}, err
	}

	c.logger.Info("run abort requested", "run_id", runID, "turn_count", updated.TurnCount)
	return updated, nil
}

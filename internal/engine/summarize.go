package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// summaryExcerptLen bounds the closing-turn excerpt in a summary.
const summaryExcerptLen = 240

// SummarizeOutcomes produces an Outcome record summarizing the run's
// trajectory so far. The summary is extractive and deterministic: the same
// ledger always yields the same text, so regeneration is safe to trigger at
// any time. Outcomes are append-only; each call adds a record.
//
// Concurrent calls for the same run are coalesced: they share one
// computation and one appended record.
func (c *Controller) SummarizeOutcomes(ctx context.Context, orgID, runID uuid.UUID, req model.SummarizeRequest) (model.Outcome, error) {
	if req.MaxTurns < 0 {
		return model.Outcome{}, fmt.Errorf("%w: max_turns must not be negative", ErrInvalidArgument)
	}

	v, err, _ := c.summarizeGroup.Do(orgID.String()+"/"+runID.String(), func() (any, error) {
		return c.summarize(ctx, orgID, runID, req.MaxTurns)
	})
	if err != nil {
		return model.Outcome{}, err
	}
	return v.(model.Outcome), nil
}

func (c *Controller) summarize(ctx context.Context, orgID, runID uuid.UUID, maxTurns int) (model.Outcome, error) {
	run, err := c.store.GetRun(ctx, orgID, runID)
	if err != nil {
		return model.Outcome{}, err
	}
	sim, err := c.store.GetSimulation(ctx, orgID, run.SimulationID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("engine: summarize: load simulation: %w", err)
	}
	turns, err := c.store.ListTurns(ctx, orgID, runID, 0, 0)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("engine: summarize: load turns: %w", err)
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	runMetrics, err := c.store.ListMetrics(ctx, orgID, runID, 0, 0)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("engine: summarize: load metrics: %w", err)
	}

	now := c.opts.Clock().UTC()
	out := model.Outcome{
		ID:        uuid.New(),
		RunID:     runID,
		OrgID:     orgID,
		Trigger:   model.OutcomeTriggerSummarize,
		Converged: run.State == model.RunConverged,
		TurnCount: run.TurnCount,
		Summary:   buildSummary(sim, run, turns, runMetrics),
		CreatedAt: now,
	}
	if run.Reason != nil {
		out.Reason = *run.Reason
	}

	audit := []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditOutcomeSummarized, &run.SimulationID, &runID, map[string]any{
			"turn_count":      run.TurnCount,
			"turns_in_window": len(turns),
			"state":           string(run.State),
		}),
	}
	if err := c.store.CreateOutcome(ctx, out, audit); err != nil {
		return model.Outcome{}, fmt.Errorf("engine: summarize: %w", err)
	}

	c.logger.Info("outcomes summarized", "run_id", runID, "turn_count", run.TurnCount, "state", run.State)
	return out, nil
}

// buildSummary renders a deterministic plain-text digest of the run: state,
// per-role participation, the final agreement reading if present, and an
// excerpt of the closing turn.
func buildSummary(sim model.Simulation, run model.Run, turns []model.Turn, runMetrics []model.Metric) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run of %q: %s after %d turn(s)", sim.Name, run.State, run.TurnCount)
	if run.Reason != nil {
		fmt.Fprintf(&b, " (%s)", *run.Reason)
	}
	b.WriteString(".")

	if len(turns) > 0 {
		counts := map[string]int{}
		for _, t := range turns {
			counts[t.AgentRole]++
		}
		roles := make([]string, 0, len(counts))
		for role := range counts {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		parts := make([]string, len(roles))
		for i, role := range roles {
			parts[i] = fmt.Sprintf("%s x%d", role, counts[role])
		}
		fmt.Fprintf(&b, " Participation: %s.", strings.Join(parts, ", "))
	}

	// Last recorded agreement reading, if the run produced one.
	for i := len(runMetrics) - 1; i >= 0; i-- {
		if runMetrics[i].Name == "agreement" {
			fmt.Fprintf(&b, " Final agreement: %.2f.", runMetrics[i].Value)
			break
		}
	}

	if len(turns) > 0 {
		last := turns[len(turns)-1]
		excerpt := strings.TrimSpace(last.Content)
		if len(excerpt) > summaryExcerptLen {
			excerpt = excerpt[:summaryExcerptLen] + "..."
		}
		fmt.Fprintf(&b, " Closing turn (%s): %s", last.AgentRole, excerpt)
	}

	return b.String()
}

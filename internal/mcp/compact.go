package mcp

import (
	"fmt"

	"github.com/ashita-ai/mogi/internal/model"
)

const maxCompactContent = 400

// compactSimulation returns a minimal representation of a simulation for
// MCP responses. Drops org bookkeeping and timestamps agents don't act on;
// keeps the roster roles and the policy shape they need to reason about a
// run.
func compactSimulation(sim model.Simulation) map[string]any {
	roles := make([]string, len(sim.Roster))
	for i, a := range sim.Roster {
		roles[i] = a.Role
	}
	m := map[string]any{
		"id":          sim.ID,
		"name":        sim.Name,
		"roles":       roles,
		"policy":      string(sim.Policy.Kind),
		"step_budget": sim.StepBudget,
		"status":      string(sim.Status),
	}
	if sim.Description != "" {
		m["description"] = truncate(sim.Description, maxCompactContent)
	}
	return m
}

// compactRun returns a minimal representation of a run for MCP responses,
// with a rule-based context note signalling what the caller should do next.
func compactRun(run model.Run) map[string]any {
	m := map[string]any{
		"id":               run.ID,
		"simulation_id":    run.SimulationID,
		"state":            string(run.State),
		"turn_count":       run.TurnCount,
		"budget_remaining": run.BudgetRemaining,
	}
	if run.Reason != nil && *run.Reason != "" {
		m["reason"] = *run.Reason
	}
	if run.AbortRequested {
		m["abort_requested"] = true
	}
	if note := runContextNote(run); note != "" {
		m["context_note"] = note
	}
	return m
}

// runContextNote produces a human-readable signal note for a run. Rules are
// evaluated in priority order; first match wins. Returns "" when no rule
// fires.
func runContextNote(run model.Run) string {
	switch {
	case run.State == model.RunConverged:
		return fmt.Sprintf("Converged after %d turns. Use mogi_summarize to get an outcome summary.", run.TurnCount)

	case run.State == model.RunFailed && run.Reason != nil && *run.Reason == model.ReasonBudgetExhausted:
		return fmt.Sprintf("Budget exhausted after %d turns without convergence.", run.TurnCount)

	case run.State == model.RunAborted:
		return "Run was aborted. The transcript up to the abort remains readable."

	case run.AbortRequested:
		return "Abort is pending; it takes effect at the next step checkpoint."

	case run.State == model.RunRunning && run.BudgetRemaining <= 2:
		return fmt.Sprintf("Only %d step(s) of budget remain.", run.BudgetRemaining)
	}
	return ""
}

// compactTurn returns a minimal representation of a turn, truncating long
// content so transcripts stay within tool-result size expectations.
func compactTurn(turn model.Turn) map[string]any {
	return map[string]any{
		"seq":     turn.Seq,
		"role":    turn.AgentRole,
		"content": truncate(turn.Content, maxCompactContent),
	}
}

// compactOutcome returns a minimal representation of an outcome record.
func compactOutcome(out model.Outcome) map[string]any {
	m := map[string]any{
		"trigger":    string(out.Trigger),
		"converged":  out.Converged,
		"turn_count": out.TurnCount,
		"summary":    out.Summary,
	}
	if out.Reason != "" {
		m["reason"] = out.Reason
	}
	return m
}

// truncate shortens s to at most n runes, appending an ellipsis marker when
// it cut anything.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

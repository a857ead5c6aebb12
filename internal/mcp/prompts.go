package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// before-feedback: guides the caller through reading the transcript first.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("before-feedback",
			mcplib.WithPromptDescription("Review a run's transcript before injecting moderator feedback"),
			mcplib.WithArgument("run_id",
				mcplib.ArgumentDescription("The run you are about to moderate"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleBeforeFeedbackPrompt,
	)

	// run-postmortem: walks the caller through summarizing a terminal run.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("run-postmortem",
			mcplib.WithPromptDescription("Review how a run ended and produce its outcome summary"),
			mcplib.WithArgument("run_id",
				mcplib.ArgumentDescription("The terminal run to review"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleRunPostmortemPrompt,
	)

	// moderator-setup: full system prompt snippet explaining the Mogi run
	// moderation workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("moderator-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the Mogi simulation moderation workflow (read-before-feedback, step-or-drive)"),
		),
		s.handleModeratorSetupPrompt,
	)
}

func (s *Server) handleBeforeFeedbackPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	runID := request.Params.Arguments["run_id"]
	if runID == "" {
		return nil, fmt.Errorf("run_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Review run %s before posting feedback", runID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`I am about to moderate run %s.

1. Call mogi_get_run with run_id=%q to confirm the run is still running and see its remaining budget.
2. Call mogi_get_transcript with run_id=%q and read what the agents have actually said.
3. Only then call mogi_post_feedback with a short directive the NEXT acting agent should take into account. Feedback never rewrites past turns.

Keep the feedback to one concrete instruction. If the transcript shows the run is already on track, post nothing.`, runID, runID, runID),
				},
			},
		},
	}, nil
}

func (s *Server) handleRunPostmortemPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	runID := request.Params.Arguments["run_id"]
	if runID == "" {
		return nil, fmt.Errorf("run_id argument is required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Postmortem for run %s", runID),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Run %s has ended. Produce its postmortem.

1. Call mogi_get_run with run_id=%q and note how it terminated: converged, budget exhausted, or aborted.
2. Call mogi_get_transcript with run_id=%q to review the full exchange.
3. Call mogi_summarize with run_id=%q to record the outcome summary.
4. Report back: how the run ended, how many turns it took, and whether the convergence policy or the budget decided it.`, runID, runID, runID, runID),
				},
			},
		},
	}, nil
}

func (s *Server) handleModeratorSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "Mogi simulation moderation workflow",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You moderate multi-agent scenario simulations through Mogi.

WORKFLOW:
1. mogi_list_simulations to find the scenario you need. Note its roster, policy, and step budget.
2. mogi_start_run to begin an execution.
3. Either mogi_drive_run for hands-off execution, or a loop of mogi_step_run / mogi_get_transcript / mogi_post_feedback when the scenario needs steering.
4. When the run terminates, mogi_summarize to record the outcome.

RULES:
- Read the transcript (mogi_get_transcript) before posting feedback. Feedback only affects turns that have not happened yet.
- Every step consumes budget whether or not it produces a turn. Watch budget_remaining on the run.
- A run terminates exactly once: converged, failed (budget exhausted), or aborted. Terminal runs stay readable forever.
- Use mogi_abort_run to stop a run you no longer need; an abort during a step lands at the step's checkpoint.`,
				},
			},
		},
	}, nil
}

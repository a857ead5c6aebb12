package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mogi/internal/auth"
	"github.com/ashita-ai/mogi/internal/ctxutil"
	"github.com/ashita-ai/mogi/internal/model"
)

func (s *Server) registerTools() {
	// mogi_list_simulations: browse the scenario catalog.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_list_simulations",
			mcplib.WithDescription(`List the organization's simulation scenarios.

WHEN TO USE: FIRST, before starting a run. You need a simulation ID to
start anything, and the roster and policy tell you what kind of scenario
you are about to drive.

WHAT YOU GET BACK: one entry per simulation with its id, name, roster
roles, convergence policy, default step budget, and status. Archived
simulations are listed but cannot start new runs.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of simulations to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListSimulations,
	)

	// mogi_start_run: start a run of a simulation.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_start_run",
			mcplib.WithDescription(`Start a new run of a simulation.

A run is one execution of the scenario: agents take turns in roster order
until the convergence policy is satisfied or the step budget runs out.
The run starts in state "running" with zero turns; nothing happens until
you step or drive it.

EXAMPLE: start a run, then call mogi_drive_run to execute it to
completion, or mogi_step_run to advance one turn at a time with
moderator feedback in between.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("simulation_id",
				mcplib.Description("ID of the simulation to run"),
				mcplib.Required(),
			),
			mcplib.WithNumber("step_budget",
				mcplib.Description("Override the simulation's default step budget for this run"),
				mcplib.Min(1),
			),
		),
		s.handleStartRun,
	)

	// mogi_step_run: advance a run by exactly one turn.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_step_run",
			mcplib.WithDescription(`Execute exactly one step of a running run.

One step means one agent acts: the next roster agent produces its turn,
metrics are recorded, and the budget decreases by one. Use this instead
of mogi_drive_run when you want to inject feedback between turns or
inspect the transcript as it grows.

The response includes the produced turn and the updated run state. A
step can also end the run: convergence and budget exhaustion are
detected at the step boundary.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the run to step"),
				mcplib.Required(),
			),
		),
		s.handleStepRun,
	)

	// mogi_drive_run: run to completion.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_drive_run",
			mcplib.WithDescription(`Step a run repeatedly until it reaches a terminal state.

Drives the run until the convergence policy is satisfied, the budget is
exhausted, or an abort lands. Prefer this for hands-off execution; use
mogi_step_run when you want to moderate between turns.

max_steps is a caller-side safety valve, distinct from the run's own
step budget: the run stays running if max_steps fires first.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the run to drive"),
				mcplib.Required(),
			),
			mcplib.WithNumber("max_steps",
				mcplib.Description("Stop after this many steps even if the run has not terminated"),
				mcplib.Min(1),
			),
		),
		s.handleDriveRun,
	)

	// mogi_get_run: inspect run state.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_get_run",
			mcplib.WithDescription(`Get the current state of a run: lifecycle state, turn count, remaining budget, and termination reason when terminal.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the run"),
				mcplib.Required(),
			),
		),
		s.handleGetRun,
	)

	// mogi_get_transcript: read the run's turns.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_get_transcript",
			mcplib.WithDescription(`Read a run's transcript: the ordered turns agents have produced so far.

WHEN TO USE: BEFORE posting feedback. Feedback that ignores what the
agents actually said steers the run badly. Also useful for checkpointing
long drives.

Supports cursor pagination: pass after_seq to resume where a previous
read stopped.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the run"),
				mcplib.Required(),
			),
			mcplib.WithNumber("after_seq",
				mcplib.Description("Return turns with sequence greater than this (cursor)"),
				mcplib.Min(0),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of turns to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleGetTranscript,
	)

	// mogi_post_feedback: inject moderator feedback.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_post_feedback",
			mcplib.WithDescription(`Inject moderator feedback into a running run.

IMPORTANT: Read the transcript with mogi_get_transcript FIRST. Feedback
becomes visible to the agent acting on the NEXT turn; it never rewrites
turns that already happened.

WHAT TO INCLUDE: a short directive the next agent should take into
account, e.g. "focus on the database layer" or "the critic should
challenge the cost estimate".`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the run"),
				mcplib.Required(),
			),
			mcplib.WithString("content",
				mcplib.Description("The feedback text delivered to the next acting agent"),
				mcplib.Required(),
			),
		),
		s.handlePostFeedback,
	)

	// mogi_abort_run: stop a run.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_abort_run",
			mcplib.WithDescription(`Abort a run.

An idle run aborts immediately. A run with a step in flight records the
request and terminates at the step's checkpoint; the response's
abort_requested field tells you which happened.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the run to abort"),
				mcplib.Required(),
			),
		),
		s.handleAbortRun,
	)

	// mogi_summarize: deterministic outcome summary.
	s.mcpServer.AddTool(
		mcplib.NewTool("mogi_summarize",
			mcplib.WithDescription(`Generate an outcome summary for a terminal run.

The summary is deterministic over the transcript: calling it again on
the same run produces an equivalent record. Use it after a run
converges, fails, or is aborted to get a compact account of what
happened.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("run_id",
				mcplib.Description("ID of the terminal run to summarize"),
				mcplib.Required(),
			),
			mcplib.WithNumber("max_turns",
				mcplib.Description("Cap how many trailing turns feed the summary (0 = all)"),
				mcplib.Min(0),
			),
		),
		s.handleSummarize,
	)
}

// callerClaims extracts the authenticated identity for a tool call. MCP is
// mounted behind the HTTP auth middleware, so absent claims mean the
// session is not authenticated.
func callerClaims(ctx context.Context) (*auth.Claims, *mcplib.CallToolResult) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, errorResult("authentication required")
	}
	return claims, nil
}

// requireOperator rejects callers below the operator role for mutating tools.
func requireOperator(claims *auth.Claims) *mcplib.CallToolResult {
	if !model.RoleAtLeast(claims.Role, model.RoleOperator) {
		return errorResult("operator role required")
	}
	return nil
}

func parseRunID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	id, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return uuid.Nil, errorResult("run_id must be a valid UUID")
	}
	return id, nil
}

func (s *Server) handleListSimulations(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	limit := request.GetInt("limit", 20)

	sims, total, err := s.store.ListSimulations(ctx, claims.OrgID, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("list simulations failed: %v", err)), nil
	}

	items := make([]map[string]any, len(sims))
	for i, sim := range sims {
		items[i] = compactSimulation(sim)
	}
	return jsonResult(map[string]any{"simulations": items, "total": total})
}

func (s *Server) handleStartRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	if errRes := requireOperator(claims); errRes != nil {
		return errRes, nil
	}
	simID, err := uuid.Parse(request.GetString("simulation_id", ""))
	if err != nil {
		return errorResult("simulation_id must be a valid UUID"), nil
	}

	run, err := s.eng.StartRun(ctx, claims.OrgID, simID, model.StartRunRequest{
		StepBudget: request.GetInt("step_budget", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("start run failed: %v", err)), nil
	}
	return jsonResult(compactRun(run))
}

func (s *Server) handleStepRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	if errRes := requireOperator(claims); errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}

	res, err := s.eng.Step(ctx, claims.OrgID, runID, model.StepRequest{})
	if err != nil {
		return errorResult(fmt.Sprintf("step failed: %v", err)), nil
	}

	out := map[string]any{"run": compactRun(res.Run)}
	if res.Turn != nil {
		out["turn"] = compactTurn(*res.Turn)
	}
	return jsonResult(out)
}

func (s *Server) handleDriveRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	if errRes := requireOperator(claims); errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}

	result, err := s.eng.RunUntilConverged(ctx, claims.OrgID, runID, model.DriveRequest{
		MaxSteps: request.GetInt("max_steps", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("drive failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"run":            compactRun(result.Run),
		"steps_executed": result.StepsExecuted,
		"turns":          result.Turns,
	})
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}

	run, err := s.store.GetRun(ctx, claims.OrgID, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("get run failed: %v", err)), nil
	}
	return jsonResult(compactRun(run))
}

func (s *Server) handleGetTranscript(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}
	afterSeq := int64(request.GetInt("after_seq", 0))
	limit := request.GetInt("limit", 50)

	turns, err := s.store.ListTurns(ctx, claims.OrgID, runID, afterSeq, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("get transcript failed: %v", err)), nil
	}

	s.reviews.Record(claims.ActorID, runID)

	items := make([]map[string]any, len(turns))
	for i, turn := range turns {
		items[i] = compactTurn(turn)
	}
	return jsonResult(map[string]any{"run_id": runID, "turns": items})
}

func (s *Server) handlePostFeedback(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	if errRes := requireOperator(claims); errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}
	content := request.GetString("content", "")
	if content == "" {
		return errorResult("content is required"), nil
	}

	fb, err := s.eng.PostAgentFeedback(ctx, claims.OrgID, runID, model.PostFeedbackRequest{Content: content})
	if err != nil {
		return errorResult(fmt.Sprintf("post feedback failed: %v", err)), nil
	}

	out := map[string]any{
		"feedback_id": fb.ID,
		"seq":         fb.Seq,
		"after_turn":  fb.AfterTurn,
		"status":      "recorded",
	}
	if !s.reviews.WasReviewed(claims.ActorID, runID) {
		out["nudge"] = "Feedback was posted without a recent transcript read. Call mogi_get_transcript before the next feedback so it responds to what the agents actually said."
	}
	return jsonResult(out)
}

func (s *Server) handleAbortRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	if errRes := requireOperator(claims); errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}

	run, err := s.eng.AbortRun(ctx, claims.OrgID, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("abort failed: %v", err)), nil
	}
	return jsonResult(compactRun(run))
}

func (s *Server) handleSummarize(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	claims, errRes := callerClaims(ctx)
	if errRes != nil {
		return errRes, nil
	}
	if errRes := requireOperator(claims); errRes != nil {
		return errRes, nil
	}
	runID, errRes := parseRunID(request)
	if errRes != nil {
		return errRes, nil
	}

	outcome, err := s.eng.SummarizeOutcomes(ctx, claims.OrgID, runID, model.SummarizeRequest{
		MaxTurns: request.GetInt("max_turns", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("summarize failed: %v", err)), nil
	}
	return jsonResult(compactOutcome(outcome))
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mogi/internal/auth"
	"github.com/ashita-ai/mogi/internal/ctxutil"
	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/memstore"
	"github.com/ashita-ai/mogi/internal/model"
	"github.com/ashita-ai/mogi/internal/provider"
	"github.com/ashita-ai/mogi/internal/testutil"
)

// testServer builds an MCP server backed by the in-memory store and the
// scripted provider, plus an org for the test's claims to reference.
func testServer(t *testing.T) (*Server, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	logger := testutil.TestLogger()

	store := memstore.New()
	org, err := store.CreateOrganization(ctx, model.Organization{
		ID:       uuid.New(),
		Name:     "mcp-test",
		Features: []string{model.FeatureSimulations},
	})
	require.NoError(t, err)

	eng := engine.New(store, provider.NewScripted(nil), logger)
	return New(store, eng, logger, "test"), org.ID
}

// operatorCtx returns a context carrying operator claims for the org.
func operatorCtx(orgID uuid.UUID) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		ActorID: "moderator",
		OrgID:   orgID,
		Role:    model.RoleOperator,
	})
}

// readerCtx returns a context carrying reader claims for the org.
func readerCtx(orgID uuid.UUID) context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{
		ActorID: "observer",
		OrgID:   orgID,
		Role:    model.RoleReader,
	})
}

// toolRequest builds a CallToolRequest with the given name and arguments.
func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

// mustCreateSimulation creates a two-agent simulation converging after four
// turns, with ten steps of budget.
func mustCreateSimulation(t *testing.T, s *Server, orgID uuid.UUID) model.Simulation {
	t.Helper()
	sim, err := s.eng.CreateSimulation(operatorCtx(orgID), orgID, model.CreateSimulationRequest{
		Name: "incident-review",
		Roster: []model.AgentSpec{
			{Role: "analyst", Brief: "Investigate the incident timeline."},
			{Role: "critic", Brief: "Challenge the analyst's conclusions."},
		},
		Policy:     model.Policy{Kind: model.PolicyFixedTurnCount, TurnCount: 4},
		StepBudget: 10,
	})
	require.NoError(t, err)
	return sim
}

// mustStartRun starts a run through the tool handler and returns its ID.
func mustStartRun(t *testing.T, s *Server, ctx context.Context, simID uuid.UUID) uuid.UUID {
	t.Helper()
	result, err := s.handleStartRun(ctx, toolRequest("mogi_start_run", map[string]any{
		"simulation_id": simID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "start run should succeed: %s", parseToolText(t, result))

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	runID, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	return runID
}

func TestHandleListSimulations(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)

	result, err := s.handleListSimulations(ctx, toolRequest("mogi_list_simulations", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Simulations []map[string]any `json:"simulations"`
		Total       int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Simulations, 1)
	assert.Equal(t, sim.ID.String(), resp.Simulations[0]["id"])
	assert.Equal(t, "incident-review", resp.Simulations[0]["name"])
}

func TestHandleStartRun(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)

	result, err := s.handleStartRun(ctx, toolRequest("mogi_start_run", map[string]any{
		"simulation_id": sim.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		State           string `json:"state"`
		TurnCount       int64  `json:"turn_count"`
		BudgetRemaining int    `json:"budget_remaining"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, string(model.RunRunning), resp.State)
	assert.Equal(t, int64(0), resp.TurnCount)
	assert.Equal(t, 10, resp.BudgetRemaining)
}

func TestHandleStartRun_InvalidSimulationID(t *testing.T) {
	s, orgID := testServer(t)

	result, err := s.handleStartRun(operatorCtx(orgID), toolRequest("mogi_start_run", map[string]any{
		"simulation_id": "not-a-uuid",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "simulation_id must be a valid UUID")
}

func TestHandleStepRun(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	result, err := s.handleStepRun(ctx, toolRequest("mogi_step_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Run struct {
			State           string `json:"state"`
			TurnCount       int64  `json:"turn_count"`
			BudgetRemaining int    `json:"budget_remaining"`
		} `json:"run"`
		Turn struct {
			Seq  int64  `json:"seq"`
			Role string `json:"role"`
		} `json:"turn"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, string(model.RunRunning), resp.Run.State)
	assert.Equal(t, int64(1), resp.Run.TurnCount)
	assert.Equal(t, 9, resp.Run.BudgetRemaining)
	assert.Equal(t, int64(1), resp.Turn.Seq)
	assert.Equal(t, "analyst", resp.Turn.Role)
}

func TestHandleDriveRun(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	result, err := s.handleDriveRun(ctx, toolRequest("mogi_drive_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Run struct {
			State       string `json:"state"`
			TurnCount   int64  `json:"turn_count"`
			ContextNote string `json:"context_note"`
		} `json:"run"`
		StepsExecuted int   `json:"steps_executed"`
		Turns         int64 `json:"turns"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, string(model.RunConverged), resp.Run.State)
	assert.Equal(t, int64(4), resp.Run.TurnCount)
	assert.Equal(t, int64(4), resp.Turns)
	assert.Equal(t, 4, resp.StepsExecuted)
	assert.Contains(t, resp.Run.ContextNote, "mogi_summarize")
}

func TestHandleGetRun_Unknown(t *testing.T) {
	s, orgID := testServer(t)

	result, err := s.handleGetRun(readerCtx(orgID), toolRequest("mogi_get_run", map[string]any{
		"run_id": uuid.New().String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "get run failed")
}

func TestHandleGetTranscript(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	_, err := s.handleDriveRun(ctx, toolRequest("mogi_drive_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)

	result, err := s.handleGetTranscript(ctx, toolRequest("mogi_get_transcript", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Turns []struct {
			Seq  int64  `json:"seq"`
			Role string `json:"role"`
		} `json:"turns"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.Len(t, resp.Turns, 4)
	// Roster alternates analyst/critic round-robin.
	assert.Equal(t, "analyst", resp.Turns[0].Role)
	assert.Equal(t, "critic", resp.Turns[1].Role)
	assert.Equal(t, int64(3), resp.Turns[2].Seq)
}

func TestHandlePostFeedback_NudgeWithoutReview(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	result, err := s.handlePostFeedback(ctx, toolRequest("mogi_post_feedback", map[string]any{
		"run_id":  runID.String(),
		"content": "Focus on the root cause, not symptoms.",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Status string `json:"status"`
		Seq    int64  `json:"seq"`
		Nudge  string `json:"nudge"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "recorded", resp.Status)
	assert.Equal(t, int64(1), resp.Seq)
	assert.Contains(t, resp.Nudge, "mogi_get_transcript")
}

func TestHandlePostFeedback_NoNudgeAfterTranscriptRead(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	// Reading the transcript records the review for this actor and run.
	_, err := s.handleGetTranscript(ctx, toolRequest("mogi_get_transcript", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)

	result, err := s.handlePostFeedback(ctx, toolRequest("mogi_post_feedback", map[string]any{
		"run_id":  runID.String(),
		"content": "Stay on the timeline.",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.NotContains(t, resp, "nudge")
}

func TestHandlePostFeedback_MissingContent(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	result, err := s.handlePostFeedback(ctx, toolRequest("mogi_post_feedback", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "content is required")
}

func TestHandleAbortRun(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	result, err := s.handleAbortRun(ctx, toolRequest("mogi_abort_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, string(model.RunAborted), resp.State)
}

func TestHandleSummarize(t *testing.T) {
	s, orgID := testServer(t)
	ctx := operatorCtx(orgID)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, ctx, sim.ID)

	_, err := s.handleDriveRun(ctx, toolRequest("mogi_drive_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)

	result, err := s.handleSummarize(ctx, toolRequest("mogi_summarize", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Trigger   string `json:"trigger"`
		Converged bool   `json:"converged"`
		TurnCount int64  `json:"turn_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, string(model.OutcomeTriggerSummarize), resp.Trigger)
	assert.True(t, resp.Converged)
	assert.Equal(t, int64(4), resp.TurnCount)
}

// TestMutatingTools_ReaderForbidden verifies the operator rank gate on every
// mutating tool.
func TestMutatingTools_ReaderForbidden(t *testing.T) {
	s, orgID := testServer(t)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, operatorCtx(orgID), sim.ID)
	ctx := readerCtx(orgID)

	handlers := map[string]func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error){
		"mogi_start_run":     s.handleStartRun,
		"mogi_step_run":      s.handleStepRun,
		"mogi_drive_run":     s.handleDriveRun,
		"mogi_post_feedback": s.handlePostFeedback,
		"mogi_abort_run":     s.handleAbortRun,
		"mogi_summarize":     s.handleSummarize,
	}
	args := map[string]any{
		"run_id":        runID.String(),
		"simulation_id": sim.ID.String(),
		"content":       "x",
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			result, err := handler(ctx, toolRequest(name, args))
			require.NoError(t, err)
			require.True(t, result.IsError)
			assert.Contains(t, parseToolText(t, result), "operator role required")
		})
	}
}

// TestTools_NilClaims verifies that a context without auth claims is rejected
// before any store access.
func TestTools_NilClaims(t *testing.T) {
	s, orgID := testServer(t)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, operatorCtx(orgID), sim.ID)

	result, err := s.handleGetRun(context.Background(), toolRequest("mogi_get_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "authentication required")
}

// TestTools_TenantIsolation verifies that claims from another org cannot see
// this org's runs.
func TestTools_TenantIsolation(t *testing.T) {
	s, orgID := testServer(t)
	sim := mustCreateSimulation(t, s, orgID)
	runID := mustStartRun(t, s, operatorCtx(orgID), sim.ID)

	rivalCtx := ctxutil.WithClaims(context.Background(), &auth.Claims{
		ActorID: "rival",
		OrgID:   uuid.New(),
		Role:    model.RoleOperator,
	})

	result, err := s.handleGetRun(rivalCtx, toolRequest("mogi_get_run", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

package mcp

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func promptRequest(name string, args map[string]string) mcplib.GetPromptRequest {
	return mcplib.GetPromptRequest{
		Params: mcplib.GetPromptParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// promptText extracts the first user message text from a prompt result.
func promptText(t *testing.T, result *mcplib.GetPromptResult) string {
	t.Helper()
	require.NotEmpty(t, result.Messages, "expected at least one message")
	msg := result.Messages[0]
	assert.Equal(t, mcplib.RoleUser, msg.Role)
	tc, ok := msg.Content.(mcplib.TextContent)
	require.True(t, ok, "message content should be TextContent")
	return tc.Text
}

func TestBeforeFeedbackPrompt(t *testing.T) {
	s, _ := testServer(t)
	runID := uuid.New().String()

	result, err := s.handleBeforeFeedbackPrompt(context.Background(),
		promptRequest("before-feedback", map[string]string{"run_id": runID}))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Contains(t, result.Description, runID)

	text := promptText(t, result)
	assert.Contains(t, text, "mogi_get_transcript",
		"prompt should instruct the caller to read the transcript first")
	assert.Contains(t, text, "mogi_post_feedback",
		"prompt should instruct the caller to post feedback after reading")
	assert.Contains(t, text, runID)
}

func TestBeforeFeedbackPrompt_MissingRunID(t *testing.T) {
	s, _ := testServer(t)

	_, err := s.handleBeforeFeedbackPrompt(context.Background(),
		promptRequest("before-feedback", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id")
}

func TestRunPostmortemPrompt(t *testing.T) {
	s, _ := testServer(t)
	runID := uuid.New().String()

	result, err := s.handleRunPostmortemPrompt(context.Background(),
		promptRequest("run-postmortem", map[string]string{"run_id": runID}))
	require.NoError(t, err)

	text := promptText(t, result)
	assert.Contains(t, text, "mogi_get_run")
	assert.Contains(t, text, "mogi_summarize",
		"postmortem should end with recording the outcome summary")
	assert.Contains(t, text, runID)
}

func TestRunPostmortemPrompt_MissingRunID(t *testing.T) {
	s, _ := testServer(t)

	_, err := s.handleRunPostmortemPrompt(context.Background(),
		promptRequest("run-postmortem", map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id")
}

func TestModeratorSetupPrompt(t *testing.T) {
	s, _ := testServer(t)

	result, err := s.handleModeratorSetupPrompt(context.Background(),
		promptRequest("moderator-setup", nil))
	require.NoError(t, err)

	text := promptText(t, result)
	// The setup snippet walks the whole moderation workflow.
	for _, tool := range []string{
		"mogi_list_simulations",
		"mogi_start_run",
		"mogi_drive_run",
		"mogi_step_run",
		"mogi_post_feedback",
		"mogi_summarize",
		"mogi_abort_run",
	} {
		assert.Contains(t, text, tool)
	}
	assert.Contains(t, text, "budget_remaining")
}

package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mogi/internal/model"
)

func TestScriptedCyclesLines(t *testing.T) {
	p := NewScripted(map[string][]string{
		"advocate": {"first", "second"},
	})

	req := Request{Agent: model.AgentSpec{Role: "advocate"}, Seq: 1}
	for i, want := range []string{"first", "second", "first"} {
		act, err := p.ProduceAction(context.Background(), req)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, want, act.Content)
		assert.Equal(t, "scripted", act.Model)
	}
}

func TestScriptedSynthesizesUnscriptedRoles(t *testing.T) {
	p := NewScripted(nil)

	act, err := p.ProduceAction(context.Background(), Request{
		Agent: model.AgentSpec{Role: "skeptic"},
		Seq:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, "skeptic contribution for turn 3", act.Content)

	// Same role and seq again produces the same line.
	again, err := p.ProduceAction(context.Background(), Request{
		Agent: model.AgentSpec{Role: "skeptic"},
		Seq:   3,
	})
	require.NoError(t, err)
	assert.Equal(t, act.Content, again.Content)
}

func TestScriptedHonorsCancellation(t *testing.T) {
	p := NewScripted(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProduceAction(ctx, Request{Agent: model.AgentSpec{Role: "advocate"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranscriptRendersHistoryAndFeedback(t *testing.T) {
	req := Request{
		Simulation: model.Simulation{
			Name:        "pricing-debate",
			Description: "Should we raise prices?",
			Roster: []model.AgentSpec{
				{Role: "advocate"},
				{Role: "skeptic"},
			},
		},
		Agent: model.AgentSpec{Role: "skeptic"},
		Seq:   3,
		History: []model.Turn{
			{Seq: 1, AgentRole: "advocate", Content: "raise by 10%"},
			{Seq: 2, AgentRole: "skeptic", Content: "churn risk"},
		},
		Feedback: []model.Feedback{
			{Content: "consider enterprise customers"},
		},
	}

	out := Transcript(req)
	assert.Contains(t, out, "Scenario: pricing-debate")
	assert.Contains(t, out, "[1] advocate: raise by 10%")
	assert.Contains(t, out, "[2] skeptic: churn risk")
	assert.Contains(t, out, "consider enterprise customers")
	assert.Contains(t, out, `You are "skeptic". Produce your next contribution (turn 3).`)

	// History precedes feedback, feedback precedes the instruction.
	assert.Less(t, strings.Index(out, "Transcript so far"), strings.Index(out, "Moderator feedback"))
}

func TestSystemPromptPrefersBrief(t *testing.T) {
	withBrief := Request{Agent: model.AgentSpec{Role: "advocate", Brief: "Argue for the change."}}
	assert.Equal(t, "Argue for the change.", SystemPrompt(withBrief))

	without := Request{Agent: model.AgentSpec{Role: "advocate"}}
	assert.Contains(t, SystemPrompt(without), `"advocate"`)
}

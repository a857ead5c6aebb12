package metrics_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mogi/internal/metrics"
	"github.com/ashita-ai/mogi/internal/model"
)

func byName(ms []model.Metric) map[string]model.Metric {
	out := make(map[string]model.Metric, len(ms))
	for _, m := range ms {
		out[m.Name] = m
	}
	return out
}

func TestCompute_FirstTurn(t *testing.T) {
	runID := uuid.New()
	turn := model.Turn{RunID: runID, Seq: 1, AgentRole: "analyst", Content: "three short words"}

	got, err := metrics.Compute(turn, nil, nil)
	require.NoError(t, err)

	m := byName(got)
	assert.Equal(t, float64(len(turn.Content)), m[metrics.NameTurnChars].Value)
	assert.Equal(t, 3.0, m[metrics.NameTurnWords].Value)

	// No previous turn: no agreement family metrics.
	_, ok := m[metrics.NameAgreement]
	assert.False(t, ok)
	_, ok = m[metrics.NameStance]
	assert.False(t, ok)

	for _, metric := range got {
		assert.Equal(t, runID, metric.RunID)
		assert.Equal(t, int64(1), metric.TurnSeq)
	}
}

func TestCompute_AgreementWithPreviousTurn(t *testing.T) {
	prev := model.Turn{Seq: 1, AgentRole: "analyst", Content: "restart the failing pods"}
	turn := model.Turn{Seq: 2, AgentRole: "critic", Content: "restart the failing pods now"}

	got, err := metrics.Compute(turn, &prev, nil)
	require.NoError(t, err)

	m := byName(got)
	agreement := m[metrics.NameAgreement]
	assert.Greater(t, agreement.Value, 0.6)

	stance := m[metrics.NameStance]
	require.NotNil(t, stance.Label)
	assert.Equal(t, metrics.StanceConcur, *stance.Label)

	// First observation: running mean equals the observation.
	assert.InDelta(t, agreement.Value, m[metrics.NameAgreementAvg].Value, 1e-12)
}

func TestCompute_RunningMean(t *testing.T) {
	prev := model.Turn{Seq: 2, AgentRole: "analyst", Content: "alpha beta"}
	turn := model.Turn{Seq: 3, AgentRole: "critic", Content: "gamma delta"} // agreement 0

	prior := []model.Metric{
		{TurnSeq: 2, Name: metrics.NameAgreement, Value: 1.0},
	}

	got, err := metrics.Compute(turn, &prev, prior)
	require.NoError(t, err)

	m := byName(got)
	assert.InDelta(t, 0.0, m[metrics.NameAgreement].Value, 1e-12)
	assert.InDelta(t, 0.5, m[metrics.NameAgreementAvg].Value, 1e-12)
}

func TestCompute_Deterministic(t *testing.T) {
	prev := model.Turn{Seq: 1, Content: "the same input"}
	turn := model.Turn{Seq: 2, Content: "the same input, again"}
	prior := []model.Metric{{TurnSeq: 1, Name: metrics.NameAgreement, Value: 0.4}}

	first, err := metrics.Compute(turn, &prev, prior)
	require.NoError(t, err)
	second, err := metrics.Compute(turn, &prev, prior)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStanceBuckets(t *testing.T) {
	tests := []struct {
		prevContent string
		content     string
		want        string
	}{
		{"identical words here", "identical words here", metrics.StanceConcur},
		{"alpha beta gamma", "delta epsilon zeta", metrics.StanceDissent},
		{"a b c d e", "a b x y z", metrics.StanceNeutral}, // 2/8 = 0.25
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			prev := model.Turn{Seq: 1, Content: tt.prevContent}
			turn := model.Turn{Seq: 2, Content: tt.content}
			got, err := metrics.Compute(turn, &prev, nil)
			require.NoError(t, err)
			stance := byName(got)[metrics.NameStance]
			require.NotNil(t, stance.Label)
			assert.Equal(t, tt.want, *stance.Label)
		})
	}
}

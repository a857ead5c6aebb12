package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mogi/internal/model"
)

func fixedPolicy(n int64) model.Policy {
	return model.Policy{Kind: model.PolicyFixedTurnCount, TurnCount: n}
}

func TestValidateSimulation(t *testing.T) {
	base := model.Simulation{
		Name:       "incident-review",
		Roster:     []model.AgentSpec{{Role: "analyst"}, {Role: "critic"}},
		Policy:     fixedPolicy(4),
		StepBudget: 10,
	}

	tests := []struct {
		name    string
		mutate  func(s *model.Simulation)
		wantErr string
	}{
		{name: "valid", mutate: func(s *model.Simulation) {}},
		{
			name:    "missing name",
			mutate:  func(s *model.Simulation) { s.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "name too long",
			mutate:  func(s *model.Simulation) { s.Name = strings.Repeat("a", model.MaxSimulationNameLen+1) },
			wantErr: "name exceeds",
		},
		{
			name:    "zero budget",
			mutate:  func(s *model.Simulation) { s.StepBudget = 0 },
			wantErr: "step_budget",
		},
		{
			name:    "budget over cap",
			mutate:  func(s *model.Simulation) { s.StepBudget = model.MaxStepBudget + 1 },
			wantErr: "step_budget",
		},
		{
			name:    "empty roster",
			mutate:  func(s *model.Simulation) { s.Roster = nil },
			wantErr: "at least one agent role",
		},
		{
			name: "duplicate role",
			mutate: func(s *model.Simulation) {
				s.Roster = []model.AgentSpec{{Role: "analyst"}, {Role: "analyst"}}
			},
			wantErr: "more than once",
		},
		{
			name: "bad role identifier",
			mutate: func(s *model.Simulation) {
				s.Roster = []model.AgentSpec{{Role: "has space"}}
			},
			wantErr: "not a valid role identifier",
		},
		{
			name:    "bad policy",
			mutate:  func(s *model.Simulation) { s.Policy = model.Policy{Kind: "majority"} },
			wantErr: "policy.kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			s.Roster = append([]model.AgentSpec(nil), base.Roster...)
			tt.mutate(&s)
			err := model.ValidateSimulation(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePolicy(t *testing.T) {
	roster := []model.AgentSpec{{Role: "a"}, {Role: "b"}, {Role: "c"}}

	tests := []struct {
		name    string
		policy  model.Policy
		wantErr bool
	}{
		{"fixed valid", model.Policy{Kind: model.PolicyFixedTurnCount, TurnCount: 1}, false},
		{"fixed zero turns", model.Policy{Kind: model.PolicyFixedTurnCount}, true},
		{"threshold valid", model.Policy{Kind: model.PolicyMetricThreshold, MetricName: "agreement", Threshold: 0.9, Direction: model.ThresholdAbove}, false},
		{"threshold missing metric", model.Policy{Kind: model.PolicyMetricThreshold, Direction: model.ThresholdAbove}, true},
		{"threshold bad direction", model.Policy{Kind: model.PolicyMetricThreshold, MetricName: "x", Direction: "sideways"}, true},
		{"agreement valid", model.Policy{Kind: model.PolicyAgreement, WindowSize: 2, MinSimilarity: 0.8}, false},
		{"agreement window of one", model.Policy{Kind: model.PolicyAgreement, WindowSize: 1, MinSimilarity: 0.8}, true},
		{"agreement window exceeds roster", model.Policy{Kind: model.PolicyAgreement, WindowSize: 4, MinSimilarity: 0.8}, true},
		{"agreement similarity out of range", model.Policy{Kind: model.PolicyAgreement, WindowSize: 2, MinSimilarity: 1.5}, true},
		{"unknown kind", model.Policy{Kind: "quorum"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := model.ValidatePolicy(tt.policy, roster)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAgentAt_RoundRobin(t *testing.T) {
	sim := model.Simulation{
		Roster: []model.AgentSpec{{Role: "analyst"}, {Role: "critic"}},
	}

	want := []string{"analyst", "critic", "analyst", "critic", "analyst"}
	for i, role := range want {
		seq := int64(i + 1)
		assert.Equal(t, role, sim.AgentAt(seq).Role, "seq %d", seq)
	}
}

func TestRunStateTerminal(t *testing.T) {
	for _, s := range []model.RunState{model.RunConverged, model.RunAborted, model.RunFailed} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []model.RunState{model.RunPending, model.RunRunning} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestRoleRank(t *testing.T) {
	ordered := []model.ActorRole{
		model.RoleReader,
		model.RoleOperator,
		model.RoleAdmin,
		model.RoleOrgOwner,
	}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, model.RoleRank(ordered[i]), model.RoleRank(ordered[i-1]),
			"%q should rank higher than %q", ordered[i], ordered[i-1])
	}
	assert.Equal(t, 0, model.RoleRank(model.ActorRole("unknown")))
	assert.True(t, model.RoleAtLeast(model.RoleAdmin, model.RoleOperator))
	assert.False(t, model.RoleAtLeast(model.RoleReader, model.RoleOperator))
}

func TestValidateActorID(t *testing.T) {
	for _, id := range []string{"ops", "svc.runner-01", "user@example", strings.Repeat("a", 255)} {
		assert.NoError(t, model.ValidateActorID(id), "%q", id)
	}
	for _, id := range []string{"", "-leading", "has space", strings.Repeat("a", 256)} {
		assert.Error(t, model.ValidateActorID(id), "%q", id)
	}
}

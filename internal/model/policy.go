package model

import "fmt"

// PolicyKind discriminates the convergence policy variants. Policies are a
// closed tagged union rather than pluggable code so that convergence
// evaluation stays pure, total, and replayable from stored definitions.
type PolicyKind string

const (
	// PolicyFixedTurnCount converges once the run has produced N turns.
	PolicyFixedTurnCount PolicyKind = "fixed_turn_count"
	// PolicyMetricThreshold converges when a named metric crosses a bound.
	PolicyMetricThreshold PolicyKind = "metric_threshold"
	// PolicyAgreement converges when the last N turns, produced by distinct
	// agents, satisfy a pairwise similarity threshold.
	PolicyAgreement PolicyKind = "agreement"
)

// ThresholdDirection says which side of the bound counts as crossed.
type ThresholdDirection string

const (
	ThresholdAbove ThresholdDirection = "above"
	ThresholdBelow ThresholdDirection = "below"
)

// Policy is a simulation's convergence policy. Exactly the fields for the
// declared Kind are consulted; the rest are ignored.
type Policy struct {
	Kind PolicyKind `json:"kind"`

	// Fixed turn count.
	TurnCount int64 `json:"turn_count,omitempty"`

	// Metric threshold.
	MetricName string             `json:"metric_name,omitempty"`
	Threshold  float64            `json:"threshold,omitempty"`
	Direction  ThresholdDirection `json:"direction,omitempty"`

	// Agreement.
	WindowSize    int     `json:"window_size,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

// ValidatePolicy checks policy fields against the declared kind and the
// roster the policy will govern.
func ValidatePolicy(p Policy, roster []AgentSpec) error {
	switch p.Kind {
	case PolicyFixedTurnCount:
		if p.TurnCount <= 0 {
			return fmt.Errorf("policy.turn_count must be positive")
		}
	case PolicyMetricThreshold:
		if p.MetricName == "" {
			return fmt.Errorf("policy.metric_name is required")
		}
		if p.Direction != ThresholdAbove && p.Direction != ThresholdBelow {
			return fmt.Errorf("policy.direction must be %q or %q", ThresholdAbove, ThresholdBelow)
		}
	case PolicyAgreement:
		if p.WindowSize < 2 {
			return fmt.Errorf("policy.window_size must be at least 2")
		}
		if len(roster) > 0 && p.WindowSize > len(roster) {
			return fmt.Errorf("policy.window_size cannot exceed roster size %d (turns in the window must come from distinct agents)", len(roster))
		}
		if p.MinSimilarity <= 0 || p.MinSimilarity > 1 {
			return fmt.Errorf("policy.min_similarity must be in (0, 1]")
		}
	default:
		return fmt.Errorf("policy.kind must be one of %q, %q, %q", PolicyFixedTurnCount, PolicyMetricThreshold, PolicyAgreement)
	}
	return nil
}

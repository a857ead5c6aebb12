// Package convergence decides whether a run has reached a terminal judgment.
//
// Evaluate is a pure function over a simulation's policy and the run's
// accumulated turns and metrics. It never panics out to callers and never
// touches the clock, the network, or storage, so replaying a recorded run
// always reproduces the same verdicts.
package convergence

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/mogi/internal/model"
)

// Verdict is the result of a convergence evaluation.
type Verdict struct {
	Converged bool
	// Reason is set when Converged is true, naming the satisfied criterion.
	Reason string
	// Degraded is set when evaluation hit an internal inconsistency and
	// answered "not converged" as the safe default. The caller records a
	// degraded-evaluation audit event but the step proceeds.
	Degraded bool
	// DegradedReason explains the inconsistency when Degraded is true.
	DegradedReason string
}

// Evaluate applies the policy to the accumulated history. Total: malformed
// policies or inconsistent history degrade to not-converged instead of
// erroring, because a convergence check must never fail a run.
func Evaluate(policy model.Policy, turns []model.Turn, metrics []model.Metric) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{Degraded: true, DegradedReason: fmt.Sprintf("evaluation panic: %v", r)}
		}
	}()

	switch policy.Kind {
	case model.PolicyFixedTurnCount:
		return evaluateFixedTurnCount(policy, turns)
	case model.PolicyMetricThreshold:
		return evaluateMetricThreshold(policy, metrics)
	case model.PolicyAgreement:
		return evaluateAgreement(policy, turns)
	default:
		return Verdict{Degraded: true, DegradedReason: fmt.Sprintf("unknown policy kind %q", policy.Kind)}
	}
}

func evaluateFixedTurnCount(policy model.Policy, turns []model.Turn) Verdict {
	if policy.TurnCount <= 0 {
		return Verdict{Degraded: true, DegradedReason: "fixed_turn_count policy with non-positive turn_count"}
	}
	if int64(len(turns)) >= policy.TurnCount {
		return Verdict{
			Converged: true,
			Reason:    fmt.Sprintf("reached configured turn count %d", policy.TurnCount),
		}
	}
	return Verdict{}
}

func evaluateMetricThreshold(policy model.Policy, metrics []model.Metric) Verdict {
	if policy.MetricName == "" {
		return Verdict{Degraded: true, DegradedReason: "metric_threshold policy with empty metric_name"}
	}
	// Only the most recent observation of the named metric is consulted:
	// a bound crossed and re-crossed earlier in the run does not converge it.
	for i := len(metrics) - 1; i >= 0; i-- {
		m := metrics[i]
		if m.Name != policy.MetricName {
			continue
		}
		crossed := false
		switch policy.Direction {
		case model.ThresholdAbove:
			crossed = m.Value >= policy.Threshold
		case model.ThresholdBelow:
			crossed = m.Value <= policy.Threshold
		default:
			return Verdict{Degraded: true, DegradedReason: fmt.Sprintf("metric_threshold policy with direction %q", policy.Direction)}
		}
		if crossed {
			return Verdict{
				Converged: true,
				Reason:    fmt.Sprintf("metric %q crossed %s threshold %g at turn %d (value %g)", m.Name, policy.Direction, policy.Threshold, m.TurnSeq, m.Value),
			}
		}
		return Verdict{}
	}
	return Verdict{}
}

func evaluateAgreement(policy model.Policy, turns []model.Turn) Verdict {
	if policy.WindowSize < 2 {
		return Verdict{Degraded: true, DegradedReason: "agreement policy with window_size < 2"}
	}
	if len(turns) < policy.WindowSize {
		return Verdict{}
	}

	window := turns[len(turns)-policy.WindowSize:]

	// All turns in the window must come from distinct agents; a single agent
	// agreeing with itself is not agreement.
	seen := make(map[string]bool, len(window))
	for _, turn := range window {
		if seen[turn.AgentRole] {
			return Verdict{}
		}
		seen[turn.AgentRole] = true
	}

	// Pairwise similarity across the window; the minimum pair decides.
	lowest := 1.0
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			s := Similarity(window[i].Content, window[j].Content)
			if s < lowest {
				lowest = s
			}
		}
	}
	if lowest >= policy.MinSimilarity {
		return Verdict{
			Converged: true,
			Reason:    fmt.Sprintf("last %d turns from distinct agents agree (min pairwise similarity %.3f >= %.3f)", policy.WindowSize, lowest, policy.MinSimilarity),
		}
	}
	return Verdict{}
}

// Similarity computes the Jaccard similarity of the token sets of two
// texts, in [0, 1]. Tokenization is lowercase whitespace splitting with
// leading/trailing punctuation stripped; the same pair of texts always
// yields the same score.
func Similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

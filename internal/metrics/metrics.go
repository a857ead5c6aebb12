// Package metrics derives named measurements from turns as they are
// appended to a run.
//
// Computation is a pure transformation of (new turn, recent turns, prior
// metric history): identical input always yields identical metrics, which
// is what makes audit replay possible. Metrics are observability, not
// correctness: a failed computation degrades the step's audit trail but
// never aborts the step.
package metrics

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/mogi/internal/convergence"
	"github.com/ashita-ai/mogi/internal/model"
)

// Metric names emitted by Compute.
const (
	NameTurnChars    = "turn_chars"
	NameTurnWords    = "turn_words"
	NameAgreement    = "agreement"     // similarity with the immediately preceding turn
	NameAgreementAvg = "agreement_avg" // running mean of agreement across the run
	NameStance       = "stance"        // categorical: concur | dissent | neutral
)

// Stance labels for the categorical stance metric.
const (
	StanceConcur  = "concur"
	StanceDissent = "dissent"
	StanceNeutral = "neutral"
)

// Compute derives the metrics for a newly appended turn. prior is the run's
// full metric history before this turn, ordered by (turn_seq, name);
// prevTurn is the turn at seq-1, nil for the first turn.
//
// A panic in metric computation (the aggregator accepts arbitrary provider
// output) is converted into an error so the caller can record a
// degraded-metrics audit event and proceed.
func Compute(turn model.Turn, prevTurn *model.Turn, prior []model.Metric) (out []model.Metric, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("metrics: compute for turn %d: %v", turn.Seq, r)
		}
	}()

	add := func(name string, value float64, label *string) {
		out = append(out, model.Metric{
			RunID:   turn.RunID,
			OrgID:   turn.OrgID,
			TurnSeq: turn.Seq,
			Name:    name,
			Value:   value,
			Label:   label,
		})
	}

	add(NameTurnChars, float64(len(turn.Content)), nil)
	add(NameTurnWords, float64(len(strings.Fields(turn.Content))), nil)

	if prevTurn != nil {
		agreement := convergence.Similarity(turn.Content, prevTurn.Content)
		add(NameAgreement, agreement, nil)
		add(NameAgreementAvg, runningMean(prior, NameAgreement, agreement), nil)

		label := stanceLabel(agreement)
		add(NameStance, agreement, &label)
	}

	return out, nil
}

// runningMean folds the new observation into the mean of all prior
// observations of the named metric.
func runningMean(prior []model.Metric, name string, next float64) float64 {
	sum := next
	n := 1
	for _, m := range prior {
		if m.Name == name {
			sum += m.Value
			n++
		}
	}
	return sum / float64(n)
}

// stanceLabel buckets an agreement score into a categorical stance.
// Bounds are fixed constants so replays relabel identically.
func stanceLabel(agreement float64) string {
	switch {
	case agreement >= 0.6:
		return StanceConcur
	case agreement <= 0.2:
		return StanceDissent
	default:
		return StanceNeutral
	}
}

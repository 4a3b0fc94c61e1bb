// Package scoring computes the value score of an interaction: a deterministic
// weighted sum of five factors, each in [0,1]. Every component that needs a
// value score calls Score so the formula has one definition.
package scoring

import (
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// Factor weights. They sum to 1.
const (
	WeightComplexity   = 0.2
	WeightReusability  = 0.3
	WeightNovelty      = 0.2
	WeightConfirmation = 0.15
	WeightImpact       = 0.15
)

// DefaultImpact is used when the caller does not supply one.
const DefaultImpact = 0.5

// Confirmation maps outcome and feedback to a factor.
func Confirmation(outcome store.Outcome, feedback *int32) float64 {
	switch outcome {
	case store.OutcomeSuccess:
		if feedback == nil {
			return 0.5
		}
		switch {
		case *feedback > 0:
			return 1.0
		case *feedback < 0:
			return 0.25
		default:
			return 0.5
		}
	case store.OutcomeFailure:
		return 0
	default:
		// partial and unknown
		return 0.25
	}
}

// Score returns the value score, clamped to [0,1].
func Score(f store.ScoreFactors, outcome store.Outcome, feedback *int32) float64 {
	v := WeightComplexity*clamp(f.Complexity) +
		WeightReusability*clamp(f.Reusability) +
		WeightNovelty*clamp(f.Novelty) +
		WeightConfirmation*Confirmation(outcome, feedback) +
		WeightImpact*clamp(f.Impact)
	return clamp(v)
}

// ScoreRecord scores a record from its persisted factors.
func ScoreRecord(r *store.InteractionRecord) float64 {
	return Score(r.Factors, r.Outcome, r.UserFeedback)
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

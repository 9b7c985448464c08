package agents

import (
	"fmt"
	"strings"

	"edgehunter/internal/risk"
)

// consensus combines the desk estimates. A tight spread takes the median;
// a wide one takes a confidence-weighted mean and flags a debate.
func consensus(yesPrice float64, estimates []Estimate) *Result {
	if len(estimates) == 0 {
		return &Result{
			SystemProbability:  yesPrice,
			ConsensusReasoning: "No estimates produced - falling back to market price.",
		}
	}

	probabilities := make([]float64, 0, len(estimates))
	totalWeight := 0.0
	weightedSum := 0.0
	for _, est := range estimates {
		probabilities = append(probabilities, est.Probability)
		totalWeight += est.Confidence
		weightedSum += est.Probability * est.Confidence
	}

	divergence := maxOf(probabilities) - minOf(probabilities)
	debateNeeded := divergence > risk.DebateDivergenceThreshold

	var systemProbability float64
	var method string
	if !debateNeeded {
		systemProbability = median(probabilities)
		method = "median"
	} else {
		if totalWeight > 0 {
			systemProbability = weightedSum / totalWeight
		} else {
			systemProbability = median(probabilities)
		}
		method = "weighted_avg (pre-debate)"
	}

	summaries := make([]string, 0, len(estimates))
	for _, est := range estimates {
		summaries = append(summaries, fmt.Sprintf("%s: %.3f (conf=%.2f)", est.Desk, est.Probability, est.Confidence))
	}

	return &Result{
		SystemProbability: risk.RoundTo(systemProbability, 4),
		Divergence:        risk.RoundTo(divergence, 4),
		DebateNeeded:      debateNeeded,
		ConsensusReasoning: fmt.Sprintf("Method: %s | Divergence: %.3f | Estimates: %s",
			method, divergence, strings.Join(summaries, ", ")),
		Estimates: estimates,
	}
}

func maxOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v > out {
			out = v
		}
	}
	return out
}

func minOf(values []float64) float64 {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"edgehunter/internal/risk"
)

// debate runs the round-robin chatroom that resolves divergent estimates:
// openings in round 1, critiques in round 2, open rebuttal after that. It
// stops when the spread between desks falls inside the convergence
// threshold, or a moderator forces a ruling after the round cap.
func (e *Ensemble) debate(ctx context.Context, in MarketInput, result *Result) {
	desks := make([]string, 0, len(result.Estimates))
	current := make(map[string]float64, len(result.Estimates))
	initialConfidence := make(map[string]float64, len(result.Estimates))
	var transcript []TranscriptEntry

	for _, est := range result.Estimates {
		desk := string(est.Desk)
		desks = append(desks, desk)
		current[desk] = est.Probability
		initialConfidence[desk] = est.Confidence

		transcript = append(transcript, TranscriptEntry{
			Round:   1,
			Agent:   desk,
			Type:    "opening",
			Message: fmt.Sprintf("My estimate for '%s' is %.3f. Reasoning: %s", in.Title, est.Probability, est.Reasoning),
		})
	}

	for round := 2; round <= risk.MaxDebateRounds; round++ {
		if spread(desks, current) <= risk.ConvergenceThreshold {
			e.logger.Info("debate converged", zap.Int("round", round))
			break
		}

		shared := debateContext(in, desks, current, transcript)
		for _, desk := range desks {
			prompt := debatePrompt(shared, desk, round)

			reply, err := e.llm.Complete(ctx, "", prompt)
			if err != nil {
				e.logger.Warn("debate response failed",
					zap.String("desk", desk), zap.Int("round", round), zap.Error(err))
				transcript = append(transcript, TranscriptEntry{
					Round:   round,
					Agent:   desk,
					Type:    "error",
					Message: fmt.Sprintf("Failed to respond: %v", err),
				})
				continue
			}

			if updated, ok := extractUpdatedProbability(reply); ok {
				current[desk] = updated
			}
			entryType := "defense"
			if round == 2 {
				entryType = "critique"
			}
			p := current[desk]
			transcript = append(transcript, TranscriptEntry{
				Round:              round,
				Agent:              desk,
				Type:               entryType,
				Message:            truncate(reply, 500),
				UpdatedProbability: &p,
			})
		}
	}

	converged := spread(desks, current) <= risk.ConvergenceThreshold

	var consensusProbability float64
	if converged {
		probs := make([]float64, 0, len(desks))
		for _, desk := range desks {
			probs = append(probs, current[desk])
		}
		consensusProbability = median(probs)
	} else {
		totalWeight := 0.0
		weightedSum := 0.0
		for _, desk := range desks {
			conf := initialConfidence[desk]
			totalWeight += conf
			weightedSum += current[desk] * conf
		}
		if totalWeight > 0 {
			consensusProbability = weightedSum / totalWeight
		} else {
			probs := make([]float64, 0, len(desks))
			for _, desk := range desks {
				probs = append(probs, current[desk])
			}
			consensusProbability = median(probs)
		}
		// Conservative bias: pull slightly toward 0.5.
		consensusProbability = consensusProbability*0.9 + 0.5*0.1

		finals := make([]string, 0, len(desks))
		for _, desk := range desks {
			finals = append(finals, fmt.Sprintf("%s=%.3f", desk, current[desk]))
		}
		transcript = append(transcript, TranscriptEntry{
			Round: risk.MaxDebateRounds + 1,
			Agent: "moderator",
			Type:  "final_ruling",
			Message: fmt.Sprintf(
				"Agents did not converge after %d rounds. Final estimates: %s. "+
					"Using confidence-weighted average with conservative bias: %.3f.",
				risk.MaxDebateRounds, strings.Join(finals, ", "), consensusProbability),
		})
	}

	roundsUsed := 0
	for _, entry := range transcript {
		if entry.Round > roundsUsed {
			roundsUsed = entry.Round
		}
	}

	result.SystemProbability = risk.RoundTo(consensusProbability, 4)
	result.DebateTranscript = transcript
	result.DebateRounds = roundsUsed
	result.DebateConverged = converged
	result.ConsensusReasoning = fmt.Sprintf("Debate result: converged=%t, rounds=%d, consensus=%.3f",
		converged, roundsUsed, result.SystemProbability)

	e.logger.Info("debate complete",
		zap.Float64("consensus", result.SystemProbability),
		zap.Bool("converged", converged),
		zap.Int("rounds", roundsUsed))
}

func spread(desks []string, current map[string]float64) float64 {
	lo, hi := 1.0, 0.0
	for _, desk := range desks {
		p := current[desk]
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	return hi - lo
}

func debateContext(in MarketInput, desks []string, current map[string]float64, transcript []TranscriptEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %q\nDescription: %q\nCategory: %s\nCurrent market price: %g\n\nCurrent estimates:\n",
		in.Title, in.Description, in.Category, in.YesPrice)
	for _, desk := range desks {
		fmt.Fprintf(&b, "  %s: %.3f\n", desk, current[desk])
	}

	// Last two rounds of context keeps the prompt bounded.
	b.WriteString("\nDebate transcript so far:\n")
	window := transcript
	if n := len(desks) * 2; len(window) > n {
		window = window[len(window)-n:]
	}
	for _, entry := range window {
		fmt.Fprintf(&b, "  [%s] %s\n", entry.Agent, truncate(entry.Message, 300))
	}
	return b.String()
}

func debatePrompt(shared, desk string, round int) string {
	if round == 2 {
		return fmt.Sprintf(`%s

You are the %s desk. You must critique ONE other agent's estimate.
Pick the estimate you disagree with most and explain why their reasoning is flawed.
Then state your UPDATED probability (it can stay the same or change).

Format your response as:
CRITIQUE: [which desk you're critiquing and why]
UPDATED PROBABILITY: [0.XX]
REASONING: [1-2 sentences]`, shared, desk)
	}
	return fmt.Sprintf(`%s

You are the %s desk. Based on the critiques and arguments so far:
1. Have any valid points changed your view?
2. What is your UPDATED probability estimate?
3. Be willing to concede if the evidence is strong, but defend if you have data.

Format your response as:
RESPONSE: [address the strongest counter-argument]
UPDATED PROBABILITY: [0.XX]
REASONING: [1-2 sentences]`, shared, desk)
}

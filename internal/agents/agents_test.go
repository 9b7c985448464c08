package agents

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"edgehunter/internal/client/tavily"
	"edgehunter/internal/models"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (s *scriptedLLM) Complete(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply := s.replies[len(s.replies)-1]
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return reply, nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

type noSearch struct{}

func (noSearch) Enabled() bool { return false }
func (noSearch) Search(context.Context, string, int) ([]tavily.Result, error) {
	return nil, nil
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParseEstimate_JSONBlock(t *testing.T) {
	raw := `Here is my analysis.
{"probability": 0.62, "confidence": 0.7, "reasoning": "Polls moved sharply.", "model_type": "bayesian"}`
	parsed := parseEstimate(raw)
	if parsed.Probability == nil || !almostEqual(*parsed.Probability, 0.62) {
		t.Fatalf("probability = %v, want 0.62", parsed.Probability)
	}
	if parsed.Confidence == nil || !almostEqual(*parsed.Confidence, 0.7) {
		t.Fatalf("confidence = %v, want 0.7", parsed.Confidence)
	}
	if parsed.Reasoning != "Polls moved sharply." {
		t.Fatalf("reasoning = %q", parsed.Reasoning)
	}
	if parsed.ModelKind != "bayesian" {
		t.Fatalf("model kind = %q", parsed.ModelKind)
	}
}

func TestParseEstimate_RegexFallback(t *testing.T) {
	raw := `I could not format JSON but probability: 0.35 and confidence = 0.6 seems right.`
	parsed := parseEstimate(raw)
	if parsed.Probability == nil || !almostEqual(*parsed.Probability, 0.35) {
		t.Fatalf("probability = %v, want 0.35", parsed.Probability)
	}
	if parsed.Confidence == nil || !almostEqual(*parsed.Confidence, 0.6) {
		t.Fatalf("confidence = %v, want 0.6", parsed.Confidence)
	}
}

func TestParseEstimate_Empty(t *testing.T) {
	parsed := parseEstimate("no usable numbers here")
	if parsed.Probability != nil || parsed.Confidence != nil {
		t.Fatalf("expected nothing parsed, got %+v", parsed)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "é" is two bytes; a byte-indexed cut at 3 would split the second one.
	s := "aéé"
	got := truncate(s, 4)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate(%q, 4) = %q, not valid UTF-8", s, got)
	}
	if got != "aé" {
		t.Fatalf("truncate(%q, 4) = %q, want %q", s, got, "aé")
	}
	if truncate("ascii", 10) != "ascii" {
		t.Fatal("short strings must pass through unchanged")
	}
	if truncate("ascii", 3) != "asc" {
		t.Fatal("ascii cut should land exactly at max")
	}
}

func TestExtractUpdatedProbability(t *testing.T) {
	cases := []struct {
		text string
		want float64
		ok   bool
	}{
		{"UPDATED PROBABILITY: 0.45\nREASONING: conceded", 0.45, true},
		{"my estimate: 0.72 after the critique", 0.72, true},
		{"Updated probability: 62 percent", 0.62, true},
		{"I see a 0.55 chance of this resolving YES", 0.55, true},
		{"no numbers to speak of", 0, false},
	}
	for _, tc := range cases {
		got, ok := extractUpdatedProbability(tc.text)
		if ok != tc.ok || (ok && !almostEqual(got, tc.want)) {
			t.Fatalf("extract(%q) = (%v, %v), want (%v, %v)", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDeskEstimate_DefaultsAndClamp(t *testing.T) {
	est := deskEstimate(models.DeskResearch, researchAgentName, `{"probability": 1.5, "confidence": 0.8, "reasoning": "overshoot"}`, 0.5, "")
	if !almostEqual(est.Probability, 0.99) {
		t.Fatalf("probability = %v, want clamp to 0.99", est.Probability)
	}

	est = deskEstimate(models.DeskBaseRate, baseRateAgentName, "nothing parseable at all", 0.4, "")
	if !almostEqual(est.Probability, 0.5) || !almostEqual(est.Confidence, 0.4) {
		t.Fatalf("defaults not applied: %+v", est)
	}
	if est.Reasoning != "nothing parseable at all" {
		t.Fatalf("reasoning should fall back to raw reply, got %q", est.Reasoning)
	}
}

func TestConsensus_MedianWhenTight(t *testing.T) {
	estimates := []Estimate{
		{Desk: models.DeskResearch, Probability: 0.62, Confidence: 0.7},
		{Desk: models.DeskBaseRate, Probability: 0.58, Confidence: 0.5},
		{Desk: models.DeskModel, Probability: 0.65, Confidence: 0.6},
	}
	result := consensus(0.55, estimates)
	if result.DebateNeeded {
		t.Fatal("debate should not trigger for divergence 0.07")
	}
	if !almostEqual(result.SystemProbability, 0.62) {
		t.Fatalf("system probability = %v, want median 0.62", result.SystemProbability)
	}
	if !strings.HasPrefix(result.ConsensusReasoning, "Method: median | Divergence: 0.070") {
		t.Fatalf("reasoning = %q", result.ConsensusReasoning)
	}
	if !strings.Contains(result.ConsensusReasoning, "research: 0.620 (conf=0.70)") {
		t.Fatalf("reasoning missing desk summary: %q", result.ConsensusReasoning)
	}
}

func TestConsensus_WeightedWhenDivergent(t *testing.T) {
	estimates := []Estimate{
		{Desk: models.DeskResearch, Probability: 0.40, Confidence: 0.8},
		{Desk: models.DeskBaseRate, Probability: 0.70, Confidence: 0.4},
		{Desk: models.DeskModel, Probability: 0.55, Confidence: 0.6},
	}
	result := consensus(0.5, estimates)
	if !result.DebateNeeded {
		t.Fatal("debate should trigger for divergence 0.30")
	}
	// (0.40*0.8 + 0.70*0.4 + 0.55*0.6) / 1.8 = 0.5167
	if !almostEqual(result.SystemProbability, 0.5167) {
		t.Fatalf("system probability = %v, want 0.5167", result.SystemProbability)
	}
	if !strings.Contains(result.ConsensusReasoning, "weighted_avg (pre-debate)") {
		t.Fatalf("reasoning = %q", result.ConsensusReasoning)
	}
}

func TestConsensus_NoEstimates(t *testing.T) {
	result := consensus(0.44, nil)
	if !almostEqual(result.SystemProbability, 0.44) {
		t.Fatalf("system probability = %v, want market price", result.SystemProbability)
	}
	if result.DebateNeeded {
		t.Fatal("no estimates should never debate")
	}
}

func TestDebate_ConvergesAfterCritiques(t *testing.T) {
	estimates := []Estimate{
		{Desk: models.DeskResearch, Probability: 0.40, Confidence: 0.8, Reasoning: "weak polling"},
		{Desk: models.DeskBaseRate, Probability: 0.70, Confidence: 0.4, Reasoning: "historical rate"},
		{Desk: models.DeskModel, Probability: 0.55, Confidence: 0.6, Reasoning: "bayesian prior"},
	}
	result := consensus(0.5, estimates)

	// Every desk concedes to 0.55 in round 2, so round 3's pre-check stops
	// the debate.
	llm := &scriptedLLM{replies: []string{"CRITIQUE: base_rate overweights old data\nUPDATED PROBABILITY: 0.55\nREASONING: conceded"}}
	ensemble := NewEnsemble(llm, noSearch{}, nil)
	ensemble.debate(context.Background(), MarketInput{Title: "Will X happen?", YesPrice: 0.5}, result)

	if !result.DebateConverged {
		t.Fatal("debate should converge")
	}
	if !almostEqual(result.SystemProbability, 0.55) {
		t.Fatalf("system probability = %v, want 0.55", result.SystemProbability)
	}
	if result.DebateRounds != 2 {
		t.Fatalf("rounds = %d, want 2", result.DebateRounds)
	}
	openings := 0
	for _, entry := range result.DebateTranscript {
		if entry.Type == "opening" {
			openings++
		}
		if entry.Type == "final_ruling" {
			t.Fatal("converged debate should not have a moderator ruling")
		}
	}
	if openings != 3 {
		t.Fatalf("openings = %d, want 3", openings)
	}
}

func TestDebate_ExhaustionUsesModeratorRuling(t *testing.T) {
	estimates := []Estimate{
		{Desk: models.DeskResearch, Probability: 0.30, Confidence: 0.8, Reasoning: "a"},
		{Desk: models.DeskBaseRate, Probability: 0.70, Confidence: 0.4, Reasoning: "b"},
		{Desk: models.DeskModel, Probability: 0.50, Confidence: 0.6, Reasoning: "c"},
	}
	result := consensus(0.5, estimates)

	// No desk ever updates, so the estimates stay 0.40 apart and the
	// moderator rules after round 5.
	llm := &scriptedLLM{replies: []string{"I stand by my analysis and will not move."}}
	ensemble := NewEnsemble(llm, noSearch{}, nil)
	ensemble.debate(context.Background(), MarketInput{Title: "Will Y happen?", YesPrice: 0.5}, result)

	if result.DebateConverged {
		t.Fatal("debate should not converge")
	}
	// weighted = (0.30*0.8 + 0.70*0.4 + 0.50*0.6) / 1.8 = 0.4556; biased =
	// 0.4556*0.9 + 0.05 = 0.46
	if !almostEqual(result.SystemProbability, 0.46) {
		t.Fatalf("system probability = %v, want 0.46", result.SystemProbability)
	}
	if result.DebateRounds != 6 {
		t.Fatalf("rounds = %d, want 6 (moderator entry)", result.DebateRounds)
	}
	last := result.DebateTranscript[len(result.DebateTranscript)-1]
	if last.Agent != "moderator" || last.Type != "final_ruling" {
		t.Fatalf("last entry = %+v, want moderator final_ruling", last)
	}
}

func TestEnsembleEstimate_NoDebateOnAgreement(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`{"probability": 0.6, "confidence": 0.7, "reasoning": "all agree"}`}}
	ensemble := NewEnsemble(llm, noSearch{}, nil)

	result := ensemble.Estimate(context.Background(), MarketInput{
		Title:    "Will Z happen?",
		YesPrice: 0.5,
		Category: "politics",
	})
	if len(result.Estimates) != 3 {
		t.Fatalf("estimates = %d, want 3", len(result.Estimates))
	}
	if result.DebateNeeded {
		t.Fatal("identical desk estimates should not debate")
	}
	if !almostEqual(result.SystemProbability, 0.6) {
		t.Fatalf("system probability = %v, want 0.6", result.SystemProbability)
	}
}

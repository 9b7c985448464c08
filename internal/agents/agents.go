// Package agents runs the three-desk probability ensemble: independent
// desk estimates fan out in parallel, a consensus step combines them, and
// a round-robin debate resolves the cases where the desks diverge.
package agents

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"edgehunter/internal/client/tavily"
	"edgehunter/internal/models"
)

// Completer is the single-exchange LLM surface the desks need.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Searcher provides web context for the research and base-rate desks.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string, maxResults int) ([]tavily.Result, error)
}

// MarketInput is the slice of a market the desks reason about.
type MarketInput struct {
	Title       string
	Description string
	YesPrice    float64
	Category    string
}

// Estimate is one desk's view of the market.
type Estimate struct {
	Desk        models.Desk `json:"desk"`
	AgentName   string      `json:"agent_name"`
	Probability float64     `json:"probability"`
	Confidence  float64     `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
	ModelKind   string      `json:"model_kind,omitempty"`
}

// TranscriptEntry is one message in the debate log.
type TranscriptEntry struct {
	Round              int      `json:"round"`
	Agent              string   `json:"agent"`
	Type               string   `json:"type"`
	Message            string   `json:"message"`
	UpdatedProbability *float64 `json:"updated_probability,omitempty"`
}

// Result is the full output of one estimation run.
type Result struct {
	SystemProbability  float64
	Divergence         float64
	DebateNeeded       bool
	ConsensusReasoning string
	Estimates          []Estimate

	DebateTranscript []TranscriptEntry
	DebateRounds     int
	DebateConverged  bool
}

// Ensemble wires the desks, consensus and debate into one pipeline.
type Ensemble struct {
	llm    Completer
	search Searcher
	logger *zap.Logger
}

func NewEnsemble(llm Completer, search Searcher, logger *zap.Logger) *Ensemble {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ensemble{llm: llm, search: search, logger: logger}
}

// Estimate runs the desks in parallel, combines them, and debates when the
// spread between desks is too wide to trust a simple median.
func (e *Ensemble) Estimate(ctx context.Context, in MarketInput) *Result {
	desks := []func(context.Context, MarketInput) Estimate{
		e.runResearchDesk,
		e.runBaseRateDesk,
		e.runModelDesk,
	}

	estimates := make([]Estimate, len(desks))
	var wg sync.WaitGroup
	for i, run := range desks {
		wg.Add(1)
		go func(i int, run func(context.Context, MarketInput) Estimate) {
			defer wg.Done()
			estimates[i] = run(ctx, in)
		}(i, run)
	}
	wg.Wait()

	for _, est := range estimates {
		e.logger.Info("desk estimate",
			zap.String("desk", string(est.Desk)),
			zap.Float64("probability", est.Probability),
			zap.Float64("confidence", est.Confidence))
	}

	result := consensus(in.YesPrice, estimates)
	if !result.DebateNeeded {
		return result
	}

	e.logger.Info("debate triggered", zap.Float64("divergence", result.Divergence))
	e.debate(ctx, in, result)
	return result
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

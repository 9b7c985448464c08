package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"edgehunter/internal/client/tavily"
	"edgehunter/internal/models"
)

const (
	researchAgentName = "research_analyst"
	baseRateAgentName = "base_rate_analyst"
	modelAgentName    = "statistical_model"
)

// webContext runs one search and renders the results for a prompt. The
// desks degrade to "no results" when search is unavailable.
func (e *Ensemble) webContext(ctx context.Context, query string) string {
	if e.search == nil || !e.search.Enabled() {
		return "No results found."
	}
	results, err := e.search.Search(ctx, query, 5)
	if err != nil {
		e.logger.Warn("web search failed", zap.String("query", query), zap.Error(err))
		return "No results found."
	}
	return tavily.FormatResults(results)
}

func description(in MarketInput) string {
	if strings.TrimSpace(in.Description) == "" {
		return "Standard resolution"
	}
	return in.Description
}

// runResearchDesk estimates from current news and web evidence.
func (e *Ensemble) runResearchDesk(ctx context.Context, in MarketInput) Estimate {
	system := "You are a research analyst estimating probabilities for prediction markets."
	user := fmt.Sprintf(`Market: %q
Resolution criteria: %q
Category: %s
Current market price: %g (implies %.1f%% probability)

Recent web search results for this question:
%s

Your job:
1. Weigh the most relevant, recent information above
2. Identify key factors that affect the outcome
3. Estimate the TRUE probability (0.00 to 1.00) based on the evidence
4. Do NOT anchor on the market price - form your own independent view

Return ONLY a JSON object with these exact keys:
{"probability": 0.XX, "confidence": 0.XX, "reasoning": "2-3 sentences"}`,
		in.Title, description(in), in.Category, in.YesPrice, in.YesPrice*100,
		e.webContext(ctx, in.Title))

	raw, err := e.llm.Complete(ctx, system, user)
	if err != nil {
		return deskFailure(models.DeskResearch, researchAgentName, in.YesPrice, err)
	}
	return deskEstimate(models.DeskResearch, researchAgentName, raw, 0.5, "")
}

// runBaseRateDesk estimates from historical frequencies only.
func (e *Ensemble) runBaseRateDesk(ctx context.Context, in MarketInput) Estimate {
	system := "You are a statistical analyst focused on base rates and historical frequencies."
	user := fmt.Sprintf(`Market: %q
Category: %s

Web search results on historical data for this type of event:
%s

Your job:
1. Find the historical base rate for this type of event
   - For economic data: "In the last N releases, how often did X exceed Y?"
   - For politics: "What is the base rate for this type of political outcome?"
   - For weather: "Historical frequency of this weather event"
   - For crypto: "How often has this price target been reached historically?"
2. Adjust for any known trend or structural change
3. Produce a probability based PURELY on historical frequencies

Do NOT use current news or sentiment. Only historical data and frequencies.

Return ONLY a JSON object with these exact keys:
{"probability": 0.XX, "confidence": 0.XX, "reasoning": "2-3 sentences about the base rate"}`,
		in.Title, in.Category,
		e.webContext(ctx, in.Title+" historical base rate"))

	raw, err := e.llm.Complete(ctx, system, user)
	if err != nil {
		return deskFailure(models.DeskBaseRate, baseRateAgentName, in.YesPrice, err)
	}
	return deskEstimate(models.DeskBaseRate, baseRateAgentName, raw, 0.4, "")
}

// runModelDesk estimates from quantitative reasoning alone, no search.
func (e *Ensemble) runModelDesk(ctx context.Context, in MarketInput) Estimate {
	system := "You are a quantitative analyst building a statistical model for a prediction market."
	user := fmt.Sprintf(`Market: %q
Resolution criteria: %q
Category: %s
Current market price: %g (implies %.1f%% probability)

Your job:
1. Identify what quantitative framework best applies:
   - Bayesian: start with a prior, update with evidence
   - Threshold analysis: what conditions must be met for YES?
   - Mean reversion: is this event unusually priced vs fundamentals?
   - Trend extrapolation: what does the trend suggest?

2. Reason through the model step by step

3. Produce a calibrated probability. Be honest about uncertainty.
   - If you have strong quantitative grounds, confidence should be 0.6-0.8
   - If the model is speculative, confidence should be 0.2-0.4
   - Never claim confidence > 0.85 for a single model

4. Do NOT simply copy the market price. Apply your own analysis.

Return ONLY a JSON object with these exact keys:
{"probability": 0.XX, "confidence": 0.XX, "reasoning": "2-3 sentences about the model", "model_type": "bayesian|threshold|trend|mean_reversion"}`,
		in.Title, description(in), in.Category, in.YesPrice, in.YesPrice*100)

	raw, err := e.llm.Complete(ctx, system, user)
	if err != nil {
		est := deskFailure(models.DeskModel, modelAgentName, in.YesPrice, err)
		est.ModelKind = "fallback"
		return est
	}
	return deskEstimate(models.DeskModel, modelAgentName, raw, 0.4, "statistical")
}

// deskEstimate builds an Estimate from a raw desk reply, applying the parse
// defaults and the probability clamp.
func deskEstimate(desk models.Desk, agentName, raw string, defaultConfidence float64, defaultModelKind string) Estimate {
	parsed := parseEstimate(raw)

	probability := 0.5
	if parsed.Probability != nil {
		probability = *parsed.Probability
	}
	confidence := defaultConfidence
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	reasoning := parsed.Reasoning
	if reasoning == "" {
		reasoning = truncate(raw, 500)
	}
	modelKind := parsed.ModelKind
	if modelKind == "" {
		modelKind = defaultModelKind
	}

	return Estimate{
		Desk:        desk,
		AgentName:   agentName,
		Probability: clampProbability(probability),
		Confidence:  confidence,
		Reasoning:   reasoning,
		ModelKind:   modelKind,
	}
}

func deskFailure(desk models.Desk, agentName string, yesPrice float64, err error) Estimate {
	return Estimate{
		Desk:        desk,
		AgentName:   agentName,
		Probability: yesPrice,
		Confidence:  0.1,
		Reasoning:   fmt.Sprintf("%s desk failed: %v", desk, err),
	}
}

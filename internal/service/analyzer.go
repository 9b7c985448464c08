package service

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edgehunter/internal/agents"
	"edgehunter/internal/config"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
)

// ProbabilityEstimator is the ensemble surface the analyzer drives.
type ProbabilityEstimator interface {
	Estimate(ctx context.Context, in agents.MarketInput) *agents.Result
}

// AnalysisOutcome bundles everything one analysis run produced.
type AnalysisOutcome struct {
	Market   *models.Market
	Result   *agents.Result
	Analysis *models.EdgeAnalysis
	Position *models.Position
}

// AnalyzerService runs the full pipeline for one market: ensemble
// estimation, the Kelly gate, persistence, and optionally execution.
type AnalyzerService struct {
	Repo      repository.Repository
	Estimator ProbabilityEstimator
	Executor  *ExecutorService
	Logger    *zap.Logger
	Trading   config.TradingConfig
}

// Analyze estimates one market and records the gate's verdict. The desk
// estimates and the edge analysis commit as one unit. When execute is set
// and the gate passes, the trade is handed to the executor.
func (s *AnalyzerService) Analyze(ctx context.Context, marketID uint64, execute bool) (*AnalysisOutcome, error) {
	market, err := s.Repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("market %d not found", marketID)
	}
	if market.Status != models.MarketActive {
		return nil, fmt.Errorf("market %d is not active", marketID)
	}

	result := s.Estimator.Estimate(ctx, agents.MarketInput{
		Title:       market.Title,
		Description: market.Description,
		YesPrice:    market.YesPrice,
		Category:    string(market.Category),
	})

	decision := risk.Evaluate(risk.Input{
		SystemProbability:   result.SystemProbability,
		MarketPrice:         market.YesPrice,
		Bankroll:            s.Trading.Bankroll,
		MinEdge:             s.Trading.MinEdgeThreshold,
		MaxPositionFraction: s.Trading.MaxPositionFraction(),
	})

	scanID := uuid.NewString()[:8]
	analysis := &models.EdgeAnalysis{
		MarketID: market.ID,
		ScanID:   scanID,

		SystemProbability: risk.RoundTo(result.SystemProbability, 4),
		MarketPrice:       risk.RoundTo(market.YesPrice, 4),
		Edge:              risk.RoundTo(decision.Edge, 4),
		ExpectedValue:     risk.RoundTo(decision.ExpectedValue, 6),
		KellyFraction:     risk.RoundTo(decision.KellyFraction, 6),
		HalfKellyFraction: risk.RoundTo(decision.HalfKellyFraction, 6),

		PositionSizeDollars: risk.RoundTo(decision.PositionSizeDollars, 2),
		NumContracts:        decision.NumContracts,
		RecommendedSide:     decision.Side,

		Tradeable:       decision.Tradeable,
		RejectionReason: decision.RejectionReason,

		DebateTriggered:     result.DebateNeeded,
		EstimatesDivergence: risk.RoundTo(result.Divergence, 4),
	}
	if len(result.DebateTranscript) > 0 {
		transcript, err := json.Marshal(result.DebateTranscript)
		if err != nil {
			return nil, fmt.Errorf("encode debate transcript: %w", err)
		}
		analysis.DebateTranscript = transcript
	}

	estimates := make([]models.ProbabilityEstimate, 0, len(result.Estimates))
	for _, est := range result.Estimates {
		estimates = append(estimates, models.ProbabilityEstimate{
			MarketID:    market.ID,
			ScanID:      scanID,
			Desk:        est.Desk,
			AgentName:   est.AgentName,
			Probability: risk.RoundTo(est.Probability, 4),
			Confidence:  risk.RoundTo(est.Confidence, 4),
			Reasoning:   truncateText(est.Reasoning, 2000),
			ModelKind:   est.ModelKind,
		})
	}

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if len(estimates) > 0 {
			if err := s.Repo.InsertEstimatesTx(ctx, tx, estimates); err != nil {
				return err
			}
		}
		return s.Repo.InsertEdgeAnalysisTx(ctx, tx, analysis)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("analysis complete",
		zap.Uint64("market_id", market.ID),
		zap.String("scan_id", scanID),
		zap.Float64("system_probability", analysis.SystemProbability),
		zap.Float64("edge", analysis.Edge),
		zap.Bool("tradeable", analysis.Tradeable),
		zap.Bool("debate", analysis.DebateTriggered))

	outcome := &AnalysisOutcome{Market: market, Result: result, Analysis: analysis}

	if execute && analysis.Tradeable && s.Executor != nil {
		position, err := s.Executor.Execute(ctx, analysis, market)
		if err != nil {
			s.Logger.Error("trade execution failed",
				zap.Uint64("market_id", market.ID), zap.Error(err))
		}
		outcome.Position = position
	}
	return outcome, nil
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
)

// KalshiResolutionAPI is the slice of the Kalshi client resolution needs.
type KalshiResolutionAPI interface {
	GetMarket(ctx context.Context, ticker string) (*kalshi.Market, error)
}

// ResolutionService settles markets: it detects venue resolution, closes
// positions at the payoff price, and writes calibration records.
type ResolutionService struct {
	Repo   repository.Repository
	Kalshi KalshiResolutionAPI
	Gamma  GammaMarketAPI
	Logger *zap.Logger
}

// RunOnce checks every active market that still has open or pending
// positions. Each resolved market settles in its own transaction; a failure
// on one market is logged and skipped.
func (s *ResolutionService) RunOnce(ctx context.Context) int {
	markets, err := s.Repo.ListActiveMarketsWithOpenPositions(ctx)
	if err != nil {
		s.Logger.Error("list markets with positions failed", zap.Error(err))
		return 0
	}
	if len(markets) == 0 {
		return 0
	}

	resolved := 0
	for i := range markets {
		market := &markets[i]

		isResolved, outcome, err := s.venueResolution(ctx, market)
		if err != nil {
			s.Logger.Error("resolution check failed",
				zap.Uint64("market_id", market.ID), zap.Error(err))
			continue
		}
		if !isResolved {
			continue
		}

		if err := s.settleMarket(ctx, market, outcome); err != nil {
			s.Logger.Error("market settlement failed",
				zap.Uint64("market_id", market.ID), zap.Error(err))
			continue
		}
		resolved++
	}

	if resolved > 0 {
		s.Logger.Info("resolution pass", zap.Int("markets_resolved", resolved))
	}
	return resolved
}

// venueResolution asks the owning venue whether the market settled and
// which way.
func (s *ResolutionService) venueResolution(ctx context.Context, market *models.Market) (bool, bool, error) {
	switch market.Platform {
	case models.PlatformKalshi:
		if s.Kalshi == nil {
			return false, false, nil
		}
		mkt, err := s.Kalshi.GetMarket(ctx, market.PlatformMarketID)
		if err != nil {
			return false, false, err
		}
		resolved, outcome := mkt.IsResolved()
		return resolved, outcome, nil
	case models.PlatformPolymarket:
		if s.Gamma == nil {
			return false, false, nil
		}
		gm, err := s.Gamma.GetMarket(ctx, market.PlatformMarketID)
		if err != nil {
			return false, false, err
		}
		resolved, outcome := gm.IsResolved()
		return resolved, outcome, nil
	}
	return false, false, nil
}

// settleMarket commits the whole settlement as one unit: market status,
// position payoffs, and the calibration record.
func (s *ResolutionService) settleMarket(ctx context.Context, market *models.Market, outcome bool) error {
	now := time.Now().UTC()
	var closedCount int
	var brier *float64

	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.MarkMarketResolvedTx(ctx, tx, market.ID, outcome, now); err != nil {
			return err
		}

		positions, err := s.Repo.ListOpenPositionsForMarketTx(ctx, tx, market.ID)
		if err != nil {
			return err
		}
		for i := range positions {
			position := &positions[i]
			settlePosition(position, outcome, now)
			if err := s.Repo.SavePositionTx(ctx, tx, position); err != nil {
				return err
			}
		}
		closedCount = len(positions)

		record, err := s.buildCalibrationRecord(ctx, market, outcome, now)
		if err != nil {
			return err
		}
		if record != nil {
			if err := s.Repo.InsertCalibrationRecordTx(ctx, tx, record); err != nil {
				return err
			}
			brier = &record.BrierScore
		}
		return nil
	})
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Uint64("market_id", market.ID),
		zap.String("title", market.Title),
		zap.Bool("outcome_yes", outcome),
		zap.Int("positions_closed", closedCount),
	}
	if brier != nil {
		fields = append(fields, zap.Float64("brier", *brier))
	}
	s.Logger.Info("market resolved", fields...)
	return nil
}

// settlePosition applies the binary payoff matrix: the winning side's
// contracts pay $1.00 each, the losing side's expire worthless.
func settlePosition(position *models.Position, outcomeYes bool, now time.Time) {
	won := (outcomeYes && position.Side == models.SideYes) ||
		(!outcomeYes && position.Side == models.SideNo)

	var pnl float64
	exitPrice := 0.0
	if won {
		exitPrice = 1.0
		if position.Side == models.SideYes {
			pnl = (1.0 - position.EntryPrice) * float64(position.NumContracts)
		} else {
			pnl = position.EntryPrice * float64(position.NumContracts)
		}
		position.Status = models.PositionClosedWin
	} else {
		pnl = -position.TotalCost
		position.Status = models.PositionClosedLoss
	}

	pnlDollars := risk.RoundTo(pnl, 2)
	pnlPercent := 0.0
	if position.TotalCost > 0 {
		pnlPercent = risk.RoundTo(pnl/position.TotalCost*100, 2)
	}
	position.ExitPrice = &exitPrice
	position.PnlDollars = &pnlDollars
	position.PnlPercent = &pnlPercent
	position.ClosedAt = &now
}

// buildCalibrationRecord pairs the latest analysis with the outcome. No
// analysis means nothing to score.
func (s *ResolutionService) buildCalibrationRecord(ctx context.Context, market *models.Market, outcome bool, now time.Time) (*models.CalibrationRecord, error) {
	edge, err := s.Repo.LatestEdgeAnalysisForMarket(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		s.Logger.Warn("no edge analysis for resolved market, skipping calibration",
			zap.Uint64("market_id", market.ID))
		return nil, nil
	}

	outcomeVal := 0.0
	if outcome {
		outcomeVal = 1.0
	}
	diff := edge.SystemProbability - outcomeVal

	record := &models.CalibrationRecord{
		MarketID:           market.ID,
		SystemProbability:  edge.SystemProbability,
		MarketPriceAtEntry: edge.MarketPrice,
		ActualOutcome:      outcome,
		BrierScore:         risk.RoundTo(diff*diff, 6),
		Category:           market.Category,
		ResolvedAt:         now,
	}

	byDesk, err := s.Repo.LatestEstimatesByDesk(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	if est, ok := byDesk[models.DeskResearch]; ok {
		p := est.Probability
		record.ResearchEstimate = &p
	}
	if est, ok := byDesk[models.DeskBaseRate]; ok {
		p := est.Probability
		record.BaseRateEstimate = &p
	}
	if est, ok := byDesk[models.DeskModel]; ok {
		p := est.Probability
		record.ModelEstimate = &p
	}
	return record, nil
}

package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edgehunter/internal/client/polymarket"
	"edgehunter/internal/config"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
)

// KalshiOrderAPI places maker orders on Kalshi.
type KalshiOrderAPI interface {
	PlaceLimitOrder(ctx context.Context, ticker, side string, count int, price float64) (string, error)
}

// ClobOrderAPI places maker orders on the Polymarket CLOB.
type ClobOrderAPI interface {
	PlaceLimitOrder(ctx context.Context, tokenID string, price float64, size int) (string, error)
}

// GammaMarketAPI resolves CLOB token ids for a condition id.
type GammaMarketAPI interface {
	GetMarket(ctx context.Context, id string) (*polymarket.GammaMarket, error)
}

// ExecutorService turns tradeable edge analyses into resting limit orders.
// Always maker, never taker: takers pay the spread that is the edge here.
type ExecutorService struct {
	Repo    repository.Repository
	Kalshi  KalshiOrderAPI
	Clob    ClobOrderAPI
	Gamma   GammaMarketAPI
	Logger  *zap.Logger
	Trading config.TradingConfig
}

// Execute checks the safety limits, places a limit order at the current
// price, and records a pending position. The limit checks and the insert
// run in one transaction under an advisory lock; read-committed isolation
// alone would let two concurrent runs both read a count under the cap. A
// venue rejection still records the position, with no order id, for the
// monitor to cancel.
func (s *ExecutorService) Execute(ctx context.Context, edge *models.EdgeAnalysis, market *models.Market) (*models.Position, error) {
	if edge == nil || !edge.Tradeable {
		s.Logger.Warn("execute called on non-tradeable analysis")
		return nil, nil
	}

	entryPrice := market.YesPrice
	if edge.RecommendedSide == models.SideNo {
		entryPrice = market.NoPrice
	}
	totalCost := decimal.NewFromFloat(entryPrice).
		Mul(decimal.NewFromInt(int64(edge.NumContracts))).
		Round(2)

	var position *models.Position
	blocked := ""
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.AcquirePositionsLockTx(ctx, tx); err != nil {
			return err
		}
		openCount, err := s.Repo.CountOpenPositionsTx(ctx, tx)
		if err != nil {
			return err
		}
		if openCount >= int64(s.maxConcurrent()) {
			blocked = "max concurrent positions reached"
			s.Logger.Warn("trade blocked: max concurrent positions",
				zap.Int64("open", openCount), zap.Int("limit", s.maxConcurrent()))
			return nil
		}

		midnight := utcMidnight(time.Now().UTC())
		realized, err := s.Repo.SumRealizedPnLSinceTx(ctx, tx, midnight)
		if err != nil {
			return err
		}
		drawdownLimit := decimal.NewFromFloat(s.Trading.Bankroll).
			Mul(decimal.NewFromFloat(risk.MaxDailyDrawdownPct))
		if realized.LessThan(drawdownLimit.Neg()) {
			blocked = "daily drawdown kill-switch triggered"
			s.Logger.Warn("trade blocked: daily drawdown kill-switch",
				zap.String("realized", realized.StringFixed(2)),
				zap.String("limit", drawdownLimit.Neg().StringFixed(2)))
			return nil
		}

		orderID := s.placeOrder(ctx, market, edge.RecommendedSide, edge.NumContracts, entryPrice)

		cost, _ := totalCost.Float64()
		position = &models.Position{
			MarketID:        market.ID,
			EdgeAnalysisID:  edge.ID,
			Platform:        market.Platform,
			Side:            edge.RecommendedSide,
			NumContracts:    edge.NumContracts,
			EntryPrice:      risk.RoundTo(entryPrice, 4),
			TotalCost:       cost,
			Status:          models.PositionPending,
			PlatformOrderID: orderID,
			OpenedAt:        time.Now().UTC(),
		}
		return s.Repo.InsertPositionTx(ctx, tx, position)
	})
	if err != nil {
		return nil, err
	}
	if blocked != "" {
		return nil, nil
	}

	s.Logger.Info("order placed",
		zap.String("market", market.PlatformMarketID),
		zap.String("side", string(edge.RecommendedSide)),
		zap.Int("contracts", edge.NumContracts),
		zap.Float64("price", entryPrice),
		zap.String("cost", totalCost.StringFixed(2)),
		zap.Stringp("order_id", position.PlatformOrderID))
	return position, nil
}

func (s *ExecutorService) maxConcurrent() int {
	if s.Trading.MaxConcurrentPosition > 0 && s.Trading.MaxConcurrentPosition < risk.MaxConcurrentPositions {
		return s.Trading.MaxConcurrentPosition
	}
	return risk.MaxConcurrentPositions
}

// placeOrder routes to the right venue. Order failures return nil: the
// position is still recorded so the monitor can reconcile it to cancelled.
func (s *ExecutorService) placeOrder(ctx context.Context, market *models.Market, side models.Side, count int, price float64) *string {
	switch market.Platform {
	case models.PlatformKalshi:
		if s.Kalshi == nil {
			return nil
		}
		orderID, err := s.Kalshi.PlaceLimitOrder(ctx, market.PlatformMarketID, string(side), count, price)
		if err != nil {
			s.Logger.Error("kalshi order failed",
				zap.String("ticker", market.PlatformMarketID), zap.Error(err))
			return nil
		}
		return &orderID
	case models.PlatformPolymarket:
		if s.Clob == nil || s.Gamma == nil {
			return nil
		}
		gm, err := s.Gamma.GetMarket(ctx, market.PlatformMarketID)
		if err != nil {
			s.Logger.Error("polymarket token lookup failed",
				zap.String("market", market.PlatformMarketID), zap.Error(err))
			return nil
		}
		tokenID := gm.TokenID(side == models.SideYes)
		if tokenID == "" {
			s.Logger.Error("polymarket market has no token id",
				zap.String("market", market.PlatformMarketID))
			return nil
		}
		orderID, err := s.Clob.PlaceLimitOrder(ctx, tokenID, price, count)
		if err != nil {
			s.Logger.Error("polymarket order failed",
				zap.String("market", market.PlatformMarketID), zap.Error(err))
			return nil
		}
		return &orderID
	}
	return nil
}

// ClosePosition closes an open position early at the given exit price.
func (s *ExecutorService) ClosePosition(ctx context.Context, positionID uint64, exitPrice *float64) (*models.Position, error) {
	position, err := s.Repo.GetPositionByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, nil
	}
	if !position.Status.IsOpenState() {
		return position, nil
	}

	if exitPrice != nil {
		applyExit(position, *exitPrice)
	}
	now := time.Now().UTC()
	position.Status = models.PositionClosedEarly
	position.ClosedAt = &now
	if err := s.Repo.SavePosition(ctx, position); err != nil {
		return nil, err
	}

	s.Logger.Info("position closed early",
		zap.Uint64("position_id", position.ID),
		zap.Float64p("pnl", position.PnlDollars))
	return position, nil
}

// applyExit sets exit price and realized P&L on a closing position.
func applyExit(position *models.Position, exitPrice float64) {
	pnl := (exitPrice - position.EntryPrice) * float64(position.NumContracts)
	if position.Side == models.SideNo {
		pnl = (position.EntryPrice - exitPrice) * float64(position.NumContracts)
	}
	exit := risk.RoundTo(exitPrice, 4)
	pnlDollars := risk.RoundTo(pnl, 2)
	position.ExitPrice = &exit
	position.PnlDollars = &pnlDollars
	pnlPercent := 0.0
	if position.TotalCost > 0 {
		pnlPercent = risk.RoundTo(pnl/position.TotalCost*100, 2)
	}
	position.PnlPercent = &pnlPercent
}

func utcMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/client/polymarket"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
)

// KalshiPositionAPI is the slice of the Kalshi client the monitor needs.
type KalshiPositionAPI interface {
	GetOrder(ctx context.Context, orderID string) (*kalshi.Order, error)
	GetMarket(ctx context.Context, ticker string) (*kalshi.Market, error)
}

// ClobPositionAPI is the slice of the CLOB client the monitor needs.
type ClobPositionAPI interface {
	GetOrder(ctx context.Context, orderID string) (*polymarket.Order, error)
	Midpoint(ctx context.Context, tokenID string) (float64, error)
}

// PositionMonitor reconciles pending orders against the venues and
// enforces the per-position stop-loss on open positions.
type PositionMonitor struct {
	Repo   repository.Repository
	Kalshi KalshiPositionAPI
	Clob   ClobPositionAPI
	Gamma  GammaMarketAPI
	Logger *zap.Logger
}

// RunOnce does one reconciliation pass. Per-position errors are logged and
// skipped so one stuck order never blocks the rest.
func (s *PositionMonitor) RunOnce(ctx context.Context) {
	fills := s.checkPendingFills(ctx)
	stops := s.checkStopLosses(ctx)
	if fills > 0 || stops > 0 {
		s.Logger.Info("position monitor pass",
			zap.Int("fills_transitioned", fills),
			zap.Int("stop_losses", stops))
	}
}

// checkPendingFills moves pending positions to open when the venue reports
// a fill, and to cancelled when the order is terminal. A pending position
// with no order id means the venue rejected the placement; it is cancelled
// immediately.
func (s *PositionMonitor) checkPendingFills(ctx context.Context) int {
	pending, err := s.Repo.ListPositionsByStatus(ctx, models.PositionPending)
	if err != nil {
		s.Logger.Error("list pending positions failed", zap.Error(err))
		return 0
	}

	transitioned := 0
	for i := range pending {
		position := &pending[i]

		if position.PlatformOrderID == nil || *position.PlatformOrderID == "" {
			s.cancelPosition(ctx, position, "no venue order id")
			transitioned++
			continue
		}

		filled, terminal, reason, err := s.orderState(ctx, position)
		if err != nil {
			s.Logger.Error("order status check failed",
				zap.Uint64("position_id", position.ID), zap.Error(err))
			continue
		}
		switch {
		case filled:
			position.Status = models.PositionOpen
			if err := s.Repo.SavePosition(ctx, position); err != nil {
				s.Logger.Error("save filled position failed",
					zap.Uint64("position_id", position.ID), zap.Error(err))
				continue
			}
			transitioned++
			s.Logger.Info("position filled", zap.Uint64("position_id", position.ID))
		case terminal:
			s.cancelPosition(ctx, position, reason)
			transitioned++
		}
	}
	return transitioned
}

// orderState asks the owning venue whether the order filled or died.
func (s *PositionMonitor) orderState(ctx context.Context, position *models.Position) (filled, terminal bool, reason string, err error) {
	switch position.Platform {
	case models.PlatformKalshi:
		if s.Kalshi == nil {
			return false, false, "", nil
		}
		order, err := s.Kalshi.GetOrder(ctx, *position.PlatformOrderID)
		if err != nil {
			return false, false, "", err
		}
		if order.Filled() {
			return true, false, "", nil
		}
		if order.Terminal() {
			return false, true, order.Status, nil
		}
	case models.PlatformPolymarket:
		if s.Clob == nil {
			return false, false, "", nil
		}
		order, err := s.Clob.GetOrder(ctx, *position.PlatformOrderID)
		if err != nil {
			return false, false, "", err
		}
		if order.Filled() {
			return true, false, "", nil
		}
		if order.Terminal() {
			return false, true, order.Status, nil
		}
	}
	return false, false, "", nil
}

func (s *PositionMonitor) cancelPosition(ctx context.Context, position *models.Position, reason string) {
	now := time.Now().UTC()
	position.Status = models.PositionCancelled
	position.ClosedAt = &now
	if err := s.Repo.SavePosition(ctx, position); err != nil {
		s.Logger.Error("save cancelled position failed",
			zap.Uint64("position_id", position.ID), zap.Error(err))
		return
	}
	s.Logger.Info("position cancelled",
		zap.Uint64("position_id", position.ID), zap.String("reason", reason))
}

// checkStopLosses closes open positions whose unrealized loss exceeds the
// stop-loss fraction of entry cost.
func (s *PositionMonitor) checkStopLosses(ctx context.Context) int {
	open, err := s.Repo.ListPositionsByStatus(ctx, models.PositionOpen)
	if err != nil {
		s.Logger.Error("list open positions failed", zap.Error(err))
		return 0
	}

	closed := 0
	for i := range open {
		position := &open[i]

		market, err := s.Repo.GetMarketByID(ctx, position.MarketID)
		if err != nil || market == nil {
			s.Logger.Error("market lookup failed",
				zap.Uint64("position_id", position.ID), zap.Error(err))
			continue
		}

		currentYesPrice, ok := s.currentYesPrice(ctx, market)
		if !ok {
			continue
		}

		unrealized := (currentYesPrice - position.EntryPrice) * float64(position.NumContracts)
		if position.Side == models.SideNo {
			unrealized = (position.EntryPrice - currentYesPrice) * float64(position.NumContracts)
		}

		threshold := -(position.TotalCost * risk.StopLossPct)
		if unrealized >= threshold {
			continue
		}

		applyExit(position, currentYesPrice)
		now := time.Now().UTC()
		position.Status = models.PositionClosedLoss
		position.ClosedAt = &now
		if err := s.Repo.SavePosition(ctx, position); err != nil {
			s.Logger.Error("save stopped position failed",
				zap.Uint64("position_id", position.ID), zap.Error(err))
			continue
		}
		closed++
		s.Logger.Warn("stop-loss triggered",
			zap.Uint64("position_id", position.ID),
			zap.Float64("unrealized", risk.RoundTo(unrealized, 2)),
			zap.Float64("threshold", risk.RoundTo(threshold, 2)))
	}
	return closed
}

// currentYesPrice reads the live yes price from the owning venue.
func (s *PositionMonitor) currentYesPrice(ctx context.Context, market *models.Market) (float64, bool) {
	switch market.Platform {
	case models.PlatformKalshi:
		if s.Kalshi == nil {
			return 0, false
		}
		mkt, err := s.Kalshi.GetMarket(ctx, market.PlatformMarketID)
		if err != nil {
			s.Logger.Error("kalshi price check failed",
				zap.String("ticker", market.PlatformMarketID), zap.Error(err))
			return 0, false
		}
		return mkt.YesPrice(), true
	case models.PlatformPolymarket:
		if s.Clob == nil || s.Gamma == nil {
			return 0, false
		}
		gm, err := s.Gamma.GetMarket(ctx, market.PlatformMarketID)
		if err != nil {
			s.Logger.Error("polymarket market lookup failed",
				zap.String("market", market.PlatformMarketID), zap.Error(err))
			return 0, false
		}
		tokenID := gm.TokenID(true)
		if tokenID == "" {
			return 0, false
		}
		mid, err := s.Clob.Midpoint(ctx, tokenID)
		if err != nil {
			s.Logger.Error("polymarket midpoint failed",
				zap.String("market", market.PlatformMarketID), zap.Error(err))
			return 0, false
		}
		return mid, true
	}
	return 0, false
}

package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/models"
)

type stubKalshiVenue struct {
	order  *kalshi.Order
	market *kalshi.Market
}

func (s *stubKalshiVenue) GetOrder(context.Context, string) (*kalshi.Order, error) {
	return s.order, nil
}

func (s *stubKalshiVenue) GetMarket(context.Context, string) (*kalshi.Market, error) {
	return s.market, nil
}

func orderID(id string) *string { return &id }

func TestMonitor_PendingWithoutOrderIDIsCancelled(t *testing.T) {
	repo := newStubRepo()
	position := repo.addPosition(models.Position{Status: models.PositionPending})
	monitor := &PositionMonitor{Repo: repo, Logger: zap.NewNop()}

	monitor.RunOnce(context.Background())

	got := repo.positions[position.ID]
	if got.Status != models.PositionCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.ClosedAt == nil {
		t.Fatal("closed_at should be set")
	}
}

func TestMonitor_FilledOrderOpensPosition(t *testing.T) {
	repo := newStubRepo()
	position := repo.addPosition(models.Position{
		Platform:        models.PlatformKalshi,
		Status:          models.PositionPending,
		PlatformOrderID: orderID("K-1"),
	})
	venue := &stubKalshiVenue{order: &kalshi.Order{OrderID: "K-1", Status: "filled"}}
	monitor := &PositionMonitor{Repo: repo, Kalshi: venue, Logger: zap.NewNop()}

	monitor.RunOnce(context.Background())

	if got := repo.positions[position.ID]; got.Status != models.PositionOpen {
		t.Fatalf("status = %s, want open", got.Status)
	}
}

func TestMonitor_TerminalOrderCancelsPosition(t *testing.T) {
	repo := newStubRepo()
	position := repo.addPosition(models.Position{
		Platform:        models.PlatformKalshi,
		Status:          models.PositionPending,
		PlatformOrderID: orderID("K-2"),
	})
	venue := &stubKalshiVenue{order: &kalshi.Order{OrderID: "K-2", Status: "expired"}}
	monitor := &PositionMonitor{Repo: repo, Kalshi: venue, Logger: zap.NewNop()}

	monitor.RunOnce(context.Background())

	got := repo.positions[position.ID]
	if got.Status != models.PositionCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestMonitor_StopLossTriggers(t *testing.T) {
	repo := newStubRepo()
	market := repo.addMarket(models.Market{
		Platform:         models.PlatformKalshi,
		PlatformMarketID: "FED-DEC",
		Status:           models.MarketActive,
	})
	position := repo.addPosition(models.Position{
		MarketID:     market.ID,
		Platform:     models.PlatformKalshi,
		Side:         models.SideYes,
		NumContracts: 100,
		EntryPrice:   0.40,
		TotalCost:    40.00,
		Status:       models.PositionOpen,
	})
	// Unrealized = (0.37-0.40)*100 = -3.00, threshold = -(40*0.05) = -2.00.
	venue := &stubKalshiVenue{market: &kalshi.Market{YesAsk: 37}}
	monitor := &PositionMonitor{Repo: repo, Kalshi: venue, Logger: zap.NewNop()}

	monitor.RunOnce(context.Background())

	got := repo.positions[position.ID]
	if got.Status != models.PositionClosedLoss {
		t.Fatalf("status = %s, want closed_loss", got.Status)
	}
	if got.ExitPrice == nil || *got.ExitPrice != 0.37 {
		t.Fatalf("exit price = %v, want 0.37", got.ExitPrice)
	}
	if got.PnlDollars == nil || *got.PnlDollars != -3.00 {
		t.Fatalf("pnl = %v, want -3.00", got.PnlDollars)
	}
	if got.PnlPercent == nil || *got.PnlPercent != -7.50 {
		t.Fatalf("pnl pct = %v, want -7.50", got.PnlPercent)
	}
}

func TestMonitor_SmallLossStaysOpen(t *testing.T) {
	repo := newStubRepo()
	market := repo.addMarket(models.Market{
		Platform:         models.PlatformKalshi,
		PlatformMarketID: "FED-DEC",
		Status:           models.MarketActive,
	})
	position := repo.addPosition(models.Position{
		MarketID:     market.ID,
		Platform:     models.PlatformKalshi,
		Side:         models.SideYes,
		NumContracts: 100,
		EntryPrice:   0.40,
		TotalCost:    40.00,
		Status:       models.PositionOpen,
	})
	// Unrealized = -1.00, inside the -2.00 threshold.
	venue := &stubKalshiVenue{market: &kalshi.Market{YesAsk: 39}}
	monitor := &PositionMonitor{Repo: repo, Kalshi: venue, Logger: zap.NewNop()}

	monitor.RunOnce(context.Background())

	if got := repo.positions[position.ID]; got.Status != models.PositionOpen {
		t.Fatalf("status = %s, want open", got.Status)
	}
}

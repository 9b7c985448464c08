package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"edgehunter/internal/config"
	"edgehunter/internal/models"
)

type stubKalshiOrders struct {
	orderID string
	err     error
	placed  int
}

func (s *stubKalshiOrders) PlaceLimitOrder(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	s.placed++
	if s.err != nil {
		return "", s.err
	}
	return s.orderID, nil
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		Bankroll:              10000,
		MinEdgeThreshold:      0.05,
		MaxPositionPct:        5.0,
		MaxConcurrentPosition: 15,
		DailyDrawdownLimitPct: 2.0,
	}
}

func tradeableEdge(marketID uint64) *models.EdgeAnalysis {
	return &models.EdgeAnalysis{
		ID:              7,
		MarketID:        marketID,
		RecommendedSide: models.SideYes,
		NumContracts:    100,
		Tradeable:       true,
	}
}

func TestExecute_PlacesOrderAndRecordsPendingPosition(t *testing.T) {
	repo := newStubRepo()
	market := repo.addMarket(models.Market{
		Platform:         models.PlatformKalshi,
		PlatformMarketID: "FED-DEC",
		YesPrice:         0.45,
		NoPrice:          0.55,
		Status:           models.MarketActive,
	})
	venue := &stubKalshiOrders{orderID: "K-123"}
	exec := &ExecutorService{Repo: repo, Kalshi: venue, Logger: zap.NewNop(), Trading: testTrading()}

	position, err := exec.Execute(context.Background(), tradeableEdge(market.ID), market)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if position == nil {
		t.Fatal("expected a position")
	}
	if venue.placed != 1 {
		t.Fatalf("orders placed = %d, want 1", venue.placed)
	}
	if position.Status != models.PositionPending {
		t.Fatalf("status = %s, want pending", position.Status)
	}
	if position.PlatformOrderID == nil || *position.PlatformOrderID != "K-123" {
		t.Fatalf("order id = %v, want K-123", position.PlatformOrderID)
	}
	if position.EntryPrice != 0.45 {
		t.Fatalf("entry price = %v, want yes price 0.45", position.EntryPrice)
	}
	if position.TotalCost != 45.00 {
		t.Fatalf("total cost = %v, want 45.00", position.TotalCost)
	}
}

func TestExecute_NoSideUsesNoPrice(t *testing.T) {
	repo := newStubRepo()
	market := repo.addMarket(models.Market{
		Platform:         models.PlatformKalshi,
		PlatformMarketID: "CPI-JAN",
		YesPrice:         0.70,
		NoPrice:          0.30,
		Status:           models.MarketActive,
	})
	edge := tradeableEdge(market.ID)
	edge.RecommendedSide = models.SideNo
	exec := &ExecutorService{Repo: repo, Kalshi: &stubKalshiOrders{orderID: "K-9"}, Logger: zap.NewNop(), Trading: testTrading()}

	position, err := exec.Execute(context.Background(), edge, market)
	if err != nil || position == nil {
		t.Fatalf("execute: %v, position=%v", err, position)
	}
	if position.EntryPrice != 0.30 {
		t.Fatalf("entry price = %v, want no price 0.30", position.EntryPrice)
	}
}

func TestExecute_BlockedByMaxConcurrent(t *testing.T) {
	repo := newStubRepo()
	repo.openCount = 15
	market := repo.addMarket(models.Market{
		Platform: models.PlatformKalshi, PlatformMarketID: "X", YesPrice: 0.45, NoPrice: 0.55,
	})
	venue := &stubKalshiOrders{orderID: "K-1"}
	exec := &ExecutorService{Repo: repo, Kalshi: venue, Logger: zap.NewNop(), Trading: testTrading()}

	position, err := exec.Execute(context.Background(), tradeableEdge(market.ID), market)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if position != nil {
		t.Fatal("trade should be blocked at the concurrency cap")
	}
	if venue.placed != 0 {
		t.Fatal("no order should reach the venue when blocked")
	}
}

func TestExecute_ConcurrentRunsRespectCap(t *testing.T) {
	repo := newStubRepo()
	// One slot left under the cap of 15. Both runs race for it; the
	// advisory lock must let exactly one through.
	repo.openCount = 14
	market := repo.addMarket(models.Market{
		Platform: models.PlatformKalshi, PlatformMarketID: "X", YesPrice: 0.45, NoPrice: 0.55,
	})
	venue := &stubKalshiOrders{orderID: "K-1"}
	exec := &ExecutorService{Repo: repo, Kalshi: venue, Logger: zap.NewNop(), Trading: testTrading()}

	results := make([]*models.Position, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			position, err := exec.Execute(context.Background(), tradeableEdge(market.ID), market)
			if err != nil {
				t.Errorf("execute %d: %v", i, err)
			}
			results[i] = position
		}(i)
	}
	wg.Wait()

	placed := 0
	for _, position := range results {
		if position != nil {
			placed++
		}
	}
	if placed != 1 {
		t.Fatalf("positions placed = %d, want exactly 1 at the cap boundary", placed)
	}
	if len(repo.positions) != 1 {
		t.Fatalf("positions recorded = %d, want 1", len(repo.positions))
	}
	if venue.placed != 1 {
		t.Fatalf("venue orders = %d, want 1", venue.placed)
	}
}

func TestExecute_BlockedByDailyDrawdown(t *testing.T) {
	repo := newStubRepo()
	// Bankroll 10000 at the 2% floor gives a -200 limit.
	repo.realizedToday = decimal.NewFromFloat(-250)
	market := repo.addMarket(models.Market{
		Platform: models.PlatformKalshi, PlatformMarketID: "X", YesPrice: 0.45, NoPrice: 0.55,
	})
	venue := &stubKalshiOrders{orderID: "K-1"}
	exec := &ExecutorService{Repo: repo, Kalshi: venue, Logger: zap.NewNop(), Trading: testTrading()}

	position, err := exec.Execute(context.Background(), tradeableEdge(market.ID), market)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if position != nil {
		t.Fatal("kill-switch should block the trade")
	}
	if venue.placed != 0 {
		t.Fatal("no order should reach the venue when the kill-switch trips")
	}
}

func TestExecute_VenueFailureStillRecordsPosition(t *testing.T) {
	repo := newStubRepo()
	market := repo.addMarket(models.Market{
		Platform: models.PlatformKalshi, PlatformMarketID: "X", YesPrice: 0.45, NoPrice: 0.55,
	})
	venue := &stubKalshiOrders{err: fmt.Errorf("insufficient balance")}
	exec := &ExecutorService{Repo: repo, Kalshi: venue, Logger: zap.NewNop(), Trading: testTrading()}

	position, err := exec.Execute(context.Background(), tradeableEdge(market.ID), market)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if position == nil {
		t.Fatal("position should still be recorded for the monitor to reconcile")
	}
	if position.PlatformOrderID != nil {
		t.Fatalf("order id = %v, want nil after venue failure", position.PlatformOrderID)
	}
	if position.Status != models.PositionPending {
		t.Fatalf("status = %s, want pending", position.Status)
	}
}

func TestExecute_IgnoresNonTradeable(t *testing.T) {
	exec := &ExecutorService{Repo: newStubRepo(), Logger: zap.NewNop(), Trading: testTrading()}
	position, err := exec.Execute(context.Background(), &models.EdgeAnalysis{Tradeable: false}, &models.Market{})
	if err != nil || position != nil {
		t.Fatalf("non-tradeable edge must be a no-op, got %v, %v", position, err)
	}
}

func TestClosePosition_Early(t *testing.T) {
	repo := newStubRepo()
	position := repo.addPosition(models.Position{
		Side: models.SideYes, NumContracts: 100, EntryPrice: 0.40, TotalCost: 40, Status: models.PositionOpen,
	})
	exec := &ExecutorService{Repo: repo, Logger: zap.NewNop(), Trading: testTrading()}

	exit := 0.50
	closed, err := exec.ClosePosition(context.Background(), position.ID, &exit)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.PositionClosedEarly {
		t.Fatalf("status = %s, want closed_early", closed.Status)
	}
	if closed.PnlDollars == nil || *closed.PnlDollars != 10.00 {
		t.Fatalf("pnl = %v, want 10.00", closed.PnlDollars)
	}
	if closed.PnlPercent == nil || *closed.PnlPercent != 25.00 {
		t.Fatalf("pnl pct = %v, want 25.00", closed.PnlPercent)
	}
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"edgehunter/internal/models"
	"edgehunter/internal/repository"
)

// stubRepo is an in-memory Repository for service tests.
type stubRepo struct {
	markets       map[uint64]*models.Market
	positions     map[uint64]*models.Position
	nextMarketID  uint64
	nextPosID     uint64
	openCount     int64
	realizedToday decimal.Decimal

	updatedQuotes    int
	insertedAnalyses []*models.EdgeAnalysis
	insertedEsts     []models.ProbabilityEstimate
	calibrations     []*models.CalibrationRecord
	resolved         map[uint64]bool

	latestEdge      *models.EdgeAnalysis
	latestEstimates map[models.Desk]models.ProbabilityEstimate

	// Models the transaction-scoped advisory lock: held from
	// AcquirePositionsLockTx until the InTx callback returns.
	gateMu    sync.Mutex
	gateState sync.Mutex
	gateHeld  bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		markets:   map[uint64]*models.Market{},
		positions: map[uint64]*models.Position{},
		resolved:  map[uint64]bool{},
	}
}

func (r *stubRepo) addMarket(m models.Market) *models.Market {
	r.nextMarketID++
	m.ID = r.nextMarketID
	r.markets[m.ID] = &m
	return r.markets[m.ID]
}

func (r *stubRepo) addPosition(p models.Position) *models.Position {
	r.nextPosID++
	p.ID = r.nextPosID
	r.positions[p.ID] = &p
	return r.positions[p.ID]
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := fn(nil)
	r.gateState.Lock()
	if r.gateHeld {
		r.gateHeld = false
		r.gateMu.Unlock()
	}
	r.gateState.Unlock()
	return err
}

func (r *stubRepo) AcquirePositionsLockTx(context.Context, *gorm.DB) error {
	r.gateMu.Lock()
	r.gateState.Lock()
	r.gateHeld = true
	r.gateState.Unlock()
	return nil
}

func (r *stubRepo) GetMarketByID(_ context.Context, id uint64) (*models.Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (r *stubRepo) GetMarketByPlatformIDTx(_ context.Context, _ *gorm.DB, platform models.Platform, platformMarketID string) (*models.Market, error) {
	for _, m := range r.markets {
		if m.Platform == platform && m.PlatformMarketID == platformMarketID {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) InsertMarketTx(_ context.Context, _ *gorm.DB, item *models.Market) error {
	r.nextMarketID++
	item.ID = r.nextMarketID
	copied := *item
	r.markets[item.ID] = &copied
	return nil
}

func (r *stubRepo) UpdateMarketQuoteTx(_ context.Context, _ *gorm.DB, id uint64, yesPrice, noPrice, spread float64, volume24h int64, daysToExpiry *int, at time.Time) error {
	m, ok := r.markets[id]
	if !ok {
		return fmt.Errorf("market %d not found", id)
	}
	m.YesPrice = yesPrice
	m.NoPrice = noPrice
	m.Spread = spread
	m.Volume24h = volume24h
	m.DaysToExpiry = daysToExpiry
	m.LastUpdated = at
	r.updatedQuotes++
	return nil
}

func (r *stubRepo) MarkMarketResolvedTx(_ context.Context, _ *gorm.DB, id uint64, outcome bool, at time.Time) error {
	m, ok := r.markets[id]
	if !ok {
		return fmt.Errorf("market %d not found", id)
	}
	status := models.MarketResolvedNo
	if outcome {
		status = models.MarketResolvedYes
	}
	m.Status = status
	m.ResolvedOutcome = &outcome
	m.ResolutionTime = &at
	r.resolved[id] = outcome
	return nil
}

func (r *stubRepo) ListMarkets(context.Context, repository.ListMarketsParams) ([]models.Market, error) {
	return nil, nil
}

func (r *stubRepo) ActiveMarketBreakdown(context.Context) (repository.MarketBreakdown, error) {
	return repository.MarketBreakdown{}, nil
}

func (r *stubRepo) ListActiveMarketsWithOpenPositions(context.Context) ([]models.Market, error) {
	var out []models.Market
	for _, m := range r.markets {
		if m.Status != models.MarketActive {
			continue
		}
		for _, p := range r.positions {
			if p.MarketID == m.ID && p.Status.IsOpenState() {
				out = append(out, *m)
				break
			}
		}
	}
	return out, nil
}

func (r *stubRepo) InsertEstimatesTx(_ context.Context, _ *gorm.DB, items []models.ProbabilityEstimate) error {
	r.insertedEsts = append(r.insertedEsts, items...)
	return nil
}

func (r *stubRepo) LatestEstimatesByDesk(context.Context, uint64) (map[models.Desk]models.ProbabilityEstimate, error) {
	return r.latestEstimates, nil
}

func (r *stubRepo) InsertEdgeAnalysisTx(_ context.Context, _ *gorm.DB, item *models.EdgeAnalysis) error {
	item.ID = uint64(len(r.insertedAnalyses) + 1)
	r.insertedAnalyses = append(r.insertedAnalyses, item)
	return nil
}

func (r *stubRepo) GetEdgeAnalysisByID(context.Context, uint64) (*models.EdgeAnalysis, error) {
	return nil, nil
}

func (r *stubRepo) LatestEdgeAnalysisForMarket(context.Context, uint64) (*models.EdgeAnalysis, error) {
	return r.latestEdge, nil
}

func (r *stubRepo) ListDebates(context.Context, int) ([]repository.DebateRow, error) {
	return nil, nil
}

func (r *stubRepo) CountOpenPositionsTx(context.Context, *gorm.DB) (int64, error) {
	return r.openCount, nil
}

func (r *stubRepo) SumRealizedPnLSinceTx(context.Context, *gorm.DB, time.Time) (decimal.Decimal, error) {
	return r.realizedToday, nil
}

func (r *stubRepo) InsertPositionTx(_ context.Context, _ *gorm.DB, item *models.Position) error {
	r.nextPosID++
	item.ID = r.nextPosID
	copied := *item
	r.positions[item.ID] = &copied
	if item.Status.IsOpenState() {
		r.openCount++
	}
	return nil
}

func (r *stubRepo) GetPositionByID(_ context.Context, id uint64) (*models.Position, error) {
	p, ok := r.positions[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (r *stubRepo) ListPositions(context.Context, repository.ListPositionsParams) ([]models.Position, error) {
	return nil, nil
}

func (r *stubRepo) ListPositionsByStatus(_ context.Context, statuses ...models.PositionStatus) ([]models.Position, error) {
	var out []models.Position
	for _, p := range r.positions {
		for _, status := range statuses {
			if p.Status == status {
				out = append(out, *p)
				break
			}
		}
	}
	return out, nil
}

func (r *stubRepo) ListOpenPositionsForMarketTx(_ context.Context, _ *gorm.DB, marketID uint64) ([]models.Position, error) {
	var out []models.Position
	for _, p := range r.positions {
		if p.MarketID == marketID && p.Status.IsOpenState() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *stubRepo) SavePosition(_ context.Context, item *models.Position) error {
	copied := *item
	r.positions[item.ID] = &copied
	return nil
}

func (r *stubRepo) SavePositionTx(_ context.Context, _ *gorm.DB, item *models.Position) error {
	return r.SavePosition(nil, item)
}

func (r *stubRepo) CountOpenPositions(ctx context.Context) (int64, error) {
	return r.CountOpenPositionsTx(ctx, nil)
}

func (r *stubRepo) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return r.SumRealizedPnLSinceTx(ctx, nil, since)
}

func (r *stubRepo) PositionsSummary(context.Context) (repository.PositionsSummary, error) {
	return repository.PositionsSummary{}, nil
}

func (r *stubRepo) InsertCalibrationRecordTx(_ context.Context, _ *gorm.DB, item *models.CalibrationRecord) error {
	r.calibrations = append(r.calibrations, item)
	return nil
}

func (r *stubRepo) ListCalibrationRecords(context.Context) ([]models.CalibrationRecord, error) {
	var out []models.CalibrationRecord
	for _, c := range r.calibrations {
		out = append(out, *c)
	}
	return out, nil
}

package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"edgehunter/internal/models"
)

// Repository is the single persistence surface. All mutations go through it;
// multi-entity writes use InTx with the *Tx variants so a batch commits or
// rolls back as one unit.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Markets
	GetMarketByID(ctx context.Context, id uint64) (*models.Market, error)
	GetMarketByPlatformIDTx(ctx context.Context, tx *gorm.DB, platform models.Platform, platformMarketID string) (*models.Market, error)
	InsertMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error
	UpdateMarketQuoteTx(ctx context.Context, tx *gorm.DB, id uint64, yesPrice, noPrice, spread float64, volume24h int64, daysToExpiry *int, at time.Time) error
	MarkMarketResolvedTx(ctx context.Context, tx *gorm.DB, id uint64, outcome bool, at time.Time) error
	ListMarkets(ctx context.Context, params ListMarketsParams) ([]models.Market, error)
	ActiveMarketBreakdown(ctx context.Context) (MarketBreakdown, error)
	ListActiveMarketsWithOpenPositions(ctx context.Context) ([]models.Market, error)

	// Probability estimates
	InsertEstimatesTx(ctx context.Context, tx *gorm.DB, items []models.ProbabilityEstimate) error
	LatestEstimatesByDesk(ctx context.Context, marketID uint64) (map[models.Desk]models.ProbabilityEstimate, error)

	// Edge analyses
	InsertEdgeAnalysisTx(ctx context.Context, tx *gorm.DB, item *models.EdgeAnalysis) error
	GetEdgeAnalysisByID(ctx context.Context, id uint64) (*models.EdgeAnalysis, error)
	LatestEdgeAnalysisForMarket(ctx context.Context, marketID uint64) (*models.EdgeAnalysis, error)
	ListDebates(ctx context.Context, limit int) ([]DebateRow, error)

	// Positions
	AcquirePositionsLockTx(ctx context.Context, tx *gorm.DB) error
	CountOpenPositionsTx(ctx context.Context, tx *gorm.DB) (int64, error)
	SumRealizedPnLSinceTx(ctx context.Context, tx *gorm.DB, since time.Time) (decimal.Decimal, error)
	InsertPositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error
	GetPositionByID(ctx context.Context, id uint64) (*models.Position, error)
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	ListPositionsByStatus(ctx context.Context, statuses ...models.PositionStatus) ([]models.Position, error)
	ListOpenPositionsForMarketTx(ctx context.Context, tx *gorm.DB, marketID uint64) ([]models.Position, error)
	SavePosition(ctx context.Context, item *models.Position) error
	SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error
	CountOpenPositions(ctx context.Context) (int64, error)
	SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	PositionsSummary(ctx context.Context) (PositionsSummary, error)

	// Calibration
	InsertCalibrationRecordTx(ctx context.Context, tx *gorm.DB, item *models.CalibrationRecord) error
	ListCalibrationRecords(ctx context.Context) ([]models.CalibrationRecord, error)
}

type ListMarketsParams struct {
	Limit     int
	Offset    int
	Platform  *string
	Category  *string
	Status    *string
	MinVolume *int64
	OrderBy   string
	Asc       *bool
}

type ListPositionsParams struct {
	Limit    int
	Offset   int
	Status   *string
	Platform *string
	OrderBy  string
	Asc      *bool
}

type MarketBreakdown struct {
	Total      int64
	ByPlatform map[string]int64
	ByCategory map[string]int64
}

// DebateRow is an edge analysis with its market title, for debate listings.
type DebateRow struct {
	Analysis    models.EdgeAnalysis
	MarketTitle string
}

type PositionsSummary struct {
	TotalPositions  int64
	OpenPositions   int64
	ClosedPositions int64
	TotalInvested   float64
	TotalPnl        float64
	WinRate         *float64
	BestTradePnl    *float64
	WorstTradePnl   *float64
}

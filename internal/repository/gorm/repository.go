package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"edgehunter/internal/models"
	"edgehunter/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// session returns tx when inside a transaction, the root handle otherwise.
func (s *Store) session(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

// --- Markets ----------------------------------------------------------------

func (s *Store) GetMarketByID(ctx context.Context, id uint64) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Market
	err := s.db.WithContext(ctx).Model(&models.Market{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetMarketByPlatformIDTx(ctx context.Context, tx *gorm.DB, platform models.Platform, platformMarketID string) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	platformMarketID = strings.TrimSpace(platformMarketID)
	if platformMarketID == "" {
		return nil, nil
	}
	var item models.Market
	err := s.session(ctx, tx).Model(&models.Market{}).
		Where("platform = ? AND platform_market_id = ?", platform, platformMarketID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) InsertMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Create(item).Error
}

func (s *Store) UpdateMarketQuoteTx(ctx context.Context, tx *gorm.DB, id uint64, yesPrice, noPrice, spread float64, volume24h int64, daysToExpiry *int, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"yes_price":      yesPrice,
		"no_price":       noPrice,
		"spread":         spread,
		"volume_24h":     volume24h,
		"days_to_expiry": daysToExpiry,
		"last_updated":   at,
	}
	return s.session(ctx, tx).Model(&models.Market{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) MarkMarketResolvedTx(ctx context.Context, tx *gorm.DB, id uint64, outcome bool, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	status := models.MarketResolvedNo
	if outcome {
		status = models.MarketResolvedYes
	}
	return s.session(ctx, tx).Model(&models.Market{}).Where("id = ?", id).Updates(map[string]any{
		"status":           status,
		"resolved_outcome": outcome,
		"resolution_time":  at,
		"last_updated":     at,
	}).Error
}

func (s *Store) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Market{})
	if params.Platform != nil && strings.TrimSpace(*params.Platform) != "" {
		query = query.Where("platform = ?", strings.TrimSpace(*params.Platform))
	}
	if params.Category != nil && strings.TrimSpace(*params.Category) != "" {
		query = query.Where("category = ?", strings.TrimSpace(*params.Category))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.MinVolume != nil && *params.MinVolume > 0 {
		query = query.Where("volume_24h >= ?", *params.MinVolume)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "volume_24h")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Market
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ActiveMarketBreakdown(ctx context.Context) (repository.MarketBreakdown, error) {
	out := repository.MarketBreakdown{
		ByPlatform: map[string]int64{},
		ByCategory: map[string]int64{},
	}
	if s == nil || s.db == nil {
		return out, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Market{}).
		Where("status = ?", models.MarketActive).
		Count(&out.Total).Error; err != nil {
		return out, err
	}

	type groupRow struct {
		Key   string
		Count int64
	}
	var rows []groupRow
	if err := s.db.WithContext(ctx).Model(&models.Market{}).
		Select("platform AS key, COUNT(*) AS count").
		Where("status = ?", models.MarketActive).
		Group("platform").
		Scan(&rows).Error; err != nil {
		return out, err
	}
	for _, r := range rows {
		out.ByPlatform[r.Key] = r.Count
	}
	rows = nil
	if err := s.db.WithContext(ctx).Model(&models.Market{}).
		Select("category AS key, COUNT(*) AS count").
		Where("status = ?", models.MarketActive).
		Group("category").
		Scan(&rows).Error; err != nil {
		return out, err
	}
	for _, r := range rows {
		out.ByCategory[r.Key] = r.Count
	}
	return out, nil
}

func (s *Store) ListActiveMarketsWithOpenPositions(ctx context.Context) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Market
	err := s.db.WithContext(ctx).Model(&models.Market{}).
		Where("status = ?", models.MarketActive).
		Where("id IN (?)", s.db.Model(&models.Position{}).
			Select("DISTINCT market_id").
			Where("status IN ?", []models.PositionStatus{models.PositionPending, models.PositionOpen})).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- Probability estimates --------------------------------------------------

func (s *Store) InsertEstimatesTx(ctx context.Context, tx *gorm.DB, items []models.ProbabilityEstimate) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.session(ctx, tx).Create(&items).Error
}

func (s *Store) LatestEstimatesByDesk(ctx context.Context, marketID uint64) (map[models.Desk]models.ProbabilityEstimate, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ProbabilityEstimate
	if err := s.db.WithContext(ctx).Model(&models.ProbabilityEstimate{}).
		Where("market_id = ?", marketID).
		Order("created_at desc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	out := map[models.Desk]models.ProbabilityEstimate{}
	for _, item := range items {
		if _, ok := out[item.Desk]; !ok {
			out[item.Desk] = item
		}
	}
	return out, nil
}

// --- Edge analyses ----------------------------------------------------------

func (s *Store) InsertEdgeAnalysisTx(ctx context.Context, tx *gorm.DB, item *models.EdgeAnalysis) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Create(item).Error
}

func (s *Store) GetEdgeAnalysisByID(ctx context.Context, id uint64) (*models.EdgeAnalysis, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.EdgeAnalysis
	err := s.db.WithContext(ctx).Model(&models.EdgeAnalysis{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) LatestEdgeAnalysisForMarket(ctx context.Context, marketID uint64) (*models.EdgeAnalysis, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.EdgeAnalysis
	err := s.db.WithContext(ctx).Model(&models.EdgeAnalysis{}).
		Where("market_id = ?", marketID).
		Order("created_at desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListDebates(ctx context.Context, limit int) ([]repository.DebateRow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 50)
	var analyses []models.EdgeAnalysis
	if err := s.db.WithContext(ctx).Model(&models.EdgeAnalysis{}).
		Where("debate_triggered = ?", true).
		Order("created_at desc").
		Limit(limit).
		Find(&analyses).Error; err != nil {
		return nil, err
	}
	if len(analyses) == 0 {
		return nil, nil
	}

	ids := make([]uint64, 0, len(analyses))
	for _, a := range analyses {
		ids = append(ids, a.MarketID)
	}
	var markets []models.Market
	if err := s.db.WithContext(ctx).Model(&models.Market{}).
		Select("id", "title").
		Where("id IN ?", ids).
		Find(&markets).Error; err != nil {
		return nil, err
	}
	titles := make(map[uint64]string, len(markets))
	for _, m := range markets {
		titles[m.ID] = m.Title
	}

	rows := make([]repository.DebateRow, 0, len(analyses))
	for _, a := range analyses {
		rows = append(rows, repository.DebateRow{Analysis: a, MarketTitle: titles[a.MarketID]})
	}
	return rows, nil
}

// --- Positions --------------------------------------------------------------

// positionsLockKey is the advisory-lock key serializing the executor's
// safety-gate reads with its position insert.
const positionsLockKey int64 = 0x65646765 // "edge"

// AcquirePositionsLockTx takes a transaction-scoped advisory lock. Postgres
// releases it at commit or rollback; read-committed isolation alone would let
// two transactions read the same open-position count before either inserts.
func (s *Store) AcquirePositionsLockTx(ctx context.Context, tx *gorm.DB) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.session(ctx, tx).Exec("SELECT pg_advisory_xact_lock(?)", positionsLockKey).Error
}

func (s *Store) CountOpenPositionsTx(ctx context.Context, tx *gorm.DB) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.session(ctx, tx).Model(&models.Position{}).
		Where("status IN ?", []models.PositionStatus{models.PositionPending, models.PositionOpen}).
		Count(&count).Error
	return count, err
}

func (s *Store) CountOpenPositions(ctx context.Context) (int64, error) {
	return s.CountOpenPositionsTx(ctx, nil)
}

func (s *Store) SumRealizedPnLSinceTx(ctx context.Context, tx *gorm.DB, since time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *float64
	err := s.session(ctx, tx).Model(&models.Position{}).
		Select("SUM(pnl_dollars)").
		Where("closed_at IS NOT NULL AND closed_at >= ?", since).
		Where("pnl_dollars IS NOT NULL").
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(*raw), nil
}

func (s *Store) SumRealizedPnLSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return s.SumRealizedPnLSinceTx(ctx, nil, since)
}

func (s *Store) InsertPositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Create(item).Error
}

func (s *Store) GetPositionByID(ctx context.Context, id uint64) (*models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).Model(&models.Position{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Platform != nil && strings.TrimSpace(*params.Platform) != "" {
		query = query.Where("platform = ?", strings.TrimSpace(*params.Platform))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "opened_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPositionsByStatus(ctx context.Context, statuses ...models.PositionStatus) ([]models.Position, error) {
	if s == nil || s.db == nil || len(statuses) == 0 {
		return nil, nil
	}
	var items []models.Position
	if err := s.db.WithContext(ctx).Model(&models.Position{}).
		Where("status IN ?", statuses).
		Order("opened_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOpenPositionsForMarketTx(ctx context.Context, tx *gorm.DB, marketID uint64) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	if err := s.session(ctx, tx).Model(&models.Position{}).
		Where("market_id = ?", marketID).
		Where("status IN ?", []models.PositionStatus{models.PositionPending, models.PositionOpen}).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SavePosition(ctx context.Context, item *models.Position) error {
	return s.SavePositionTx(ctx, nil, item)
}

func (s *Store) SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.session(ctx, tx).Save(item).Error
}

func (s *Store) PositionsSummary(ctx context.Context) (repository.PositionsSummary, error) {
	var out repository.PositionsSummary
	if s == nil || s.db == nil {
		return out, nil
	}

	var items []models.Position
	if err := s.db.WithContext(ctx).Model(&models.Position{}).Find(&items).Error; err != nil {
		return out, err
	}

	var wins int64
	var pnls []float64
	for _, p := range items {
		out.TotalPositions++
		out.TotalInvested += p.TotalCost
		if p.Status.IsOpenState() {
			out.OpenPositions++
		}
		if p.Status.IsClosedState() {
			out.ClosedPositions++
			if p.PnlDollars != nil {
				out.TotalPnl += *p.PnlDollars
				pnls = append(pnls, *p.PnlDollars)
				if *p.PnlDollars > 0 {
					wins++
				}
			}
		}
	}
	if out.ClosedPositions > 0 {
		rate := float64(wins) / float64(out.ClosedPositions)
		out.WinRate = &rate
	}
	if len(pnls) > 0 {
		best, worst := pnls[0], pnls[0]
		for _, v := range pnls[1:] {
			if v > best {
				best = v
			}
			if v < worst {
				worst = v
			}
		}
		out.BestTradePnl = &best
		out.WorstTradePnl = &worst
	}
	return out, nil
}

// --- Calibration ------------------------------------------------------------

func (s *Store) InsertCalibrationRecordTx(ctx context.Context, tx *gorm.DB, item *models.CalibrationRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.session(ctx, tx).Create(item).Error
}

func (s *Store) ListCalibrationRecords(ctx context.Context) ([]models.CalibrationRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.CalibrationRecord
	if err := s.db.WithContext(ctx).Model(&models.CalibrationRecord{}).
		Order("resolved_at asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

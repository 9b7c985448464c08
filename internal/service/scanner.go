package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/client/polymarket"
	"edgehunter/internal/config"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
)

// KalshiMarketSource is the slice of the Kalshi client the scanner needs.
type KalshiMarketSource interface {
	ListMarkets(ctx context.Context, cursor string, limit int) ([]kalshi.Market, string, error)
}

// GammaMarketSource is the slice of the Gamma client the scanner needs.
type GammaMarketSource interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]polymarket.GammaMarket, error)
}

// ScanResult summarizes one completed scan cycle.
type ScanResult struct {
	ScanID         string    `json:"scan_id"`
	StartedAt      time.Time `json:"started_at"`
	TotalFetched   int       `json:"total_fetched"`
	Qualifying     int       `json:"qualifying"`
	NewMarkets     int       `json:"new_markets"`
	UpdatedMarkets int       `json:"updated_markets"`
	Errors         []string  `json:"errors"`
}

// ScannerService pulls active markets from both venues, filters them by
// quality criteria, and upserts the qualifying ones.
type ScannerService struct {
	Repo   repository.Repository
	Kalshi KalshiMarketSource
	Gamma  GammaMarketSource
	Logger *zap.Logger
	Cfg    config.ScannerConfig

	mu   sync.Mutex
	last *ScanResult
}

// LastResult is the most recent scan summary, nil before the first scan.
func (s *ScannerService) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run executes one full scan cycle. Venue failures are recorded in the
// result instead of aborting, so one venue being down never blocks the other.
func (s *ScannerService) Run(ctx context.Context) *ScanResult {
	result := &ScanResult{
		ScanID:    uuid.NewString()[:8],
		StartedAt: time.Now().UTC(),
		Errors:    []string{},
	}

	var kalshiMarkets, polyMarkets []models.Market
	if s.Kalshi != nil {
		var err error
		kalshiMarkets, err = s.fetchKalshi(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Kalshi fetch error: %v", err))
			s.Logger.Error("kalshi scan failed", zap.Error(err))
		}
	}
	if s.Gamma != nil {
		var err error
		polyMarkets, err = s.fetchPolymarket(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Polymarket fetch error: %v", err))
			s.Logger.Error("polymarket scan failed", zap.Error(err))
		}
	}
	result.TotalFetched = len(kalshiMarkets) + len(polyMarkets)

	for _, batch := range [][]models.Market{kalshiMarkets, polyMarkets} {
		qualifying := make([]models.Market, 0, len(batch))
		for _, m := range batch {
			if s.qualifies(m) {
				qualifying = append(qualifying, m)
			}
		}
		result.Qualifying += len(qualifying)
		if len(qualifying) == 0 {
			continue
		}
		if err := s.upsertBatch(ctx, qualifying, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s upsert error: %v", qualifying[0].Platform, err))
			s.Logger.Error("market upsert failed",
				zap.String("platform", string(qualifying[0].Platform)), zap.Error(err))
		}
	}

	s.Logger.Info("scan complete",
		zap.String("scan_id", result.ScanID),
		zap.Int("fetched", result.TotalFetched),
		zap.Int("qualifying", result.Qualifying),
		zap.Int("new", result.NewMarkets),
		zap.Int("updated", result.UpdatedMarkets),
		zap.Int("errors", len(result.Errors)))

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
	return result
}

func (s *ScannerService) pageLimit() int {
	if s.Cfg.PageLimit > 0 {
		return s.Cfg.PageLimit
	}
	return 100
}

func (s *ScannerService) maxPages() int {
	if s.Cfg.MaxPages > 0 {
		return s.Cfg.MaxPages
	}
	return 5
}

// fetchKalshi pages through open markets, capped at maxPages to bound scan
// time.
func (s *ScannerService) fetchKalshi(ctx context.Context) ([]models.Market, error) {
	now := time.Now().UTC()
	var out []models.Market
	cursor := ""
	for page := 0; page < s.maxPages(); page++ {
		markets, next, err := s.Kalshi.ListMarkets(ctx, cursor, s.pageLimit())
		if err != nil {
			return out, err
		}
		if len(markets) == 0 {
			break
		}
		for i := range markets {
			out = append(out, normalizeKalshiMarket(&markets[i], now))
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *ScannerService) fetchPolymarket(ctx context.Context) ([]models.Market, error) {
	now := time.Now().UTC()
	var out []models.Market
	offset := 0
	for page := 0; page < s.maxPages(); page++ {
		markets, err := s.Gamma.ListMarkets(ctx, s.pageLimit(), offset)
		if err != nil {
			return out, err
		}
		if len(markets) == 0 {
			break
		}
		for _, m := range markets {
			out = append(out, normalizeGammaMarket(m, now))
		}
		offset += len(markets)
		if len(markets) < s.pageLimit() {
			break
		}
	}
	return out, nil
}

func normalizeKalshiMarket(m *kalshi.Market, now time.Time) models.Market {
	yesPrice := risk.RoundTo(m.YesPrice(), 4)
	out := models.Market{
		Platform:         models.PlatformKalshi,
		PlatformMarketID: m.Ticker,
		Title:            m.Title,
		Category:         guessCategory(m.Title),
		YesPrice:         yesPrice,
		NoPrice:          risk.RoundTo(1-yesPrice, 4),
		Spread:           risk.RoundTo(m.SpreadFraction(), 4),
		Volume24h:        m.Volume24h,
		Status:           models.MarketActive,
		LastUpdated:      now,
	}
	if !m.CloseTime.IsZero() {
		closeTime := m.CloseTime.UTC()
		out.CloseTime = &closeTime
		out.DaysToExpiry = daysToExpiry(closeTime, now)
	}
	return out
}

func normalizeGammaMarket(m polymarket.GammaMarket, now time.Time) models.Market {
	out := models.Market{
		Platform:         models.PlatformPolymarket,
		PlatformMarketID: m.MarketID(),
		Title:            m.Question,
		Description:      m.Description,
		Category:         guessCategory(m.Question),
		YesPrice:         risk.RoundTo(m.YesPrice, 4),
		NoPrice:          risk.RoundTo(m.NoPrice, 4),
		Spread:           risk.RoundTo(m.Spread, 4),
		Volume24h:        m.Volume,
		Status:           models.MarketActive,
		LastUpdated:      now,
	}
	if m.EndDate != nil {
		closeTime := m.EndDate.UTC()
		out.CloseTime = &closeTime
		out.DaysToExpiry = daysToExpiry(closeTime, now)
	}
	return out
}

func daysToExpiry(closeTime, now time.Time) *int {
	days := int(closeTime.Sub(now).Seconds() / 86400)
	if days < 0 {
		days = 0
	}
	return &days
}

// qualifies applies the scanner quality gate: enough volume, near enough
// expiry, tight enough spread, and a price far enough from the extremes
// that an edge is possible.
func (s *ScannerService) qualifies(m models.Market) bool {
	if m.Volume24h < int64(s.Cfg.MinMarketVolume) {
		return false
	}
	if m.DaysToExpiry != nil && *m.DaysToExpiry > s.Cfg.MaxDaysToExpiry {
		return false
	}
	if m.Spread > risk.MaxSpread {
		return false
	}
	if m.YesPrice <= 0.03 || m.YesPrice >= 0.97 {
		return false
	}
	return true
}

// upsertBatch commits one venue's qualifying markets as a single unit.
// Existing rows only get fresh pricing; identity fields never change.
func (s *ScannerService) upsertBatch(ctx context.Context, markets []models.Market, result *ScanResult) error {
	now := time.Now().UTC()
	inserted, updated := 0, 0
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		for i := range markets {
			m := markets[i]
			existing, err := s.Repo.GetMarketByPlatformIDTx(ctx, tx, m.Platform, m.PlatformMarketID)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := s.Repo.UpdateMarketQuoteTx(ctx, tx, existing.ID,
					m.YesPrice, m.NoPrice, m.Spread, m.Volume24h, m.DaysToExpiry, now); err != nil {
					return err
				}
				updated++
				continue
			}
			m.FirstSeen = now
			m.LastUpdated = now
			if err := s.Repo.InsertMarketTx(ctx, tx, &m); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return err
	}
	result.NewMarkets += inserted
	result.UpdatedMarkets += updated
	return nil
}

// categoryKeywords is checked in order; the first matching bucket wins.
var categoryKeywords = []struct {
	category models.MarketCategory
	keywords []string
}{
	{models.CategoryEconomics, []string{"cpi", "gdp", "fed", "inflation", "jobs", "unemployment", "interest rate", "fomc", "payroll", "ppi"}},
	{models.CategoryPolitics, []string{"trump", "biden", "election", "democrat", "republican", "congress", "senate", "president", "vote", "governor"}},
	{models.CategoryWeather, []string{"temperature", "hurricane", "storm", "weather", "rainfall", "snowfall", "celsius", "fahrenheit"}},
	{models.CategoryCrypto, []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "dogecoin"}},
	{models.CategorySports, []string{"win", "nba", "nfl", "mlb", "nhl", "match", "game", "score", "points", "team"}},
	{models.CategoryEntertainment, []string{"oscar", "grammy", "emmy", "movie", "box office", "tv show", "album"}},
}

func guessCategory(title string) models.MarketCategory {
	lower := strings.ToLower(title)
	for _, bucket := range categoryKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.category
			}
		}
	}
	return models.CategoryOther
}

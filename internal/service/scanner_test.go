package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/client/polymarket"
	"edgehunter/internal/config"
	"edgehunter/internal/models"
)

type stubKalshiList struct {
	markets []kalshi.Market
	err     error
}

func (s *stubKalshiList) ListMarkets(context.Context, string, int) ([]kalshi.Market, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	out := s.markets
	s.markets = nil
	return out, "", nil
}

type stubGammaList struct {
	markets []polymarket.GammaMarket
	err     error
}

func (s *stubGammaList) ListMarkets(context.Context, int, int) ([]polymarket.GammaMarket, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.markets
	s.markets = nil
	return out, nil
}

func testScannerCfg() config.ScannerConfig {
	return config.ScannerConfig{
		IntervalHours:   6,
		MinMarketVolume: 200,
		MaxDaysToExpiry: 30,
		PageLimit:       100,
		MaxPages:        5,
	}
}

func TestGuessCategory_OrderedFirstMatchWins(t *testing.T) {
	cases := []struct {
		title string
		want  models.MarketCategory
	}{
		{"Will CPI exceed 3.5% in January?", models.CategoryEconomics},
		// "win" is a sports keyword, but politics is checked first.
		{"Will Trump win the election?", models.CategoryPolitics},
		{"Will the Lakers win game 7?", models.CategorySports},
		{"Bitcoin above $100k by March?", models.CategoryCrypto},
		{"Hurricane landfall in Florida this month?", models.CategoryWeather},
		{"Best Picture Oscar for the favorite?", models.CategoryEntertainment},
		{"Something entirely unrelated?", models.CategoryOther},
	}
	for _, tc := range cases {
		if got := guessCategory(tc.title); got != tc.want {
			t.Fatalf("guessCategory(%q) = %s, want %s", tc.title, got, tc.want)
		}
	}
}

func TestNormalizeKalshiMarket(t *testing.T) {
	now := time.Now().UTC()
	closeTime := now.Add(10 * 24 * time.Hour)
	m := kalshi.Market{
		Ticker: "FED-DEC", Title: "Fed cuts rates?",
		YesAsk: 45, YesBid: 40, Volume24h: 1000, CloseTime: closeTime,
	}
	out := normalizeKalshiMarket(&m, now)
	if out.YesPrice != 0.45 || out.NoPrice != 0.55 {
		t.Fatalf("prices = %v/%v, want 0.45/0.55", out.YesPrice, out.NoPrice)
	}
	if out.Spread != 0.05 {
		t.Fatalf("spread = %v, want 0.05", out.Spread)
	}
	if out.DaysToExpiry == nil || *out.DaysToExpiry != 10 {
		t.Fatalf("days to expiry = %v, want 10", out.DaysToExpiry)
	}

	// No quotes at all falls back to 0.50 with zero spread.
	bare := kalshi.Market{Ticker: "EMPTY", Title: "t"}
	out = normalizeKalshiMarket(&bare, now)
	if out.YesPrice != 0.50 || out.Spread != 0 {
		t.Fatalf("bare market = %v/%v, want 0.50/0", out.YesPrice, out.Spread)
	}
	if out.CloseTime != nil || out.DaysToExpiry != nil {
		t.Fatal("zero close time should stay unknown")
	}
}

func TestQualifies(t *testing.T) {
	s := &ScannerService{Cfg: testScannerCfg()}
	days := 10
	base := models.Market{
		YesPrice: 0.45, Spread: 0.05, Volume24h: 1000, DaysToExpiry: &days,
	}

	if !s.qualifies(base) {
		t.Fatal("base market should qualify")
	}

	m := base
	m.Volume24h = 150
	if s.qualifies(m) {
		t.Fatal("low volume should not qualify")
	}

	m = base
	far := 45
	m.DaysToExpiry = &far
	if s.qualifies(m) {
		t.Fatal("distant expiry should not qualify")
	}

	m = base
	m.DaysToExpiry = nil
	if !s.qualifies(m) {
		t.Fatal("unknown expiry should qualify")
	}

	m = base
	m.Spread = 0.20
	if s.qualifies(m) {
		t.Fatal("wide spread should not qualify")
	}

	m = base
	m.YesPrice = 0.98
	if s.qualifies(m) {
		t.Fatal("extreme price should not qualify")
	}
	m.YesPrice = 0.03
	if s.qualifies(m) {
		t.Fatal("extreme price should not qualify")
	}
}

func TestScannerRun_UpsertsAndIsolatesVenueFailure(t *testing.T) {
	repo := newStubRepo()
	existing := repo.addMarket(models.Market{
		Platform:         models.PlatformKalshi,
		PlatformMarketID: "FED-DEC",
		YesPrice:         0.40,
		Status:           models.MarketActive,
	})

	kalshiStub := &stubKalshiList{markets: []kalshi.Market{
		{Ticker: "FED-DEC", Title: "Fed cuts rates?", YesAsk: 45, YesBid: 42, Volume24h: 1000},
		{Ticker: "NEW-ONE", Title: "Will CPI exceed 3%?", YesAsk: 30, YesBid: 28, Volume24h: 500},
		{Ticker: "THIN", Title: "Illiquid market", YesAsk: 50, YesBid: 48, Volume24h: 10},
	}}
	gammaStub := &stubGammaList{err: fmt.Errorf("gateway timeout")}

	s := &ScannerService{
		Repo: repo, Kalshi: kalshiStub, Gamma: gammaStub,
		Logger: zap.NewNop(), Cfg: testScannerCfg(),
	}
	result := s.Run(context.Background())

	if result.TotalFetched != 3 {
		t.Fatalf("fetched = %d, want 3", result.TotalFetched)
	}
	if result.Qualifying != 2 {
		t.Fatalf("qualifying = %d, want 2", result.Qualifying)
	}
	if result.NewMarkets != 1 || result.UpdatedMarkets != 1 {
		t.Fatalf("new/updated = %d/%d, want 1/1", result.NewMarkets, result.UpdatedMarkets)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "Polymarket fetch error") {
		t.Fatalf("errors = %v, want one Polymarket fetch error", result.Errors)
	}
	if len(result.ScanID) != 8 {
		t.Fatalf("scan id %q should be 8 chars", result.ScanID)
	}

	// The existing market got fresh pricing, not a new row.
	if repo.markets[existing.ID].YesPrice != 0.45 {
		t.Fatalf("existing yes price = %v, want 0.45", repo.markets[existing.ID].YesPrice)
	}
	if s.LastResult() != result {
		t.Fatal("last result should be retained")
	}
}

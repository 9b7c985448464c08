package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edgehunter/internal/client/kalshi"
	"edgehunter/internal/client/polymarket"
	"edgehunter/internal/risk"
)

// KalshiMarketAPI is the slice of the Kalshi client the market routes use.
type KalshiMarketAPI interface {
	ListMarkets(ctx context.Context, cursor string, limit int) ([]kalshi.Market, string, error)
	GetMarket(ctx context.Context, ticker string) (*kalshi.Market, error)
	GetOrderbook(ctx context.Context, ticker string) (*kalshi.Orderbook, error)
}

// GammaMarketAPI is the slice of the Gamma client the market routes use.
type GammaMarketAPI interface {
	ListMarkets(ctx context.Context, limit, offset int) ([]polymarket.GammaMarket, error)
	GetMarket(ctx context.Context, id string) (*polymarket.GammaMarket, error)
}

// MarketHandler serves live venue data without touching the database.
type MarketHandler struct {
	Kalshi KalshiMarketAPI
	Gamma  GammaMarketAPI
	Logger *zap.Logger
}

func (h *MarketHandler) Register(r *gin.Engine) {
	r.GET("/markets", h.list)
	r.GET("/markets/:id", h.get)
}

// MarketSummary is the cross-venue normalized market view.
type MarketSummary struct {
	Platform  string     `json:"platform"`
	MarketID  string     `json:"market_id"`
	Title     string     `json:"title"`
	YesPrice  float64    `json:"yes_price"`
	NoPrice   float64    `json:"no_price"`
	Spread    float64    `json:"spread"`
	Volume    int64      `json:"volume"`
	Status    string     `json:"status"`
	CloseTime *time.Time `json:"close_time,omitempty"`
	Category  string     `json:"category,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
}

func (h *MarketHandler) list(c *gin.Context) {
	platform := c.DefaultQuery("platform", "both")
	limit := intQuery(c, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	var (
		out  []MarketSummary
		errs []string
	)
	if platform == "kalshi" || platform == "both" {
		markets, _, err := h.Kalshi.ListMarkets(c.Request.Context(), "", limit)
		if err != nil {
			h.Logger.Warn("kalshi list failed", zap.Error(err))
			errs = append(errs, "kalshi: "+err.Error())
		}
		for i := range markets {
			out = append(out, kalshiSummary(&markets[i]))
		}
	}
	if platform == "polymarket" || platform == "both" {
		markets, err := h.Gamma.ListMarkets(c.Request.Context(), limit, 0)
		if err != nil {
			h.Logger.Warn("polymarket list failed", zap.Error(err))
			errs = append(errs, "polymarket: "+err.Error())
		}
		for _, m := range markets {
			out = append(out, gammaSummary(m))
		}
	}
	if out == nil && len(errs) > 0 {
		Error(c, http.StatusBadGateway, "all venues unavailable", map[string]any{"errors": errs})
		return
	}

	meta := map[string]any{"count": len(out)}
	if len(errs) > 0 {
		meta["errors"] = errs
	}
	Ok(c, out, meta)
}

func (h *MarketHandler) get(c *gin.Context) {
	id := c.Param("id")
	switch c.Query("platform") {
	case "kalshi":
		market, err := h.Kalshi.GetMarket(c.Request.Context(), id)
		if err != nil {
			Error(c, venueStatus(err), err.Error(), nil)
			return
		}
		book, err := h.Kalshi.GetOrderbook(c.Request.Context(), id)
		if err != nil {
			h.Logger.Warn("orderbook fetch failed", zap.String("ticker", id), zap.Error(err))
		}
		Ok(c, gin.H{"market": kalshiSummary(market), "orderbook": book}, nil)
	case "polymarket":
		market, err := h.Gamma.GetMarket(c.Request.Context(), id)
		if err != nil {
			Error(c, venueStatus(err), err.Error(), nil)
			return
		}
		Ok(c, gin.H{
			"market":      gammaSummary(*market),
			"description": market.Description,
			"token_ids":   market.TokenIDs,
		}, nil)
	default:
		Error(c, http.StatusBadRequest, "platform must be kalshi or polymarket", nil)
	}
}

func kalshiSummary(m *kalshi.Market) MarketSummary {
	yes := m.YesPrice()
	out := MarketSummary{
		Platform: "kalshi",
		MarketID: m.Ticker,
		Title:    m.Title,
		YesPrice: risk.RoundTo(yes, 4),
		NoPrice:  risk.RoundTo(1-yes, 4),
		Spread:   risk.RoundTo(m.SpreadFraction(), 4),
		Volume:   m.Volume24h,
		Status:   m.Status,
		Category: m.Category,
		EventID:  m.EventTicker,
	}
	if !m.CloseTime.IsZero() {
		t := m.CloseTime.UTC()
		out.CloseTime = &t
	}
	return out
}

func gammaSummary(m polymarket.GammaMarket) MarketSummary {
	status := "active"
	if m.Closed {
		status = "closed"
	}
	return MarketSummary{
		Platform:  "polymarket",
		MarketID:  m.MarketID(),
		Title:     m.Question,
		YesPrice:  risk.RoundTo(m.YesPrice, 4),
		NoPrice:   risk.RoundTo(m.NoPrice, 4),
		Spread:    risk.RoundTo(m.Spread, 4),
		Volume:    m.Volume,
		Status:    status,
		CloseTime: m.EndDate,
		EventID:   m.Slug,
	}
}

// venueStatus maps venue API failures onto our response, passing 4xx through.
func venueStatus(err error) int {
	var kerr *kalshi.APIError
	if errors.As(err, &kerr) && kerr.Status >= 400 && kerr.Status < 500 {
		return kerr.Status
	}
	var perr *polymarket.APIError
	if errors.As(err, &perr) && perr.Status >= 400 && perr.Status < 500 {
		return perr.Status
	}
	return http.StatusBadGateway
}

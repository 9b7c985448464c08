package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/service"
)

// ScanRunner triggers discovery sweeps and exposes the latest result.
type ScanRunner interface {
	Run(ctx context.Context) *service.ScanResult
	LastResult() *service.ScanResult
}

type ScannerHandler struct {
	Scanner ScanRunner
	Repo    repository.Repository
	Logger  *zap.Logger
}

func (h *ScannerHandler) Register(r *gin.Engine) {
	r.POST("/scan/run", h.run)
	r.GET("/scan/results", h.results)
	r.GET("/scan/history", h.history)
}

func (h *ScannerHandler) run(c *gin.Context) {
	result := h.Scanner.Run(c.Request.Context())
	Ok(c, result, nil)
}

type scannedMarket struct {
	ID               uint64                `json:"id"`
	Platform         models.Platform       `json:"platform"`
	PlatformMarketID string                `json:"platform_market_id"`
	Title            string                `json:"title"`
	Category         models.MarketCategory `json:"category"`
	YesPrice         float64               `json:"yes_price"`
	NoPrice          float64               `json:"no_price"`
	Spread           float64               `json:"spread"`
	Volume24h        int64                 `json:"volume_24h"`
	DaysToExpiry     *int                  `json:"days_to_expiry"`
	CloseTime        *time.Time            `json:"close_time,omitempty"`
	LastUpdated      time.Time             `json:"last_updated"`
}

func (h *ScannerHandler) results(c *gin.Context) {
	status := "active"
	params := repository.ListMarketsParams{
		Limit:    intQuery(c, "limit", 100),
		Status:   &status,
		Platform: strQueryPtr(c, "platform"),
		Category: strQueryPtr(c, "category"),
	}
	if v := intQuery(c, "min_volume", 0); v > 0 {
		minVolume := int64(v)
		params.MinVolume = &minVolume
	}
	switch c.DefaultQuery("sort_by", "volume") {
	case "spread":
		params.OrderBy = "spread"
		params.Asc = boolPtr(true)
	case "expiry":
		params.OrderBy = "days_to_expiry"
		params.Asc = boolPtr(true)
	default:
		params.OrderBy = "volume_24h"
		params.Asc = boolPtr(false)
	}

	markets, err := h.Repo.ListMarkets(c.Request.Context(), params)
	if err != nil {
		h.Logger.Error("list scan results failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to list markets", nil)
		return
	}

	out := make([]scannedMarket, 0, len(markets))
	for _, m := range markets {
		out = append(out, scannedMarket{
			ID:               m.ID,
			Platform:         m.Platform,
			PlatformMarketID: m.PlatformMarketID,
			Title:            m.Title,
			Category:         m.Category,
			YesPrice:         m.YesPrice,
			NoPrice:          m.NoPrice,
			Spread:           m.Spread,
			Volume24h:        m.Volume24h,
			DaysToExpiry:     m.DaysToExpiry,
			CloseTime:        m.CloseTime,
			LastUpdated:      m.LastUpdated,
		})
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *ScannerHandler) history(c *gin.Context) {
	breakdown, err := h.Repo.ActiveMarketBreakdown(c.Request.Context())
	if err != nil {
		h.Logger.Error("market breakdown failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to load scan history", nil)
		return
	}
	payload := gin.H{
		"total_markets": breakdown.Total,
		"platforms":     breakdown.ByPlatform,
		"categories":    breakdown.ByCategory,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if last := h.Scanner.LastResult(); last != nil {
		payload["last_scan"] = last
	}
	Ok(c, payload, nil)
}

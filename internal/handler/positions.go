package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edgehunter/internal/config"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
	"edgehunter/internal/service"
)

type PositionHandler struct {
	Repo     repository.Repository
	Executor *service.ExecutorService
	Logger   *zap.Logger
	Trading  config.TradingConfig
}

func (h *PositionHandler) Register(r *gin.Engine) {
	r.GET("/positions", h.list)
	r.GET("/positions/summary", h.summary)
	r.GET("/positions/daily-pnl", h.dailyPnl)
	r.POST("/positions/:id/close", h.close)
}

type positionView struct {
	ID              uint64                `json:"id"`
	MarketID        uint64                `json:"market_id"`
	EdgeAnalysisID  uint64                `json:"edge_analysis_id"`
	Platform        models.Platform       `json:"platform"`
	Side            models.Side           `json:"side"`
	NumContracts    int                   `json:"num_contracts"`
	EntryPrice      float64               `json:"entry_price"`
	TotalCost       float64               `json:"total_cost"`
	ExitPrice       *float64              `json:"exit_price"`
	PnlDollars      *float64              `json:"pnl_dollars"`
	PnlPercent      *float64              `json:"pnl_percent"`
	Status          models.PositionStatus `json:"status"`
	PlatformOrderID *string               `json:"platform_order_id"`
	OpenedAt        time.Time             `json:"opened_at"`
	ClosedAt        *time.Time            `json:"closed_at"`
}

func positionToView(p models.Position) positionView {
	return positionView{
		ID:              p.ID,
		MarketID:        p.MarketID,
		EdgeAnalysisID:  p.EdgeAnalysisID,
		Platform:        p.Platform,
		Side:            p.Side,
		NumContracts:    p.NumContracts,
		EntryPrice:      p.EntryPrice,
		TotalCost:       p.TotalCost,
		ExitPrice:       p.ExitPrice,
		PnlDollars:      p.PnlDollars,
		PnlPercent:      p.PnlPercent,
		Status:          p.Status,
		PlatformOrderID: p.PlatformOrderID,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        p.ClosedAt,
	}
}

func (h *PositionHandler) list(c *gin.Context) {
	params := repository.ListPositionsParams{
		Limit:    intQuery(c, "limit", 100),
		Status:   strQueryPtr(c, "status"),
		Platform: strQueryPtr(c, "platform"),
		OrderBy:  "opened_at",
		Asc:      boolPtr(false),
	}
	positions, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		h.Logger.Error("list positions failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to list positions", nil)
		return
	}
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionToView(p))
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func (h *PositionHandler) summary(c *gin.Context) {
	summary, err := h.Repo.PositionsSummary(c.Request.Context())
	if err != nil {
		h.Logger.Error("positions summary failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to summarize positions", nil)
		return
	}
	Ok(c, gin.H{
		"total_positions":  summary.TotalPositions,
		"open_positions":   summary.OpenPositions,
		"closed_positions": summary.ClosedPositions,
		"total_invested":   risk.RoundTo(summary.TotalInvested, 2),
		"total_pnl":        risk.RoundTo(summary.TotalPnl, 2),
		"win_rate":         summary.WinRate,
		"best_trade_pnl":   summary.BestTradePnl,
		"worst_trade_pnl":  summary.WorstTradePnl,
	}, nil)
}

func (h *PositionHandler) dailyPnl(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	realized, err := h.Repo.SumRealizedPnLSince(ctx, midnight)
	if err != nil {
		h.Logger.Error("daily pnl query failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to compute daily pnl", nil)
		return
	}
	open, err := h.Repo.CountOpenPositions(ctx)
	if err != nil {
		h.Logger.Error("open positions count failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to count open positions", nil)
		return
	}

	realizedF, _ := realized.Round(2).Float64()
	limit := -h.Trading.Bankroll * risk.MaxDailyDrawdownPct
	Ok(c, gin.H{
		"date":               now.Format("2006-01-02"),
		"realized_pnl":       realizedF,
		"open_positions":     open,
		"drawdown_limit_pct": risk.MaxDailyDrawdownPct * 100,
		"kill_switch_active": realizedF < limit,
	}, nil)
}

func (h *PositionHandler) close(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "position id must be an integer", nil)
		return
	}
	position, err := h.Repo.GetPositionByID(c.Request.Context(), id)
	if err != nil {
		h.Logger.Error("position lookup failed", zap.Uint64("position_id", id), zap.Error(err))
		Error(c, http.StatusInternalServerError, "position lookup failed", nil)
		return
	}
	if position == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	if !position.Status.IsOpenState() {
		Error(c, http.StatusBadRequest, "position already "+string(position.Status), nil)
		return
	}

	closed, err := h.Executor.ClosePosition(c.Request.Context(), id, floatQueryPtr(c, "exit_price"))
	if err != nil {
		h.Logger.Error("close position failed", zap.Uint64("position_id", id), zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to close position", nil)
		return
	}
	Ok(c, positionToView(*closed), nil)
}

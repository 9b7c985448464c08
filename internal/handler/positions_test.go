package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"edgehunter/internal/config"
	"edgehunter/internal/models"
	"edgehunter/internal/repository"
)

type positionRepo struct {
	repository.Repository
	position *models.Position
	realized decimal.Decimal
	open     int64
}

func (r *positionRepo) GetPositionByID(context.Context, uint64) (*models.Position, error) {
	return r.position, nil
}

func (r *positionRepo) SumRealizedPnLSince(context.Context, time.Time) (decimal.Decimal, error) {
	return r.realized, nil
}

func (r *positionRepo) CountOpenPositions(context.Context) (int64, error) {
	return r.open, nil
}

func (r *positionRepo) ListPositions(context.Context, repository.ListPositionsParams) ([]models.Position, error) {
	if r.position == nil {
		return nil, nil
	}
	return []models.Position{*r.position}, nil
}

func positionRouter(repo *positionRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &PositionHandler{
		Repo:    repo,
		Logger:  zap.NewNop(),
		Trading: config.TradingConfig{Bankroll: 10000},
	}
	h.Register(r)
	return r
}

func TestDailyPnl_KillSwitch(t *testing.T) {
	repo := &positionRepo{realized: decimal.NewFromFloat(-250), open: 3}
	r := positionRouter(repo)

	data := getJSON(t, r, "/positions/daily-pnl")["data"].(map[string]any)
	if got := data["realized_pnl"].(float64); got != -250 {
		t.Fatalf("realized pnl = %v, want -250", got)
	}
	if got := data["open_positions"].(float64); got != 3 {
		t.Fatalf("open positions = %v, want 3", got)
	}
	if got := data["drawdown_limit_pct"].(float64); got != 2 {
		t.Fatalf("drawdown limit = %v, want 2", got)
	}
	// -250 breaches -10000 * 0.02 = -200.
	if got := data["kill_switch_active"].(bool); !got {
		t.Fatal("kill switch should be active")
	}
}

func TestDailyPnl_WithinLimit(t *testing.T) {
	repo := &positionRepo{realized: decimal.NewFromFloat(-150)}
	r := positionRouter(repo)

	data := getJSON(t, r, "/positions/daily-pnl")["data"].(map[string]any)
	if got := data["kill_switch_active"].(bool); got {
		t.Fatal("kill switch should be inactive")
	}
}

func TestClosePosition_NotFound(t *testing.T) {
	r := positionRouter(&positionRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/positions/42/close", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestClosePosition_AlreadyClosed(t *testing.T) {
	r := positionRouter(&positionRepo{position: &models.Position{
		ID: 42, Status: models.PositionClosedWin,
	}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/positions/42/close", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListPositions(t *testing.T) {
	now := time.Now().UTC()
	r := positionRouter(&positionRepo{position: &models.Position{
		ID: 7, MarketID: 3, Platform: models.PlatformKalshi,
		Side: models.SideYes, NumContracts: 100, EntryPrice: 0.45,
		TotalCost: 45, Status: models.PositionOpen, OpenedAt: now,
	}})

	envelope := getJSON(t, r, "/positions?status=open")
	data := envelope["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("positions = %d, want 1", len(data))
	}
	row := data[0].(map[string]any)
	if row["status"] != "open" || row["side"] != "yes" {
		t.Fatalf("unexpected row: %v", row)
	}
	meta := envelope["meta"].(map[string]any)
	if got := meta["count"].(float64); got != 1 {
		t.Fatalf("meta count = %v, want 1", got)
	}
}

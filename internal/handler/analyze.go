package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edgehunter/internal/agents"
	"edgehunter/internal/repository"
	"edgehunter/internal/service"
)

type AnalyzeHandler struct {
	Analyzer *service.AnalyzerService
	Repo     repository.Repository
	Logger   *zap.Logger
}

func (h *AnalyzeHandler) Register(r *gin.Engine) {
	r.POST("/analyze/:market_id", h.analyze)
	r.GET("/analyze/debates", h.debates)
}

type deskEstimateView struct {
	Desk        string  `json:"desk"`
	AgentName   string  `json:"agent_name"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	ModelKind   string  `json:"model_type,omitempty"`
}

// analysisView is the consolidated verdict for one analysis run.
type analysisView struct {
	MarketID    uint64 `json:"market_id"`
	MarketTitle string `json:"market_title"`
	Platform    string `json:"platform"`
	ScanID      string `json:"scan_id"`

	SystemProbability  float64            `json:"system_probability"`
	MarketPrice        float64            `json:"market_price"`
	Estimates          []deskEstimateView `json:"estimates"`
	Divergence         float64            `json:"divergence"`
	ConsensusReasoning string             `json:"consensus_reasoning"`

	DebateTriggered  bool                     `json:"debate_triggered"`
	DebateTranscript []agents.TranscriptEntry `json:"debate_transcript,omitempty"`
	DebateRounds     int                      `json:"debate_rounds,omitempty"`
	DebateConverged  *bool                    `json:"debate_converged,omitempty"`

	Edge                float64 `json:"edge"`
	ExpectedValue       float64 `json:"expected_value"`
	KellyFraction       float64 `json:"kelly_fraction"`
	HalfKellyFraction   float64 `json:"half_kelly_fraction"`
	RecommendedSide     string  `json:"recommended_side"`
	PositionSizeDollars float64 `json:"position_size_dollars"`
	NumContracts        int     `json:"num_contracts"`
	Tradeable           bool    `json:"tradeable"`
	RejectionReason     *string `json:"rejection_reason,omitempty"`

	PositionID  *uint64 `json:"position_id,omitempty"`
	OrderPlaced bool    `json:"order_placed"`
}

func (h *AnalyzeHandler) analyze(c *gin.Context) {
	marketID, err := strconv.ParseUint(c.Param("market_id"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "market_id must be an integer", nil)
		return
	}
	market, err := h.Repo.GetMarketByID(c.Request.Context(), marketID)
	if err != nil {
		h.Logger.Error("market lookup failed", zap.Uint64("market_id", marketID), zap.Error(err))
		Error(c, http.StatusInternalServerError, "market lookup failed", nil)
		return
	}
	if market == nil {
		Error(c, http.StatusNotFound, "market not found", nil)
		return
	}

	execute := boolQuery(c, "execute")
	outcome, err := h.Analyzer.Analyze(c.Request.Context(), marketID, execute)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	view := analysisView{
		MarketID:    outcome.Market.ID,
		MarketTitle: outcome.Market.Title,
		Platform:    string(outcome.Market.Platform),
		ScanID:      outcome.Analysis.ScanID,

		SystemProbability:  outcome.Analysis.SystemProbability,
		MarketPrice:        outcome.Analysis.MarketPrice,
		Divergence:         outcome.Analysis.EstimatesDivergence,
		ConsensusReasoning: outcome.Result.ConsensusReasoning,

		DebateTriggered: outcome.Analysis.DebateTriggered,

		Edge:                outcome.Analysis.Edge,
		ExpectedValue:       outcome.Analysis.ExpectedValue,
		KellyFraction:       outcome.Analysis.KellyFraction,
		HalfKellyFraction:   outcome.Analysis.HalfKellyFraction,
		RecommendedSide:     string(outcome.Analysis.RecommendedSide),
		PositionSizeDollars: outcome.Analysis.PositionSizeDollars,
		NumContracts:        outcome.Analysis.NumContracts,
		Tradeable:           outcome.Analysis.Tradeable,
		RejectionReason:     outcome.Analysis.RejectionReason,
	}
	for _, est := range outcome.Result.Estimates {
		view.Estimates = append(view.Estimates, deskEstimateView{
			Desk:        string(est.Desk),
			AgentName:   est.AgentName,
			Probability: est.Probability,
			Confidence:  est.Confidence,
			Reasoning:   truncateReasoning(est.Reasoning, 500),
			ModelKind:   est.ModelKind,
		})
	}
	if outcome.Analysis.DebateTriggered {
		view.DebateTranscript = outcome.Result.DebateTranscript
		view.DebateRounds = outcome.Result.DebateRounds
		converged := outcome.Result.DebateConverged
		view.DebateConverged = &converged
	}
	if outcome.Position != nil {
		view.PositionID = &outcome.Position.ID
		view.OrderPlaced = outcome.Position.PlatformOrderID != nil
	}
	Ok(c, view, nil)
}

type debateView struct {
	AnalysisID  uint64                   `json:"analysis_id"`
	MarketID    uint64                   `json:"market_id"`
	MarketTitle string                   `json:"market_title"`
	Divergence  float64                  `json:"divergence"`
	Consensus   float64                  `json:"consensus_probability"`
	Transcript  []agents.TranscriptEntry `json:"transcript"`
	CreatedAt   time.Time                `json:"created_at"`
}

func (h *AnalyzeHandler) debates(c *gin.Context) {
	limit := intQuery(c, "limit", 10)
	rows, err := h.Repo.ListDebates(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("list debates failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to list debates", nil)
		return
	}

	out := make([]debateView, 0, len(rows))
	for _, row := range rows {
		view := debateView{
			AnalysisID:  row.Analysis.ID,
			MarketID:    row.Analysis.MarketID,
			MarketTitle: row.MarketTitle,
			Divergence:  row.Analysis.EstimatesDivergence,
			Consensus:   row.Analysis.SystemProbability,
			CreatedAt:   row.Analysis.CreatedAt,
		}
		if len(row.Analysis.DebateTranscript) > 0 {
			if err := json.Unmarshal(row.Analysis.DebateTranscript, &view.Transcript); err != nil {
				view.Transcript = []agents.TranscriptEntry{{
					Message: string(row.Analysis.DebateTranscript),
				}}
			}
		}
		out = append(out, view)
	}
	Ok(c, out, map[string]any{"count": len(out)})
}

func truncateReasoning(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

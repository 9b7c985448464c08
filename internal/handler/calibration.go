package handler

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edgehunter/internal/models"
	"edgehunter/internal/repository"
	"edgehunter/internal/risk"
)

type CalibrationHandler struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (h *CalibrationHandler) Register(r *gin.Engine) {
	r.GET("/calibration", h.overview)
	r.GET("/calibration/agents", h.agents)
	r.GET("/calibration/chart", h.chart)
}

func (h *CalibrationHandler) records(c *gin.Context) ([]models.CalibrationRecord, bool) {
	records, err := h.Repo.ListCalibrationRecords(c.Request.Context())
	if err != nil {
		h.Logger.Error("list calibration records failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, "failed to load calibration records", nil)
		return nil, false
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ResolvedAt.Before(records[j].ResolvedAt)
	})
	return records, true
}

func (h *CalibrationHandler) overview(c *gin.Context) {
	records, ok := h.records(c)
	if !ok {
		return
	}
	if len(records) == 0 {
		Ok(c, gin.H{
			"overall_brier_score":  nil,
			"num_resolved_markets": 0,
			"per_category_scores":  gin.H{},
		}, nil)
		return
	}

	var total float64
	byCategory := map[models.MarketCategory][]float64{}
	for _, r := range records {
		total += r.BrierScore
		byCategory[r.Category] = append(byCategory[r.Category], r.BrierScore)
	}
	perCategory := gin.H{}
	for category, scores := range byCategory {
		perCategory[string(category)] = gin.H{
			"brier_score": risk.RoundTo(mean(scores), 4),
			"count":       len(scores),
		}
	}
	Ok(c, gin.H{
		"overall_brier_score":  risk.RoundTo(total/float64(len(records)), 4),
		"num_resolved_markets": len(records),
		"per_category_scores":  perCategory,
	}, nil)
}

type agentCalibration struct {
	Desk           string   `json:"desk"`
	BrierScore     *float64 `json:"brier_score"`
	NumPredictions int      `json:"num_predictions"`
	Trend          string   `json:"trend"`
	RecentAccuracy *float64 `json:"recent_accuracy"`
}

func (h *CalibrationHandler) agents(c *gin.Context) {
	records, ok := h.records(c)
	if !ok {
		return
	}

	desks := []struct {
		name     models.Desk
		estimate func(models.CalibrationRecord) *float64
	}{
		{models.DeskResearch, func(r models.CalibrationRecord) *float64 { return r.ResearchEstimate }},
		{models.DeskBaseRate, func(r models.CalibrationRecord) *float64 { return r.BaseRateEstimate }},
		{models.DeskModel, func(r models.CalibrationRecord) *float64 { return r.ModelEstimate }},
	}

	out := make([]agentCalibration, 0, len(desks))
	for _, desk := range desks {
		var scores []float64
		for _, r := range records {
			est := desk.estimate(r)
			if est == nil {
				continue
			}
			scores = append(scores, deskBrier(*est, r.ActualOutcome))
		}
		entry := agentCalibration{
			Desk:           string(desk.name),
			NumPredictions: len(scores),
			Trend:          deskTrend(scores),
		}
		if len(scores) > 0 {
			brier := risk.RoundTo(mean(scores), 4)
			entry.BrierScore = &brier
			recent := scores
			if len(recent) > 10 {
				recent = recent[len(recent)-10:]
			}
			accuracy := risk.RoundTo(1-mean(recent), 4)
			entry.RecentAccuracy = &accuracy
		}
		out = append(out, entry)
	}
	Ok(c, out, nil)
}

// deskTrend compares the latest 10 scores against the 10 before them.
// Lower Brier is better, so a drop reads as improvement.
func deskTrend(scores []float64) string {
	if len(scores) < 20 {
		return "stable"
	}
	recent := mean(scores[len(scores)-10:])
	older := mean(scores[len(scores)-20 : len(scores)-10])
	switch delta := recent - older; {
	case delta < -0.02:
		return "improving"
	case delta > 0.02:
		return "degrading"
	default:
		return "stable"
	}
}

type calibrationBin struct {
	RangeStart      float64  `json:"range_start"`
	RangeEnd        float64  `json:"range_end"`
	PredictedAvg    *float64 `json:"predicted_avg"`
	ActualFrequency *float64 `json:"actual_frequency"`
	Count           int      `json:"count"`
}

func (h *CalibrationHandler) chart(c *gin.Context) {
	records, ok := h.records(c)
	if !ok {
		return
	}

	var (
		predicted [10][]float64
		outcomes  [10]int
	)
	for _, r := range records {
		bin := int(r.SystemProbability * 10)
		if bin > 9 {
			bin = 9
		}
		if bin < 0 {
			bin = 0
		}
		predicted[bin] = append(predicted[bin], r.SystemProbability)
		if r.ActualOutcome {
			outcomes[bin]++
		}
	}

	bins := make([]calibrationBin, 0, 10)
	for i := 0; i < 10; i++ {
		bin := calibrationBin{
			RangeStart: float64(i) / 10,
			RangeEnd:   float64(i+1) / 10,
			Count:      len(predicted[i]),
		}
		if bin.Count > 0 {
			avg := risk.RoundTo(mean(predicted[i]), 4)
			freq := risk.RoundTo(float64(outcomes[i])/float64(bin.Count), 4)
			bin.PredictedAvg = &avg
			bin.ActualFrequency = &freq
		}
		bins = append(bins, bin)
	}
	Ok(c, gin.H{
		"bins":              bins,
		"total_predictions": len(records),
	}, nil)
}

func deskBrier(probability float64, outcome bool) float64 {
	actual := 0.0
	if outcome {
		actual = 1.0
	}
	diff := probability - actual
	return diff * diff
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

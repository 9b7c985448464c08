package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"edgehunter/internal/models"
)

// Input is everything the gate needs to size one market.
type Input struct {
	SystemProbability   float64
	MarketPrice         float64
	Bankroll            float64
	MinEdge             float64 // config value; the MinEdge floor still applies
	MaxPositionFraction float64 // fraction of bankroll, e.g. 0.05
}

// Decision is the gate's verdict. Numeric fields are unrounded; callers
// round at the persistence boundary.
type Decision struct {
	Side        models.Side
	Edge        float64
	PWin        float64
	ProfitIfWin float64
	LossIfLose  float64

	ExpectedValue     float64
	KellyFraction     float64
	HalfKellyFraction float64

	PositionSizeDollars float64
	NumContracts        int

	Tradeable       bool
	RejectionReason *string
}

// ExpectedValue is the per-unit-stake EV for a bet that wins profit with
// probability pWin and loses loss otherwise.
func ExpectedValue(pWin, profit, loss float64) float64 {
	return pWin*profit - (1-pWin)*loss
}

// KellyCriterion is the full-Kelly fraction for odds b = profit/loss,
// clamped to [0, 1].
func KellyCriterion(pWin, profit, loss float64) float64 {
	if loss <= 0 {
		return 0
	}
	b := profit / loss
	if b <= 0 {
		return 0
	}
	k := (pWin*b - (1 - pWin)) / b
	if k < 0 {
		return 0
	}
	if k > 1 {
		return 1
	}
	return k
}

// Evaluate runs side selection, the ordered rejection taxonomy and
// half-Kelly sizing for one market.
func Evaluate(in Input) Decision {
	p := in.SystemProbability
	m := in.MarketPrice

	d := Decision{Edge: math.Abs(p - m)}
	if p > m {
		d.Side = models.SideYes
		d.PWin = p
		d.ProfitIfWin = 1 - m
		d.LossIfLose = m
	} else {
		d.Side = models.SideNo
		d.PWin = 1 - p
		d.ProfitIfWin = m
		d.LossIfLose = 1 - m
	}

	minEdge := in.MinEdge
	if minEdge < MinEdge {
		minEdge = MinEdge
	}

	if d.Edge < minEdge {
		return reject(d, fmt.Sprintf("Edge %.3f below minimum %g", d.Edge, minEdge))
	}
	if d.PWin <= 0 || d.PWin >= 1 {
		return reject(d, "Invalid p_win")
	}
	if d.ProfitIfWin <= 0 || d.LossIfLose <= 0 {
		return reject(d, "Invalid payoff structure")
	}

	d.ExpectedValue = ExpectedValue(d.PWin, d.ProfitIfWin, d.LossIfLose)
	d.KellyFraction = KellyCriterion(d.PWin, d.ProfitIfWin, d.LossIfLose)
	d.HalfKellyFraction = math.Min(d.KellyFraction/2, MaxPositionFractionCap)

	bankroll := decimal.NewFromFloat(in.Bankroll)
	size := decimal.Min(
		decimal.NewFromFloat(d.HalfKellyFraction).Mul(bankroll),
		decimal.NewFromFloat(in.MaxPositionFraction).Mul(bankroll),
	)

	contractCost := m
	if d.Side == models.SideNo {
		contractCost = 1 - m
	}
	if contractCost > 0 {
		d.NumContracts = int(size.Div(decimal.NewFromFloat(contractCost)).IntPart())
	}
	d.PositionSizeDollars, _ = size.Float64()

	if d.ExpectedValue > 0 && d.NumContracts > 0 {
		d.Tradeable = true
		return d
	}
	reason := fmt.Sprintf("EV=%.4f or contracts=%d not positive", d.ExpectedValue, d.NumContracts)
	d.RejectionReason = &reason
	d.PositionSizeDollars = 0
	d.NumContracts = 0
	return d
}

func reject(d Decision, reason string) Decision {
	d.Tradeable = false
	d.RejectionReason = &reason
	d.ExpectedValue = 0
	d.KellyFraction = 0
	d.HalfKellyFraction = 0
	d.PositionSizeDollars = 0
	d.NumContracts = 0
	return d
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(v*pow) / pow
}

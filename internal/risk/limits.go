package risk

// Hard safety floors. These are process-level constants and are never
// overridable at runtime; the configurable settings may only tighten them.
const (
	// StopLossPct closes an open position once unrealized loss exceeds
	// this fraction of its cost basis.
	StopLossPct = 0.05

	// MaxDailyDrawdownPct is the kill-switch threshold on realized P&L
	// per UTC day, as a fraction of bankroll.
	MaxDailyDrawdownPct = 0.02

	// MaxPositionFractionCap bounds half-Kelly sizing regardless of how
	// strong the edge looks.
	MaxPositionFractionCap = 0.25

	// MaxConcurrentPositions caps pending+open positions.
	MaxConcurrentPositions = 15

	// MinEdge is the floor on |p - m| below which no trade is considered.
	MinEdge = 0.05

	// MaxSpread is the widest bid/ask spread a market may have and still
	// qualify in a scan.
	MaxSpread = 0.15

	// DebateDivergenceThreshold triggers the debate protocol when desk
	// estimates disagree by more than this.
	DebateDivergenceThreshold = 0.10

	// MaxDebateRounds bounds the debate protocol.
	MaxDebateRounds = 5

	// ConvergenceThreshold ends a debate early once the estimate spread
	// shrinks to this.
	ConvergenceThreshold = 0.05
)

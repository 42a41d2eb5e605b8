package hype

// breakpoints defines the four-point piecewise normalization curve for one
// raw metric: values below low scale into 0-25, low to medium into 25-50,
// medium to high into 50-80, high to max into 80-100, and anything above
// max saturates at 100.
type breakpoints struct {
	low, medium, high, max float64
}

var (
	messageCurve  = breakpoints{low: 5, medium: 15, high: 40, max: 80}
	reactionCurve = breakpoints{low: 10, medium: 30, high: 60, max: 120}
	votingCurve   = breakpoints{low: 0.05, medium: 0.15, high: 0.35, max: 0.6}
)

func (b breakpoints) normalize(v float64) float64 {
	switch {
	case v <= 0:
		return 0
	case v < b.low:
		return v / b.low * 25
	case v < b.medium:
		return 25 + (v-b.low)/(b.medium-b.low)*25
	case v < b.high:
		return 50 + (v-b.medium)/(b.high-b.medium)*30
	case v < b.max:
		return 80 + (v-b.high)/(b.max-b.high)*20
	default:
		return 100
	}
}

// normalizeTrend remaps a viewer-count trend in [-1, 1] to [0, 100]. The
// trend is not piecewise: a flat viewer count maps to 50.
func normalizeTrend(trend float64) float64 {
	if trend < -1 {
		trend = -1
	}
	if trend > 1 {
		trend = 1
	}
	return (trend + 1) / 2 * 100
}

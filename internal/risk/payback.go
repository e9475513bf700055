package risk

import "math"

// Payback labels.
const (
	PaybackPositive = "positive"
	PaybackNeutral  = "neutral"
	PaybackNegative = "negative"
)

// defaultPaybackThresholdCents applies when the paycheck is unknown.
const defaultPaybackThresholdCents = 5000

// Payback is the projected end-of-cycle headroom.
type Payback struct {
	CapacityCents  float64
	ThresholdCents int64
	Label          string
}

// ComputePayback projects spending over the remaining burn window and
// subtracts it from the average daily balance. A nil or non-positive burn
// falls back to a 30-day window; a nil paycheck falls back to the default
// neutrality threshold.
func ComputePayback(avgDailyBalanceCents float64, burnDays *float64, avgDailySpendCents float64, avgPaycheckCents *float64) Payback {
	effectiveBurn := 30.0
	if burnDays != nil && *burnDays > 0 {
		effectiveBurn = *burnDays
	}

	projected := math.Floor(effectiveBurn * avgDailySpendCents)
	capacity := avgDailyBalanceCents - projected

	threshold := int64(defaultPaybackThresholdCents)
	if avgPaycheckCents != nil && *avgPaycheckCents > 0 {
		threshold = int64(math.Floor(0.1 * *avgPaycheckCents))
	}

	p := Payback{CapacityCents: capacity, ThresholdCents: threshold}
	switch {
	case capacity > 0:
		p.Label = PaybackPositive
	case capacity >= -float64(threshold):
		p.Label = PaybackNeutral
	default:
		p.Label = PaybackNegative
	}
	return p
}

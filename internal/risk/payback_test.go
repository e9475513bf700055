package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fptr(v float64) *float64 { return &v }

func TestComputePayback_Positive(t *testing.T) {
	// 30 burn days at 100 cents/day projects 3000; balance 10000 leaves
	// 7000 headroom.
	p := ComputePayback(10000, fptr(30), 100, fptr(50000))

	assert.Equal(t, 7000.0, p.CapacityCents)
	assert.Equal(t, int64(5000), p.ThresholdCents)
	assert.Equal(t, PaybackPositive, p.Label)
}

func TestComputePayback_NeutralWithinThreshold(t *testing.T) {
	// Capacity -3000 sits inside the 10% paycheck threshold of 5000.
	p := ComputePayback(0, fptr(30), 100, fptr(50000))

	assert.Equal(t, -3000.0, p.CapacityCents)
	assert.Equal(t, PaybackNeutral, p.Label)
}

func TestComputePayback_Negative(t *testing.T) {
	p := ComputePayback(-10000, fptr(30), 100, fptr(50000))

	assert.Equal(t, -13000.0, p.CapacityCents)
	assert.Equal(t, PaybackNegative, p.Label)
}

func TestComputePayback_BurnFallback(t *testing.T) {
	// Nil and non-positive burn both fall back to a 30-day window.
	withNil := ComputePayback(10000, nil, 100, nil)
	withZero := ComputePayback(10000, fptr(0), 100, nil)

	assert.Equal(t, 7000.0, withNil.CapacityCents)
	assert.Equal(t, withNil.CapacityCents, withZero.CapacityCents)
}

func TestComputePayback_DefaultThreshold(t *testing.T) {
	// Unknown paycheck uses the 5000-cent default threshold.
	p := ComputePayback(-1000, fptr(30), 100, nil)

	assert.Equal(t, int64(5000), p.ThresholdCents)
	assert.Equal(t, -4000.0, p.CapacityCents)
	assert.Equal(t, PaybackNeutral, p.Label)
}

func TestComputePayback_ProjectionIsFloored(t *testing.T) {
	// 7.5 days at 33 cents/day = 247.5, floored to 247.
	p := ComputePayback(1000, fptr(7.5), 33, nil)
	assert.Equal(t, 1000.0-247.0, p.CapacityCents)
}

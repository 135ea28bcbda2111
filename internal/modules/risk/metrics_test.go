package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVaRAndCVaR(t *testing.T) {
	returns := []float64{-0.05, -0.02, 0.0, 0.01, 0.03}
	assert.InDelta(t, -0.044, VaR(returns, 0.95), 1e-12)
	assert.InDelta(t, -0.05, CVaR(returns, 0.95), 1e-12)

	assert.Zero(t, VaR(nil, 0.95))
	assert.Zero(t, CVaR(nil, 0.95))
}

func TestDrawdownTracker(t *testing.T) {
	var d DrawdownTracker
	assert.Zero(t, d.Update(100))
	assert.Zero(t, d.Update(120))
	assert.InDelta(t, 0.25, d.Update(90), 1e-12)
	assert.InDelta(t, 0.125, d.Update(105), 1e-12)
	assert.InDelta(t, 0.25, d.Max(), 1e-12)
	assert.Equal(t, 120.0, d.Peak())
	assert.InDelta(t, 0.5, d.Current(60), 1e-12)
}

func TestKellyFraction(t *testing.T) {
	// b = 2, f = (2*0.6 - 0.4)/2 = 0.4 -> capped at 0.25
	assert.InDelta(t, 0.25, KellyFraction(0.6, 0.02, 0.01, 2.0), 1e-12)
	// Halfway between 1.2 and 1.5 halves the fraction.
	assert.InDelta(t, 0.125, KellyFraction(0.6, 0.02, 0.01, 1.35), 1e-12)
	assert.Zero(t, KellyFraction(0.6, 0.02, 0.01, 1.1))
	assert.Zero(t, KellyFraction(0.3, 0.01, 0.01, 2.0))
	assert.Zero(t, KellyFraction(0.6, 0.02, 0, 2.0))
}


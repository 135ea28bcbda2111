package risk

import (
	"math"

	"github.com/aristath/alphashield/pkg/formulas"
)

// VaR is the (1-confidence) empirical percentile of returns. 0 on empty input.
func VaR(returns []float64, confidence float64) float64 {
	return formulas.CalculateVaR(returns, confidence)
}

// CVaR is the mean of returns at or below VaR. 0 on empty input.
func CVaR(returns []float64, confidence float64) float64 {
	return formulas.CalculateCVaR(returns, confidence)
}

// DrawdownTracker follows the running peak of a value series
type DrawdownTracker struct {
	peak float64
	max  float64
}

// Update records a new value and returns the current drawdown from peak.
func (d *DrawdownTracker) Update(value float64) float64 {
	if value > d.peak {
		d.peak = value
	}
	dd := d.Current(value)
	if dd > d.max {
		d.max = dd
	}
	return dd
}

// Current returns the drawdown of value from the recorded peak without updating it.
func (d *DrawdownTracker) Current(value float64) float64 {
	if d.peak <= 0 {
		return 0
	}
	return math.Max(0, (d.peak-value)/d.peak)
}

// Max returns the largest drawdown seen.
func (d *DrawdownTracker) Max() float64 {
	return d.max
}

// Peak returns the running maximum.
func (d *DrawdownTracker) Peak() float64 {
	return d.peak
}

const (
	kellyCap           = 0.25
	kellyCoverageFloor = 1.5
	kellyCoverageZero  = 1.2
)

// KellyFraction sizes exposure from the win rate and payoff ratio, clipped to
// [0, 0.25]. Below a coverage ratio of 1.5 it shrinks linearly, reaching 0 at 1.2.
func KellyFraction(winRate, avgWin, avgLoss, coverageRatio float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 {
		return 0
	}
	b := avgWin / avgLoss
	f := (b*winRate - (1 - winRate)) / b
	f = formulas.Clip(f, 0, kellyCap)

	if coverageRatio < kellyCoverageFloor {
		f *= math.Max(0, (coverageRatio-kellyCoverageZero)/(kellyCoverageFloor-kellyCoverageZero))
	}
	return f
}


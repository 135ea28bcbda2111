package formulas

import "math"

// CalculateCAGR returns the compound annual growth rate of a value series
// sampled daily: (end/start)^(252/n) - 1 where n = len(values)-1 is the
// number of daily periods. Fewer than two points or a non-positive start
// yield 0.
func CalculateCAGR(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	start := values[0]
	end := values[len(values)-1]
	if start <= 0 || end < 0 {
		return 0
	}
	years := float64(len(values)-1) / TradingDaysPerYear
	return math.Pow(end/start, 1/years) - 1
}

// CalculateSharpeRatio returns the annualized Sharpe ratio of daily returns.
// riskFreeRate is annual. Zero volatility yields 0.
func CalculateSharpeRatio(dailyReturns []float64, riskFreeRate float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	std := StdDev(dailyReturns)
	if std == 0 || !IsFinite(std) {
		return 0
	}
	excess := Mean(dailyReturns) - riskFreeRate/TradingDaysPerYear
	return excess / std * math.Sqrt(TradingDaysPerYear)
}

// CalculateMaxDrawdown returns the maximum peak-to-trough decline of a value
// series as a positive fraction (0.25 = 25% below the running peak).
func CalculateMaxDrawdown(values []float64) float64 {
	maxDrawdown := 0.0
	peak := math.Inf(-1)
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	return maxDrawdown
}

// CalculateWinRate returns the fraction of strictly positive returns.
func CalculateWinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

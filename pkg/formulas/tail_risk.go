package formulas

// CalculateVaR returns historical Value at Risk: the (1-confidence)
// percentile of returns. The result is a return, so losses are negative.
func CalculateVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return Percentile(returns, 1-confidence)
}

// CalculateCVaR returns Conditional VaR: the mean of all returns at or
// below the VaR threshold.
func CalculateCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	threshold := CalculateVaR(returns, confidence)

	sum := 0.0
	count := 0
	for _, r := range returns {
		if r <= threshold {
			sum += r
			count++
		}
	}
	if count == 0 {
		return threshold
	}
	return sum / float64(count)
}

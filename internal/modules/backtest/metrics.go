package backtest

import (
	"math"

	"github.com/aristath/alphashield/pkg/formulas"
)

// ComputeMetrics derives the end-of-run metrics from the NAV series and the
// step logs. Turnover and coverage adherence are averaged over the steps that
// left warmup. Tail metrics use the daily NAV returns at the given confidence.
func ComputeMetrics(nav []float64, steps []StepLog, target, varConfidence float64) Metrics {
	m := Metrics{Steps: len(steps)}
	if len(nav) == 0 {
		return m
	}

	returns := formulas.CalculateReturns(nav)
	m.FinalNAV = nav[len(nav)-1]
	if nav[0] > 0 {
		m.TotalReturn = m.FinalNAV/nav[0] - 1
	}
	m.CAGR = formulas.CalculateCAGR(nav)
	m.Volatility = formulas.AnnualizedVolatility(returns)
	m.Sharpe = formulas.CalculateSharpeRatio(returns, 0)
	m.MaxDrawdown = formulas.CalculateMaxDrawdown(nav)
	m.WinRate = formulas.CalculateWinRate(returns)
	m.VaR = formulas.CalculateVaR(returns, varConfidence)
	m.CVaR = formulas.CalculateCVaR(returns, varConfidence)

	active, covered := 0, 0
	turnover := 0.0
	for _, s := range steps {
		m.TotalCost += s.Cost
		switch s.State {
		case StateWarmup:
			continue
		case StateDefensive:
			m.DefensiveSteps++
		case StateEmergency:
			m.EmergencySteps++
		case StateHold:
			m.HoldSteps++
		}
		active++
		turnover += s.Turnover
		if !math.IsNaN(s.CoverageRatio) && s.CoverageRatio >= target {
			covered++
		}
	}
	if active > 0 {
		m.Turnover = turnover / float64(active)
		m.CoverageAdherencePct = 100 * float64(covered) / float64(active)
	}

	for _, v := range []*float64{&m.CAGR, &m.Volatility, &m.Sharpe, &m.VaR, &m.CVaR} {
		if !formulas.IsFinite(*v) {
			*v = 0
		}
	}
	return m
}

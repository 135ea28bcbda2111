package reporting

import (
	"fmt"
	"math"

	"github.com/vicanso/go-charts/v2"

	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/risk"
	"github.com/aristath/alphashield/pkg/formulas"
)

// ChartKind selects which series of a run is drawn
type ChartKind string

const (
	ChartNAV      ChartKind = "nav"
	ChartCoverage ChartKind = "coverage"
)

// ParseChartKind accepts nav or coverage.
func ParseChartKind(name string) (ChartKind, error) {
	switch ChartKind(name) {
	case ChartNAV, ChartCoverage:
		return ChartKind(name), nil
	}
	return "", fmt.Errorf("unknown chart %q (must be nav or coverage)", name)
}

// coverageDisplayCap bounds the coverage axis; an unpaid loan has infinite coverage.
const coverageDisplayCap = 10.0

// Chart renders the requested chart as PNG bytes.
func Chart(run *backtest.Run, kind ChartKind, bands risk.Thresholds) ([]byte, error) {
	switch kind {
	case ChartCoverage:
		return CoverageChart(run, bands)
	default:
		return NAVChart(run)
	}
}

// NAVChart draws the daily NAV with the headline metrics in the title.
func NAVChart(run *backtest.Run) ([]byte, error) {
	groupBy := AggregateDaily
	if len(run.NAV) > 2*formulas.TradingDaysPerYear {
		groupBy = AggregateWeekly
	}
	return lineChart(Aggregate(run.NAV, groupBy), navTitle(run), nil)
}

func navTitle(run *backtest.Run) string {
	m := run.Metrics
	return fmt.Sprintf("Portfolio NAV (%s)\nCAGR: %.2f%% | Sharpe: %.2f | Vol: %.2f%% | MaxDD: %.2f%%",
		run.Method, m.CAGR*100, m.Sharpe, m.Volatility*100, m.MaxDrawdown*100)
}

// CoverageChart draws the per-rebalance coverage ratio with the target and
// emergency thresholds as flat reference lines.
func CoverageChart(run *backtest.Run, bands risk.Thresholds) ([]byte, error) {
	capped := make([]backtest.Point, len(run.Coverage))
	for i, p := range run.Coverage {
		v := p.Value
		if v > coverageDisplayCap {
			v = coverageDisplayCap
		}
		capped[i] = backtest.Point{Date: p.Date, Value: v}
	}
	title := fmt.Sprintf("Loan Coverage Ratio\nPayment: %.2f/month | Adherence: %.1f%%",
		run.Payment, run.Metrics.CoverageAdherencePct)
	data := Aggregate(capped, AggregateDaily)
	target := make([]float64, len(data))
	emergency := make([]float64, len(data))
	for i := range data {
		target[i] = bands.Target
		emergency[i] = bands.Emergency
	}
	return lineChart(data, title, [][]float64{target, emergency})
}

// lineChart renders one or more series sharing the x labels of data.
func lineChart(data []ChartDataPoint, title string, extra [][]float64) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to chart")
	}

	labels := make([]string, len(data))
	values := make([]float64, len(data))
	minVal, maxVal := data[0].Value, data[0].Value
	for i, p := range data {
		labels[i] = p.Time
		values[i] = p.Value
	}
	for _, s := range append([][]float64{values}, extra...) {
		for _, v := range s {
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
	}

	padding := (maxVal - minVal) * 0.05
	if padding == 0 {
		padding = maxVal*0.05 + 1e-9
	}
	yMin := minVal - padding
	yMax := maxVal + padding

	splitNum := 6
	if len(labels) <= 30 {
		splitNum = len(labels) / 3
		if splitNum < 3 {
			splitNum = 3
		}
	}

	series := append([][]float64{values}, extra...)
	p, err := charts.LineRender(
		series,
		charts.TitleTextOptionFunc(title),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: splitNum,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}

package reporting

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/risk"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func testRun() *backtest.Run {
	start := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC) // Monday
	run := &backtest.Run{
		ID:         "r1",
		Start:      start,
		Method:     "qp",
		Covariance: "ledoit_wolf",
		Symbols:    []string{"SPY", "TLT"},
		Initial:    100000,
		Payment:    506.91,
	}
	for i := 0; i < 40; i++ {
		d := start.AddDate(0, 0, i)
		run.NAV = append(run.NAV, backtest.Point{Date: d, Value: 100000 + float64(i)*100})
		if i%10 == 0 {
			run.Coverage = append(run.Coverage, backtest.Point{Date: d, Value: 1.2 + float64(i)/100})
			run.Steps = append(run.Steps, backtest.StepLog{
				Date:    d,
				State:   backtest.StateOptimized,
				Status:  domain.CoverageNormal,
				Weights: domain.Weights{"SPY": 0.5, "TLT": 0.5},
			})
		}
	}
	run.End = run.NAV[len(run.NAV)-1].Date
	run.Metrics = backtest.Metrics{FinalNAV: 103900, CAGR: 0.3, Sharpe: 2, Steps: 4, CoverageAdherencePct: 75}
	return run
}

func TestAggregate(t *testing.T) {
	mon := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	points := []backtest.Point{
		{Date: mon, Value: 1},
		{Date: mon.AddDate(0, 0, 1), Value: 3},
		{Date: mon.AddDate(0, 0, 7), Value: 10},
		{Date: mon.AddDate(0, 0, 8), Value: math.Inf(1)},
		{Date: mon.AddDate(0, 1, 0), Value: 20},
	}

	weekly := Aggregate(points, AggregateWeekly)
	require.Len(t, weekly, 3)
	assert.Equal(t, ChartDataPoint{Time: "2021-W09", Value: 2}, weekly[0])
	assert.Equal(t, ChartDataPoint{Time: "2021-W10", Value: 10}, weekly[1])

	monthly := Aggregate(points, AggregateMonthly)
	require.Len(t, monthly, 2)
	assert.Equal(t, "2021-03", monthly[0].Time)
	assert.InDelta(t, 14.0/3, monthly[0].Value, 1e-12)

	daily := Aggregate(points, AggregateDaily)
	assert.Len(t, daily, 4)
	assert.Equal(t, "2021-03-01", daily[0].Time)
}

func TestParseAggregationAndKind(t *testing.T) {
	a, err := ParseAggregation("")
	require.NoError(t, err)
	assert.Equal(t, AggregateDaily, a)
	_, err = ParseAggregation("year")
	assert.Error(t, err)

	k, err := ParseChartKind("coverage")
	require.NoError(t, err)
	assert.Equal(t, ChartCoverage, k)
	_, err = ParseChartKind("pie")
	assert.Error(t, err)
}

func TestCharts_RenderPNG(t *testing.T) {
	run := testRun()

	nav, err := Chart(run, ChartNAV, risk.DefaultThresholds())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(nav, pngMagic))

	run.Coverage = append(run.Coverage, backtest.Point{Date: run.End, Value: math.Inf(1)})
	cov, err := Chart(run, ChartCoverage, risk.DefaultThresholds())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(cov, pngMagic))

	_, err = NAVChart(&backtest.Run{})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize(testRun())
	assert.Equal(t, "r1", s.ID)
	assert.Equal(t, "2021-03-01", s.Start)
	assert.Equal(t, 103900.0, s.FinalNAV)
	assert.Equal(t, domain.CoverageNormal, s.FinalStatus)
	assert.Equal(t, 0.5, s.FinalWeights["SPY"])

	var buf bytes.Buffer
	require.NoError(t, s.WriteText(&buf))
	assert.Contains(t, buf.String(), "CAGR")
	assert.Contains(t, buf.String(), "30.00%")
	assert.Contains(t, buf.String(), "75.0%")
}

// Package reporting turns stored backtest runs into chart images, chart data
// and plain summaries for the API and the CLI.
package reporting

import (
	"fmt"
	"sort"

	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/pkg/formulas"
)

// ChartDataPoint represents a single point on a chart
type ChartDataPoint struct {
	Time  string  `json:"time"`  // YYYY-MM-DD, YYYY-W## or YYYY-MM
	Value float64 `json:"value"`
}

// Aggregation groups daily points
type Aggregation string

const (
	AggregateDaily   Aggregation = "day"
	AggregateWeekly  Aggregation = "week"
	AggregateMonthly Aggregation = "month"
)

// ParseAggregation accepts day, week or month. Empty means day.
func ParseAggregation(name string) (Aggregation, error) {
	switch Aggregation(name) {
	case "", AggregateDaily:
		return AggregateDaily, nil
	case AggregateWeekly, AggregateMonthly:
		return Aggregation(name), nil
	}
	return "", fmt.Errorf("invalid aggregation: %s (must be day, week or month)", name)
}

// Aggregate averages points per ISO week or calendar month. Non-finite
// values are skipped.
func Aggregate(points []backtest.Point, groupBy Aggregation) []ChartDataPoint {
	aggregated := make(map[string][]float64)
	for _, p := range points {
		if !formulas.IsFinite(p.Value) {
			continue
		}
		var period string
		switch groupBy {
		case AggregateWeekly:
			year, week := p.Date.ISOWeek()
			period = fmt.Sprintf("%d-W%02d", year, week)
		case AggregateMonthly:
			period = p.Date.Format("2006-01")
		default:
			period = p.Date.Format("2006-01-02")
		}
		aggregated[period] = append(aggregated[period], p.Value)
	}

	periods := make([]string, 0, len(aggregated))
	for period := range aggregated {
		periods = append(periods, period)
	}
	sort.Strings(periods)

	out := make([]ChartDataPoint, 0, len(periods))
	for _, period := range periods {
		out = append(out, ChartDataPoint{Time: period, Value: formulas.Mean(aggregated[period])})
	}
	return out
}

package validation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/domain"
)

func businessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func flatSeries(t *testing.T, dates []time.Time, values ...[]float64) *domain.PriceSeries {
	t.Helper()
	symbols := []string{"A", "B"}[:len(values)]
	prices := map[string][]float64{}
	for i, s := range symbols {
		prices[s] = values[i]
	}
	ps, err := domain.NewPriceSeries(dates, symbols, prices)
	require.NoError(t, err)
	return ps
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestValidate_CleanHistory(t *testing.T) {
	v := NewPriceValidator(10, zerolog.Nop())
	dates := businessDays(monday, 20)

	report, err := v.Validate(flatSeries(t, dates, constant(20, 100), constant(20, 50)), true)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Empty(t, report.Codes)
}

func TestValidate_Codes(t *testing.T) {
	v := NewPriceValidator(10, zerolog.Nop())

	tests := []struct {
		name  string
		build func() *domain.PriceSeries
		code  string
	}{
		{
			name:  "empty",
			build: func() *domain.PriceSeries { return nil },
			code:  CodeEmptyPrices,
		},
		{
			name: "weekend row",
			build: func() *domain.PriceSeries {
				dates := businessDays(monday, 12)
				dates = append(dates, dates[len(dates)-1].AddDate(0, 0, 1))
				for dates[len(dates)-1].Weekday() != time.Saturday {
					dates[len(dates)-1] = dates[len(dates)-1].AddDate(0, 0, 1)
				}
				return flatSeries(t, dates, constant(len(dates), 100))
			},
			code: CodeNonBusinessDay,
		},
		{
			name: "short history",
			build: func() *domain.PriceSeries {
				return flatSeries(t, businessDays(monday, 5), constant(5, 100))
			},
			code: CodeInsufficient,
		},
		{
			name: "calendar gap",
			build: func() *domain.PriceSeries {
				dates := businessDays(monday, 12)
				later := businessDays(dates[len(dates)-1].AddDate(0, 0, 14), 3)
				dates = append(dates, later...)
				return flatSeries(t, dates, constant(len(dates), 100))
			},
			code: CodeGap,
		},
		{
			name: "missing rows",
			build: func() *domain.PriceSeries {
				col := constant(20, 100)
				for i := 5; i < 11; i++ {
					col[i] = math.NaN()
				}
				return flatSeries(t, businessDays(monday, 20), col)
			},
			code: CodeGap,
		},
		{
			name: "non positive",
			build: func() *domain.PriceSeries {
				col := constant(12, 100)
				col[3] = 0
				return flatSeries(t, businessDays(monday, 12), col)
			},
			code: CodeNonPositivePrice,
		},
		{
			name: "split",
			build: func() *domain.PriceSeries {
				col := constant(12, 100)
				for i := 6; i < 12; i++ {
					col[i] = 40
				}
				return flatSeries(t, businessDays(monday, 12), col)
			},
			code: CodePossibleSplit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := v.Validate(tt.build(), false)
			require.NoError(t, err)
			assert.False(t, report.OK)
			assert.True(t, report.Has(tt.code), "codes: %v", report.Codes)
		})
	}
}

func TestValidate_StrictModeReturnsTypedError(t *testing.T) {
	v := NewPriceValidator(100, zerolog.Nop())

	report, err := v.Validate(flatSeries(t, businessDays(monday, 10), constant(10, 100)), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataValidation))

	var dve *domain.DataValidationError
	require.True(t, errors.As(err, &dve))
	assert.Equal(t, []string{CodeInsufficient}, dve.Codes)
	assert.Equal(t, report.Codes, dve.Codes)
}

func TestDetectOutliers(t *testing.T) {
	returns := []float64{0.01, 0.012, -0.008, 0.005, 0.30, math.NaN(), -0.01, 0.0}

	iqr, err := DetectOutliers(returns, OutlierIQR)
	require.NoError(t, err)
	assert.True(t, iqr[4])
	assert.False(t, iqr[0])
	assert.False(t, iqr[5], "NaN is never an outlier")

	flat, err := DetectOutliers([]float64{0.01, 0.01, 0.01}, OutlierZScore)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, flat)

	_, err = DetectOutliers(returns, "mad")
	assert.Error(t, err)
}

func TestAverageDollarVolume(t *testing.T) {
	price := []float64{100, 100, 100}
	assert.InDelta(t, 5_000_000, AverageDollarVolume([]float64{60000, 50000, 40000}, price), 1e-6)
	assert.InDelta(t, 20000.0/3, AverageDollarVolume([]float64{100, 100}, price), 1e-9)
	assert.Zero(t, AverageDollarVolume(nil, nil))
}

func TestValidate_FlagsIlliquidAssets(t *testing.T) {
	v := NewPriceValidator(10, zerolog.Nop())
	dates := businessDays(monday, 20)
	series := flatSeries(t, dates, constant(20, 100), constant(20, 50)).
		WithADV(map[string]float64{"A": DefaultADVThreshold * 2, "B": DefaultADVThreshold / 2})

	report, err := v.Validate(series, false)
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, []string{CodeIlliquid}, report.Codes)
	assert.Equal(t, []string{"B"}, report.Illiquid)
}

func TestValidate_CountsReturnOutliers(t *testing.T) {
	v := NewPriceValidator(10, zerolog.Nop())
	dates := businessDays(monday, 20)
	jumpy := make([]float64, 20)
	for i := range jumpy {
		jumpy[i] = 100 + float64(i%2)
	}
	jumpy[15] = 130 // +29% then back, below the split threshold

	report, err := v.Validate(flatSeries(t, dates, jumpy, constant(20, 50)), true)
	require.NoError(t, err)
	assert.True(t, report.OK, "outliers are informational")
	assert.Equal(t, 2, report.Outliers["A"])
	assert.NotContains(t, report.Outliers, "B")
}

package risk

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/domain"
)

func TestMonthlyPayment(t *testing.T) {
	tests := []struct {
		name      string
		principal float64
		rate      float64
		term      int
		want      float64
	}{
		{"standard 36 months", 100000, 0.08, 36, 3133.64},
		{"zero rate", 12000, 0, 12, 1000},
		{"zero term", 100000, 0.08, 0, 0},
		{"negative term", 100000, 0.08, -3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MonthlyPayment(tt.principal, tt.rate, tt.term), 0.01)
		})
	}
}

func TestMonthlyPayment_ZeroRateIsPrincipalOverTerm(t *testing.T) {
	for _, n := range []int{1, 7, 36, 360} {
		assert.Equal(t, 50000/float64(n), MonthlyPayment(50000, 0, n))
	}
}

func TestCoverageRatio(t *testing.T) {
	assert.True(t, math.IsInf(CoverageRatio(60000, 0, 0.10), 1))
	assert.True(t, math.IsInf(CoverageRatio(0, -5, 0.10), 1))

	// 60000 * 0.10 / 12 / 3134.10
	assert.InDelta(t, 0.1595, CoverageRatio(60000, 3134.10, 0.10), 1e-4)
	assert.InDelta(t, 1.5954, CoverageRatio(600000, 3134.10, 0.10), 1e-4)
}

func TestAmortizationSchedule_SumsToPrincipal(t *testing.T) {
	terms := domain.LoanTerms{Principal: 25000, AnnualRate: 0.08, TermMonths: 60}
	schedule, err := AmortizationSchedule(terms)
	require.NoError(t, err)
	require.Len(t, schedule, 60)

	paid := decimal.Zero
	for _, row := range schedule {
		paid = paid.Add(row.Principal)
		assert.True(t, row.Payment.Equal(row.Principal.Add(row.Interest)))
	}
	assert.True(t, paid.Equal(decimal.NewFromInt(25000)), paid.String())
	assert.True(t, schedule[59].Balance.IsZero())
	assert.True(t, schedule[0].Interest.Equal(decimal.RequireFromString("166.67")))
}

func TestAmortizationSchedule_ZeroRate(t *testing.T) {
	schedule, err := AmortizationSchedule(domain.LoanTerms{Principal: 1200, TermMonths: 12})
	require.NoError(t, err)
	for _, row := range schedule {
		assert.True(t, row.Interest.IsZero())
		assert.True(t, row.Payment.Equal(decimal.NewFromInt(100)))
	}
}

func TestAmortizationSchedule_Invalid(t *testing.T) {
	_, err := AmortizationSchedule(domain.LoanTerms{Principal: -1, TermMonths: 12})
	assert.Error(t, err)

	schedule, err := AmortizationSchedule(domain.LoanTerms{Principal: 1000})
	require.NoError(t, err)
	assert.Empty(t, schedule)
}

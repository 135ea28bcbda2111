// Package risk implements loan coverage bookkeeping and the guardrail that
// overrides optimizer output when coverage or drawdown deteriorate.
package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/aristath/alphashield/internal/domain"
)

const monthsPerYear = 12

// MonthlyPayment is the standard amortizing payment
// P·r(1+r)^n / ((1+r)^n − 1) with r = annualRate/12.
func MonthlyPayment(principal, annualRate float64, termMonths int) float64 {
	if termMonths <= 0 {
		return 0
	}
	r := annualRate / monthsPerYear
	if math.Abs(r) < 1e-12 {
		return principal / float64(termMonths)
	}
	growth := math.Pow(1+r, float64(termMonths))
	return principal * r * growth / (growth - 1)
}

// Payment is a convenience wrapper over MonthlyPayment.
func Payment(terms domain.LoanTerms) float64 {
	return MonthlyPayment(terms.Principal, terms.AnnualRate, terms.TermMonths)
}

// CoverageRatio is the expected monthly portfolio return over the monthly
// loan payment. It is +Inf when there is nothing to pay.
func CoverageRatio(nav, monthlyPayment, expectedAnnualReturn float64) float64 {
	if monthlyPayment <= 0 {
		return math.Inf(1)
	}
	return nav * expectedAnnualReturn / monthsPerYear / monthlyPayment
}

// Installment is one row of an amortization schedule
type Installment struct {
	Month     int             `json:"month"`
	Payment   decimal.Decimal `json:"payment"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Balance   decimal.Decimal `json:"balance"`
}

// AmortizationSchedule lists every payment in cents. The last payment
// absorbs rounding so the balance ends at exactly zero.
func AmortizationSchedule(terms domain.LoanTerms) ([]Installment, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	if terms.TermMonths == 0 {
		return nil, nil
	}

	payment := decimal.NewFromFloat(Payment(terms)).Round(2)
	rate := decimal.NewFromFloat(terms.AnnualRate).Div(decimal.NewFromInt(monthsPerYear))
	balance := decimal.NewFromFloat(terms.Principal).Round(2)

	out := make([]Installment, 0, terms.TermMonths)
	for month := 1; month <= terms.TermMonths; month++ {
		interest := balance.Mul(rate).Round(2)
		principal := payment.Sub(interest)
		if month == terms.TermMonths || principal.GreaterThan(balance) {
			principal = balance
		}
		balance = balance.Sub(principal)

		out = append(out, Installment{
			Month:     month,
			Payment:   principal.Add(interest),
			Interest:  interest,
			Principal: principal,
			Balance:   balance,
		})
	}
	return out, nil
}

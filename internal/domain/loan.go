package domain

import "math"

// LoanTerms describes an amortizing loan
type LoanTerms struct {
	Principal  float64 `json:"principal" yaml:"principal"`
	AnnualRate float64 `json:"annual_rate" yaml:"annual_rate"` // Decimal, e.g. 0.08 = 8%
	TermMonths int     `json:"term_months" yaml:"term_months"`
}

// Validate rejects negative or non-finite loan terms.
func (l LoanTerms) Validate() error {
	if l.Principal < 0 || math.IsNaN(l.Principal) || math.IsInf(l.Principal, 0) {
		return NewConfigError("loan.principal", "must be a finite non-negative amount, got %g", l.Principal)
	}
	if math.IsNaN(l.AnnualRate) || math.IsInf(l.AnnualRate, 0) || l.AnnualRate < 0 {
		return NewConfigError("loan.annual_rate", "must be a finite non-negative rate, got %g", l.AnnualRate)
	}
	if l.TermMonths < 0 {
		return NewConfigError("loan.term_months", "must be non-negative, got %d", l.TermMonths)
	}
	return nil
}

// LoanSplit divides a loan between the invested portfolio and the borrower.
type LoanSplit struct {
	Total      float64 `json:"total"`
	Investment float64 `json:"investment"`
	Borrower   float64 `json:"borrower"`
}

// InvestmentShare is the fraction of a loan that is invested.
const InvestmentShare = 0.6

// SplitLoan applies the 60/40 investment/borrower split.
func SplitLoan(total float64) LoanSplit {
	return LoanSplit{
		Total:      total,
		Investment: total * InvestmentShare,
		Borrower:   total * (1 - InvestmentShare),
	}
}

// CoverageStatus classifies a coverage ratio
type CoverageStatus string

const (
	CoverageNormal    CoverageStatus = "normal"
	CoverageDefensive CoverageStatus = "defensive"
	CoverageEmergency CoverageStatus = "emergency"
)

// CoverageState pairs a coverage ratio with its classification
type CoverageState struct {
	Ratio  float64        `json:"ratio"`
	Status CoverageStatus `json:"status"`
}

// Trade is one simulated order produced by the execution simulator
type Trade struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"` // buy or sell
	Notional float64 `json:"notional"`
	Price    float64 `json:"price"`
	Cost     float64 `json:"cost"`
	Capped   bool    `json:"capped,omitempty"` // Limited by the ADV cap
}

// ExecutionResult is the outcome of simulating a rebalance
type ExecutionResult struct {
	Trades       []Trade `json:"trades"`
	TotalCost    float64 `json:"total_cost"`
	FinalWeights Weights `json:"final_weights"`
	FinalValue   float64 `json:"final_value"`
}

// Degenerate reports an execution whose realized weights are all zero.
func (r ExecutionResult) Degenerate() bool {
	return r.FinalWeights.Sum() <= 0
}

// Package backtest replays the portfolio pipeline over historical prices:
// signals, covariance, optimization, guardrail, execution and NAV
// bookkeeping, one rebalance at a time.
package backtest

import (
	"encoding/json"
	"math"
	"time"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/validation"
)

// State is the pipeline outcome of one rebalance step
type State string

const (
	StateWarmup    State = "warmup"
	StateOptimized State = "optimized"
	StateDefensive State = "defensive"
	StateEmergency State = "emergency"
	StateHold      State = "hold" // Optimizer failed or the fill was degenerate
)

// Point is one observation of a time series
type Point struct {
	Date  time.Time `json:"date" msgpack:"d"`
	Value float64   `json:"value" msgpack:"v"`
}

// MarshalJSON writes non-finite values as null.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  time.Time `json:"date"`
		Value *float64  `json:"value"`
	}{Date: p.Date, Value: finiteOrNil(p.Value)})
}

// RiskMetrics are tail statistics of the held portfolio over the trailing window
type RiskMetrics struct {
	VaR        float64 `json:"var" msgpack:"var"`
	CVaR       float64 `json:"cvar" msgpack:"cvar"`
	Volatility float64 `json:"volatility" msgpack:"vol"`
}

// StepLog records everything decided at one rebalance date
type StepLog struct {
	Index           int                   `json:"index" msgpack:"i"`
	Date            time.Time             `json:"date" msgpack:"date"`
	State           State                 `json:"state" msgpack:"state"`
	Status          domain.CoverageStatus `json:"status" msgpack:"status"`
	CoverageRatio   float64               `json:"coverage_ratio" msgpack:"cr"`
	Drawdown        float64               `json:"drawdown" msgpack:"dd"`
	NAV             float64               `json:"nav" msgpack:"nav"`
	Cost            float64               `json:"cost" msgpack:"cost"`
	Turnover        float64               `json:"turnover" msgpack:"turnover"`
	Regime          string                `json:"regime,omitempty" msgpack:"regime,omitempty"`
	Backend         string                `json:"backend,omitempty" msgpack:"backend,omitempty"`
	OptimizerStatus string                `json:"optimizer_status,omitempty" msgpack:"opt_status,omitempty"`
	ExpectedReturn  float64               `json:"expected_return" msgpack:"mu"`
	Target          domain.Weights        `json:"target,omitempty" msgpack:"target,omitempty"`
	Weights         domain.Weights        `json:"weights" msgpack:"weights"`
	Risk            RiskMetrics           `json:"risk_metrics" msgpack:"risk"`
	Note            string                `json:"note,omitempty" msgpack:"note,omitempty"`
}

// MarshalJSON writes a non-finite coverage ratio as null.
func (s StepLog) MarshalJSON() ([]byte, error) {
	type alias StepLog
	return json.Marshal(struct {
		alias
		CoverageRatio *float64 `json:"coverage_ratio"`
	}{alias: alias(s), CoverageRatio: finiteOrNil(s.CoverageRatio)})
}

// Metrics summarize a finished run
type Metrics struct {
	CAGR                 float64 `json:"cagr" msgpack:"cagr"`
	Volatility           float64 `json:"volatility" msgpack:"volatility"`
	Sharpe               float64 `json:"sharpe" msgpack:"sharpe"`
	MaxDrawdown          float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	Turnover             float64 `json:"turnover" msgpack:"turnover"`
	CoverageAdherencePct float64 `json:"coverage_adherence_pct" msgpack:"coverage_adherence_pct"`
	TotalReturn          float64 `json:"total_return" msgpack:"total_return"`
	WinRate              float64 `json:"win_rate" msgpack:"win_rate"`
	VaR                  float64 `json:"var" msgpack:"var"`
	CVaR                 float64 `json:"cvar" msgpack:"cvar"`
	FinalNAV             float64 `json:"final_nav" msgpack:"final_nav"`
	TotalCost            float64 `json:"total_cost" msgpack:"total_cost"`
	Steps                int     `json:"steps" msgpack:"steps"`
	DefensiveSteps       int     `json:"defensive_steps" msgpack:"defensive_steps"`
	EmergencySteps       int     `json:"emergency_steps" msgpack:"emergency_steps"`
	HoldSteps            int     `json:"hold_steps" msgpack:"hold_steps"`
}

// Run is the accumulated output of a backtest
type Run struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Method      string            `json:"method"`
	Covariance  string            `json:"covariance"`
	Symbols     []string          `json:"symbols"`
	Loan        domain.LoanTerms  `json:"loan"`
	Payment     float64           `json:"monthly_payment"`
	Initial     float64           `json:"initial_capital"`
	Validation  validation.Report `json:"validation"`
	NAV         []Point           `json:"nav"`
	Coverage    []Point           `json:"coverage"`
	Steps       []StepLog         `json:"steps"`
	Metrics     Metrics           `json:"metrics"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	DurationSec float64           `json:"duration_sec"`
}

// NAVValues returns the NAV series without dates.
func (r *Run) NAVValues() []float64 {
	out := make([]float64, len(r.NAV))
	for i, p := range r.NAV {
		out[i] = p.Value
	}
	return out
}

// LastStep returns the most recent step log, if any.
func (r *Run) LastStep() (StepLog, bool) {
	if len(r.Steps) == 0 {
		return StepLog{}, false
	}
	return r.Steps[len(r.Steps)-1], true
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

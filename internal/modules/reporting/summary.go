package reporting

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/backtest"
)

// Summary is the flat view of a run consumed by the API and the CLI
type Summary struct {
	ID                   string                `json:"id"`
	Start                string                `json:"start"`
	End                  string                `json:"end"`
	Method               string                `json:"method"`
	Covariance           string                `json:"covariance"`
	Symbols              []string              `json:"symbols"`
	InitialCapital       float64               `json:"initial_capital"`
	FinalNAV             float64               `json:"final_nav"`
	TotalReturn          float64               `json:"total_return"`
	CAGR                 float64               `json:"cagr"`
	Volatility           float64               `json:"volatility"`
	Sharpe               float64               `json:"sharpe"`
	MaxDrawdown          float64               `json:"max_drawdown"`
	Turnover             float64               `json:"turnover"`
	CoverageAdherencePct float64               `json:"coverage_adherence_pct"`
	MonthlyPayment       float64               `json:"monthly_payment"`
	TotalCost            float64               `json:"total_cost"`
	Steps                int                   `json:"steps"`
	DefensiveSteps       int                   `json:"defensive_steps"`
	EmergencySteps       int                   `json:"emergency_steps"`
	HoldSteps            int                   `json:"hold_steps"`
	FinalStatus          domain.CoverageStatus `json:"final_status,omitempty"`
	FinalWeights         domain.Weights        `json:"final_weights,omitempty"`
	ValidationCodes      []string              `json:"validation_codes,omitempty"`
	Cancelled            bool                  `json:"cancelled,omitempty"`
}

// Summarize flattens a run.
func Summarize(run *backtest.Run) Summary {
	m := run.Metrics
	s := Summary{
		ID:                   run.ID,
		Start:                run.Start.Format("2006-01-02"),
		End:                  run.End.Format("2006-01-02"),
		Method:               run.Method,
		Covariance:           run.Covariance,
		Symbols:              run.Symbols,
		InitialCapital:       run.Initial,
		FinalNAV:             m.FinalNAV,
		TotalReturn:          m.TotalReturn,
		CAGR:                 m.CAGR,
		Volatility:           m.Volatility,
		Sharpe:               m.Sharpe,
		MaxDrawdown:          m.MaxDrawdown,
		Turnover:             m.Turnover,
		CoverageAdherencePct: m.CoverageAdherencePct,
		MonthlyPayment:       run.Payment,
		TotalCost:            m.TotalCost,
		Steps:                m.Steps,
		DefensiveSteps:       m.DefensiveSteps,
		EmergencySteps:       m.EmergencySteps,
		HoldSteps:            m.HoldSteps,
		ValidationCodes:      run.Validation.Codes,
		Cancelled:            run.Cancelled,
	}
	if last, ok := run.LastStep(); ok {
		s.FinalStatus = last.Status
		s.FinalWeights = last.Weights
	}
	return s
}

// WriteText prints the summary as aligned key/value lines.
func (s Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Run", s.ID},
		{"Period", s.Start + " .. " + s.End},
		{"Optimizer", s.Method + " / " + s.Covariance},
		{"Symbols", strings.Join(s.Symbols, ",")},
		{"Final NAV", fmt.Sprintf("%.2f (from %.2f)", s.FinalNAV, s.InitialCapital)},
		{"Total return", pct(s.TotalReturn)},
		{"CAGR", pct(s.CAGR)},
		{"Volatility", pct(s.Volatility)},
		{"Sharpe", fmt.Sprintf("%.3f", s.Sharpe)},
		{"Max drawdown", pct(s.MaxDrawdown)},
		{"Turnover", fmt.Sprintf("%.4f", s.Turnover)},
		{"Coverage adherence", fmt.Sprintf("%.1f%%", s.CoverageAdherencePct)},
		{"Monthly payment", fmt.Sprintf("%.2f", s.MonthlyPayment)},
		{"Trading costs", fmt.Sprintf("%.2f", s.TotalCost)},
		{"Steps", fmt.Sprintf("%d (defensive %d, emergency %d, hold %d)", s.Steps, s.DefensiveSteps, s.EmergencySteps, s.HoldSteps)},
	}
	if s.FinalStatus != "" {
		rows = append(rows, [2]string{"Final status", string(s.FinalStatus)})
	}
	if len(s.ValidationCodes) > 0 {
		rows = append(rows, [2]string{"Data issues", strings.Join(s.ValidationCodes, ", ")})
	}
	if s.Cancelled {
		rows = append(rows, [2]string{"Cancelled", "yes"})
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

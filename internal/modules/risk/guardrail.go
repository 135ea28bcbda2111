package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/allocation"
)

// Thresholds separate the coverage bands
type Thresholds struct {
	Emergency float64
	Target    float64
}

// DefaultThresholds returns emergency 1.2 and target 1.3.
func DefaultThresholds() Thresholds {
	return Thresholds{Emergency: 1.2, Target: 1.3}
}

// Classify maps a coverage ratio to its band. A NaN ratio is an emergency.
func (t Thresholds) Classify(cr float64) domain.CoverageStatus {
	switch {
	case math.IsNaN(cr) || cr < t.Emergency:
		return domain.CoverageEmergency
	case cr < t.Target:
		return domain.CoverageDefensive
	default:
		return domain.CoverageNormal
	}
}

// Action is what the guardrail does to the proposed weights
type Action string

const (
	ActionNormal    Action = "normal"
	ActionDefensive Action = "defensive"
	ActionEmergency Action = "emergency"
)

// Decision is the outcome of one guardrail evaluation
type Decision struct {
	Action        Action                `json:"action"`
	Status        domain.CoverageStatus `json:"status"`
	CoverageRatio float64               `json:"coverage_ratio"`
	Drawdown      float64               `json:"drawdown"`
	Instructions  string                `json:"instructions,omitempty"`
	Alert         string                `json:"alert,omitempty"`
}

// Overrides reports whether the decision replaces the optimizer output.
func (d Decision) Overrides() bool {
	return d.Action != ActionNormal
}

// Guardrail enforces coverage and drawdown limits
type Guardrail struct {
	thresholds     Thresholds
	maxDrawdown    float64
	defensiveShift float64
	log            zerolog.Logger
}

// NewGuardrail creates a guardrail from the coverage and risk sections.
func NewGuardrail(coverage config.CoverageConfig, risk config.RiskConfig, log zerolog.Logger) *Guardrail {
	return &Guardrail{
		thresholds:     Thresholds{Emergency: coverage.EmergencyRatio, Target: coverage.TargetRatio},
		maxDrawdown:    risk.MaxDrawdown,
		defensiveShift: risk.DefensiveShift,
		log:            log.With().Str("component", "guardrail").Logger(),
	}
}

// Thresholds returns the configured coverage bands.
func (g *Guardrail) Thresholds() Thresholds {
	return g.thresholds
}

// Evaluate classifies the current coverage ratio and drawdown. Emergency
// applies when coverage is below the emergency ratio or the drawdown
// exceeds the limit, regardless of the target ratio.
func (g *Guardrail) Evaluate(cr, drawdown float64) Decision {
	d := Decision{CoverageRatio: cr, Drawdown: drawdown}

	status := g.thresholds.Classify(cr)
	if drawdown > g.maxDrawdown {
		status = domain.CoverageEmergency
	}
	d.Status = status

	switch status {
	case domain.CoverageEmergency:
		d.Action = ActionEmergency
		d.Instructions = "reallocate to the emergency template: 50% bonds, 30% short duration, 20% cash"
		d.Alert = fmt.Sprintf("coverage emergency: ratio %.3f, drawdown %.2f%%", cr, drawdown*100)
	case domain.CoverageDefensive:
		d.Action = ActionDefensive
		d.Instructions = fmt.Sprintf("shift %.0f%% of equity exposure into bonds", g.defensiveShift*100)
	default:
		d.Action = ActionNormal
	}
	return d
}

// Apply returns the weights to trade after the decision. Normal decisions
// leave the proposal untouched.
func (g *Guardrail) Apply(d Decision, proposed domain.Weights, universe domain.Universe) domain.Weights {
	switch d.Status {
	case domain.CoverageEmergency:
		w, err := allocation.Template(allocation.TemplateEmergency, universe)
		if err != nil {
			g.log.Error().Err(err).Msg("Emergency template unavailable, keeping proposal")
			return proposed.Clone()
		}
		g.log.Warn().
			Float64("coverage_ratio", d.CoverageRatio).
			Float64("drawdown", d.Drawdown).
			Msg(d.Alert)
		return w
	case domain.CoverageDefensive:
		return ShiftEquityToBonds(proposed, universe, g.defensiveShift)
	default:
		return proposed.Clone()
	}
}

// ShiftEquityToBonds moves fraction of the total equity weight into the
// bond assets in equal parts. Without bonds it uses short duration, then
// cash; without any of those the weights are returned unchanged.
func ShiftEquityToBonds(w domain.Weights, universe domain.Universe, fraction float64) domain.Weights {
	out := w.Clone()
	equity := universe.SymbolsByClass(domain.AssetClassEquity)

	var targets []string
	for _, class := range []domain.AssetClass{domain.AssetClassBond, domain.AssetClassShortDuration, domain.AssetClassCash} {
		if targets = universe.SymbolsByClass(class); len(targets) > 0 {
			break
		}
	}
	if len(targets) == 0 || len(equity) == 0 || fraction <= 0 {
		return out
	}

	moved := 0.0
	for _, s := range equity {
		take := out[s] * fraction
		out[s] -= take
		moved += take
	}
	for _, s := range targets {
		out[s] += moved / float64(len(targets))
	}
	return out.Normalize()
}

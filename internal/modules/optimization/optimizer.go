// Package optimization turns expected returns and a covariance matrix into
// long-only portfolio weights.
package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/allocation"
)

// Backend selects the solver
type Backend string

const (
	BackendClosedForm Backend = "closed_form"
	BackendQP         Backend = "qp"
	BackendQUBO       Backend = "qubo"
	BackendHRP        Backend = "hrp"
)

// ParseBackend rejects unknown backend names.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case BackendClosedForm, BackendQP, BackendQUBO, BackendHRP:
		return Backend(name), nil
	}
	return "", domain.NewConfigError("optimizer.method", "unknown method %q", name)
}

// Status is the terminal state of one Optimize call
type Status string

const (
	StatusOK              Status = "ok"
	StatusFallbackRiskOff Status = "fallback_risk_off"
	StatusNoReturns       Status = "no_returns"
)

// ReasonMinReturnNotMet is reported with StatusFallbackRiskOff.
const ReasonMinReturnNotMet = "min_return_not_met"

// Capabilities lists optional backends available in this build
type Capabilities struct {
	Quantum bool
}

// Constraints bound the feasible set
type Constraints struct {
	MaxPosition  float64
	MinReturn    float64 // Fallback only triggers when positive
	MaxTurnover  float64 // L1 budget; 0 disables
	RiskAversion float64
	SectorCaps   map[string]float64
	Sectors      map[string]string // symbol -> sector
}

// ConstraintsFromConfig builds constraints for a universe.
func ConstraintsFromConfig(cfg config.OptimizerConfig, universe domain.Universe) Constraints {
	return Constraints{
		MaxPosition:  cfg.MaxPosition,
		MinReturn:    cfg.MinReturn,
		MaxTurnover:  cfg.MaxTurnover,
		RiskAversion: cfg.RiskAversion,
		SectorCaps:   cfg.SectorCaps,
		Sectors:      universe.Sectors(),
	}
}

// Validate checks that the constraints admit a fully invested portfolio over symbols.
func (c Constraints) Validate(symbols []string) error {
	if c.MaxPosition <= 0 || c.MaxPosition > 1 {
		return domain.NewConfigError("optimizer.max_position", "must be in (0,1], got %g", c.MaxPosition)
	}
	if c.RiskAversion <= 0 {
		return domain.NewConfigError("optimizer.risk_aversion", "must be positive, got %g", c.RiskAversion)
	}
	if c.MaxTurnover < 0 {
		return domain.NewConfigError("optimizer.max_turnover", "must be non-negative, got %g", c.MaxTurnover)
	}

	capacity := 0.0
	perSector := make(map[string]float64)
	for _, s := range symbols {
		sector := c.Sectors[s]
		if _, capped := c.SectorCaps[sector]; capped {
			perSector[sector] += c.MaxPosition
			continue
		}
		capacity += c.MaxPosition
	}
	for _, sector := range domain.SortedSymbols(perSector) {
		capacity += math.Min(perSector[sector], c.SectorCaps[sector])
	}
	if capacity < 1-domain.WeightTolerance {
		return domain.NewConfigError("optimizer", "position and sector caps admit only %.4f of the portfolio", capacity)
	}
	return nil
}

func (c Constraints) hasSectorCaps() bool {
	return len(c.SectorCaps) > 0
}

// turnoverActive reports whether the turnover budget binds. A portfolio that
// is not yet invested is allocated without a budget.
func (c Constraints) turnoverActive(current domain.Weights) bool {
	return c.MaxTurnover > 0 && current.IsInvested()
}

// Result is the outcome of one Optimize call
type Result struct {
	Status         Status         `json:"status"`
	Weights        domain.Weights `json:"weights"`
	ExpectedReturn float64        `json:"expected_return"`
	Backend        Backend        `json:"backend"`
	Reason         string         `json:"reason,omitempty"`
}

// Optimizer is stateless across calls
type Optimizer struct {
	backend Backend
	cfg     config.OptimizerConfig
	log     zerolog.Logger
}

// NewOptimizer resolves the configured backend against the capabilities.
// qubo without quantum support falls back to qp.
func NewOptimizer(cfg config.OptimizerConfig, caps Capabilities, log zerolog.Logger) (*Optimizer, error) {
	backend, err := ParseBackend(cfg.Method)
	if err != nil {
		return nil, err
	}

	l := log.With().Str("component", "optimizer").Logger()
	if backend == BackendQUBO && !(caps.Quantum && cfg.QuantumEnabled) {
		l.Info().Msg("QUBO backend not enabled, using qp")
		backend = BackendQP
	}

	return &Optimizer{backend: backend, cfg: cfg, log: l}, nil
}

// Backend returns the resolved backend.
func (o *Optimizer) Backend() Backend {
	return o.backend
}

// Optimize maximizes w·mu - λ w'Σw over the long-only capped simplex.
// mu and cov are ordered by symbols. current may be empty.
func (o *Optimizer) Optimize(mu []float64, cov mat.Symmetric, symbols []string, current domain.Weights, c Constraints, universe domain.Universe) (Result, error) {
	n := len(symbols)
	if n == 0 {
		return Result{}, fmt.Errorf("no symbols provided")
	}
	if err := c.Validate(symbols); err != nil {
		return Result{}, err
	}

	if len(mu) == 0 {
		w := domain.EqualWeights(symbols, c.MaxPosition).Normalize()
		return Result{Status: StatusNoReturns, Weights: w, Backend: o.backend}, nil
	}
	if len(mu) != n {
		return Result{}, fmt.Errorf("expected returns length %d does not match symbols %d", len(mu), n)
	}
	if cov == nil || cov.SymmetricDim() != n {
		return Result{}, fmt.Errorf("covariance matrix does not match %d symbols", n)
	}

	backend := o.backend
	if (backend == BackendClosedForm || backend == BackendQUBO) && (c.hasSectorCaps() || c.turnoverActive(current)) {
		backend = BackendQP
	}

	var raw []float64
	var err error
	switch backend {
	case BackendClosedForm:
		raw, err = solveClosedForm(mu, cov, c)
	case BackendQP:
		raw, err = solveQP(mu, cov, current.Vector(symbols), symbols, c, o.log)
	case BackendQUBO:
		raw = solveQUBO(mu, cov, c, o.cfg.QUBOLevels, o.cfg.QUBOSweeps, o.cfg.Seed)
	case BackendHRP:
		var hw map[string]float64
		hw, err = NewHRPOptimizer().Optimize(cov, symbols)
		raw = domain.Weights(hw).Vector(symbols)
	}
	if err != nil {
		return Result{}, err
	}

	w := repair(domain.WeightsFromVector(symbols, raw), current, c)
	expected := w.Dot(domain.WeightsFromVector(symbols, mu))

	if c.MinReturn > 0 && expected < c.MinReturn {
		fallback, err := allocation.Template(allocation.TemplateRiskOff, universe.Filter(symbols))
		if err != nil {
			return Result{}, err
		}
		fallback = allocation.FitToCap(fallback, c.MaxPosition)
		o.log.Debug().
			Float64("expected_return", expected).
			Float64("min_return", c.MinReturn).
			Msg("Minimum return not met, using risk_off template")
		return Result{
			Status:         StatusFallbackRiskOff,
			Weights:        fallback,
			ExpectedReturn: fallback.Dot(domain.WeightsFromVector(symbols, mu)),
			Backend:        backend,
			Reason:         ReasonMinReturnNotMet,
		}, nil
	}

	return Result{Status: StatusOK, Weights: w, ExpectedReturn: expected, Backend: backend}, nil
}

// repair maps raw solver output exactly onto the feasible set: capped
// simplex, then sector caps, then the turnover budget.
func repair(raw domain.Weights, current domain.Weights, c Constraints) domain.Weights {
	symbols := domain.SortedSymbols(raw)
	w := domain.WeightsFromVector(symbols, ProjectCappedSimplex(raw.Vector(symbols), c.MaxPosition))

	if c.hasSectorCaps() {
		w = allocation.FitToSectorCaps(w, c.Sectors, c.SectorCaps, c.MaxPosition)
	}

	if c.turnoverActive(current) {
		w = limitTurnover(w, current, c)
	}
	return w
}

// limitTurnover blends w toward the current weights until the L1 distance
// fits the budget. Current weights outside the box are first repaired, so
// the budget is measured from the nearest feasible portfolio.
func limitTurnover(w domain.Weights, current domain.Weights, c Constraints) domain.Weights {
	symbols := domain.SortedSymbols(w)
	anchor := domain.WeightsFromVector(symbols, current.Vector(symbols))
	anchor = domain.WeightsFromVector(symbols, ProjectCappedSimplex(anchor.Vector(symbols), c.MaxPosition))
	if c.hasSectorCaps() {
		anchor = allocation.FitToSectorCaps(anchor, c.Sectors, c.SectorCaps, c.MaxPosition)
	}

	dist := w.L1Distance(anchor)
	if dist <= c.MaxTurnover {
		return w
	}
	alpha := c.MaxTurnover / dist
	out := make(domain.Weights, len(w))
	for _, s := range symbols {
		out[s] = anchor[s] + alpha*(w[s]-anchor[s])
	}
	return out
}

// ProjectCappedSimplex returns the Euclidean projection of v onto
// {w : sum(w) = 1, 0 <= w_i <= maxPosition}. It finds the shift tau with
// sum(clip(v - tau, 0, maxPosition)) = 1 by bisection.
func ProjectCappedSimplex(v []float64, maxPosition float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if maxPosition <= 0 || maxPosition > 1 {
		maxPosition = 1
	}
	if float64(n)*maxPosition < 1 {
		for i := range out {
			out[i] = maxPosition
		}
		return out
	}

	clean := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		clean[i] = x
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	lo -= maxPosition + 1
	hi += 1

	total := func(tau float64) float64 {
		s := 0.0
		for _, x := range clean {
			s += clip(x-tau, 0, maxPosition)
		}
		return s
	}

	for iter := 0; iter < 200 && hi-lo > 1e-15; iter++ {
		mid := 0.5 * (lo + hi)
		if total(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	tau := 0.5 * (lo + hi)
	for i, x := range clean {
		out[i] = clip(x-tau, 0, maxPosition)
	}

	// Spread the residual over coordinates that still have room.
	residual := 1 - floats.Sum(out)
	for pass := 0; pass < 2 && math.Abs(residual) > 1e-15; pass++ {
		var free []int
		for i, x := range out {
			if (residual > 0 && x < maxPosition) || (residual < 0 && x > 0) {
				free = append(free, i)
			}
		}
		if len(free) == 0 {
			break
		}
		share := residual / float64(len(free))
		for _, i := range free {
			out[i] = clip(out[i]+share, 0, maxPosition)
		}
		residual = 1 - floats.Sum(out)
	}
	return out
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

package optimization

import (
	"errors"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/alphashield/internal/domain"
)

const (
	penaltyWeight  = 1e4
	turnoverSmooth = 1e-10
)

// qpProblem is the penalized form of
//
//	max w·μ − λ w'Σw
//	s.t. Σw = 1, 0 ≤ w ≤ max_position, sector caps, ‖w − w_prev‖₁ ≤ budget
//
// Every penalty is continuously differentiable so quasi-Newton methods apply.
// The L1 norm is smoothed as Σ sqrt(d² + ε).
type qpProblem struct {
	mu       []float64
	sigma    mat.Symmetric
	lambda   float64
	maxPos   float64
	groups   [][]int
	caps     []float64
	current  []float64
	turnover float64 // 0 when the budget does not bind
}

func newQPProblem(mu []float64, cov mat.Symmetric, c Constraints) *qpProblem {
	return &qpProblem{
		mu:     mu,
		sigma:  cov,
		lambda: c.RiskAversion,
		maxPos: c.MaxPosition,
	}
}

func (p *qpProblem) withSectors(symbols []string, c Constraints) {
	index := make(map[string][]int)
	for i, s := range symbols {
		index[c.Sectors[s]] = append(index[c.Sectors[s]], i)
	}
	for _, sector := range domain.SortedSymbols(c.SectorCaps) {
		if members, ok := index[sector]; ok {
			p.groups = append(p.groups, members)
			p.caps = append(p.caps, c.SectorCaps[sector])
		}
	}
}

func (p *qpProblem) objective(x []float64) float64 {
	n := len(x)
	obj := 0.0
	sum := 0.0
	for i := 0; i < n; i++ {
		obj -= p.mu[i] * x[i]
		for j := 0; j < n; j++ {
			obj += p.lambda * x[i] * p.sigma.At(i, j) * x[j]
		}
		sum += x[i]

		if x[i] < 0 {
			obj += penaltyWeight * x[i] * x[i]
		}
		if d := x[i] - p.maxPos; d > 0 {
			obj += penaltyWeight * d * d
		}
	}
	obj += penaltyWeight * (sum - 1) * (sum - 1)

	for g, members := range p.groups {
		if d := groupSum(x, members) - p.caps[g]; d > 0 {
			obj += penaltyWeight * d * d
		}
	}

	if p.turnover > 0 {
		if d := p.smoothedTurnover(x) - p.turnover; d > 0 {
			obj += penaltyWeight * d * d
		}
	}
	return obj
}

func (p *qpProblem) gradient(grad, x []float64) {
	n := len(x)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += x[i]
	}
	for i := 0; i < n; i++ {
		g := -p.mu[i]
		for j := 0; j < n; j++ {
			g += 2 * p.lambda * p.sigma.At(i, j) * x[j]
		}
		g += 2 * penaltyWeight * (sum - 1)
		if x[i] < 0 {
			g += 2 * penaltyWeight * x[i]
		}
		if d := x[i] - p.maxPos; d > 0 {
			g += 2 * penaltyWeight * d
		}
		grad[i] = g
	}

	for g, members := range p.groups {
		if d := groupSum(x, members) - p.caps[g]; d > 0 {
			for _, i := range members {
				grad[i] += 2 * penaltyWeight * d
			}
		}
	}

	if p.turnover > 0 {
		if d := p.smoothedTurnover(x) - p.turnover; d > 0 {
			for i := 0; i < n; i++ {
				diff := x[i] - p.current[i]
				grad[i] += 2 * penaltyWeight * d * diff / math.Sqrt(diff*diff+turnoverSmooth)
			}
		}
	}
}

func (p *qpProblem) smoothedTurnover(x []float64) float64 {
	t := 0.0
	for i := range x {
		d := x[i] - p.current[i]
		t += math.Sqrt(d*d + turnoverSmooth)
	}
	return t
}

func groupSum(x []float64, members []int) float64 {
	s := 0.0
	for _, i := range members {
		s += x[i]
	}
	return s
}

var convergedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
}

// solveQP minimizes the penalized problem with L-BFGS, retrying with
// Nelder-Mead when it does not converge. The best point found is returned
// either way; repair makes it exactly feasible.
func solveQP(mu []float64, cov mat.Symmetric, current []float64, symbols []string, c Constraints, log zerolog.Logger) ([]float64, error) {
	p := newQPProblem(mu, cov, c)
	if c.hasSectorCaps() {
		p.withSectors(symbols, c)
	}

	currentW := domain.WeightsFromVector(symbols, current)
	if c.turnoverActive(currentW) {
		p.current = current
		p.turnover = c.MaxTurnover
	}

	// An empty portfolio projects to equal weight.
	initial := ProjectCappedSimplex(current, c.MaxPosition)

	problem := optimize.Problem{Func: p.objective, Grad: p.gradient}

	result, err := optimize.Minimize(problem, initial, nil, &optimize.LBFGS{})
	if err == nil && convergedStatuses[result.Status] {
		return result.X, nil
	}

	log.Debug().Err(err).Msg("L-BFGS did not converge, retrying with Nelder-Mead")
	retry, retryErr := optimize.Minimize(problem, initial, nil, &optimize.NelderMead{})

	best := result
	if retry != nil && (best == nil || retry.F < best.F) {
		best = retry
	}
	if best == nil {
		return nil, &domain.OptimizationError{
			Backend: string(BackendQP),
			Reason:  "solver failed",
			Err:     errors.Join(err, retryErr),
		}
	}
	return best.X, nil
}

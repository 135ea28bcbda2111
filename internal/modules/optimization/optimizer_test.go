package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
)

var threeAssets = []string{"A", "B", "C"}

func threeAssetUniverse() domain.Universe {
	return domain.Universe{
		{Symbol: "A", Class: domain.AssetClassEquity, Sector: "X"},
		{Symbol: "B", Class: domain.AssetClassBond, Sector: "X"},
		{Symbol: "C", Class: domain.AssetClassInflationProtected, Sector: "Y"},
	}
}

func diagonal(vars ...float64) *mat.SymDense {
	cov := mat.NewSymDense(len(vars), nil)
	for i, v := range vars {
		cov.SetSym(i, i, v)
	}
	return cov
}

func newOptimizer(t *testing.T, method string) *Optimizer {
	t.Helper()
	cfg := config.DefaultEngineConfig().Optimizer
	cfg.Method = method
	o, err := NewOptimizer(cfg, Capabilities{}, zerolog.Nop())
	require.NoError(t, err)
	return o
}

func baseConstraints() Constraints {
	return Constraints{
		MaxPosition:  0.5,
		RiskAversion: 1,
		Sectors:      threeAssetUniverse().Sectors(),
	}
}

func assertFeasible(t *testing.T, w domain.Weights, maxPosition float64) {
	t.Helper()
	require.NoError(t, w.Validate())
	for sym, v := range w {
		assert.LessOrEqual(t, v, maxPosition+1e-8, sym)
		assert.GreaterOrEqual(t, v, 0.0, sym)
	}
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("hrp")
	require.NoError(t, err)
	assert.Equal(t, BackendHRP, b)

	_, err = ParseBackend("cvxpy")
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestNewOptimizer_QUBOFallsBackToQP(t *testing.T) {
	cfg := config.DefaultEngineConfig().Optimizer
	cfg.Method = "qubo"
	cfg.QuantumEnabled = true

	o, err := NewOptimizer(cfg, Capabilities{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, BackendQP, o.Backend())

	o, err = NewOptimizer(cfg, Capabilities{Quantum: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, BackendQUBO, o.Backend())

	cfg.QuantumEnabled = false
	o, err = NewOptimizer(cfg, Capabilities{Quantum: true}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, BackendQP, o.Backend())
}

func TestOptimize_ThreeAssetScenarioAllBackends(t *testing.T) {
	mu := []float64{0.05, 0.08, 0.10}
	cov := diagonal(0.04, 0.04, 0.04)

	for _, method := range []string{"closed_form", "qp", "hrp"} {
		t.Run(method, func(t *testing.T) {
			res, err := newOptimizer(t, method).Optimize(mu, cov, threeAssets, nil, baseConstraints(), threeAssetUniverse())
			require.NoError(t, err)
			assert.Equal(t, StatusOK, res.Status)
			assertFeasible(t, res.Weights, 0.5)
		})
	}
}

func TestOptimize_ClosedFormMatchesProjection(t *testing.T) {
	mu := []float64{0.05, 0.08, 0.10}
	cov := diagonal(0.04, 0.04, 0.04)

	res, err := newOptimizer(t, "closed_form").Optimize(mu, cov, threeAssets, nil, baseConstraints(), threeAssetUniverse())
	require.NoError(t, err)

	// Σ⁻¹μ = [1.25, 2, 2.5] projects to [0, 0.5, 0.5].
	assert.InDelta(t, 0.0, res.Weights["A"], 1e-9)
	assert.InDelta(t, 0.5, res.Weights["B"], 1e-9)
	assert.InDelta(t, 0.5, res.Weights["C"], 1e-9)
	assert.InDelta(t, 0.09, res.ExpectedReturn, 1e-9)
}

func TestOptimize_QPPrefersHigherReturn(t *testing.T) {
	mu := []float64{0.02, 0.05, 0.20}
	cov := diagonal(0.04, 0.04, 0.04)
	c := baseConstraints()
	c.MaxPosition = 1

	res, err := newOptimizer(t, "qp").Optimize(mu, cov, threeAssets, nil, c, threeAssetUniverse())
	require.NoError(t, err)
	assertFeasible(t, res.Weights, 1)
	assert.Greater(t, res.Weights["C"], res.Weights["B"])
	assert.GreaterOrEqual(t, res.Weights["B"], res.Weights["A"])
}

func TestOptimize_QUBOIsDeterministic(t *testing.T) {
	cfg := config.DefaultEngineConfig().Optimizer
	cfg.Method = "qubo"
	cfg.QuantumEnabled = true
	cfg.QUBOSweeps = 50
	o, err := NewOptimizer(cfg, Capabilities{Quantum: true}, zerolog.Nop())
	require.NoError(t, err)

	mu := []float64{0.05, 0.08, 0.10}
	cov := diagonal(0.04, 0.02, 0.09)
	a, err := o.Optimize(mu, cov, threeAssets, nil, baseConstraints(), threeAssetUniverse())
	require.NoError(t, err)
	b, err := o.Optimize(mu, cov, threeAssets, nil, baseConstraints(), threeAssetUniverse())
	require.NoError(t, err)

	assert.Equal(t, a.Weights, b.Weights)
	assert.Equal(t, BackendQUBO, a.Backend)
	assertFeasible(t, a.Weights, 0.5)
}

func TestOptimize_NoReturnsIsEqualWeight(t *testing.T) {
	res, err := newOptimizer(t, "qp").Optimize(nil, nil, threeAssets, nil, baseConstraints(), threeAssetUniverse())
	require.NoError(t, err)
	assert.Equal(t, StatusNoReturns, res.Status)
	for _, s := range threeAssets {
		assert.InDelta(t, 1.0/3, res.Weights[s], 1e-12)
	}
}

func TestOptimize_MinReturnFallback(t *testing.T) {
	c := baseConstraints()
	c.MinReturn = 0.5

	res, err := newOptimizer(t, "closed_form").Optimize([]float64{0.05, 0.08, 0.10}, diagonal(0.04, 0.04, 0.04), threeAssets, nil, c, threeAssetUniverse())
	require.NoError(t, err)

	assert.Equal(t, StatusFallbackRiskOff, res.Status)
	assert.Equal(t, ReasonMinReturnNotMet, res.Reason)
	assertFeasible(t, res.Weights, 0.5)
	// risk_off puts the largest share in bonds, capped at max_position.
	assert.InDelta(t, 0.5, res.Weights["B"], 1e-12)
	assert.Greater(t, res.Weights["C"], res.Weights["A"])
}

func TestOptimize_ZeroMinReturnNeverFallsBack(t *testing.T) {
	res, err := newOptimizer(t, "closed_form").Optimize([]float64{-0.05, -0.08, -0.10}, diagonal(0.04, 0.04, 0.04), threeAssets, nil, baseConstraints(), threeAssetUniverse())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assertFeasible(t, res.Weights, 0.5)
}

func TestOptimize_TurnoverBudgetForcesQP(t *testing.T) {
	c := baseConstraints()
	c.MaxTurnover = 0.2
	current := domain.Weights{"A": 0.5, "B": 0.5, "C": 0}

	res, err := newOptimizer(t, "closed_form").Optimize([]float64{0.01, 0.02, 0.30}, diagonal(0.04, 0.04, 0.04), threeAssets, current, c, threeAssetUniverse())
	require.NoError(t, err)

	assert.Equal(t, BackendQP, res.Backend)
	assertFeasible(t, res.Weights, 0.5)
	assert.LessOrEqual(t, res.Weights.L1Distance(current), 0.2+1e-9)
	assert.Greater(t, res.Weights["C"], 0.0)
}

func TestOptimize_TurnoverIgnoredForInitialAllocation(t *testing.T) {
	c := baseConstraints()
	c.MaxTurnover = 0.1

	res, err := newOptimizer(t, "closed_form").Optimize([]float64{0.05, 0.08, 0.10}, diagonal(0.04, 0.04, 0.04), threeAssets, domain.Weights{}, c, threeAssetUniverse())
	require.NoError(t, err)
	assert.Equal(t, BackendClosedForm, res.Backend)
	assertFeasible(t, res.Weights, 0.5)
}

func TestOptimize_SectorCaps(t *testing.T) {
	c := baseConstraints()
	c.SectorCaps = map[string]float64{"X": 0.6}

	res, err := newOptimizer(t, "qp").Optimize([]float64{0.20, 0.18, 0.01}, diagonal(0.04, 0.04, 0.04), threeAssets, nil, c, threeAssetUniverse())
	require.NoError(t, err)

	assertFeasible(t, res.Weights, 0.5)
	assert.LessOrEqual(t, res.Weights["A"]+res.Weights["B"], 0.6+1e-9)
}

func TestOptimize_SingularCovariance(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1e20, 1e20, 1e20, 1e20})
	c := Constraints{MaxPosition: 1, RiskAversion: 1}

	_, err := newOptimizer(t, "closed_form").Optimize([]float64{0.1, 0.2}, cov, []string{"A", "B"}, nil, c, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOptimization))
}

func TestOptimize_InfeasibleCaps(t *testing.T) {
	c := baseConstraints()
	c.MaxPosition = 0.3
	_, err := newOptimizer(t, "qp").Optimize([]float64{0.1, 0.1, 0.1}, diagonal(1, 1, 1), threeAssets, nil, c, threeAssetUniverse())
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestProjectCappedSimplex(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0.2, 0.3, 0.5}, ProjectCappedSimplex([]float64{0.2, 0.3, 0.5}, 1), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0.5, 0.5}, ProjectCappedSimplex([]float64{1.25, 2, 2.5}, 0.5), 1e-12)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, ProjectCappedSimplex([]float64{0, 0, 0, 0}, 0.5), 1e-12)

	got := ProjectCappedSimplex([]float64{math.NaN(), 3, -2}, 0.6)
	sum := 0.0
	for _, v := range got {
		assert.False(t, math.IsNaN(v))
		assert.LessOrEqual(t, v, 0.6+1e-12)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestHRP_InverseVarianceForUncorrelatedPair(t *testing.T) {
	w, err := NewHRPOptimizer().Optimize(diagonal(0.01, 0.04), []string{"A", "B"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, w["A"], 1e-12)
	assert.InDelta(t, 0.2, w["B"], 1e-12)
}

func TestHRP_LinkagesAgreeOnSumToOne(t *testing.T) {
	cov := mat.NewSymDense(4, []float64{
		0.04, 0.03, 0.00, 0.00,
		0.03, 0.04, 0.00, 0.00,
		0.00, 0.00, 0.01, 0.005,
		0.00, 0.00, 0.005, 0.01,
	})
	for _, l := range []Linkage{LinkageSingle, LinkageComplete, LinkageAverage} {
		w, err := NewHRPOptimizer().WithLinkage(l).Optimize(cov, []string{"A", "B", "C", "D"})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, domain.Weights(w).Sum(), 1e-12, string(l))
		assert.Greater(t, w["C"], w["A"], string(l))
	}
}

package covariance

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/alphashield/internal/domain"
)

func randomReturns(seed int64, t, n int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, t)
	for i := range out {
		out[i] = make([]float64, n)
		common := rng.NormFloat64() * 0.01
		for j := range out[i] {
			out[i][j] = common + rng.NormFloat64()*0.005*float64(j+1)
		}
	}
	return out
}

func newEstimator(t *testing.T, m Method) *Estimator {
	t.Helper()
	e, err := NewEstimator(m, 0.94, DefaultCapabilities(), zerolog.Nop())
	require.NoError(t, err)
	return e
}

func assertSymmetric(t *testing.T, cov *mat.SymDense) {
	t.Helper()
	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		assert.GreaterOrEqual(t, cov.At(i, i), varianceFloor)
		for j := 0; j < n; j++ {
			assert.Equal(t, cov.At(i, j), cov.At(j, i))
		}
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("ewma")
	require.NoError(t, err)
	assert.Equal(t, MethodEWMA, m)

	_, err = ParseMethod("shrunk")
	assert.True(t, errors.Is(err, domain.ErrInvalidConfiguration))
}

func TestNewEstimator_RejectsBadLambda(t *testing.T) {
	_, err := NewEstimator(MethodEWMA, 1.0, DefaultCapabilities(), zerolog.Nop())
	assert.Error(t, err)
}

func TestNewEstimator_LedoitWolfFallsBackWithoutCapability(t *testing.T) {
	e, err := NewEstimator(MethodLedoitWolf, 0.94, Capabilities{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, MethodSample, e.Method())
}

func TestEstimate_SymmetricForEveryMethod(t *testing.T) {
	returns := randomReturns(1, 120, 4)
	for _, m := range []Method{MethodSample, MethodLedoitWolf, MethodEWMA} {
		t.Run(string(m), func(t *testing.T) {
			cov, err := newEstimator(t, m).Estimate(returns, 4)
			require.NoError(t, err)
			assertSymmetric(t, cov)
		})
	}
}

func TestEstimate_Deterministic(t *testing.T) {
	returns := randomReturns(7, 60, 3)
	e := newEstimator(t, MethodLedoitWolf)
	a, err := e.Estimate(returns, 3)
	require.NoError(t, err)
	b, err := e.Estimate(returns, 3)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}

func TestEstimate_TooFewObservationsIsDiagonal(t *testing.T) {
	for _, returns := range [][][]float64{nil, {{0.01, -0.02, 0.03}}} {
		cov, err := newEstimator(t, MethodSample).Estimate(returns, 3)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if i == j {
					assert.Equal(t, tinySampleVariance, cov.At(i, j))
				} else {
					assert.Zero(t, cov.At(i, j))
				}
			}
		}
	}
}

func TestEstimate_RejectsRaggedRows(t *testing.T) {
	_, err := newEstimator(t, MethodSample).Estimate([][]float64{{0.1, 0.2}, {0.1}}, 2)
	assert.Error(t, err)
}

func TestSample_MatchesHandComputation(t *testing.T) {
	returns := [][]float64{{0.01, 0.02}, {0.03, 0.00}, {-0.01, 0.04}}
	cov, err := newEstimator(t, MethodSample).Estimate(returns, 2)
	require.NoError(t, err)

	// means 0.01, 0.02; unbiased divisor 2
	assert.InDelta(t, (0+0.0004+0.0004)/2, cov.At(0, 0), 1e-12)
	assert.InDelta(t, (0+0.0004+0.0004)/2, cov.At(1, 1), 1e-12)
	assert.InDelta(t, (0-0.0004-0.0004)/2, cov.At(0, 1), 1e-12)
}

func TestLedoitWolf_ShrinksOffDiagonal(t *testing.T) {
	returns := randomReturns(3, 40, 5)
	s, err := newEstimator(t, MethodSample).Estimate(returns, 5)
	require.NoError(t, err)
	lw, err := newEstimator(t, MethodLedoitWolf).Estimate(returns, 5)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		for j := i + 1; j < 5; j++ {
			assert.LessOrEqual(t, math.Abs(lw.At(i, j)), math.Abs(s.At(i, j))+1e-15)
		}
	}

	var chol mat.Cholesky
	assert.True(t, chol.Factorize(lw), "shrunk covariance must be positive definite")
}

func TestEWMA_WeightsRecentObservationsMore(t *testing.T) {
	calm := make([][]float64, 0, 100)
	for i := 0; i < 100; i++ {
		sign := float64(1 - 2*(i%2))
		if i < 50 {
			calm = append(calm, []float64{0.05 * sign})
		} else {
			calm = append(calm, []float64{0.001 * sign})
		}
	}

	e, err := NewEstimator(MethodEWMA, 0.9, DefaultCapabilities(), zerolog.Nop())
	require.NoError(t, err)
	ew, err := e.Estimate(calm, 1)
	require.NoError(t, err)
	s, err := newEstimator(t, MethodSample).Estimate(calm, 1)
	require.NoError(t, err)

	assert.Less(t, ew.At(0, 0), s.At(0, 0))
}

func TestEWMA_MatchesHandComputation(t *testing.T) {
	returns := [][]float64{{0.0}, {0.02}, {0.04}}
	e, err := NewEstimator(MethodEWMA, 0.5, DefaultCapabilities(), zerolog.Nop())
	require.NoError(t, err)
	cov, err := e.Estimate(returns, 1)
	require.NoError(t, err)

	// deviations -0.02, 0, 0.02 with weights 0.25, 0.5, 1
	want := (0.25*0.0004 + 1*0.0004) / 1.75
	assert.InDelta(t, want, cov.At(0, 0), 1e-12)
}

func TestAddJitterAndScale(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{1, 0.5, 0.5, 2})
	j := AddJitter(cov, 0.1)
	assert.Equal(t, 1.1, j.At(0, 0))
	assert.Equal(t, 0.5, j.At(0, 1))
	assert.Equal(t, 1.0, cov.At(0, 0))

	s := Scale(cov, 252)
	assert.Equal(t, 504.0, s.At(1, 1))
}

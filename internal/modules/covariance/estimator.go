// Package covariance estimates asset return covariance matrices.
package covariance

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/alphashield/internal/domain"
)

// Method selects the estimator
type Method string

const (
	MethodLedoitWolf Method = "ledoit_wolf"
	MethodEWMA       Method = "ewma"
	MethodSample     Method = "sample"
)

// ParseMethod rejects unknown method names.
func ParseMethod(name string) (Method, error) {
	switch Method(name) {
	case MethodLedoitWolf, MethodEWMA, MethodSample:
		return Method(name), nil
	}
	return "", domain.NewConfigError("optimizer.covariance", "unknown covariance method %q", name)
}

const (
	// DefaultJitter is added to the diagonal before inversion.
	DefaultJitter = 1e-6
	// RetryJitter is used for the single retry after a failed inversion.
	RetryJitter = 1e-4

	varianceFloor      = 1e-6
	tinySampleVariance = 1e-4
	minObservations    = 2
)

// Capabilities lists optional estimators available in this build
type Capabilities struct {
	LedoitWolf bool
}

// DefaultCapabilities enables every estimator.
func DefaultCapabilities() Capabilities {
	return Capabilities{LedoitWolf: true}
}

// Estimator computes covariance matrices with one fixed method
type Estimator struct {
	method Method
	lambda float64
	log    zerolog.Logger
}

// NewEstimator resolves the method against the capabilities once: Ledoit-Wolf
// without the capability resolves to the sample estimator.
func NewEstimator(method Method, lambda float64, caps Capabilities, log zerolog.Logger) (*Estimator, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if method == MethodEWMA && (lambda <= 0 || lambda >= 1) {
		return nil, domain.NewConfigError("optimizer.ewma_lambda", "must be in (0,1), got %g", lambda)
	}

	l := log.With().Str("component", "covariance").Logger()
	if method == MethodLedoitWolf && !caps.LedoitWolf {
		l.Warn().Msg("Ledoit-Wolf unavailable, using sample covariance")
		method = MethodSample
	}

	return &Estimator{method: method, lambda: lambda, log: l}, nil
}

// Method returns the resolved method.
func (e *Estimator) Method() Method {
	return e.method
}

// Estimate returns the covariance of a T x n returns matrix. Fewer than two
// observations produce a diagonal proxy; every path returns a symmetric matrix.
func (e *Estimator) Estimate(returns [][]float64, assets int) (*mat.SymDense, error) {
	if assets <= 0 {
		return nil, fmt.Errorf("covariance needs at least one asset")
	}
	for i, row := range returns {
		if len(row) != assets {
			return nil, fmt.Errorf("returns row %d has %d columns, expected %d", i, len(row), assets)
		}
	}

	if len(returns) < minObservations {
		return diagonalProxy(assets), nil
	}

	x := mat.NewDense(len(returns), assets, nil)
	for i, row := range returns {
		x.SetRow(i, row)
	}

	switch e.method {
	case MethodEWMA:
		return ewma(x, e.lambda), nil
	case MethodLedoitWolf:
		return ledoitWolf(x), nil
	default:
		return sample(x), nil
	}
}

func diagonalProxy(n int) *mat.SymDense {
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, tinySampleVariance)
	}
	return cov
}

// sample is the unbiased (n-1) sample covariance.
func sample(x *mat.Dense) *mat.SymDense {
	_, n := x.Dims()
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, x, nil)
	floorDiagonal(cov)
	return cov
}

// ewma weights the newest observation 1 and each older one by a further
// factor of lambda, over returns demeaned by their simple mean.
func ewma(x *mat.Dense, lambda float64) *mat.SymDense {
	t, n := x.Dims()
	means := columnMeans(x)

	cov := mat.NewSymDense(n, nil)
	weight := 1.0
	total := 0.0
	v := make([]float64, n)
	for row := t - 1; row >= 0; row-- {
		for j := 0; j < n; j++ {
			v[j] = x.At(row, j) - means[j]
		}
		cov.SymRankOne(cov, weight, mat.NewVecDense(n, v))
		total += weight
		weight *= lambda
	}
	cov.ScaleSym(1/total, cov)
	floorDiagonal(cov)
	return cov
}

// ledoitWolf shrinks the maximum-likelihood covariance toward mu*I where mu
// is the average variance, using the Ledoit-Wolf optimal intensity.
func ledoitWolf(x *mat.Dense) *mat.SymDense {
	t, n := x.Dims()
	means := columnMeans(x)

	xc := mat.NewDense(t, n, nil)
	xc.Apply(func(_, j int, v float64) float64 { return v - means[j] }, x)

	// S = Xc'Xc / T
	s := mat.NewSymDense(n, nil)
	s.SymOuterK(1/float64(t), xc.T())

	mu := 0.0
	for i := 0; i < n; i++ {
		mu += s.At(i, i)
	}
	mu /= float64(n)

	// delta = ||S - mu I||_F^2 / n
	delta := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := s.At(i, j)
			if i == j {
				d -= mu
			}
			delta += d * d
		}
	}
	delta /= float64(n)

	// beta = (1/(n T^2)) sum_t ||x_t x_t' - S||_F^2
	beta := 0.0
	for row := 0; row < t; row++ {
		for i := 0; i < n; i++ {
			xi := xc.At(row, i)
			for j := 0; j < n; j++ {
				d := xi*xc.At(row, j) - s.At(i, j)
				beta += d * d
			}
		}
	}
	beta /= float64(n) * float64(t) * float64(t)
	if beta > delta {
		beta = delta
	}

	shrinkage := 0.0
	if delta > 0 {
		shrinkage = beta / delta
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1 - shrinkage) * s.At(i, j)
			if i == j {
				v += shrinkage * mu
			}
			cov.SetSym(i, j, v)
		}
	}
	floorDiagonal(cov)
	return cov
}

func columnMeans(x *mat.Dense) []float64 {
	t, n := x.Dims()
	means := make([]float64, n)
	col := make([]float64, t)
	for j := 0; j < n; j++ {
		mat.Col(col, j, x)
		means[j] = stat.Mean(col, nil)
	}
	return means
}

func floorDiagonal(cov *mat.SymDense) {
	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		if cov.At(i, i) < varianceFloor {
			cov.SetSym(i, i, varianceFloor)
		}
	}
}

// AddJitter returns a copy of cov with eps added to the diagonal.
func AddJitter(cov mat.Symmetric, eps float64) *mat.SymDense {
	n := cov.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(cov)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, out.At(i, i)+eps)
	}
	return out
}

// Scale returns factor*cov, e.g. to annualize a daily estimate.
func Scale(cov mat.Symmetric, factor float64) *mat.SymDense {
	out := mat.NewSymDense(cov.SymmetricDim(), nil)
	out.ScaleSym(factor, cov)
	return out
}

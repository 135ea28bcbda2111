package optimization

import (
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/covariance"
)

// solveClosedForm computes Σ⁻¹μ/λ with a jittered inverse, retrying once
// with a larger jitter. The caller projects the result onto the box.
func solveClosedForm(mu []float64, cov mat.Symmetric, c Constraints) ([]float64, error) {
	n := len(mu)

	var inv mat.Dense
	var err error
	for _, eps := range []float64{covariance.DefaultJitter, covariance.RetryJitter} {
		if err = inv.Inverse(covariance.AddJitter(cov, eps)); err == nil {
			break
		}
	}
	if err != nil {
		return nil, &domain.OptimizationError{
			Backend: string(BackendClosedForm),
			Reason:  "covariance singular after jitter retry",
			Err:     err,
		}
	}

	raw := mat.NewVecDense(n, nil)
	raw.MulVec(&inv, mat.NewVecDense(n, mu))
	lambda := c.RiskAversion
	if lambda < 1e-9 {
		lambda = 1e-9
	}
	raw.ScaleVec(1/lambda, raw)

	return raw.RawVector().Data, nil
}

package optimization

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	quboPenalty   = 10.0
	quboStartTemp = 1.0
	quboEndTemp   = 1e-4
)

// solveQUBO encodes each weight as a sum of `levels` binary units of 1/levels
// and minimizes
//
//	−w·μ + λ w'Σw + P (Σw − 1)²
//
// over the bits with seeded simulated annealing. Units that would push an
// asset past max_position are never switched on. The decoded weights are
// normalized; repair handles the rest.
func solveQUBO(mu []float64, cov mat.Symmetric, c Constraints, levels, sweeps int, seed int64) []float64 {
	n := len(mu)
	if levels <= 0 {
		levels = 8
	}
	if sweeps <= 0 {
		sweeps = 400
	}
	unit := 1.0 / float64(levels)
	maxUnits := int(math.Floor(c.MaxPosition*float64(levels) + 1e-9))
	if maxUnits < 1 {
		maxUnits = 1
	}
	rng := rand.New(rand.NewSource(seed))

	// The encoding is symmetric in an asset's bits, so the state is the
	// number of active units per asset.
	units := make([]int, n)
	w := make([]float64, n)
	sigmaW := make([]float64, n) // Σw
	total := 0.0

	energy := func() float64 {
		e := 0.0
		for i := 0; i < n; i++ {
			e += -mu[i]*w[i] + c.RiskAversion*w[i]*sigmaW[i]
		}
		return e + quboPenalty*(total-1)*(total-1)
	}

	delta := func(i int, dw float64) float64 {
		d := -mu[i]*dw + c.RiskAversion*(2*dw*sigmaW[i]+dw*dw*cov.At(i, i))
		d += quboPenalty * ((total+dw-1)*(total+dw-1) - (total-1)*(total-1))
		return d
	}

	apply := func(i int, dw float64) {
		w[i] += dw
		total += dw
		for j := 0; j < n; j++ {
			sigmaW[j] += cov.At(j, i) * dw
		}
	}

	best := make([]float64, n)
	bestE := energy()
	copy(best, w)

	steps := sweeps * n * levels
	cooling := math.Pow(quboEndTemp/quboStartTemp, 1/float64(steps))
	temp := quboStartTemp
	for step := 0; step < steps; step++ {
		i := rng.Intn(n)
		on := rng.Intn(levels) >= units[i]
		dw := -unit
		if on {
			if units[i] >= maxUnits {
				temp *= cooling
				continue
			}
			dw = unit
		}

		d := delta(i, dw)
		if d <= 0 || rng.Float64() < math.Exp(-d/temp) {
			apply(i, dw)
			if on {
				units[i]++
			} else {
				units[i]--
			}
			if e := energy(); e < bestE {
				bestE = e
				copy(best, w)
			}
		}
		temp *= cooling
	}

	sum := 0.0
	for _, v := range best {
		sum += v
	}
	if sum <= 0 {
		for i := range best {
			best[i] = 1.0 / float64(n)
		}
		return best
	}
	for i := range best {
		best[i] /= sum
	}
	return best
}

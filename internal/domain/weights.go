package domain

import (
	"fmt"
	"math"
)

// WeightTolerance is the allowed deviation of a weight vector sum from 1.
const WeightTolerance = 1e-6

// Weights maps symbol to portfolio fraction
type Weights map[string]float64

// Sum returns the total of all weights, accumulated in symbol order so the
// result is reproducible bit for bit.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, k := range SortedSymbols(w) {
		total += w[k]
	}
	return total
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// IsInvested reports whether the weights describe a full allocation.
func (w Weights) IsInvested() bool {
	return math.Abs(w.Sum()-1) <= WeightTolerance
}

// Validate checks non-negativity and that the weights sum to 1 within tolerance.
func (w Weights) Validate() error {
	for sym, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidWeightsError{Sum: w.Sum(), Reason: fmt.Sprintf("%s is not finite", sym)}
		}
		if v < -1e-12 {
			return &InvalidWeightsError{Sum: w.Sum(), Reason: fmt.Sprintf("%s is negative (%g)", sym, v)}
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return &InvalidWeightsError{Sum: sum, Reason: "weights must sum to 1"}
	}
	return nil
}

// Normalize rescales the weights to sum to 1. Weights with a non-positive
// sum are returned unchanged.
func (w Weights) Normalize() Weights {
	out := w.Clone()
	sum := w.Sum()
	if sum <= 0 {
		return out
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

// L1Distance returns sum(|w_i - other_i|) over the union of symbols.
func (w Weights) L1Distance(other Weights) float64 {
	dist := 0.0
	for _, k := range SortedSymbols(w) {
		dist += math.Abs(w[k] - other[k])
	}
	for _, k := range SortedSymbols(other) {
		if _, ok := w[k]; !ok {
			dist += math.Abs(other[k])
		}
	}
	return dist
}

// Dot returns sum(w_i * values_i).
func (w Weights) Dot(values map[string]float64) float64 {
	total := 0.0
	for _, k := range SortedSymbols(w) {
		total += w[k] * values[k]
	}
	return total
}

// Vector returns the weights ordered by symbols; missing symbols are 0.
func (w Weights) Vector(symbols []string) []float64 {
	out := make([]float64, len(symbols))
	for i, s := range symbols {
		out[i] = w[s]
	}
	return out
}

// WeightsFromVector builds Weights from parallel symbol/value slices.
func WeightsFromVector(symbols []string, values []float64) Weights {
	out := make(Weights, len(symbols))
	for i, s := range symbols {
		out[s] = values[i]
	}
	return out
}

// EqualWeights spreads min(1/n, maxPosition) over each symbol.
func EqualWeights(symbols []string, maxPosition float64) Weights {
	out := make(Weights, len(symbols))
	if len(symbols) == 0 {
		return out
	}
	each := 1.0 / float64(len(symbols))
	if maxPosition > 0 && each > maxPosition {
		each = maxPosition
	}
	for _, s := range symbols {
		out[s] = each
	}
	return out
}

package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Linkage selects how cluster distances are aggregated
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

// HRPOptimizer allocates by Hierarchical Risk Parity. Expected returns are ignored.
type HRPOptimizer struct {
	linkage Linkage
}

// NewHRPOptimizer creates an HRP optimizer with single linkage.
func NewHRPOptimizer() *HRPOptimizer {
	return &HRPOptimizer{linkage: LinkageSingle}
}

// WithLinkage returns a copy using the given linkage.
func (h *HRPOptimizer) WithLinkage(l Linkage) *HRPOptimizer {
	return &HRPOptimizer{linkage: l}
}

type cluster struct {
	left, right *cluster
	leaves      []int
	minLeaf     int
}

// Optimize runs the full HRP pipeline:
//  1. correlation from covariance, distance d_ij = sqrt((1 - ρ_ij) / 2)
//  2. agglomerative clustering with a deterministic tie-break
//  3. quasi-diagonal leaf order
//  4. recursive bisection with inverse-variance cluster risk
func (h *HRPOptimizer) Optimize(cov mat.Symmetric, symbols []string) (map[string]float64, error) {
	n := len(symbols)
	if n == 0 {
		return nil, fmt.Errorf("no symbols provided")
	}
	if n == 1 {
		return map[string]float64{symbols[0]: 1.0}, nil
	}
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("covariance matrix size %d does not match symbols %d", cov.SymmetricDim(), n)
	}

	dist := correlationDistance(cov)
	root := h.cluster(dist)
	order := quasiDiagonal(root)
	if len(order) != n {
		return nil, fmt.Errorf("invalid HRP order length %d", len(order))
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1.0
	}
	bisect(weights, cov, order)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("invalid HRP weight sum: %v", sum)
	}

	out := make(map[string]float64, n)
	for i, s := range symbols {
		out[s] = weights[i] / sum
	}
	return out, nil
}

func correlationDistance(cov mat.Symmetric) *mat.SymDense {
	n := cov.SymmetricDim()
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho := 0.0
			if den := math.Sqrt(cov.At(i, i) * cov.At(j, j)); den > 0 {
				rho = clip(cov.At(i, j)/den, -1, 1)
			}
			dist.SetSym(i, j, math.Sqrt(0.5*(1-rho)))
		}
	}
	return dist
}

func (h *HRPOptimizer) cluster(dist mat.Symmetric) *cluster {
	n := dist.SymmetricDim()
	active := make([]*cluster, n)
	for i := range active {
		active[i] = &cluster{leaves: []int{i}, minLeaf: i}
	}

	for len(active) > 1 {
		bi, bj := 0, 1
		bestD := h.distance(dist, active[0], active[1])
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				d := h.distance(dist, active[i], active[j])
				if d < bestD || (d == bestD && pairLess(active[i], active[j], active[bi], active[bj])) {
					bestD, bi, bj = d, i, j
				}
			}
		}

		left, right := active[bi], active[bj]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		merged := &cluster{
			left:    left,
			right:   right,
			leaves:  append(append([]int{}, left.leaves...), right.leaves...),
			minLeaf: left.minLeaf,
		}

		next := make([]*cluster, 0, len(active)-1)
		for k, c := range active {
			if k != bi && k != bj {
				next = append(next, c)
			}
		}
		active = append(next, merged)
	}
	return active[0]
}

// pairLess orders candidate merges by their sorted (minLeaf, minLeaf) pair.
func pairLess(a1, b1, a2, b2 *cluster) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func (h *HRPOptimizer) distance(dist mat.Symmetric, a, b *cluster) float64 {
	switch h.linkage {
	case LinkageComplete:
		worst := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				worst = math.Max(worst, dist.At(i, j))
			}
		}
		return worst
	case LinkageAverage:
		sum := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist.At(i, j)
			}
		}
		return sum / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist.At(i, j))
			}
		}
		return best
	}
}

func quasiDiagonal(c *cluster) []int {
	if c == nil {
		return nil
	}
	if c.left == nil && c.right == nil {
		return []int{c.leaves[0]}
	}
	return append(quasiDiagonal(c.left), quasiDiagonal(c.right)...)
}

func bisect(weights []float64, cov mat.Symmetric, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vl, vr := clusterVariance(cov, left), clusterVariance(cov, right)
	alpha := 0.5
	if vl+vr > 0 {
		alpha = clip(1-vl/(vl+vr), 0, 1)
	}
	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1 - alpha
	}

	bisect(weights, cov, left)
	bisect(weights, cov, right)
}

// clusterVariance is the variance of the inverse-variance portfolio over idx.
func clusterVariance(cov mat.Symmetric, idx []int) float64 {
	if len(idx) == 1 {
		return math.Max(cov.At(idx[0], idx[0]), 0)
	}

	inv := make([]float64, len(idx))
	total := 0.0
	for k, i := range idx {
		inv[k] = 1 / math.Max(cov.At(i, i), 1e-12)
		total += inv[k]
	}

	variance := 0.0
	for a, i := range idx {
		for b, j := range idx {
			variance += inv[a] / total * cov.At(i, j) * inv[b] / total
		}
	}
	return math.Max(variance, 0)
}

package allocation

import (
	"math"
	"sort"

	"github.com/aristath/alphashield/internal/domain"
)

const fillTolerance = 1e-12

// FitToCap clamps every weight at maxPosition and hands the excess to the
// uncapped assets in proportion to their weight, falling back to an equal
// split over empty slots. The result keeps the input's total when
// len(w)*maxPosition allows it.
func FitToCap(w domain.Weights, maxPosition float64) domain.Weights {
	out := w.Clone()
	if maxPosition <= 0 || maxPosition >= 1 {
		return out
	}
	symbols := domain.SortedSymbols(out)

	for iter := 0; iter <= len(symbols); iter++ {
		excess := 0.0
		for _, s := range symbols {
			if out[s] > maxPosition {
				excess += out[s] - maxPosition
				out[s] = maxPosition
			}
		}
		if excess <= fillTolerance {
			break
		}

		var open []string
		base := 0.0
		for _, s := range symbols {
			if out[s] < maxPosition-fillTolerance {
				open = append(open, s)
				base += out[s]
			}
		}
		if len(open) == 0 {
			break
		}
		for _, s := range open {
			if base > fillTolerance {
				out[s] += excess * out[s] / base
			} else {
				out[s] += excess / float64(len(open))
			}
		}
	}
	return out
}

// FitToSectorCaps water-fills w so that each capped sector holds at most its
// cap and no asset exceeds maxPosition. Excess is moved to assets outside the
// saturated sectors in proportion to their remaining room. Assets without a
// sector are never capped by sector.
func FitToSectorCaps(w domain.Weights, sectors map[string]string, caps map[string]float64, maxPosition float64) domain.Weights {
	out := w.Clone()
	if len(caps) == 0 {
		return out
	}
	if maxPosition <= 0 {
		maxPosition = 1
	}
	symbols := domain.SortedSymbols(out)
	sectorOrder := make([]string, 0, len(caps))
	for sector := range caps {
		sectorOrder = append(sectorOrder, sector)
	}
	sort.Strings(sectorOrder)
	saturated := make(map[string]bool)

	for iter := 0; iter <= len(caps)+len(symbols); iter++ {
		exposure := Exposure(out, sectors)
		excess := 0.0
		for _, sector := range sectorOrder {
			limit := caps[sector]
			if exposure[sector] > limit+fillTolerance {
				scale := 0.0
				if exposure[sector] > 0 {
					scale = limit / exposure[sector]
				}
				for _, s := range symbols {
					if sectors[s] == sector {
						out[s] *= scale
					}
				}
				excess += exposure[sector] - limit
				saturated[sector] = true
			} else if limit-exposure[sector] <= fillTolerance {
				saturated[sector] = true
			}
		}
		if excess <= fillTolerance {
			break
		}

		room := make(map[string]float64)
		total := 0.0
		for _, s := range symbols {
			if saturated[sectors[s]] {
				continue
			}
			if r := maxPosition - out[s]; r > fillTolerance {
				room[s] = r
				total += r
			}
		}
		if total <= fillTolerance {
			break
		}
		give := math.Min(excess, total)
		for s, r := range room {
			out[s] += give * r / total
		}
	}
	return out
}

// Exposure sums weights per group. Symbols missing from groups are ignored.
func Exposure(w domain.Weights, groups map[string]string) map[string]float64 {
	out := make(map[string]float64)
	for _, sym := range domain.SortedSymbols(w) {
		if g, ok := groups[sym]; ok && g != "" {
			out[g] += w[sym]
		}
	}
	return out
}

// ClassExposure sums weights per asset class.
func ClassExposure(w domain.Weights, universe domain.Universe) map[domain.AssetClass]float64 {
	out := make(map[domain.AssetClass]float64)
	for _, sym := range domain.SortedSymbols(w) {
		if class, ok := universe.ClassOf(sym); ok {
			out[class] += w[sym]
		}
	}
	return out
}

// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"strings"
)

// AssetClass groups assets for templates and guardrail shifts
type AssetClass string

const (
	AssetClassEquity             AssetClass = "equity"
	AssetClassBond               AssetClass = "bond"
	AssetClassShortDuration      AssetClass = "short_duration"
	AssetClassInflationProtected AssetClass = "inflation_protected"
	AssetClassCash               AssetClass = "cash"
	AssetClassCommodity          AssetClass = "commodity"
)

// ParseAssetClass maps a name onto a known asset class.
func ParseAssetClass(name string) (AssetClass, bool) {
	switch AssetClass(strings.ToLower(strings.TrimSpace(name))) {
	case AssetClassEquity:
		return AssetClassEquity, true
	case AssetClassBond:
		return AssetClassBond, true
	case AssetClassShortDuration:
		return AssetClassShortDuration, true
	case AssetClassInflationProtected:
		return AssetClassInflationProtected, true
	case AssetClassCash:
		return AssetClassCash, true
	case AssetClassCommodity:
		return AssetClassCommodity, true
	}
	return "", false
}

// Asset is a tradable instrument in the universe
type Asset struct {
	Symbol string     `json:"symbol" yaml:"symbol"`
	Class  AssetClass `json:"class" yaml:"class"`
	Sector string     `json:"sector,omitempty" yaml:"sector,omitempty"` // Used by sector caps
}

// Universe is the ordered list of assets the engine may hold
type Universe []Asset

// Symbols returns the asset symbols in universe order.
func (u Universe) Symbols() []string {
	out := make([]string, len(u))
	for i, a := range u {
		out[i] = a.Symbol
	}
	return out
}

// ClassOf returns the asset class of a symbol.
func (u Universe) ClassOf(symbol string) (AssetClass, bool) {
	for _, a := range u {
		if a.Symbol == symbol {
			return a.Class, true
		}
	}
	return "", false
}

// SymbolsByClass returns the symbols of a class in universe order.
func (u Universe) SymbolsByClass(class AssetClass) []string {
	var out []string
	for _, a := range u {
		if a.Class == class {
			out = append(out, a.Symbol)
		}
	}
	return out
}

// Sectors maps symbol to sector; assets without a sector fall back to their class.
func (u Universe) Sectors() map[string]string {
	out := make(map[string]string, len(u))
	for _, a := range u {
		if a.Sector != "" {
			out[a.Symbol] = a.Sector
		} else {
			out[a.Symbol] = string(a.Class)
		}
	}
	return out
}

// Filter returns the subset of the universe whose symbols are present.
func (u Universe) Filter(symbols []string) Universe {
	present := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		present[s] = true
	}
	var out Universe
	for _, a := range u {
		if present[a.Symbol] {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks for empty or duplicated symbols.
func (u Universe) Validate() error {
	if len(u) == 0 {
		return NewConfigError("universe", "must contain at least one asset")
	}
	seen := make(map[string]bool, len(u))
	for _, a := range u {
		if a.Symbol == "" {
			return NewConfigError("universe", "asset with empty symbol")
		}
		if seen[a.Symbol] {
			return NewConfigError("universe", "duplicate symbol %s", a.Symbol)
		}
		if _, ok := ParseAssetClass(string(a.Class)); !ok {
			return NewConfigError("universe", "asset %s has unknown class %q", a.Symbol, a.Class)
		}
		seen[a.Symbol] = true
	}
	return nil
}

// SignalVector maps symbol to a score in [0,1]
type SignalVector map[string]float64

// Clone returns an independent copy.
func (s SignalVector) Clone() SignalVector {
	out := make(SignalVector, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SortedSymbols returns the map keys in lexical order.
func SortedSymbols[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

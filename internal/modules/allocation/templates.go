// Package allocation holds named allocation templates and the helpers that
// fit weight vectors into position and sector limits.
package allocation

import (
	"fmt"
	"sort"

	"github.com/aristath/alphashield/internal/domain"
)

// Template names
const (
	TemplateRiskOn        = "risk_on"
	TemplateBalanced      = "balanced"
	TemplateRiskOff       = "risk_off"
	TemplateBondBiasPlus  = "bond_bias_plus"
	TemplateBondBiasMinus = "bond_bias_minus"
	TemplateDefensive     = "defensive"
	TemplateEmergency     = "emergency"
)

// ClassMix is a template expressed as asset-class fractions
type ClassMix map[domain.AssetClass]float64

var templates = map[string]ClassMix{
	TemplateRiskOn: {
		domain.AssetClassEquity:             0.70,
		domain.AssetClassBond:               0.20,
		domain.AssetClassInflationProtected: 0.10,
	},
	TemplateBalanced: {
		domain.AssetClassEquity:             0.50,
		domain.AssetClassBond:               0.35,
		domain.AssetClassInflationProtected: 0.15,
	},
	TemplateRiskOff: {
		domain.AssetClassEquity:             0.10,
		domain.AssetClassBond:               0.70,
		domain.AssetClassInflationProtected: 0.20,
	},
	TemplateBondBiasPlus: {
		domain.AssetClassEquity:             0.35,
		domain.AssetClassBond:               0.50,
		domain.AssetClassInflationProtected: 0.15,
	},
	TemplateBondBiasMinus: {
		domain.AssetClassEquity:             0.55,
		domain.AssetClassBond:               0.30,
		domain.AssetClassInflationProtected: 0.15,
	},
	TemplateDefensive: {
		domain.AssetClassEquity:             0.25,
		domain.AssetClassBond:               0.45,
		domain.AssetClassShortDuration:      0.20,
		domain.AssetClassInflationProtected: 0.10,
	},
	TemplateEmergency: {
		domain.AssetClassBond:          0.50,
		domain.AssetClassShortDuration: 0.30,
		domain.AssetClassCash:          0.20,
	},
}

// TemplateNames lists the known templates in sorted order.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mix returns a copy of the class fractions of a named template.
func Mix(name string) (ClassMix, error) {
	mix, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown template: %s", name)
	}
	out := make(ClassMix, len(mix))
	for k, v := range mix {
		out[k] = v
	}
	return out, nil
}

// Template spreads a named template over the universe.
func Template(name string, universe domain.Universe) (domain.Weights, error) {
	mix, err := Mix(name)
	if err != nil {
		return nil, err
	}
	return mix.Spread(universe), nil
}

// Spread splits each class fraction equally across the universe's assets of
// that class and renormalizes. Classes missing from the universe are dropped;
// when none are present the result is equal weight.
func (m ClassMix) Spread(universe domain.Universe) domain.Weights {
	out := make(domain.Weights, len(universe))
	for _, sym := range universe.Symbols() {
		out[sym] = 0
	}

	classes := make([]domain.AssetClass, 0, len(m))
	for class := range m {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	for _, class := range classes {
		frac := m[class]
		if frac <= 0 {
			continue
		}
		members := universe.SymbolsByClass(class)
		if len(members) == 0 {
			continue
		}
		each := frac / float64(len(members))
		for _, sym := range members {
			out[sym] += each
		}
	}

	if out.Sum() <= 0 {
		return domain.EqualWeights(universe.Symbols(), 0)
	}
	return out.Normalize()
}

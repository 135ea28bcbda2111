package domain

import (
	"fmt"
	"time"
)

// PriceSeries is a date-ordered table of close prices per symbol.
// It is immutable once built: accessors hand out copies.
type PriceSeries struct {
	dates   []time.Time
	symbols []string
	prices  map[string][]float64
	index   []float64          // optional reference index (VIX-like)
	adv     map[string]float64 // optional average daily volume in currency units
}

// NewPriceSeries copies the inputs into a PriceSeries. Every symbol must have
// exactly one price per date and dates must be strictly increasing.
func NewPriceSeries(dates []time.Time, symbols []string, prices map[string][]float64) (*PriceSeries, error) {
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("dates must be strictly increasing (index %d)", i)
		}
	}

	ps := &PriceSeries{
		dates:   append([]time.Time(nil), dates...),
		symbols: append([]string(nil), symbols...),
		prices:  make(map[string][]float64, len(symbols)),
	}
	for _, s := range symbols {
		col, ok := prices[s]
		if !ok {
			return nil, fmt.Errorf("missing prices for %s", s)
		}
		if len(col) != len(dates) {
			return nil, fmt.Errorf("prices for %s have %d rows, expected %d", s, len(col), len(dates))
		}
		ps.prices[s] = append([]float64(nil), col...)
	}
	return ps, nil
}

// WithIndex returns a copy carrying a reference index series aligned to the dates.
func (p *PriceSeries) WithIndex(values []float64) (*PriceSeries, error) {
	if len(values) != len(p.dates) {
		return nil, fmt.Errorf("index has %d rows, expected %d", len(values), len(p.dates))
	}
	out := p.clone()
	out.index = append([]float64(nil), values...)
	return out, nil
}

// WithADV returns a copy carrying average daily volume per symbol.
func (p *PriceSeries) WithADV(adv map[string]float64) *PriceSeries {
	out := p.clone()
	out.adv = make(map[string]float64, len(adv))
	for k, v := range adv {
		out.adv[k] = v
	}
	return out
}

func (p *PriceSeries) clone() *PriceSeries {
	out := &PriceSeries{
		dates:   p.dates,
		symbols: p.symbols,
		prices:  p.prices,
		index:   p.index,
		adv:     p.adv,
	}
	return out
}

// Len returns the number of dates.
func (p *PriceSeries) Len() int {
	return len(p.dates)
}

// Dates returns a copy of the date index.
func (p *PriceSeries) Dates() []time.Time {
	return append([]time.Time(nil), p.dates...)
}

// Date returns the date at row i.
func (p *PriceSeries) Date(i int) time.Time {
	return p.dates[i]
}

// Symbols returns a copy of the column order.
func (p *PriceSeries) Symbols() []string {
	return append([]string(nil), p.symbols...)
}

// Column returns a copy of the prices for one symbol.
func (p *PriceSeries) Column(symbol string) []float64 {
	return append([]float64(nil), p.prices[symbol]...)
}

// Index returns a copy of the reference index, or nil when absent.
func (p *PriceSeries) Index() []float64 {
	if p.index == nil {
		return nil
	}
	return append([]float64(nil), p.index...)
}

// ADV returns a copy of the average daily volume map, or nil when absent.
func (p *PriceSeries) ADV() map[string]float64 {
	if p.adv == nil {
		return nil
	}
	out := make(map[string]float64, len(p.adv))
	for k, v := range p.adv {
		out[k] = v
	}
	return out
}

// PricesAt returns the prices of every symbol at row i.
func (p *PriceSeries) PricesAt(i int) map[string]float64 {
	out := make(map[string]float64, len(p.symbols))
	for _, s := range p.symbols {
		out[s] = p.prices[s][i]
	}
	return out
}

// Window returns the trailing rows [end-length+1, end] as a new series.
// A length larger than the available history is truncated at row 0.
func (p *PriceSeries) Window(end, length int) *PriceSeries {
	if end >= len(p.dates) {
		end = len(p.dates) - 1
	}
	start := end - length + 1
	if start < 0 {
		start = 0
	}
	if end < start {
		return &PriceSeries{prices: map[string][]float64{}, symbols: append([]string(nil), p.symbols...)}
	}

	out := &PriceSeries{
		dates:   append([]time.Time(nil), p.dates[start:end+1]...),
		symbols: append([]string(nil), p.symbols...),
		prices:  make(map[string][]float64, len(p.symbols)),
		adv:     p.adv,
	}
	for _, s := range p.symbols {
		out.prices[s] = append([]float64(nil), p.prices[s][start:end+1]...)
	}
	if p.index != nil {
		out.index = append([]float64(nil), p.index[start:end+1]...)
	}
	return out
}

// Returns produces a (T-1) x n matrix of simple returns in column order.
// Rows with a non-positive base price contribute 0 for that asset.
func (p *PriceSeries) Returns() [][]float64 {
	if len(p.dates) < 2 {
		return [][]float64{}
	}
	rows := make([][]float64, len(p.dates)-1)
	for t := 1; t < len(p.dates); t++ {
		row := make([]float64, len(p.symbols))
		for j, s := range p.symbols {
			prev := p.prices[s][t-1]
			if prev > 0 {
				row[j] = p.prices[s][t]/prev - 1
			}
		}
		rows[t-1] = row
	}
	return rows
}

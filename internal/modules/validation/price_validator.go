// Package validation checks price history quality before it reaches the engine.
package validation

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/pkg/formulas"
)

// Validation codes reported for a price history
const (
	CodeEmptyPrices      = "empty_prices"
	CodeNonBusinessDay   = "non_business_day_index"
	CodeInsufficient     = "insufficient_history"
	CodeGap              = "gap_gt_5_bd"
	CodeNonPositivePrice = "non_positive_price"
	CodePossibleSplit    = "possible_split_or_corporate_action"
	CodeIlliquid         = "illiquid_asset"
)

const (
	maxGapBusinessDays     = 5
	splitReturnThreshold   = 0.5 // |daily return| above this looks like a split
	defaultRequiredHistory = 252
)

// Report is the outcome of validating a price history. Outliers counts the
// daily returns per symbol outside the IQR fences; they are reported but do
// not fail validation.
type Report struct {
	OK       bool           `json:"ok"`
	Codes    []string       `json:"codes"`
	Outliers map[string]int `json:"outliers,omitempty"`
	Illiquid []string       `json:"illiquid,omitempty"`
}

// Has reports whether a code was raised.
func (r Report) Has(code string) bool {
	for _, c := range r.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// PriceValidator validates price histories
type PriceValidator struct {
	requiredHistory int
	minADV          float64
	log             zerolog.Logger
}

// NewPriceValidator creates a new price validator. A non-positive
// requiredHistory uses one trading year.
func NewPriceValidator(requiredHistory int, log zerolog.Logger) *PriceValidator {
	if requiredHistory <= 0 {
		requiredHistory = defaultRequiredHistory
	}
	return &PriceValidator{
		requiredHistory: requiredHistory,
		minADV:          DefaultADVThreshold,
		log:             log.With().Str("component", "price_validator").Logger(),
	}
}

// Validate inspects a price series and returns every code that applies.
// In strict mode any code is returned as a *domain.DataValidationError.
func (v *PriceValidator) Validate(series *domain.PriceSeries, strict bool) (Report, error) {
	report := Report{Codes: []string{}}

	if series == nil || series.Len() == 0 || len(series.Symbols()) == 0 {
		report.Codes = append(report.Codes, CodeEmptyPrices)
		return v.finish(report, strict)
	}

	dates := series.Dates()
	if !allBusinessDays(dates) {
		report.Codes = append(report.Codes, CodeNonBusinessDay)
	}

	if series.Len() < v.requiredHistory {
		report.Codes = append(report.Codes, CodeInsufficient)
	}

	if longestGap(series) > maxGapBusinessDays {
		report.Codes = append(report.Codes, CodeGap)
	}

	nonPositive := false
	split := false
	for _, sym := range series.Symbols() {
		col := series.Column(sym)
		for i, p := range col {
			if math.IsNaN(p) {
				continue
			}
			if p <= 0 {
				nonPositive = true
			}
			if i > 0 && col[i-1] > 0 && !math.IsNaN(col[i-1]) {
				if math.Abs(p/col[i-1]-1) > splitReturnThreshold {
					split = true
				}
			}
		}
	}
	if nonPositive {
		report.Codes = append(report.Codes, CodeNonPositivePrice)
	}
	if split {
		report.Codes = append(report.Codes, CodePossibleSplit)
	}

	report.Outliers = v.countOutliers(series)

	adv := series.ADV()
	for _, sym := range series.Symbols() {
		if value, ok := adv[sym]; ok && value < v.minADV {
			report.Illiquid = append(report.Illiquid, sym)
		}
	}
	if len(report.Illiquid) > 0 {
		report.Codes = append(report.Codes, CodeIlliquid)
	}

	return v.finish(report, strict)
}

// countOutliers returns the number of IQR outliers among each symbol's
// daily returns, omitting symbols without any.
func (v *PriceValidator) countOutliers(series *domain.PriceSeries) map[string]int {
	var out map[string]int
	for _, sym := range series.Symbols() {
		col := series.Column(sym)
		if len(col) < 2 {
			continue
		}
		returns := make([]float64, len(col)-1)
		for i := 1; i < len(col); i++ {
			returns[i-1] = math.NaN()
			if col[i-1] > 0 && col[i] > 0 {
				returns[i-1] = col[i]/col[i-1] - 1
			}
		}
		mask, err := DetectOutliers(returns, OutlierIQR)
		if err != nil {
			continue
		}
		n := 0
		for _, flagged := range mask {
			if flagged {
				n++
			}
		}
		if n > 0 {
			if out == nil {
				out = make(map[string]int)
			}
			out[sym] = n
		}
	}
	if len(out) > 0 {
		v.log.Debug().Interface("outliers", out).Msg("Return outliers found")
	}
	return out
}

func (v *PriceValidator) finish(report Report, strict bool) (Report, error) {
	report.OK = len(report.Codes) == 0
	if !report.OK {
		v.log.Warn().Strs("codes", report.Codes).Bool("strict", strict).Msg("Price history failed validation")
		if strict {
			return report, &domain.DataValidationError{Codes: report.Codes}
		}
	}
	return report, nil
}

func allBusinessDays(dates []time.Time) bool {
	for _, d := range dates {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	return true
}

// longestGap returns the longest run of business days with no usable price
// for any symbol: calendar holes between consecutive rows plus rows where
// every symbol is missing.
func longestGap(series *domain.PriceSeries) int {
	dates := series.Dates()
	symbols := series.Symbols()
	cols := make([][]float64, len(symbols))
	for j, s := range symbols {
		cols[j] = series.Column(s)
	}

	longest := 0
	run := 0
	for i := range dates {
		if i > 0 {
			run += businessDaysBetween(dates[i-1], dates[i])
		}
		empty := true
		for j := range cols {
			if !math.IsNaN(cols[j][i]) {
				empty = false
				break
			}
		}
		if empty {
			run++
		} else {
			if run > longest {
				longest = run
			}
			run = 0
		}
	}
	if run > longest {
		longest = run
	}
	return longest
}

// businessDaysBetween counts weekdays strictly between a and b.
func businessDaysBetween(a, b time.Time) int {
	count := 0
	for d := a.AddDate(0, 0, 1); d.Before(b); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}

// OutlierMethod selects the outlier rule
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// DetectOutliers flags returns outside Q1-1.5*IQR..Q3+1.5*IQR (iqr) or with
// |z| > 3 using the population standard deviation (zscore). NaNs are never outliers.
func DetectOutliers(returns []float64, method OutlierMethod) ([]bool, error) {
	mask := make([]bool, len(returns))
	clean := make([]float64, 0, len(returns))
	for _, r := range returns {
		if !math.IsNaN(r) {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 {
		if method != OutlierIQR && method != OutlierZScore {
			return nil, domain.NewConfigError("outlier_method", "must be iqr or zscore, got %q", method)
		}
		return mask, nil
	}

	switch method {
	case OutlierIQR:
		q1 := formulas.Percentile(clean, 0.25)
		q3 := formulas.Percentile(clean, 0.75)
		iqr := q3 - q1
		lower, upper := q1-1.5*iqr, q3+1.5*iqr
		for i, r := range returns {
			mask[i] = !math.IsNaN(r) && (r < lower || r > upper)
		}
	case OutlierZScore:
		mu := formulas.Mean(clean)
		ss := 0.0
		for _, r := range clean {
			ss += (r - mu) * (r - mu)
		}
		sigma := math.Sqrt(ss / float64(len(clean)))
		if sigma == 0 {
			return mask, nil
		}
		for i, r := range returns {
			mask[i] = !math.IsNaN(r) && math.Abs((r-mu)/sigma) > 3
		}
	default:
		return nil, domain.NewConfigError("outlier_method", "must be iqr or zscore, got %q", method)
	}
	return mask, nil
}

// DefaultADVThreshold is the minimum average daily dollar volume for a liquid asset.
const DefaultADVThreshold = 5_000_000.0

// AverageDollarVolume returns mean(volume*price), the ADV used by the
// execution cap and the liquidity check. Missing volume entries count as zero.
func AverageDollarVolume(volume, price []float64) float64 {
	if len(price) == 0 {
		return 0
	}
	total := 0.0
	for i, p := range price {
		if i < len(volume) && !math.IsNaN(volume[i]) && !math.IsNaN(p) {
			total += volume[i] * p
		}
	}
	return total / float64(len(price))
}

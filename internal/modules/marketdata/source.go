package marketdata

import (
	"time"

	"github.com/aristath/alphashield/internal/domain"
)

// DefaultSyntheticDays is five years of business days.
const DefaultSyntheticDays = 5 * 252

// Source loads prices from a CSV file, or generates synthetic prices for
// the universe when no file is set.
type Source struct {
	CSVPath  string
	Universe domain.Universe
	Days     int
	Seed     int64
	Start    time.Time
}

// Load returns the price table described by the source.
func (s Source) Load() (*domain.PriceSeries, error) {
	if s.CSVPath != "" {
		return LoadCSVFile(s.CSVPath)
	}

	days := s.Days
	if days <= 0 {
		days = DefaultSyntheticDays
	}
	start := s.Start
	if start.IsZero() {
		start = time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC)
	}
	return Synthetic{
		Seed:   s.Seed,
		Start:  start,
		Days:   days,
		Assets: ParamsForUniverse(s.Universe),
		Index:  true,
	}.Generate()
}

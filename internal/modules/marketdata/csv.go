// Package marketdata loads price tables and generates synthetic ones.
package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/validation"
)

// IndexColumn is read as the reference volatility index rather than an asset.
const IndexColumn = "^VIX"

// VolumeSuffix marks a share volume column, e.g. "SPY:volume". Volume
// columns set the symbol's average daily dollar volume.
const VolumeSuffix = ":volume"

const dateLayout = "2006-01-02"

// LoadCSVFile reads a price table from disk.
func LoadCSVFile(path string) (*domain.PriceSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prices: %w", err)
	}
	defer f.Close()

	return LoadCSV(f)
}

// LoadCSV reads a `date,SYM1,SYM2,...` table with ISO dates. Empty cells
// become NaN so validation can flag them. Rows are sorted by the file order
// and must be strictly increasing. Optional `SYM:volume` columns give the
// traded shares per day.
func LoadCSV(r io.Reader) (*domain.PriceSeries, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(strings.TrimSpace(header[0]), "date") {
		return nil, fmt.Errorf("header must start with date and name at least one symbol")
	}

	indexCol := -1
	var symbols []string
	priceCols := map[int]string{}
	volumeCols := map[int]string{}
	for i, name := range header[1:] {
		name = strings.TrimSpace(name)
		switch {
		case name == IndexColumn:
			indexCol = i + 1
		case strings.HasSuffix(name, VolumeSuffix):
			volumeCols[i+1] = strings.TrimSuffix(name, VolumeSuffix)
		default:
			priceCols[i+1] = name
			symbols = append(symbols, name)
		}
	}

	var dates []time.Time
	var index []float64
	prices := make(map[string][]float64, len(symbols))
	volumes := make(map[string][]float64, len(volumeCols))

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		d, err := time.Parse(dateLayout, strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid date %q", line, record[0])
		}
		dates = append(dates, d)

		for i := 1; i < len(record); i++ {
			v, err := parseCell(record[i])
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", line, header[i], err)
			}
			switch {
			case i == indexCol:
				index = append(index, v)
			case volumeCols[i] != "":
				volumes[volumeCols[i]] = append(volumes[volumeCols[i]], v)
			default:
				prices[priceCols[i]] = append(prices[priceCols[i]], v)
			}
		}
	}

	series, err := domain.NewPriceSeries(dates, symbols, prices)
	if err != nil {
		return nil, err
	}
	if len(volumes) > 0 {
		adv := make(map[string]float64, len(volumes))
		for sym, vol := range volumes {
			if _, ok := prices[sym]; !ok {
				return nil, fmt.Errorf("volume column for unknown symbol %s", sym)
			}
			adv[sym] = validation.AverageDollarVolume(vol, prices[sym])
		}
		series = series.WithADV(adv)
	}
	if indexCol >= 0 {
		return series.WithIndex(index)
	}
	return series, nil
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

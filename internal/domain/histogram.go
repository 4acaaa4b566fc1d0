package domain

import (
	"time"

	"github.com/montanaflynn/stats"
)

const (
	DaysPerYear  = 365
	WeeksPerYear = 52
)

// MonthlyHistogram counts records per month, index 0 is January.
type MonthlyHistogram [12]int

// Add counts one record at t if it falls inside year, in t's own location.
// It reports whether the record was counted.
func (h *MonthlyHistogram) Add(t time.Time, year int) bool {
	if t.IsZero() || t.Year() != year {
		return false
	}
	h[t.Month()-1]++
	return true
}

// Sum returns the total of all buckets.
func (h MonthlyHistogram) Sum() int {
	total := 0
	for _, v := range h {
		total += v
	}
	return total
}

// Scale extrapolates a histogram built from sampleSize records to total
// records. Each bucket becomes round(b * total / sampleSize).
func (h MonthlyHistogram) Scale(total, sampleSize int) MonthlyHistogram {
	var out MonthlyHistogram
	if sampleSize <= 0 {
		return out
	}
	factor := float64(total) / float64(sampleSize)
	for i, b := range h {
		rounded, err := stats.Round(float64(b)*factor, 0)
		if err != nil {
			continue
		}
		out[i] = int(rounded)
	}
	return out
}

// Average divides count over periods and rounds to places decimals.
func Average(count, periods, places int) float64 {
	if periods <= 0 {
		return 0
	}
	return RoundTo(float64(count)/float64(periods), places)
}

// RoundTo rounds x half away from zero to places decimals.
func RoundTo(x float64, places int) float64 {
	rounded, err := stats.Round(x, places)
	if err != nil {
		return 0
	}
	return rounded
}

// YearRange returns the first and last instants of year in UTC.
func YearRange(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)
	return start, end
}

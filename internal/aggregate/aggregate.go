// Package aggregate derives the EU27 reference series, per-city monthly and
// seasonal groupings, trend correlations and average tables from measurements.
// Every function is pure: inputs are never mutated and missing values are
// absent rows, never zeros.
package aggregate

import (
	"errors"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/kjstillabower/no2-dashboard/internal/models"
)

// ErrEmptyInput is returned by Quartiles for an empty bucket.
var ErrEmptyInput = errors.New("aggregate: empty input")

// MonthValue is one point of a monthly series.
type MonthValue struct {
	Month models.Month `json:"month"`
	Value float64      `json:"value"`
}

// CitySeason keys the seasonal distribution.
type CitySeason struct {
	City   string
	Season models.Season
}

// BoxStats is the five-number summary of a bucket.
type BoxStats struct {
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// CityAverage is one row of the averages table.
type CityAverage struct {
	City  string  `json:"city"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// FilterRecords returns the records selected by filter, preserving input order.
func FilterRecords(records []models.Measurement, filter models.FilterState) []models.Measurement {
	out := make([]models.Measurement, 0, len(records))
	for _, r := range records {
		if filter.Includes(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterYears returns the records within [from, to] for every city.
func FilterYears(records []models.Measurement, from, to int) []models.Measurement {
	out := make([]models.Measurement, 0, len(records))
	for _, r := range records {
		if r.Month.Year >= from && r.Month.Year <= to {
			out = append(out, r)
		}
	}
	return out
}

// EU27Aggregate averages all present city values per month, in chronological order.
func EU27Aggregate(records []models.Measurement) []MonthValue {
	byMonth := make(map[models.Month][]float64)
	for _, r := range records {
		byMonth[r.Month] = append(byMonth[r.Month], r.Value)
	}
	out := make([]MonthValue, 0, len(byMonth))
	for m, values := range byMonth {
		mean, err := stats.Mean(values)
		if err != nil {
			continue
		}
		out = append(out, MonthValue{Month: m, Value: mean})
	}
	sortByMonth(out)
	return out
}

// Index maps each month of a series to its value.
func Index(series []MonthValue) map[models.Month]float64 {
	idx := make(map[models.Month]float64, len(series))
	for _, p := range series {
		idx[p.Month] = p.Value
	}
	return idx
}

// MonthlyByCity groups the filtered records into chronological series per city.
// Cities without records in range have no entry.
func MonthlyByCity(records []models.Measurement, filter models.FilterState) map[string][]MonthValue {
	out := make(map[string][]MonthValue)
	for _, r := range FilterRecords(records, filter) {
		out[r.City] = append(out[r.City], MonthValue{Month: r.Month, Value: r.Value})
	}
	for _, series := range out {
		sortByMonth(series)
	}
	return out
}

// CorrelationByCity returns, per city, the Pearson correlation between the
// chronological index (0, 1, 2, ...) of its points in range and their values.
// A city with fewer than two points, or with constant values, maps to NaN.
func CorrelationByCity(records []models.Measurement, filter models.FilterState) map[string]float64 {
	out := make(map[string]float64)
	for city, series := range MonthlyByCity(records, filter) {
		values := make([]float64, len(series))
		for i, p := range series {
			values[i] = p.Value
		}
		out[city] = TrendCorrelation(values)
	}
	return out
}

// TrendCorrelation is the Pearson correlation between 0..n-1 and values.
func TrendCorrelation(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	constant := true
	for _, v := range values[1:] {
		if v != values[0] {
			constant = false
			break
		}
	}
	if constant {
		return math.NaN()
	}
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i)
	}
	return stat.Correlation(x, values, nil)
}

// SeasonalDistribution buckets the filtered values by city and season.
func SeasonalDistribution(records []models.Measurement, filter models.FilterState) map[CitySeason][]float64 {
	out := make(map[CitySeason][]float64)
	for _, r := range FilterRecords(records, filter) {
		key := CitySeason{City: r.City, Season: r.Month.Season()}
		out[key] = append(out[key], r.Value)
	}
	return out
}

// Quartiles computes the five-number summary with the inclusive-median method:
// for an odd count the median belongs to both the lower and upper half.
func Quartiles(values []float64) (BoxStats, error) {
	n := len(values)
	if n == 0 {
		return BoxStats{}, ErrEmptyInput
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	median, err := stats.Median(sorted)
	if err != nil {
		return BoxStats{}, err
	}
	q1, err := stats.Median(sorted[:(n+1)/2])
	if err != nil {
		return BoxStats{}, err
	}
	q3, err := stats.Median(sorted[n/2:])
	if err != nil {
		return BoxStats{}, err
	}
	return BoxStats{
		Min:    sorted[0],
		Q1:     q1,
		Median: median,
		Q3:     q3,
		Max:    sorted[n-1],
		Count:  n,
	}, nil
}

// AverageByCity returns the mean per selected city, rounded to two decimals,
// highest first (ties by name).
func AverageByCity(records []models.Measurement, filter models.FilterState) []CityAverage {
	byCity := make(map[string][]float64)
	for _, r := range FilterRecords(records, filter) {
		byCity[r.City] = append(byCity[r.City], r.Value)
	}
	out := make([]CityAverage, 0, len(byCity))
	for city, values := range byCity {
		mean, err := stats.Mean(values)
		if err != nil {
			continue
		}
		rounded, err := stats.Round(mean, 2)
		if err != nil {
			rounded = mean
		}
		out = append(out, CityAverage{City: city, Mean: rounded, Count: len(values)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mean != out[j].Mean {
			return out[i].Mean > out[j].Mean
		}
		return out[i].City < out[j].City
	})
	return out
}

// Months returns the distinct months present in records, chronologically.
func Months(records []models.Measurement) []models.Month {
	seen := make(map[models.Month]struct{})
	out := make([]models.Month, 0)
	for _, r := range records {
		if _, ok := seen[r.Month]; ok {
			continue
		}
		seen[r.Month] = struct{}{}
		out = append(out, r.Month)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func sortByMonth(series []MonthValue) {
	sort.Slice(series, func(i, j int) bool { return series[i].Month.Before(series[j].Month) })
}

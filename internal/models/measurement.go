package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EU27 is the city name used for the synthetic across-city mean series.
const EU27 = "EU27"

// Month is a calendar month. The zero value is not a valid month.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth returns the month containing t.
func NewMonth(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses the canonical YYYY-MM form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return NewMonth(t), nil
}

// Ordinal returns a monotonically increasing index (year*12 + month-1).
func (m Month) Ordinal() int {
	return m.Year*12 + int(m.Month) - 1
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	return m.Ordinal() < o.Ordinal()
}

// Season returns the Northern-hemisphere season for the month.
func (m Month) Season() Season {
	return SeasonOf(m.Month)
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// MarshalText encodes the month as YYYY-MM.
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes YYYY-MM.
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Measurement is one monthly NO₂ value (µg/m³) for a city.
type Measurement struct {
	City  string  `json:"city"`
	Month Month   `json:"month"`
	Value float64 `json:"value"`
}

// Season is a meteorological season label.
type Season string

const (
	Winter Season = "Winter"
	Spring Season = "Spring"
	Summer Season = "Summer"
	Autumn Season = "Autumn"
)

// Seasons lists the seasons in calendar display order.
var Seasons = []Season{Winter, Spring, Summer, Autumn}

// SeasonOf maps a calendar month to its season: Dec–Feb Winter, Mar–May Spring,
// Jun–Aug Summer, Sep–Nov Autumn.
func SeasonOf(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	default:
		return Autumn
	}
}

// FilterState is the user's current selection. Year bounds are inclusive.
type FilterState struct {
	Cities   []string `json:"cities"`
	FromYear int      `json:"fromYear"`
	ToYear   int      `json:"toYear"`
}

// Includes reports whether the measurement passes the filter.
func (f FilterState) Includes(m Measurement) bool {
	return f.InYears(m.Month) && f.HasCity(m.City)
}

// InYears reports whether the month lies inside the year range.
func (f FilterState) InYears(m Month) bool {
	return m.Year >= f.FromYear && m.Year <= f.ToYear
}

// HasCity reports whether city is selected.
func (f FilterState) HasCity(city string) bool {
	for _, c := range f.Cities {
		if c == city {
			return true
		}
	}
	return false
}

// Key returns a stable identifier for the filter, independent of city order.
func (f FilterState) Key() string {
	cities := append([]string(nil), f.Cities...)
	sort.Strings(cities)
	return strings.Join(cities, ",") + "|" + strconv.Itoa(f.FromYear) + "-" + strconv.Itoa(f.ToYear)
}

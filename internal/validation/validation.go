package validation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
)

// ErrCityEmpty is returned when a city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when a city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when a city name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrTooManyCities is returned when the selection exceeds the configured limit.
var ErrTooManyCities = errors.New("too many cities selected")

// ErrYearInvalid is returned when from/to is not a four-digit year.
var ErrYearInvalid = errors.New("year must be a four-digit number")

// ErrYearRangeInverted is returned when from is after to.
var ErrYearRangeInverted = errors.New("year range start is after end")

// ErrUnknownTab is returned for a tab name outside the dashboard's views.
var ErrUnknownTab = errors.New("unknown tab")

// Limits bounds filter input. Zero disables a limit.
type Limits struct {
	MaxCityLen int
	MaxCities  int
}

// ValidateCity trims the input, enforces maxLen (in runes), and restricts to
// letters (Unicode), digits, space, hyphen, apostrophe and period.
// Returns the trimmed string or an error suitable for 400 INVALID_FILTER responses.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// isAllowedCityRune returns true for letters (Unicode), digits, space, hyphen,
// apostrophe and period. Comma is the list separator and is never part of a name.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '-', '\'', '.':
		return true
	}
	return false
}

// ValidateTab checks that name is one of the dashboard tabs.
func ValidateTab(name string) (presentation.Tab, error) {
	tab, err := presentation.ParseTab(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownTab, name)
	}
	return tab, nil
}

// ParseFilter builds a FilterState from query parameters.
//
// cities may repeat and each value may be comma separated. When the parameter is
// absent the default cities are used; when present but empty the selection is
// empty. from and to fall back to the default years when absent.
func ParseFilter(q url.Values, def models.FilterState, limits Limits) (models.FilterState, error) {
	f := models.FilterState{FromYear: def.FromYear, ToYear: def.ToYear}

	raw, present := q["cities"]
	if !present {
		f.Cities = append([]string(nil), def.Cities...)
	} else {
		cities, err := parseCities(raw, limits)
		if err != nil {
			return models.FilterState{}, err
		}
		f.Cities = cities
	}

	var err error
	if f.FromYear, err = parseYear(q, "from", def.FromYear); err != nil {
		return models.FilterState{}, err
	}
	if f.ToYear, err = parseYear(q, "to", def.ToYear); err != nil {
		return models.FilterState{}, err
	}
	if f.FromYear > f.ToYear {
		return models.FilterState{}, fmt.Errorf("%w: %d > %d", ErrYearRangeInverted, f.FromYear, f.ToYear)
	}
	return f, nil
}

func parseCities(raw []string, limits Limits) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			city, err := ValidateCity(part, limits.MaxCityLen)
			if err != nil {
				return nil, fmt.Errorf("city %q: %w", strings.TrimSpace(part), err)
			}
			if seen[city] {
				continue
			}
			seen[city] = true
			out = append(out, city)
		}
	}
	if limits.MaxCities > 0 && len(out) > limits.MaxCities {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyCities, len(out), limits.MaxCities)
	}
	return out, nil
}

func parseYear(q url.Values, key string, def int) (int, error) {
	s := strings.TrimSpace(q.Get(key))
	if s == "" {
		return def, nil
	}
	if len(s) != 4 {
		return 0, fmt.Errorf("%s: %w", key, ErrYearInvalid)
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1000 {
		return 0, fmt.Errorf("%s: %w", key, ErrYearInvalid)
	}
	return y, nil
}

package presentation

import (
	"fmt"
	"hash/fnv"
	"math"

	"github.com/kjstillabower/no2-dashboard/internal/models"
)

// DeviationClass compares a city-month value against the EU27 value for that month.
type DeviationClass string

const (
	Above DeviationClass = "above"
	Below DeviationClass = "below"
	Equal DeviationClass = "equal"
)

const (
	ColorAbove   = "#d62728"
	ColorBelow   = "#2ca02c"
	ColorEqual   = "#f2c80f"
	ColorNeutral = "#9e9e9e"
)

// ClassifyDeviation returns Equal for the EU27 series itself or an exact tie,
// otherwise Above or Below. There is no tolerance band.
func ClassifyDeviation(value, baseline float64, isBaseline bool) DeviationClass {
	switch {
	case isBaseline || value == baseline:
		return Equal
	case value > baseline:
		return Above
	default:
		return Below
	}
}

// Color returns the fill for the class: red above, green below, yellow equal.
func (c DeviationClass) Color() string {
	switch c {
	case Above:
		return ColorAbove
	case Below:
		return ColorBelow
	case Equal:
		return ColorEqual
	default:
		return ColorNeutral
	}
}

// correlationStops is red-yellow-green reversed: a falling trend (r = -1) is good.
var correlationStops = [3][3]float64{
	{26, 152, 80},   // r = -1
	{255, 255, 191}, // r = 0
	{215, 48, 39},   // r = +1
}

// CorrelationScale describes the continuous scale used for correlation coloring.
var CorrelationScale = ColorScale{
	Scheme:  "redyellowgreen",
	Domain:  [2]float64{-1, 1},
	Reverse: true,
	Stops:   []string{rgbHex(correlationStops[0]), rgbHex(correlationStops[1]), rgbHex(correlationStops[2])},
}

// CorrelationColor maps r in [-1, 1] linearly onto the reversed scale. NaN maps
// to the neutral placeholder color; out-of-range values are clamped.
func CorrelationColor(r float64) string {
	if math.IsNaN(r) {
		return ColorNeutral
	}
	r = math.Max(-1, math.Min(1, r))
	lo, hi, t := correlationStops[0], correlationStops[1], r+1
	if r > 0 {
		lo, hi, t = correlationStops[1], correlationStops[2], r
	}
	var c [3]float64
	for i := range c {
		c[i] = lo[i] + (hi[i]-lo[i])*t
	}
	return rgbHex(c)
}

var seasonPalette = map[models.Season]string{
	models.Winter: "#1f77b4",
	models.Spring: "#2ca02c",
	models.Summer: "#ff7f0e",
	models.Autumn: "#8c564b",
}

// SeasonColor returns the fixed color for a season.
func SeasonColor(s models.Season) string {
	if c, ok := seasonPalette[s]; ok {
		return c
	}
	return ColorNeutral
}

// cityPalette avoids the deviation and EU27 colors.
var cityPalette = []string{
	"#1f77b4", "#ff7f0e", "#9467bd", "#8c564b", "#e377c2",
	"#7f7f7f", "#bcbd22", "#17becf", "#393b79", "#637939",
}

// CityColor returns a color that is stable for a city name across renders.
func CityColor(city string) string {
	if city == models.EU27 {
		return ColorEqual
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(city))
	return cityPalette[h.Sum32()%uint32(len(cityPalette))]
}

func rgbHex(c [3]float64) string {
	return fmt.Sprintf("#%02x%02x%02x", int(math.Round(c[0])), int(math.Round(c[1])), int(math.Round(c[2])))
}

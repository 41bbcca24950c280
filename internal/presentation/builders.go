package presentation

import (
	"sort"
	"strconv"

	"github.com/kjstillabower/no2-dashboard/internal/aggregate"
	"github.com/kjstillabower/no2-dashboard/internal/models"
)

const (
	unitLabel = "NO₂ (µg/m³)"

	// NoSelectionWarning is shown instead of charts when no city is selected.
	NoSelectionWarning = "Select at least one city to display data."
	// NoDataWarning is shown when the selection has no measurements in range.
	NoDataWarning = "No data for the selected cities and years."
)

// Placeholder returns an empty render spec carrying only a warning.
func Placeholder(tab Tab, filter models.FilterState, warning string) RenderSpec {
	return RenderSpec{
		Tab:     tab,
		Title:   tab.Title(),
		Filter:  filter,
		Charts:  []Chart{},
		Warning: warning,
		Empty:   true,
	}
}

// TimeSeries draws one line per selected city plus the EU27 reference line.
// City points are colored by their deviation from EU27 in the same month.
func TimeSeries(filter models.FilterState, series map[string][]aggregate.MonthValue, eu27 []aggregate.MonthValue, averages []aggregate.CityAverage) RenderSpec {
	baseline := aggregate.Index(eu27)

	chart := Chart{
		Kind:          Line,
		Title:         "Monthly NO₂ concentration",
		XAxis:         Axis{Label: "Month", Type: "temporal"},
		YAxis:         Axis{Label: unitLabel, Type: "quantitative"},
		HoverTemplate: "{series} {x}: {y} µg/m³ ({class} EU27)",
	}
	for _, city := range sortedCities(series) {
		chart.Series = append(chart.Series, Series{
			Name:   city,
			Color:  CityColor(city),
			Points: deviationPoints(series[city], baseline),
		})
	}
	chart.Series = append(chart.Series, Series{
		Name:   models.EU27,
		Color:  ColorEqual,
		Points: baselinePoints(eu27),
	})

	return RenderSpec{
		Tab:    TabTimeSeries,
		Title:  TabTimeSeries.Title(),
		Filter: filter,
		Charts: []Chart{chart},
		Tables: []Table{AveragesTable(averages)},
	}
}

// MonthlyBars draws grouped bars per month: one bar per selected city colored
// by deviation, beside the EU27 bar for the months the selection covers.
func MonthlyBars(filter models.FilterState, series map[string][]aggregate.MonthValue, eu27 []aggregate.MonthValue) RenderSpec {
	baseline := aggregate.Index(eu27)
	covered := make(map[models.Month]bool)

	chart := Chart{
		Kind:          Bar,
		Title:         "Monthly NO₂ by city",
		XAxis:         Axis{Label: "Month", Type: "nominal"},
		YAxis:         Axis{Label: unitLabel, Type: "quantitative"},
		HoverTemplate: "{series} {x}: {y} µg/m³ ({class} EU27)",
	}
	for _, city := range sortedCities(series) {
		for _, p := range series[city] {
			covered[p.Month] = true
		}
		chart.Series = append(chart.Series, Series{
			Name:   city,
			Color:  CityColor(city),
			Points: deviationPoints(series[city], baseline),
		})
	}
	var ref []aggregate.MonthValue
	for _, p := range eu27 {
		if covered[p.Month] {
			ref = append(ref, p)
		}
	}
	chart.Series = append(chart.Series, Series{
		Name:   models.EU27,
		Color:  ColorEqual,
		Points: baselinePoints(ref),
	})

	return RenderSpec{
		Tab:    TabMonthly,
		Title:  TabMonthly.Title(),
		Filter: filter,
		Charts: []Chart{chart},
	}
}

// CorrelationScatter plots one point per city at its trend correlation,
// colored on the reversed red-yellow-green scale. Undefined correlations are
// plotted as null in the neutral color.
func CorrelationScatter(filter models.FilterState, coefficients map[string]float64) RenderSpec {
	scale := CorrelationScale
	chart := Chart{
		Kind:          Scatter,
		Title:         "Correlation of NO₂ with time",
		XAxis:         Axis{Label: "City", Type: "nominal"},
		YAxis:         Axis{Label: "Pearson r", Type: "quantitative"},
		HoverTemplate: "{x}: r = {y}",
		ColorScale:    &scale,
	}
	table := Table{
		Title:   "Trend correlation",
		Columns: []string{"City", "r"},
		Rows:    [][]string{},
	}

	s := Series{Name: "correlation", Color: ColorNeutral}
	cities := make([]string, 0, len(coefficients))
	for c := range coefficients {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	for _, city := range cities {
		r := coefficients[city]
		s.Points = append(s.Points, Point{X: city, Y: Number(r), Color: CorrelationColor(r)})
		table.Rows = append(table.Rows, []string{city, formatCoefficient(r)})
	}
	chart.Series = []Series{s}

	return RenderSpec{
		Tab:    TabCorrelation,
		Title:  TabCorrelation.Title(),
		Filter: filter,
		Charts: []Chart{chart},
		Tables: []Table{table},
	}
}

// SeasonalBoxplot draws one box per (city, season) bucket that has values.
func SeasonalBoxplot(filter models.FilterState, distribution map[aggregate.CitySeason][]float64) RenderSpec {
	chart := Chart{
		Kind:          Boxplot,
		Title:         "NO₂ distribution by season",
		XAxis:         Axis{Label: "Season", Type: "nominal"},
		YAxis:         Axis{Label: unitLabel, Type: "quantitative"},
		HoverTemplate: "{series} {group}: median {median}, IQR {q1}–{q3}",
	}

	byCity := make(map[string]bool)
	for k := range distribution {
		byCity[k.City] = true
	}
	cities := make([]string, 0, len(byCity))
	for c := range byCity {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	for _, city := range cities {
		s := Series{Name: city, Color: CityColor(city)}
		for _, season := range models.Seasons {
			stats, err := aggregate.Quartiles(distribution[aggregate.CitySeason{City: city, Season: season}])
			if err != nil {
				continue
			}
			s.Boxes = append(s.Boxes, Box{Group: string(season), Stats: stats, Color: SeasonColor(season)})
		}
		chart.Series = append(chart.Series, s)
	}

	return RenderSpec{
		Tab:    TabSeasonal,
		Title:  TabSeasonal.Title(),
		Filter: filter,
		Charts: []Chart{chart},
	}
}

// AveragesTable lists mean NO₂ per city in the order given.
func AveragesTable(averages []aggregate.CityAverage) Table {
	t := Table{
		Title:   "Average NO₂ by city",
		Columns: []string{"City", "Average NO₂ (µg/m³)", "Months"},
		Rows:    make([][]string, 0, len(averages)),
	}
	for _, a := range averages {
		t.Rows = append(t.Rows, []string{a.City, strconv.FormatFloat(a.Mean, 'f', 2, 64), strconv.Itoa(a.Count)})
	}
	return t
}

func deviationPoints(series []aggregate.MonthValue, baseline map[models.Month]float64) []Point {
	points := make([]Point, 0, len(series))
	for _, p := range series {
		pt := Point{X: p.Month.String(), Y: Number(p.Value), Color: ColorNeutral}
		if ref, ok := baseline[p.Month]; ok {
			pt.Class = ClassifyDeviation(p.Value, ref, false)
			pt.Color = pt.Class.Color()
		}
		points = append(points, pt)
	}
	return points
}

func baselinePoints(series []aggregate.MonthValue) []Point {
	points := make([]Point, 0, len(series))
	for _, p := range series {
		points = append(points, Point{X: p.Month.String(), Y: Number(p.Value), Color: ColorEqual, Class: Equal})
	}
	return points
}

func sortedCities(series map[string][]aggregate.MonthValue) []string {
	out := make([]string, 0, len(series))
	for c := range series {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func formatCoefficient(r float64) string {
	if Number(r).IsNaN() {
		return "n/a"
	}
	return strconv.FormatFloat(r, 'f', 3, 64)
}

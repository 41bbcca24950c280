package presentation

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/no2-dashboard/internal/aggregate"
	"github.com/kjstillabower/no2-dashboard/internal/models"
)

func mv(year int, month time.Month, v float64) aggregate.MonthValue {
	return aggregate.MonthValue{Month: models.Month{Year: year, Month: month}, Value: v}
}

func TestClassifyDeviation(t *testing.T) {
	tests := []struct {
		name       string
		value      float64
		baseline   float64
		isBaseline bool
		want       DeviationClass
	}{
		{"above", 30, 25, false, Above},
		{"below", 20, 25, false, Below},
		{"tie", 25, 25, false, Equal},
		{"baseline series", 40, 25, true, Equal},
		{"tiny excess is not equal", 25 + 1e-9, 25, false, Above},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyDeviation(tc.value, tc.baseline, tc.isBaseline))
		})
	}
}

func TestClassifyDeviation_Colors(t *testing.T) {
	assert.Equal(t, ColorAbove, Above.Color())
	assert.Equal(t, ColorBelow, Below.Color())
	assert.Equal(t, ColorEqual, Equal.Color())
}

func TestCorrelationColor_Endpoints(t *testing.T) {
	assert.Equal(t, "#1a9850", CorrelationColor(-1))
	assert.Equal(t, "#ffffbf", CorrelationColor(0))
	assert.Equal(t, "#d73027", CorrelationColor(1))
	assert.Equal(t, "#d73027", CorrelationColor(3), "clamped")
	assert.Equal(t, ColorNeutral, CorrelationColor(math.NaN()))
	assert.Equal(t, CorrelationScale.Stops, []string{"#1a9850", "#ffffbf", "#d73027"})
}

func TestSeasonColor_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range models.Seasons {
		c := SeasonColor(s)
		assert.False(t, seen[c], "season %s shares a color", s)
		seen[c] = true
	}
}

func TestCityColor_Stable(t *testing.T) {
	assert.Equal(t, CityColor("Berlin"), CityColor("Berlin"))
	assert.Equal(t, ColorEqual, CityColor(models.EU27))
	assert.NotEqual(t, ColorAbove, CityColor("Paris"))
}

func TestNumber_NaNEncodesAsNull(t *testing.T) {
	b, err := json.Marshal([]Number{1.5, Number(math.NaN()), Number(math.Inf(1))})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, null, null]`, string(b))

	var back []Number
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Number(1.5), back[0])
	assert.True(t, back[1].IsNaN())
}

func TestParseTab(t *testing.T) {
	for _, tab := range Tabs {
		got, err := ParseTab(string(tab))
		require.NoError(t, err)
		assert.Equal(t, tab, got)
	}
	_, err := ParseTab("heatmap")
	assert.ErrorIs(t, err, ErrUnknownTab)
}

func TestTimeSeries_BerlinParisScenario(t *testing.T) {
	filter := models.FilterState{Cities: []string{"Berlin", "Paris"}, FromYear: 2020, ToYear: 2020}
	series := map[string][]aggregate.MonthValue{
		"Paris":  {mv(2020, time.January, 30)},
		"Berlin": {mv(2020, time.January, 20)},
	}
	eu27 := []aggregate.MonthValue{mv(2020, time.January, 25)}
	averages := []aggregate.CityAverage{{City: "Paris", Mean: 30, Count: 1}, {City: "Berlin", Mean: 20, Count: 1}}

	spec := TimeSeries(filter, series, eu27, averages)

	assert.Equal(t, TabTimeSeries, spec.Tab)
	assert.False(t, spec.Empty)
	require.Len(t, spec.Charts, 1)
	chart := spec.Charts[0]
	assert.Equal(t, Line, chart.Kind)
	require.Len(t, chart.Series, 3)

	assert.Equal(t, "Berlin", chart.Series[0].Name)
	assert.Equal(t, Below, chart.Series[0].Points[0].Class)
	assert.Equal(t, ColorBelow, chart.Series[0].Points[0].Color)

	assert.Equal(t, "Paris", chart.Series[1].Name)
	assert.Equal(t, Above, chart.Series[1].Points[0].Class)
	assert.Equal(t, ColorAbove, chart.Series[1].Points[0].Color)

	assert.Equal(t, models.EU27, chart.Series[2].Name)
	assert.Equal(t, Number(25), chart.Series[2].Points[0].Y)
	assert.Equal(t, Equal, chart.Series[2].Points[0].Class)

	require.Len(t, spec.Tables, 1)
	assert.Equal(t, []string{"Paris", "30.00", "1"}, spec.Tables[0].Rows[0])
}

func TestMonthlyBars_EU27RestrictedToCoveredMonths(t *testing.T) {
	filter := models.FilterState{Cities: []string{"Rome"}, FromYear: 2021, ToYear: 2021}
	series := map[string][]aggregate.MonthValue{
		"Rome": {mv(2021, time.March, 41)},
	}
	eu27 := []aggregate.MonthValue{mv(2021, time.February, 30), mv(2021, time.March, 35)}

	spec := MonthlyBars(filter, series, eu27)

	require.Len(t, spec.Charts, 1)
	assert.Equal(t, Bar, spec.Charts[0].Kind)
	ref := spec.Charts[0].Series[1]
	require.Len(t, ref.Points, 1)
	assert.Equal(t, "2021-03", ref.Points[0].X)
	assert.Equal(t, Above, spec.Charts[0].Series[0].Points[0].Class)
}

func TestCorrelationScatter_NaNIsNullAndNeutral(t *testing.T) {
	filter := models.FilterState{Cities: []string{"Oslo", "Vienna"}, FromYear: 2018, ToYear: 2025}
	spec := CorrelationScatter(filter, map[string]float64{"Vienna": -1, "Oslo": math.NaN()})

	chart := spec.Charts[0]
	require.NotNil(t, chart.ColorScale)
	assert.True(t, chart.ColorScale.Reverse)
	points := chart.Series[0].Points
	require.Len(t, points, 2)
	assert.Equal(t, "Oslo", points[0].X)
	assert.Equal(t, ColorNeutral, points[0].Color)
	assert.Equal(t, "#1a9850", points[1].Color)
	assert.Equal(t, []string{"Oslo", "n/a"}, spec.Tables[0].Rows[0])

	b, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"y":null`)
}

func TestSeasonalBoxplot_SeasonOrderAndColors(t *testing.T) {
	filter := models.FilterState{Cities: []string{"Warsaw"}, FromYear: 2020, ToYear: 2021}
	dist := map[aggregate.CitySeason][]float64{
		{City: "Warsaw", Season: models.Summer}: {20, 22},
		{City: "Warsaw", Season: models.Winter}: {40, 44, 42},
	}

	spec := SeasonalBoxplot(filter, dist)

	require.Len(t, spec.Charts[0].Series, 1)
	boxes := spec.Charts[0].Series[0].Boxes
	require.Len(t, boxes, 2)
	assert.Equal(t, string(models.Winter), boxes[0].Group)
	assert.Equal(t, SeasonColor(models.Winter), boxes[0].Color)
	assert.Equal(t, 42.0, boxes[0].Stats.Median)
	assert.Equal(t, string(models.Summer), boxes[1].Group)
}

func TestPlaceholder(t *testing.T) {
	spec := Placeholder(TabSeasonal, models.FilterState{FromYear: 2018, ToYear: 2025}, NoSelectionWarning)
	assert.True(t, spec.Empty)
	assert.Empty(t, spec.Charts)
	assert.Equal(t, NoSelectionWarning, spec.Warning)
}

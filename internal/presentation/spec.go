package presentation

import (
	"bytes"
	"errors"
	"math"
	"strconv"

	"github.com/kjstillabower/no2-dashboard/internal/aggregate"
	"github.com/kjstillabower/no2-dashboard/internal/models"
)

// Tab names one of the dashboard views.
type Tab string

const (
	TabTimeSeries  Tab = "timeseries"
	TabMonthly     Tab = "monthly"
	TabCorrelation Tab = "correlation"
	TabSeasonal    Tab = "seasonal"
)

// Tabs lists the views in display order.
var Tabs = []Tab{TabTimeSeries, TabMonthly, TabCorrelation, TabSeasonal}

// ErrUnknownTab is returned by ParseTab for names outside Tabs.
var ErrUnknownTab = errors.New("unknown tab")

// ParseTab validates a tab name.
func ParseTab(s string) (Tab, error) {
	for _, t := range Tabs {
		if string(t) == s {
			return t, nil
		}
	}
	return "", ErrUnknownTab
}

// Title is the heading shown for the tab.
func (t Tab) Title() string {
	switch t {
	case TabTimeSeries:
		return "NO₂ Over Time"
	case TabMonthly:
		return "Monthly NO₂ by City vs EU27"
	case TabCorrelation:
		return "NO₂ Trend Correlation by City"
	case TabSeasonal:
		return "Seasonal NO₂ Distribution"
	default:
		return string(t)
	}
}

// ChartKind is the rendering primitive for a chart.
type ChartKind string

const (
	Line    ChartKind = "line"
	Bar     ChartKind = "bar"
	Scatter ChartKind = "scatter"
	Boxplot ChartKind = "boxplot"
)

// Number is a float that encodes NaN and ±Inf as JSON null.
type Number float64

// IsNaN reports whether the number is undefined.
func (n Number) IsNaN() bool {
	return math.IsNaN(float64(n))
}

func (n Number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

func (n *Number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*n = Number(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// Axis labels one chart axis. Type is temporal, nominal or quantitative.
type Axis struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Point is one mark of a line, bar or scatter chart.
type Point struct {
	X     string         `json:"x"`
	Y     Number         `json:"y"`
	Color string         `json:"color,omitempty"`
	Class DeviationClass `json:"class,omitempty"`
}

// Box is one boxplot mark.
type Box struct {
	Group string             `json:"group"`
	Stats aggregate.BoxStats `json:"stats"`
	Color string             `json:"color"`
}

// Series is a named group of marks sharing a legend entry.
type Series struct {
	Name   string  `json:"name"`
	Color  string  `json:"color"`
	Points []Point `json:"points,omitempty"`
	Boxes  []Box   `json:"boxes,omitempty"`
}

// ColorScale describes a continuous color encoding.
type ColorScale struct {
	Scheme  string     `json:"scheme"`
	Domain  [2]float64 `json:"domain"`
	Reverse bool       `json:"reverse"`
	Stops   []string   `json:"stops"`
}

// Chart is one declarative chart primitive.
type Chart struct {
	Kind          ChartKind   `json:"kind"`
	Title         string      `json:"title"`
	XAxis         Axis        `json:"xAxis"`
	YAxis         Axis        `json:"yAxis"`
	HoverTemplate string      `json:"hoverTemplate"`
	Series        []Series    `json:"series"`
	ColorScale    *ColorScale `json:"colorScale,omitempty"`
}

// Table is a tabular block shown beside charts.
type Table struct {
	Title   string     `json:"title"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// RenderSpec is everything the rendering layer needs to draw one tab.
type RenderSpec struct {
	Tab     Tab                `json:"tab"`
	Title   string             `json:"title"`
	Filter  models.FilterState `json:"filter"`
	Charts  []Chart            `json:"charts"`
	Tables  []Table            `json:"tables,omitempty"`
	Warning string             `json:"warning,omitempty"`
	Empty   bool               `json:"empty"`
}

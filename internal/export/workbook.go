// Package export writes the data behind the dashboard tabs to an XLSX workbook.
package export

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kjstillabower/no2-dashboard/internal/aggregate"
	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
	"github.com/kjstillabower/no2-dashboard/internal/view"
)

// Sheet names in workbook order.
const (
	SheetAverages    = "Averages"
	SheetMonthly     = "Monthly"
	SheetCorrelation = "Correlation"
	SheetSeasonal    = "Seasonal"
)

type styles struct {
	header int
	class  map[presentation.DeviationClass]int
}

// Workbook renders data as an XLSX file and returns its bytes.
func Workbook(data view.ExportData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	_ = f.SetDocProps(&excelize.DocProperties{
		Title:       "NO₂ Dashboard Export",
		Subject:     "Monthly NO₂ concentrations for European capitals",
		Creator:     "no2-dashboard",
		Description: fmt.Sprintf("Cities %v, %d-%d, dataset %s", data.Filter.Cities, data.Filter.FromYear, data.Filter.ToYear, data.Version),
		Created:     time.Now().UTC().Format(time.RFC3339),
	})

	st, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("create styles: %w", err)
	}
	if err := f.SetSheetName("Sheet1", SheetAverages); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetMonthly, SheetCorrelation, SheetSeasonal} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	if err := writeAverages(f, st, data.Averages); err != nil {
		return nil, fmt.Errorf("write averages sheet: %w", err)
	}
	if err := writeMonthly(f, st, data.Monthly, data.EU27); err != nil {
		return nil, fmt.Errorf("write monthly sheet: %w", err)
	}
	if err := writeCorrelation(f, st, data.Correlation); err != nil {
		return nil, fmt.Errorf("write correlation sheet: %w", err)
	}
	if err := writeSeasonal(f, st, data.Seasonal); err != nil {
		return nil, fmt.Errorf("write seasonal sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func newStyles(f *excelize.File) (styles, error) {
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return styles{}, err
	}
	st := styles{header: header, class: make(map[presentation.DeviationClass]int)}
	for _, c := range []presentation.DeviationClass{presentation.Above, presentation.Below, presentation.Equal} {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{c.Color()}},
		})
		if err != nil {
			return styles{}, err
		}
		st.class[c] = id
	}
	return st, nil
}

func writeHeader(f *excelize.File, st styles, sheet string, columns ...interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &columns); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, st.header)
}

func writeRow(f *excelize.File, sheet string, row int, values ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func writeAverages(f *excelize.File, st styles, averages []aggregate.CityAverage) error {
	if err := writeHeader(f, st, SheetAverages, "City", "Average NO₂ (µg/m³)", "Months"); err != nil {
		return err
	}
	for i, a := range averages {
		if err := writeRow(f, SheetAverages, i+2, a.City, a.Mean, a.Count); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetAverages, "A", "B", 20)
}

func writeMonthly(f *excelize.File, st styles, monthly map[string][]aggregate.MonthValue, eu27 []aggregate.MonthValue) error {
	if err := writeHeader(f, st, SheetMonthly, "City", "Month", "NO₂ (µg/m³)", "EU27 (µg/m³)", "Deviation"); err != nil {
		return err
	}
	baseline := aggregate.Index(eu27)
	cities := make([]string, 0, len(monthly))
	for c := range monthly {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	row := 2
	for _, city := range cities {
		for _, p := range monthly[city] {
			ref, ok := baseline[p.Month]
			if !ok {
				if err := writeRow(f, SheetMonthly, row, city, p.Month.String(), p.Value); err != nil {
					return err
				}
				row++
				continue
			}
			class := presentation.ClassifyDeviation(p.Value, ref, false)
			if err := writeRow(f, SheetMonthly, row, city, p.Month.String(), p.Value, ref, string(class)); err != nil {
				return err
			}
			cell, err := excelize.CoordinatesToCellName(5, row)
			if err != nil {
				return err
			}
			if err := f.SetCellStyle(SheetMonthly, cell, cell, st.class[class]); err != nil {
				return err
			}
			row++
		}
	}
	for _, p := range eu27 {
		if err := writeRow(f, SheetMonthly, row, models.EU27, p.Month.String(), p.Value, p.Value, string(presentation.Equal)); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeCorrelation(f *excelize.File, st styles, coefficients map[string]float64) error {
	if err := writeHeader(f, st, SheetCorrelation, "City", "Pearson r"); err != nil {
		return err
	}
	cities := make([]string, 0, len(coefficients))
	for c := range coefficients {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	for i, city := range cities {
		r := coefficients[city]
		var v interface{} = r
		if math.IsNaN(r) {
			v = ""
		}
		if err := writeRow(f, SheetCorrelation, i+2, city, v); err != nil {
			return err
		}
	}
	return nil
}

func writeSeasonal(f *excelize.File, st styles, seasonal map[aggregate.CitySeason]aggregate.BoxStats) error {
	if err := writeHeader(f, st, SheetSeasonal, "City", "Season", "Min", "Q1", "Median", "Q3", "Max", "Count"); err != nil {
		return err
	}
	keys := make([]aggregate.CitySeason, 0, len(seasonal))
	for k := range seasonal {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].City != keys[j].City {
			return keys[i].City < keys[j].City
		}
		return seasonIndex(keys[i].Season) < seasonIndex(keys[j].Season)
	})
	for i, k := range keys {
		s := seasonal[k]
		if err := writeRow(f, SheetSeasonal, i+2, k.City, string(k.Season), s.Min, s.Q1, s.Median, s.Q3, s.Max, s.Count); err != nil {
			return err
		}
	}
	return nil
}

func seasonIndex(s models.Season) int {
	for i, v := range models.Seasons {
		if v == s {
			return i
		}
	}
	return len(models.Seasons)
}

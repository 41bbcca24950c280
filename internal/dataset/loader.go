package dataset

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kjstillabower/no2-dashboard/internal/models"
)

// LoadError is returned when the input file is missing, unreadable or does not
// match the expected {city, date, value} schema. A failed load never yields a partial dataset.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("load %s: %s", e.Path, e.Reason)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ErrMissingColumn is wrapped by LoadError when a required header is absent.
var ErrMissingColumn = errors.New("missing required column")

// ErrDuplicateMeasurement is wrapped by LoadError when a (city, month) pair repeats.
var ErrDuplicateMeasurement = errors.New("duplicate city/month measurement")

// ErrNoRows is wrapped by LoadError when no usable rows remain after parsing.
var ErrNoRows = errors.New("no usable rows")

// Header aliases, matched case-insensitively.
var (
	cityHeaders  = []string{"city"}
	monthHeaders = []string{"date", "month"}
	valueHeaders = []string{"value", "no2"}
)

var dateLayouts = []string{
	"2006-01",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Dataset is an immutable, fully loaded measurement table plus file metadata.
type Dataset struct {
	Path     string
	ModTime  time.Time
	Size     int64
	Version  string
	LoadedAt time.Time

	// Records are sorted by city, then month.
	Records []models.Measurement
	Cities  []string
	First   models.Month
	Last    models.Month
	Skipped int
}

// Load reads a long-format CSV or XLSX file into a Dataset.
func Load(path string) (*Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "stat file", Err: err}
	}
	rows, err := readRows(path)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "read file", Err: err}
	}
	records, skipped, err := ParseRows(rows)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "parse rows", Err: err}
	}

	ds := &Dataset{
		Path:     path,
		ModTime:  info.ModTime(),
		Size:     info.Size(),
		Version:  version(path, info.ModTime(), info.Size()),
		LoadedAt: time.Now(),
		Records:  records,
		Skipped:  skipped,
	}
	ds.index()
	return ds, nil
}

// readRows returns raw string rows (header first) from a .csv or .xlsx file.
func readRows(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSX(path)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// ParseRows converts header + data rows into measurements sorted by city and month.
// Rows with an empty city, an unparseable date or a missing/non-numeric value are
// skipped and counted; they are never zero-filled. Input rows named EU27 are skipped
// because that series is always derived.
func ParseRows(rows [][]string) ([]models.Measurement, int, error) {
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	cityIdx, monthIdx, valueIdx, err := locateColumns(rows[0])
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]struct{}, len(rows))
	records := make([]models.Measurement, 0, len(rows)-1)
	skipped := 0
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		city := cell(row, cityIdx)
		if city == "" || city == models.EU27 {
			skipped++
			continue
		}
		month, ok := parseDate(cell(row, monthIdx))
		if !ok {
			skipped++
			continue
		}
		value, ok := parseValue(cell(row, valueIdx))
		if !ok {
			skipped++
			continue
		}
		key := city + "|" + month.String()
		if _, dup := seen[key]; dup {
			return nil, skipped, fmt.Errorf("%w: %s %s (row %d)", ErrDuplicateMeasurement, city, month, i+2)
		}
		seen[key] = struct{}{}
		records = append(records, models.Measurement{City: city, Month: month, Value: value})
	}
	if len(records) == 0 {
		return nil, skipped, ErrNoRows
	}

	sort.Slice(records, func(a, b int) bool {
		if records[a].City != records[b].City {
			return records[a].City < records[b].City
		}
		return records[a].Month.Before(records[b].Month)
	})
	return records, skipped, nil
}

func locateColumns(header []string) (city, month, value int, err error) {
	city, month, value = -1, -1, -1
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case city < 0 && contains(cityHeaders, name):
			city = i
		case month < 0 && contains(monthHeaders, name):
			month = i
		case value < 0 && contains(valueHeaders, name):
			value = i
		}
	}
	var missing []string
	if city < 0 {
		missing = append(missing, "city")
	}
	if month < 0 {
		missing = append(missing, "date")
	}
	if value < 0 {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return city, month, value, nil
}

func parseDate(s string) (models.Month, bool) {
	if s == "" {
		return models.Month{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.NewMonth(t), true
		}
	}
	return models.Month{}, false
}

func parseValue(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// index fills the derived city list and month bounds. Records must be non-empty.
func (d *Dataset) index() {
	d.First, d.Last = d.Records[0].Month, d.Records[0].Month
	cities := make([]string, 0)
	for i, r := range d.Records {
		if i == 0 || r.City != d.Records[i-1].City {
			cities = append(cities, r.City)
		}
		if r.Month.Before(d.First) {
			d.First = r.Month
		}
		if d.Last.Before(r.Month) {
			d.Last = r.Month
		}
	}
	d.Cities = cities
}

func version(path string, modTime time.Time, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, modTime.UnixNano(), size)))
	return hex.EncodeToString(sum[:])[:12]
}

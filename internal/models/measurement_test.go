package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeasonOf(t *testing.T) {
	tests := []struct {
		month time.Month
		want  Season
	}{
		{time.December, Winter},
		{time.January, Winter},
		{time.February, Winter},
		{time.March, Spring},
		{time.May, Spring},
		{time.June, Summer},
		{time.August, Summer},
		{time.September, Autumn},
		{time.November, Autumn},
	}
	for _, tt := range tests {
		if got := SeasonOf(tt.month); got != tt.want {
			t.Errorf("SeasonOf(%v) = %s, want %s", tt.month, got, tt.want)
		}
	}
}

func TestMonth_OrdinalAndBefore(t *testing.T) {
	dec := Month{Year: 2019, Month: time.December}
	jan := Month{Year: 2020, Month: time.January}
	if jan.Ordinal()-dec.Ordinal() != 1 {
		t.Errorf("ordinal gap = %d, want 1", jan.Ordinal()-dec.Ordinal())
	}
	if !dec.Before(jan) || jan.Before(dec) {
		t.Error("Before ordering wrong across year boundary")
	}
}

func TestMonth_JSON(t *testing.T) {
	m := Measurement{City: "Berlin", Month: Month{Year: 2020, Month: time.February}, Value: 21.5}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"city":"Berlin","month":"2020-02","value":21.5}` {
		t.Errorf("Marshal() = %s", raw)
	}
	var back Measurement
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != m {
		t.Errorf("Unmarshal() = %+v, want %+v", back, m)
	}
}

func TestFilterState_KeyIgnoresCityOrder(t *testing.T) {
	a := FilterState{Cities: []string{"Paris", "Berlin"}, FromYear: 2018, ToYear: 2025}
	b := FilterState{Cities: []string{"Berlin", "Paris"}, FromYear: 2018, ToYear: 2025}
	if a.Key() != b.Key() {
		t.Errorf("Key() differs: %q vs %q", a.Key(), b.Key())
	}
	if a.Cities[0] != "Paris" {
		t.Error("Key() must not reorder the caller's slice")
	}
}

func TestFilterState_Includes(t *testing.T) {
	f := FilterState{Cities: []string{"Berlin"}, FromYear: 2019, ToYear: 2020}
	in := Measurement{City: "Berlin", Month: Month{Year: 2020, Month: time.December}}
	wrongCity := Measurement{City: "Paris", Month: Month{Year: 2020, Month: time.January}}
	wrongYear := Measurement{City: "Berlin", Month: Month{Year: 2021, Month: time.January}}
	if !f.Includes(in) {
		t.Error("Includes() = false for in-range record")
	}
	if f.Includes(wrongCity) || f.Includes(wrongYear) {
		t.Error("Includes() = true for out-of-filter record")
	}
}

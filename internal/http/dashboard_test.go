package http

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/no2-dashboard/internal/lifecycle"
	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
	"github.com/kjstillabower/no2-dashboard/internal/traffic"
)

// TestHandler_GetDashboard verifies the page renders the active tab, the city
// checkboxes and links to every tab.
func TestHandler_GetDashboard(t *testing.T) {
	// Arrange
	h, _ := newTestHandler(t, testCSV, nil, nil)

	// Act
	w := serve(h, httptest.NewRequest("GET", "/?tab=monthly&cities=Berlin,Paris&from=2020&to=2020", nil))

	// Assert
	if w.Code != http.StatusOK {
		t.Fatalf("GetDashboard() status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		presentation.TabMonthly.Title(),
		`value="Berlin" checked`,
		`value="Paris" checked`,
		presentation.TabSeasonal.Title(),
		"/api/export.xlsx?",
		"EU27",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

// TestHandler_GetDashboard_EmptySelection verifies the no-selection warning is shown.
func TestHandler_GetDashboard_EmptySelection(t *testing.T) {
	// Arrange
	h, _ := newTestHandler(t, testCSV, nil, nil)

	// Act
	w := serve(h, httptest.NewRequest("GET", "/?cities=", nil))

	// Assert
	if w.Code != http.StatusOK {
		t.Fatalf("GetDashboard() status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), presentation.NoSelectionWarning) {
		t.Error("body missing no-selection warning")
	}
}

// TestHandler_GetDashboard_InvalidFilter verifies a bad filter renders the
// default view with the error and status 400.
func TestHandler_GetDashboard_InvalidFilter(t *testing.T) {
	// Arrange
	h, _ := newTestHandler(t, testCSV, nil, nil)

	// Act
	w := serve(h, httptest.NewRequest("GET", "/?from=abcd", nil))

	// Assert
	if w.Code != http.StatusBadRequest {
		t.Errorf("GetDashboard() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), `class="error"`) {
		t.Error("body missing error block")
	}
}

// TestHandler_GetDashboard_UnknownTab verifies 404 for unknown tabs.
func TestHandler_GetDashboard_UnknownTab(t *testing.T) {
	// Arrange
	h, _ := newTestHandler(t, testCSV, nil, nil)

	// Act
	w := serve(h, httptest.NewRequest("GET", "/?tab=heatmap", nil))

	// Assert
	if w.Code != http.StatusNotFound {
		t.Errorf("GetDashboard() status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestFilterQuery_EmptySelectionRoundTrips(t *testing.T) {
	q := filterQuery(models.FilterState{FromYear: 2020, ToYear: 2021}, presentation.TabSeasonal)

	if _, ok := q["cities"]; !ok {
		t.Fatal("cities parameter missing")
	}
	if got := q.Get("cities"); got != "" {
		t.Errorf("cities = %q, want empty", got)
	}
	if got := q.Get("tab"); got != "seasonal" {
		t.Errorf("tab = %q, want seasonal", got)
	}
}

func TestFormatNumber(t *testing.T) {
	if got := formatNumber(presentation.Number(12.5)); got != "12.50" {
		t.Errorf("formatNumber(12.5) = %q, want 12.50", got)
	}
	if got := formatNumber(presentation.Number(math.NaN())); got != "n/a" {
		t.Errorf("formatNumber(NaN) = %q, want n/a", got)
	}
}

// TestHandler_TestEndpoints verifies the testing-mode endpoints drive /health.
func TestHandler_TestEndpoints(t *testing.T) {
	// Arrange
	h, _ := newTestHandler(t, testCSV, &HealthConfig{Window: time.Minute, DegradedErrorPct: 50}, nil)
	router := NewRouter(h, RouterConfig{TestingMode: true})
	post := func(action, body string) map[string]interface{} {
		t.Helper()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/test/"+action, strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Fatalf("POST /test/%s status = %d", action, w.Code)
		}
		var resp map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	// Act / Assert
	if resp := post("error", `{"count": 3}`); resp["status"] != "degraded" {
		t.Errorf("after error status = %v, want degraded", resp["status"])
	}
	if got := traffic.Snapshot(time.Minute).Failures; got != 3 {
		t.Errorf("failures = %d, want 3", got)
	}
	if resp := post("shutdown", ""); resp["status"] != "shutting-down" {
		t.Errorf("after shutdown status = %v, want shutting-down", resp["status"])
	}
	if resp := post("clear", ""); resp["status"] != "healthy" {
		t.Errorf("after clear status = %v, want healthy", resp["status"])
	}
	if lifecycle.IsShuttingDown() {
		t.Error("IsShuttingDown() = true after clear")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/test/bogus", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown action status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := status["total_requests_in_window"]; !ok {
		t.Error("status missing total_requests_in_window")
	}
}

// TestRouter_TestEndpointsHiddenByDefault verifies /test is not routed outside testing mode.
func TestRouter_TestEndpointsHiddenByDefault(t *testing.T) {
	h, _ := newTestHandler(t, testCSV, nil, nil)

	w := serve(h, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("GET /test status = %d, want 404", w.Code)
	}
}

package http

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/no2-dashboard/internal/models"
	"github.com/kjstillabower/no2-dashboard/internal/observability"
	"github.com/kjstillabower/no2-dashboard/internal/presentation"
	"github.com/kjstillabower/no2-dashboard/internal/validation"
	"github.com/kjstillabower/no2-dashboard/internal/view"
)

//go:embed templates/*.html
var templateFS embed.FS

var dashboardTemplate = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"num": formatNumber,
	"f2":  func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
}).ParseFS(templateFS, "templates/dashboard.html"))

type tabLink struct {
	Title  string
	URL    string
	Active bool
}

type cityOption struct {
	Name     string
	Selected bool
}

type dashboardPage struct {
	Cities    []cityOption
	Years     []int
	Filter    models.FilterState
	Tab       presentation.Tab
	Tabs      []tabLink
	Spec      presentation.RenderSpec
	ExportURL string
	Error     string
	Version   string
}

// GetDashboard handles GET /: the filter form, tab links and the active tab
// rendered as tables.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ds, err := h.views.Dataset(ctx)
	if err != nil {
		h.record(err)
		observability.LoggerFromContext(ctx, h.logger).Warn("dashboard unavailable", zap.Error(err))
		http.Error(w, "NO₂ dataset could not be loaded", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	tabName := q.Get("tab")
	if tabName == "" {
		tabName = string(presentation.TabTimeSeries)
	}
	tab, err := validation.ValidateTab(tabName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	page := dashboardPage{Tab: tab, Version: ds.Version}
	for y := ds.First.Year; y <= ds.Last.Year; y++ {
		page.Years = append(page.Years, y)
	}

	status := http.StatusOK
	filter, err := validation.ParseFilter(q, view.DefaultFilter(ds), h.limits)
	if err != nil {
		status = http.StatusBadRequest
		page.Error = err.Error()
		filter = view.DefaultFilter(ds)
	}
	page.Filter = filter
	for _, c := range ds.Cities {
		page.Cities = append(page.Cities, cityOption{Name: c, Selected: filter.HasCity(c)})
	}
	for _, t := range presentation.Tabs {
		page.Tabs = append(page.Tabs, tabLink{Title: t.Title(), URL: "/?" + filterQuery(filter, t).Encode(), Active: t == tab})
	}
	exportQuery := filterQuery(filter, "")
	page.ExportURL = "/api/export.xlsx?" + exportQuery.Encode()

	spec, err := h.views.Render(ctx, tab, filter)
	h.record(err)
	if err != nil {
		if errors.Is(err, view.ErrDatasetUnavailable) {
			http.Error(w, "NO₂ dataset could not be loaded", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Unable to render view", http.StatusInternalServerError)
		return
	}
	page.Spec = spec

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := dashboardTemplate.Execute(w, page); err != nil {
		observability.LoggerFromContext(ctx, h.logger).Error("dashboard template failed", zap.Error(err))
	}
}

// filterQuery encodes filter as query parameters. cities is always present so
// an empty selection round-trips as empty rather than as the default.
func filterQuery(filter models.FilterState, tab presentation.Tab) url.Values {
	q := url.Values{}
	q.Set("cities", strings.Join(filter.Cities, ","))
	q.Set("from", strconv.Itoa(filter.FromYear))
	q.Set("to", strconv.Itoa(filter.ToYear))
	if tab != "" {
		q.Set("tab", string(tab))
	}
	return q
}

func formatNumber(n presentation.Number) string {
	if n.IsNaN() {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", float64(n))
}

package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/qepting91/termfreq/internal/estimate"
	"github.com/qepting91/termfreq/internal/storage"
)

// Store is the read side of the results table
type Store interface {
	Overall(ctx context.Context, kinds ...string) ([]storage.Row, error)
	Forums(ctx context.Context, prefix, suffix string) ([]storage.Row, error)
}

const topForums = 20

type Server struct {
	results Store
	logger  *slog.Logger
}

func NewServer(results Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{results: results, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHeatmap)
	mux.HandleFunc("GET /forums", s.handleForums)
	return mux
}

// StartServer serves the dashboard until ctx is cancelled
func StartServer(ctx context.Context, results Store, port string, logger *slog.Logger) error {
	s := NewServer(results, logger)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting Dashboard", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleHeatmap plots log10(1+count) for every prefix/suffix pair. The kind
// query parameter picks the source, comment estimates by default.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	kinds, err := heatmapKinds(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.results.Overall(r.Context(), kinds...)
	if err != nil {
		s.fail(w, "load results", err)
		return
	}
	hm, err := heatmap(rows, strings.Join(kinds, ", "))
	if err != nil {
		s.fail(w, "build heatmap", err)
		return
	}

	page := components.NewPage()
	page.PageTitle = "Compound term frequency"
	page.AddCharts(hm)
	if err := page.Render(w); err != nil {
		s.logger.Error("Render failed", "err", err)
	}
}

// heatmapKinds parses a comma-separated kind list. Each term has at most one
// row among the comment estimate kinds, so those may be combined; raw and
// n-gram rows are a separate source and must be asked for alone.
func heatmapKinds(param string) ([]string, error) {
	if param == "" {
		return kindNames(estimate.CountKinds), nil
	}
	comment := make(map[string]bool, len(estimate.CountKinds))
	for _, k := range estimate.CountKinds {
		comment[string(k)] = true
	}

	kinds := strings.Split(param, ",")
	for i, k := range kinds {
		kinds[i] = strings.TrimSpace(k)
	}
	if len(kinds) == 1 && (kinds[0] == string(estimate.KindRaw) || kinds[0] == string(estimate.KindNgram)) {
		return kinds, nil
	}
	for _, k := range kinds {
		if !comment[k] {
			return nil, fmt.Errorf("kind %q cannot be plotted with %q", k, param)
		}
	}
	return kinds, nil
}

func kindNames(kinds []estimate.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func (s *Server) handleForums(w http.ResponseWriter, r *http.Request) {
	pre, suff := r.URL.Query().Get("pre"), r.URL.Query().Get("suff")
	if pre == "" || suff == "" {
		http.Error(w, "pre and suff are required", http.StatusBadRequest)
		return
	}

	rows, err := s.results.Forums(r.Context(), pre, suff)
	if err != nil {
		s.fail(w, "load forums", err)
		return
	}
	if len(rows) > topForums {
		rows = rows[:topForums]
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Top forums for " + pre + suff}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)
	var barX []string
	var barY []opts.BarData
	for _, row := range rows {
		barX = append(barX, row.Forum)
		barY = append(barY, opts.BarData{Value: row.Value})
	}
	bar.SetXAxis(barX).AddSeries("Occurrences", barY)

	if err := bar.Render(w); err != nil {
		s.logger.Error("Render failed", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Error("Dashboard request failed", "op", what, "err", err)
	http.Error(w, what+": "+err.Error(), http.StatusInternalServerError)
}

// heatmap requires exactly one overall row per prefix/suffix pair
func heatmap(rows []storage.Row, label string) (*charts.HeatMap, error) {
	type pair struct{ prefix, suffix string }
	seen := make(map[pair]bool, len(rows))
	prefixIdx := make(map[string]int)
	suffixIdx := make(map[string]int)
	for _, row := range rows {
		key := pair{row.Prefix, row.Suffix}
		if seen[key] {
			return nil, fmt.Errorf("%s%s: %w", row.Prefix, row.Suffix, storage.ErrInconsistent)
		}
		seen[key] = true
		prefixIdx[row.Prefix] = 0
		suffixIdx[row.Suffix] = 0
	}

	prefixes := sortedKeys(prefixIdx)
	suffixes := sortedKeys(suffixIdx)
	for i, p := range prefixes {
		prefixIdx[p] = i
	}
	for i, sfx := range suffixes {
		suffixIdx[sfx] = i
	}

	max := 0.0
	data := make([]opts.HeatMapData, 0, len(rows))
	for _, row := range rows {
		v := math.Log10(1 + row.Value)
		if v > max {
			max = v
		}
		data = append(data, opts.HeatMapData{
			Name:  row.Prefix + row.Suffix,
			Value: [3]interface{}{suffixIdx[row.Suffix], prefixIdx[row.Prefix], math.Round(v*100) / 100},
		})
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "log10 occurrences", Subtitle: label}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: suffixes}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: prefixes}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(math.Ceil(max)),
			InRange:    &opts.VisualMapInRange{Color: []string{"#f6efa6", "#d88273", "#bf444c"}},
		}),
	)
	hm.SetXAxis(suffixes).AddSeries("occurrences", data)
	return hm, nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package monitor serves debugging-only HTML chart pages (no auth) over
// the frame log, for eyeballing capture throughput and resolution quality
// without a frontend.
package monitor

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/spatial.report/internal/framedb"
)

// WebServer holds the monitor's handlers.
type WebServer struct {
	db *framedb.DB
}

// NewWebServer creates a monitor over the frame log database.
func NewWebServer(db *framedb.DB) *WebServer {
	return &WebServer{db: db}
}

// Register attaches the monitor routes to a mux.
func (ws *WebServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/monitor/methods", ws.handleMethodCounts)
	mux.HandleFunc("/monitor/throughput", ws.handleThroughput)
	mux.HandleFunc("/monitor/confidence", ws.handleConfidence)
}

// handleMethodCounts renders a bar chart of resolution outcomes per ladder
// method.
func (ws *WebServer) handleMethodCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := ws.db.MethodCounts()
	if err != nil {
		http.Error(w, fmt.Sprintf("method counts: %v", err), http.StatusInternalServerError)
		return
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]opts.BarData, 0, len(names))
	for _, name := range names {
		data = append(data, opts.BarData{Value: counts[name]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Detection resolutions by method",
			Subtitle: "ladder outcomes over the whole frame log",
		}),
	)
	bar.SetXAxis(names).AddSeries("resolutions", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bar.Render(w); err != nil {
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
	}
}

// handleThroughput renders accepted frames per minute from the log.
func (ws *WebServer) handleThroughput(w http.ResponseWriter, r *http.Request) {
	frames, err := ws.db.RecentFrames(500)
	if err != nil {
		http.Error(w, fmt.Sprintf("recent frames: %v", err), http.StatusInternalServerError)
		return
	}

	// created_at is "YYYY-MM-DD HH:MM:SS"; bucket to the minute.
	buckets := make(map[string]int)
	for _, f := range frames {
		key := f.CreatedAt
		if len(key) >= 16 {
			key = key[:16]
		}
		buckets[key]++
	}
	minutes := make([]string, 0, len(buckets))
	for m := range buckets {
		minutes = append(minutes, m)
	}
	sort.Strings(minutes)

	data := make([]opts.LineData, 0, len(minutes))
	for _, m := range minutes {
		data = append(data, opts.LineData{Value: buckets[m]})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Capture throughput",
			Subtitle: "accepted frames per minute (latest 500 frames)",
		}),
	)
	line.SetXAxis(minutes).AddSeries("frames", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
	}
}

// handleConfidence renders a scatter of resolution confidence per point,
// successful resolutions only.
func (ws *WebServer) handleConfidence(w http.ResponseWriter, r *http.Request) {
	records, err := ws.db.RecentResolutions(1000)
	if err != nil {
		http.Error(w, fmt.Sprintf("recent resolutions: %v", err), http.StatusInternalServerError)
		return
	}

	data := make([]opts.ScatterData, 0, len(records))
	labels := make([]string, 0, len(records))
	for i, rec := range records {
		if !rec.OK {
			continue
		}
		labels = append(labels, fmt.Sprintf("%d", i))
		data = append(data, opts.ScatterData{Value: rec.Confidence})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Resolution confidence",
			Subtitle: "successful resolutions, newest first",
		}),
	)
	scatter.SetXAxis(labels).AddSeries("confidence", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := scatter.Render(w); err != nil {
		http.Error(w, fmt.Sprintf("render: %v", err), http.StatusInternalServerError)
	}
}

// Package httpapi exposes the operational HTTP API of the monitor.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/uialert/stock-alert-monitor/internal/config"
	"github.com/uialert/stock-alert-monitor/internal/dedup"
	"github.com/uialert/stock-alert-monitor/internal/pipeline"
	"github.com/uialert/stock-alert-monitor/internal/state"
	"github.com/uialert/stock-alert-monitor/internal/supervisor"
)

// App holds the read-only views the operational endpoints expose.
type App struct {
	Cfg      config.Config
	State    *state.Store
	Pipeline *pipeline.Pipeline
	Dedup    *dedup.Deduplicator
	Sup      *supervisor.Supervisor
	started  time.Time
}

// NewApp constructs the ops API application.
func NewApp(cfg config.Config, st *state.Store, p *pipeline.Pipeline, d *dedup.Deduplicator, sup *supervisor.Supervisor) *App {
	return &App{Cfg: cfg, State: st, Pipeline: p, Dedup: d, Sup: sup, started: time.Now()}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusDoc struct {
	Units    []supervisor.UnitStatus      `json:"units"`
	Products []state.ProductRecord        `json:"products"`
	Dedup    map[string]dedup.EntryStatus `json:"dedup"`
	Pipeline pipeline.Metrics             `json:"pipeline"`
	Uptime   float64                      `json:"uptime_sec"`
}

func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}
	doc := statusDoc{
		Units:    a.Sup.States(),
		Products: a.State.Snapshot(),
		Dedup:    a.Dedup.Snapshot(time.Now()),
		Pipeline: a.Pipeline.Snapshot(),
		Uptime:   time.Since(a.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	m := a.Pipeline.Snapshot()
	out := map[string]any{
		"events_enqueued":   m.Enqueued,
		"events_processed":  m.Processed,
		"events_admitted":   m.Admitted,
		"events_suppressed": m.Suppressed,
		"events_dropped":    m.Dropped,
		"alerts_delivered":  m.Delivered,
		"alerts_failed":     m.Failed,
		"backlog_size":      m.Backlog,
		"queue_depth":       m.Depth,
		"uptime_sec":        time.Since(a.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

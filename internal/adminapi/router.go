// Package adminapi implements a read-only HTTP router for health and
// fleet introspection — no device commands are issued through it, only
// status surfaced for operators and monitoring systems.
package adminapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/devicectl-core/internal/commanager"
	"github.com/nerrad567/devicectl-core/internal/devicemanager"
	"github.com/nerrad567/devicectl-core/internal/dongle"
)

// Server bundles the collaborators the admin router reports on.
type Server struct {
	el        *devicemanager.EventLoop
	managers  []commanager.Manager
	version   string
	startTime time.Time
}

// New constructs the admin HTTP handler. managers is the full set of
// registered Communication Manager backends, reported by name and
// scanning status.
func New(el *devicemanager.EventLoop, managers []commanager.Manager, version string) http.Handler {
	s := &Server{el: el, managers: managers, version: version, startTime: time.Now()}
	return s.router()
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/devices", s.handleDevices)
	r.Get("/metrics", s.handleMetrics)

	return r
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

type deviceSummary struct {
	DeviceIndex uint32 `json:"device_index"`
	DeviceName  string `json:"device_name"`
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	list := s.el.ListDevices()
	out := make([]deviceSummary, len(list))
	for i, d := range list {
		out[i] = deviceSummary{DeviceIndex: d.DeviceIndex, DeviceName: d.DeviceName}
	}
	writeJSON(w, http.StatusOK, out)
}

type runtimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

type transportStatus struct {
	Name     string        `json:"name"`
	Scanning bool          `json:"scanning"`
	Stats    *dongle.Stats `json:"stats,omitempty"`
}

// statsReporter is implemented by commanager.Manager backends that
// expose operational counters beyond the base contract, such as
// dongle.Driver.
type statsReporter interface {
	Stats() dongle.Stats
}

type metricsResponse struct {
	Timestamp   string            `json:"timestamp"`
	DeviceCount int               `json:"device_count"`
	Runtime     runtimeMetrics    `json:"runtime"`
	Transports  []transportStatus `json:"transports"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	transports := make([]transportStatus, 0, len(s.managers))
	for _, m := range s.managers {
		ts := transportStatus{
			Name:     m.Name(),
			Scanning: m.ScanningStatus().Load(),
		}
		if sr, ok := m.(statsReporter); ok {
			stats := sr.Stats()
			ts.Stats = &stats
		}
		transports = append(transports, ts)
	}

	writeJSON(w, http.StatusOK, metricsResponse{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		DeviceCount: s.el.DeviceCount(),
		Runtime: runtimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Transports: transports,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

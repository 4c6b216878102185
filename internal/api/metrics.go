package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/telemetry"
)

// SystemMetrics represents the complete metrics response.
type SystemMetrics struct {
	Timestamp     string                      `json:"timestamp"`
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Runtime       RuntimeMetrics              `json:"runtime"`
	WebSocket     WSMetrics                   `json:"websocket"`
	Core          core.Stats                  `json:"core"`
	Registry      channel.Stats               `json:"registry"`
	Publisher     *telemetry.PublisherMetrics `json:"publisher,omitempty"`
	Ingress       *telemetry.IngressMetrics   `json:"ingress,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleMetrics returns runtime, core and telemetry metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Core:      s.core.Stats(),
		Registry:  s.core.Registry().Stats(),
	}
	if s.publisher != nil {
		m := s.publisher.Metrics()
		metrics.Publisher = &m
	}
	if s.ingress != nil {
		m := s.ingress.Metrics()
		metrics.Ingress = &m
	}

	writeJSON(w, http.StatusOK, metrics)
}

// handleStats returns the core runtime statistics alone.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Stats())
}

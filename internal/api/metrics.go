package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/gateway"
	"github.com/MostafaZare/Water-Treatment-Monitoring/internal/rpc"
)

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Gateway       gateway.Stats  `json:"gateway"`
	RPC           rpc.Stats      `json:"rpc"`
	StateKeys     int            `json:"state_keys"`
}

// RuntimeMetrics are Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(mem.TotalAlloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		Gateway:   s.gateway.Stats(),
		RPC:       s.registry.Stats(),
		StateKeys: len(s.state.Snapshot()),
	})
}

// handleTelemetry returns the last sample the telemetry loop collected.
func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	if s.telemetry == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "telemetry loop not running")
		return
	}

	sample, at := s.telemetry.Last()
	resp := map[string]any{"values": sample}
	if !at.IsZero() {
		resp["collected_at"] = at.UTC().Format(time.RFC3339)
	}
	if sample == nil {
		resp["values"] = map[string]any{}
	}
	writeJSON(w, http.StatusOK, resp)
}

package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// handleMetrics reports host and process stats for the ops dashboard.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics := map[string]interface{}{
		"timestamp":  time.Now().Format(time.RFC3339),
		"goroutines": runtime.NumGoroutine(),
		"ws_clients": s.hub.ConnectionCount(),
	}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		metrics["cpu"] = cpuPercent[0]
	} else {
		metrics["cpu"] = 0.0
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics["memory"] = memInfo.UsedPercent
	}

	if diskInfo, err := disk.UsageWithContext(ctx, "/"); err == nil {
		metrics["disk"] = diskInfo.UsedPercent
	}

	writeJSON(w, http.StatusOK, metrics)
}

package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/R3E-Network/commerce_layer/internal/httputil"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// ModuleInfo describes one mounted module.
type ModuleInfo struct {
	Name        string `json:"name"`
	BasePath    string `json:"base_path"`
	Namespace   string `json:"namespace"`
	Description string `json:"description,omitempty"`
	Endpoints   int    `json:"endpoints"`
}

// HostInfo is the host summary reported by /info.
type HostInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform,omitempty"`
	UptimeSeconds uint64  `json:"uptime_seconds,omitempty"`
	CPUs          int     `json:"cpus"`
	MemoryTotal   uint64  `json:"memory_total,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_percent,omitempty"`
	Goroutines    int     `json:"goroutines"`
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Status        string       `json:"status"`
	Service       string       `json:"service"`
	Version       string       `json:"version"`
	Backend       string       `json:"backend"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Modules       []ModuleInfo `json:"modules"`
	Host          HostInfo     `json:"host"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Store:     "up",
		Version:   Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.store.Health(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("store health check failed")
		resp.Status = "degraded"
		resp.Store = "down"
		resp.Error = "store unavailable"
		status = http.StatusServiceUnavailable
	}
	s.metrics.SetStoreUp(status == http.StatusOK)
	httputil.WriteJSON(w, status, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	modules := s.registry.Modules()
	infos := make([]ModuleInfo, 0, len(modules))
	for _, m := range modules {
		infos = append(infos, ModuleInfo{
			Name:        m.Name,
			BasePath:    m.BasePath,
			Namespace:   m.Namespace.String(),
			Description: m.Description,
			Endpoints:   len(m.Endpoints),
		})
	}

	httputil.WriteJSON(w, http.StatusOK, InfoResponse{
		Status:        "active",
		Service:       s.logger.Service(),
		Version:       Version,
		Backend:       s.cfg.KVBackend,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Modules:       infos,
		Host:          hostInfo(r.Context()),
	})
}

// hostInfo collects what gopsutil can read; unreadable fields stay zero.
func hostInfo(ctx context.Context) HostInfo {
	info := HostInfo{
		OS:         runtime.GOOS,
		CPUs:       runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.UptimeSeconds = h.Uptime
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsedPct = vm.UsedPercent
	}
	return info
}

package monitoring

import (
	"fmt"
	"log/slog"
	"net/http"
)

// HealthServer exposes /health (liveness/readiness, per Monitor.Healthy)
// and /status (a human-readable summary) on its own port, the shape the
// teacher's healthcheck.go uses.
type HealthServer struct {
	monitor *Monitor
	addr    string
	logger  *slog.Logger
}

func NewHealthServer(monitor *Monitor, port string, logger *slog.Logger) *HealthServer {
	if port == "" {
		port = "8080"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{monitor: monitor, addr: ":" + port, logger: logger}
}

// Start launches the server on a background goroutine and returns
// immediately; it never stops itself, since this process lives as long as
// the daemon does.
func (h *HealthServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/status", h.status)

	h.logger.Info("health server starting", "addr", h.addr)
	go func() {
		if err := http.ListenAndServe(h.addr, mux); err != nil {
			h.logger.Error("health server stopped", "error", err)
		}
	}()
}

func (h *HealthServer) health(w http.ResponseWriter, r *http.Request) {
	if h.monitor.Healthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - %s", h.monitor.StatusSummary())
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, "unhealthy - %s", h.monitor.StatusSummary())
}

func (h *HealthServer) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%s", h.monitor.StatusSummary())
}

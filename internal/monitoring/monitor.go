// Package monitoring tracks the outcome of the most recent pipeline run
// and exposes it as a liveness/readiness signal, generalizing the
// teacher's single-agent health monitor to per-run outcomes that carry
// advisory failures separately from fatal ones.
package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Monitor is safe for concurrent use; RecordSuccess/RecordAdvisory/
// RecordFailure are called from the scheduler's run loop while Healthy and
// StatusSummary are read from an HTTP handler on another goroutine.
type Monitor struct {
	mu             sync.Mutex
	everRun        bool
	lastRunOK      bool
	lastRunTime    time.Time
	lastRunSummary string
	logger         *slog.Logger
}

func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{logger: logger}
}

// RecordSuccess records a run that reached Done with no advisory failures.
func (m *Monitor) RecordSuccess(summary string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.everRun, m.lastRunOK, m.lastRunTime, m.lastRunSummary = true, true, time.Now().UTC(), summary
	m.logger.Info("run completed", "summary", summary, "duration", duration)
}

// RecordAdvisory records a run that reached Done but accumulated advisory
// failures — still healthy, logged louder than a clean success.
func (m *Monitor) RecordAdvisory(summary string, err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.everRun, m.lastRunOK, m.lastRunTime, m.lastRunSummary = true, true, time.Now().UTC(), summary
	m.logger.Warn("run completed with advisory failures", "summary", summary, "error", err, "duration", duration)
}

// RecordFailure records a run that ended Failed or Cancelled.
func (m *Monitor) RecordFailure(err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.everRun, m.lastRunOK, m.lastRunTime, m.lastRunSummary = true, false, time.Now().UTC(), err.Error()
	m.logger.Error("run failed", "error", err, "duration", duration)
}

// Healthy reports whether the most recent run succeeded. Before any run
// has happened, the process is considered healthy so a freshly started
// daemon doesn't fail its first readiness probe.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.everRun || m.lastRunOK
}

// StatusSummary is a one-line human-readable snapshot for a status page.
func (m *Monitor) StatusSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.everRun {
		return "no runs yet"
	}
	if m.lastRunOK {
		return fmt.Sprintf("last run ok at %s: %s", m.lastRunTime.Format(time.RFC3339), m.lastRunSummary)
	}
	return fmt.Sprintf("last run failed at %s: %s", m.lastRunTime.Format(time.RFC3339), m.lastRunSummary)
}

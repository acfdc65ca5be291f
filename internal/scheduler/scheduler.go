// Package scheduler drives the pipeline on a cron cadence, invoking the
// Request Plane's run() operation and routing outcomes into a Monitor
// instead of the stdlib logger directly.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"newsdigest/internal/model"
	"newsdigest/internal/monitoring"
)

// Runner is the one operation the scheduler drives: a full pipeline run.
// Satisfied by *requestplane.Plane without this package importing it,
// keeping the dependency direction from requestplane/cmd inward.
type Runner interface {
	Run(ctx context.Context, windowHours, topN int, skipEmail bool) (model.RunRecord, error)
}

// Config holds the cron schedule plus the window/top-n/skip-email values
// passed to every Runner.Run call.
type Config struct {
	Schedule    string // 6-field cron expression (seconds first)
	WindowHours int
	TopN        int
	SkipEmail   bool
}

// Scheduler fires Runner.Run on Config.Schedule. An overlapping tick is
// skipped rather than queued (cron.SkipIfStillRunning).
type Scheduler struct {
	runner  Runner
	cfg     Config
	monitor *monitoring.Monitor
	cron    *cron.Cron
	logger  *slog.Logger
}

func New(runner Runner, cfg Config, monitor *monitoring.Monitor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:  runner,
		cfg:     cfg,
		monitor: monitor,
		logger:  logger,
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start registers the cron job and blocks until ctx is cancelled, then
// waits for any in-flight run to finish before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	s.logger.Info("scheduler started", "schedule", s.cfg.Schedule, "window_hours", s.cfg.WindowHours)
	s.cron.Start()

	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// RunOnce drives a single pipeline invocation outside the cron cadence —
// shared by each scheduled tick and by a one-shot CLI entrypoint.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	rec, err := s.runner.Run(ctx, s.cfg.WindowHours, s.cfg.TopN, s.cfg.SkipEmail)
	duration := time.Since(start)

	if err != nil {
		s.monitor.RecordFailure(err, duration)
		return err
	}

	summary := fmt.Sprintf("run %d: scraped=%d summarized=%d indexed=%d ranked=%d emailed=%d",
		rec.RunID, rec.Counters.Scraped, rec.Counters.Summarized, rec.Counters.Indexed, rec.Counters.Ranked, rec.Counters.Emailed)

	if len(rec.Counters.FailedAdapters) > 0 || len(rec.Counters.FailedByKind) > 0 {
		s.monitor.RecordAdvisory(summary, fmt.Errorf("failed_adapters=%v failed_by_kind=%v", rec.Counters.FailedAdapters, rec.Counters.FailedByKind), duration)
		return nil
	}
	s.monitor.RecordSuccess(summary, duration)
	return nil
}

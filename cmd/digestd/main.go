// Command digestd is the long-running daemon: it loads configuration,
// wires the pipeline, and either drives it on Config.Schedule's cron
// cadence or, with --once, runs a single pass and exits.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"newsdigest/internal/app"
	"newsdigest/internal/config"
	"newsdigest/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	a.HealthSrv.Start()

	if cfg.HTTP.Enabled {
		srv := httpapi.New(a.Plane, logger)
		go func() {
			if err := srv.Start(cfg.HTTP.Addr); err != nil {
				logger.Error("http api stopped", "error", err)
			}
		}()
	}

	if len(os.Args) > 1 && os.Args[1] == "--once" {
		fmt.Println("Running once...")
		if err := a.Scheduler.RunOnce(ctx); err != nil {
			log.Fatalf("run failed: %v", err)
		}
		return
	}

	fmt.Println("Starting scheduler...")
	if err := a.Scheduler.Start(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("scheduler failed: %v", err)
	}
}

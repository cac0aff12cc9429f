package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaizencorps/stache/pkg/config"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStack(ctx, cfg, nil, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer st.Close(context.Background())

	if _, err := st.svc.RestoreSchedule(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "restore schedule: %v\n", err)
		return 1
	}

	if cfg.ActionTTL > 0 {
		go sweepLoop(ctx, st, cfg.Scheduler.Interval, logger)
	}

	_, _ = fmt.Fprintf(stdout, "stache %s: scheduler running every %s (ctrl+c to stop)\n", version, cfg.Scheduler.Interval)
	if err := st.runner.Run(ctx, st.svc.FireByKey); err != nil {
		_, _ = fmt.Fprintf(stderr, "scheduler: %v\n", err)
		return 1
	}
	logger.Info("shutting down")
	return 0
}

// sweepLoop expires stale pending actions on every interval.
func sweepLoop(ctx context.Context, st *stack, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.svc.SweepExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "sweep expired actions", "error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "expired pending actions", "count", n)
			}
		}
	}
}

func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger := newLogger(cfg, stderr)

	ctx := context.Background()
	st, err := openStack(ctx, cfg, nil, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	st.Close(ctx)

	_, _ = fmt.Fprintf(stdout, "store: %s\n", cfg.Store.Driver)
	_, _ = fmt.Fprintf(stdout, "ledger: %s\n", cfg.Ledger.Driver)
	_, _ = fmt.Fprintf(stdout, "receipts: %s\n", cfg.Receipts.Driver)
	_, _ = fmt.Fprintln(stdout, "migrations applied")
	return 0
}

// Package main is the entry point of algorunner, the trading-day orchestrator.
// It probes the market phase every trading morning, installs the day's timetable and
// dispatches lifecycle events to the bound strategies until it is told to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/algorunner/internal/config"
	"github.com/aristath/algorunner/internal/di"
	"github.com/aristath/algorunner/pkg/logger"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("timezone", cfg.Market.Timezone).
		Str("rebuild", cfg.Scheduler.RebuildSchedule).
		Msg("Starting algorunner")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("algorunner stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("algorunner stopped")
}

// run wires the container and runs the runner and the HTTP server until SIGINT or
// SIGTERM, or until either of them fails.
func run(cfg *config.Config, log zerolog.Logger) error {
	container, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return container.Runner.Run(ctx)
	})

	if container.Server != nil {
		group.Go(func() error {
			if err := container.Server.Run(ctx, httpShutdownTimeout); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	return group.Wait()
}

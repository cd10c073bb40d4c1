// Package main is the entry point for the credit risk scoring service.
// It restores or trains the model bundle, serves scores over HTTP, and runs
// cleanup, maintenance and optional retrain and mirror jobs on cron schedules.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/riskscore/internal/config"
	"github.com/aristath/riskscore/internal/di"
	"github.com/aristath/riskscore/internal/metrics"
	"github.com/aristath/riskscore/internal/server"
	"github.com/aristath/riskscore/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires databases, services and jobs via the DI container
// 4. Starts the HTTP server and the scheduler
// 5. Starts the model load in the background when LOAD_ON_STARTUP is set
// 6. Waits for a shutdown signal and shuts down gracefully
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting risk scoring service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Closing flushes the WAL so the database file is self-contained
	defer container.Close()

	go metrics.StartDBStatsCollector(ctx, container.ScoresDB.Conn(), 30*time.Second)

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
		Jobs:      jobs,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()

	// Scores requested before the load finishes either wait on it (auto-load)
	// or get a not-ready response
	if cfg.Model.LoadOnStartup {
		container.ModelManager.LoadAsync(false)
		log.Info().Msg("Model load started in background")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Waits for running jobs, including an in-flight retrain
	container.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}

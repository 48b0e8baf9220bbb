package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/config"
	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/logging"
	"github.com/JonMunkholm/hpsync/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"queue_mode", cfg.Queue.Mode,
		"autorun_interval", cfg.Sync.AutoRunInterval,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	server := web.NewServer(a.Service, cfg)

	// Background jobs stop when jobCtx is cancelled.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if a.Worker != nil {
		a.Worker.Start(jobCtx)
	}

	if cfg.Sync.AutoRunInterval > 0 {
		go a.Service.StartAutoRunScheduler(jobCtx, core.AutoRunConfig{
			Interval:           cfg.Sync.AutoRunInterval,
			RemoveOtherCohorts: cfg.Sync.RemoveOtherCohorts,
			RemoveOtherGroups:  cfg.Sync.RemoveOtherGroups,
			Deferred:           true,
		})
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Wait for running imports to finish writing their rows.
		limiter := a.Service.Limiter()
		if active := limiter.Active(); active > 0 {
			slog.Info("waiting for imports to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		cancelJobs()
		if a.Worker != nil {
			if err := a.Worker.Wait(); err != nil {
				slog.Warn("worker stopped with error", "error", err)
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-stopped
	slog.Info("server stopped")
}

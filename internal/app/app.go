// Package app wires configuration, Postgres, the sync service and the task
// queue together for the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/hpsync/internal/config"
	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/database"
	"github.com/JonMunkholm/hpsync/internal/queue"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Store   *database.Store
	Tasks   *database.TaskStore
	Service *core.Service

	// Worker runs queued commands. It is nil in inline queue mode.
	Worker *queue.Worker
}

// New connects to Postgres, applies the schema when configured, seeds the
// plugin settings and builds the service with its queue. The worker is
// created but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	a := &App{
		Config: cfg,
		Pool:   pool,
		Store:  database.NewStore(pool),
		Tasks:  database.NewTaskStore(pool),
	}
	a.Service = core.NewService(database.NewDirectory(pool), a.Store, a.Store, core.Options{
		ImportBatchSize:      cfg.Import.BatchSize,
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		ImportWaitTime:       cfg.Import.MaxWaitTime,
		SystemActorID:        cfg.Sync.SystemActorID,
	})

	switch cfg.Queue.Mode {
	case config.QueueModeInline:
		a.Service.UseQueue(queue.NewInline(a.Service.Execute))
	default:
		a.Service.UseQueue(queue.New(a.Tasks, cfg.Queue.MaxAttempts))
		a.Worker = queue.NewWorker(a.Tasks, a.Service.Execute, queue.WorkerConfig{
			Workers:           cfg.Queue.Workers,
			PollInterval:      cfg.Queue.PollInterval,
			LeaseDuration:     cfg.Queue.LeaseDuration,
			HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		})
	}

	if cfg.Settings.File != "" {
		if err := SeedSettings(ctx, a.Service, cfg.Settings); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return a, nil
}

// Close releases the connection pool.
func (a *App) Close() {
	a.Pool.Close()
}

// SeedSettings writes the settings file into the settings store. Without
// Overwrite, settings already stored are kept.
func SeedSettings(ctx context.Context, svc *core.Service, cfg config.SettingsConfig) error {
	file, err := config.LoadSettingsFile(cfg.File)
	if err != nil {
		return err
	}
	existing, err := svc.RawSettings(ctx)
	if err != nil {
		return fmt.Errorf("read stored settings: %w", err)
	}

	values := config.SeedValues(existing, file.Values(), cfg.Overwrite)
	if len(values) == 0 {
		slog.Info("settings seed: nothing to write", "file", cfg.File)
		return nil
	}
	if err := svc.UpdateSettings(ctx, values); err != nil {
		return fmt.Errorf("seed settings from %s: %w", cfg.File, err)
	}
	slog.Info("settings seeded", "file", cfg.File, "count", len(values))
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := database.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queued sync tasks until interrupted",
		Long: `Run the task workers without the HTTP server. Useful to add capacity
next to the server, or to drain the queue after "run --deferred".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Worker == nil {
					return fmt.Errorf("queue mode %q has no workers", a.Config.Queue.Mode)
				}

				a.Worker.Start(ctx)
				err := a.Worker.Wait()
				slog.Info("workers stopped")
				return err
			})
		},
	}
}

// Command hpsync is the administration CLI of the Hyperplanning sync: it
// imports roster files, runs them against the LMS and inspects the log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/config"
	"github.com/JonMunkholm/hpsync/internal/logging"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hpsync",
		Short:         "Synchronize Hyperplanning rosters into LMS cohorts and groups",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "Output as JSON")
	root.PersistentFlags().Int64("actor", 0, "LMS user id recorded as the actor (default: system actor)")

	root.AddCommand(importCmd())
	root.AddCommand(importsCmd())
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(logCmd())
	root.AddCommand(purgeCmd())
	root.AddCommand(settingsCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(workerCmd())
	return root
}

// loadConfig reads .env (when present) and the environment, then sets up logging.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// withApp runs fn with a connected App. SIGINT and SIGTERM cancel ctx.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// actorID returns the --actor flag, or the system actor when unset.
func actorID(cmd *cobra.Command, a *app.App) int64 {
	if id, _ := cmd.Flags().GetInt64("actor"); id > 0 {
		return id
	}
	return a.Service.SystemActorID()
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/core"
)

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change plugin settings",
	}
	cmd.AddCommand(settingsGetCmd())
	cmd.AddCommand(settingsSetCmd())
	return cmd
}

func settingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [name]",
		Short: "Show stored settings, or one setting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stored, err := a.Service.RawSettings(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if len(args) == 1 {
					if !core.KnownSetting(args[0]) {
						return fmt.Errorf("%w: unknown setting %q", core.ErrInvalidSetting, args[0])
					}
					fmt.Fprintln(out, stored[args[0]])
					return nil
				}

				if wantJSON(cmd) {
					effective, err := a.Service.Settings(ctx)
					if err != nil {
						return err
					}
					return printJSON(out, map[string]any{"effective": effective, "stored": stored})
				}

				names := make([]string, 0, len(stored))
				for name := range stored {
					names = append(names, name)
				}
				sort.Strings(names)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, name := range names {
					fmt.Fprintf(tw, "%s\t%s\n", name, stored[name])
				}
				return tw.Flush()
			})
		},
	}
}

func settingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set name=value...",
		Short: "Store one or more settings",
		Example: `  hpsync settings set field_cohort=Classe field_maingroup=Groupe
  hpsync settings set group_transform_pattern=`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Service.UpdateSettings(ctx, values); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %d settings\n", len(values))
				return nil
			})
		},
	}
}

// parseAssignments turns name=value arguments into a map. The value may be
// empty; the name may not.
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		if _, dup := values[name]; dup {
			return nil, fmt.Errorf("setting %q given twice", name)
		}
		values[name] = value
	}
	return values, nil
}

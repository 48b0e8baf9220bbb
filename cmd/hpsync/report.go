package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/core"
)

func importsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "imports",
		Short: "List imports with rows still to run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				imports, err := a.Service.UnprocessedImports(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, imports)
				}
				if len(imports) == 0 {
					fmt.Fprintln(out, "Nothing to run.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IMPORT\tUPLOADED")
				for _, imp := range imports {
					fmt.Fprintf(tw, "%d\t%s\n", imp.ImportID, imp.CreatedAt.Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the progress of every import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				statuses, err := a.Service.ImportStatuses(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, statuses)
				}
				return printStatuses(out, statuses)
			})
		},
	}
}

func printStatuses(w io.Writer, statuses []core.ImportStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPORT\tNAME\tPROGRESS\tROWS\tLATEST")
	for _, st := range statuses {
		counts := make([]string, 0, len(st.CountByStatus))
		for _, c := range st.CountByStatus {
			counts = append(counts, fmt.Sprintf("%s=%d", c.Name, c.Count))
		}
		latest := st.Latest.IDValue
		if infos := st.Latest.History.Infos(); len(infos) > 0 {
			latest += ": " + infos[len(infos)-1]
		}
		fmt.Fprintf(tw, "%d\t%s\t%d%%\t%s\t%s\n", st.ImportID, st.ImportName, st.Progress, strings.Join(counts, ", "), latest)
	}
	return tw.Flush()
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the import log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := logFilter(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				page, err := a.Service.QueryLog(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, page)
				}
				if err := printRows(out, page.Rows); err != nil {
					return err
				}
				pages := (page.Total + page.PageSize - 1) / page.PageSize
				fmt.Fprintf(out, "\nPage %d of %d (%d rows)\n", page.Page+1, max(pages, 1), page.Total)
				return nil
			})
		},
	}

	cmd.Flags().Int64("importid", 0, "Only rows of this import")
	cmd.Flags().String("idvalue", "", "Only rows whose identity contains this text")
	cmd.Flags().String("cohort", "", "Only rows whose cohort contains this text")
	cmd.Flags().Int("status", -1, "Only rows with this status code (0, 1, 2, 10, 100)")
	cmd.Flags().Int("page", 1, "Page number, starting at 1")
	cmd.Flags().Int("page-size", core.LogPageSize, "Rows per page")
	return cmd
}

func logFilter(cmd *cobra.Command) (core.LogFilter, error) {
	flags := cmd.Flags()
	var f core.LogFilter
	f.ImportID, _ = flags.GetInt64("importid")
	f.IDValue, _ = flags.GetString("idvalue")
	f.Cohort, _ = flags.GetString("cohort")
	page, _ := flags.GetInt("page")
	f.Page = page - 1
	f.PageSize, _ = flags.GetInt("page-size")

	if code, _ := flags.GetInt("status"); code >= 0 {
		st, ok := core.ParseStatus(code)
		if !ok {
			return f, fmt.Errorf("unknown status code %d", code)
		}
		f.Status = &st
	}
	return f.Normalize(), nil
}

func printRows(w io.Writer, rows []core.ImportRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IMPORT\tLINE\tIDENTITY\tCOHORT\tGROUPS\tSTATUS\tHISTORY")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ImportID, r.LineID, r.IDValue(), r.Cohort, r.GroupsCSV, r.Status, strings.Join(r.StatusText.Infos(), "; "))
	}
	return tw.Flush()
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the import log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keepLatest, _ := cmd.Flags().GetBool("keep-latest")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Service.Purge(ctx, keepLatest)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d log rows\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Bool("keep-latest", false, "Keep the rows of the most recent import")
	return cmd
}

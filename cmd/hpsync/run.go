package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/core"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Apply unprocessed import rows to the LMS",
		Long: `Apply the unprocessed rows of one import, or of every import when
--importid is omitted, to LMS cohorts and groups.

With --deferred each row is queued for the server's workers; otherwise the
rows are reconciled by this command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			importID, _ := flags.GetInt64("importid")
			req := core.RunRequest{ImportID: importID}
			req.RemoveOtherCohorts, _ = flags.GetBool("remove-cohorts")
			req.RemoveOtherGroups, _ = flags.GetBool("remove-groups")
			req.Deferred, _ = flags.GetBool("deferred")

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				req.ActorID = actorID(cmd, a)

				results := make(map[int64]core.RunResult)
				if req.ImportID > 0 {
					res, err := a.Service.RunImport(ctx, req)
					if err != nil {
						return err
					}
					results[req.ImportID] = res
				} else {
					var err error
					if results, err = a.Service.RunUnprocessed(ctx, req); err != nil {
						return err
					}
					if results == nil {
						results = map[int64]core.RunResult{}
					}
				}

				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, results)
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "Nothing to run.")
					return nil
				}

				ids := make([]int64, 0, len(results))
				for id := range results {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IMPORT\tSELECTED\tDISPATCHED\tSKIPPED\tFAILED")
				for _, id := range ids {
					r := results[id]
					fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", id, r.Selected, r.Dispatched, r.Skipped, r.Failed)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().Int64("importid", 0, "Import to run (default: every unprocessed import)")
	cmd.Flags().Bool("remove-cohorts", false, "Remove users from cohorts not named in their row")
	cmd.Flags().Bool("remove-groups", false, "Remove users from groups not named in their row")
	cmd.Flags().Bool("deferred", false, "Queue rows for the workers instead of running them here")
	return cmd
}

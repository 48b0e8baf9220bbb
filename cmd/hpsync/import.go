package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/hpsync/internal/app"
	"github.com/JonMunkholm/hpsync/internal/core"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a roster CSV and store it as a new import",
		Long: `Validate a roster CSV and store one log row per line.

Rows are checked against the LMS (user, cohort, groups) but nothing is
changed there until the import is run. Use --preview to see the result
without storing anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runImportFile(ctx, cmd, a, args[0])
			})
		},
	}

	cmd.Flags().String("name", "", "Import name shown in reports")
	cmd.Flags().String("encoding", "", "File encoding (default: IMPORT_ENCODING)")
	cmd.Flags().String("delimiter", "", "Field separator: a character or comma, semicolon, colon, tab (default: IMPORT_DELIMITER)")
	cmd.Flags().Bool("ignore-missing-groups", false, "Keep rows whose groups do not exist")
	cmd.Flags().String("idfield-column", "", "Column holding the user identity")
	cmd.Flags().String("cohort-column", "", "Column holding the cohort")
	cmd.Flags().String("maingroup-column", "", "Column holding the main group")
	cmd.Flags().String("othergroups-column", "", "Column holding the other groups")
	cmd.Flags().String("group-pattern", "", "Group name pattern in /regex/flags form; empty disables the transform")
	cmd.Flags().String("group-replacement", "", "Replacement for --group-pattern")
	cmd.Flags().Bool("preview", false, "Validate only, store nothing")

	return cmd
}

// importOptions builds ImportOptions from the import flags.
func importOptions(cmd *cobra.Command, defaults core.ImportOptions) (core.ImportOptions, error) {
	flags := cmd.Flags()
	opts := defaults

	str := func(name string) string {
		v, _ := flags.GetString(name)
		return v
	}

	if v := str("name"); v != "" {
		opts.ImportName = v
	}
	if v := str("encoding"); v != "" {
		opts.Encoding = v
	}
	delim, err := core.ParseDelimiter(str("delimiter"))
	if err != nil {
		return opts, err
	}
	if delim != 0 {
		opts.Delimiter = delim
	}

	opts.IgnoreMissingGroups, _ = flags.GetBool("ignore-missing-groups")
	opts.Fields = core.FieldNames{
		IDField:     str("idfield-column"),
		Cohort:      str("cohort-column"),
		MainGroup:   str("maingroup-column"),
		OtherGroups: str("othergroups-column"),
	}

	if flags.Changed("group-pattern") {
		p := str("group-pattern")
		opts.GroupPattern = &p
	}
	if flags.Changed("group-replacement") {
		r := str("group-replacement")
		opts.GroupReplacement = &r
	}
	return opts, nil
}

func runImportFile(ctx context.Context, cmd *cobra.Command, a *app.App, path string) error {
	opts, err := importOptions(cmd, core.ImportOptions{
		ImportName: path,
		Encoding:   a.Config.Import.Encoding,
		Delimiter:  a.Config.Import.DelimiterRune(),
		ActorID:    actorID(cmd, a),
	})
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, a.Config.Import.Timeout)
	defer cancel()

	out := cmd.OutOrStdout()

	if preview, _ := cmd.Flags().GetBool("preview"); preview {
		rows, err := a.Service.Preview(ctx, f, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
		}
		if wantJSON(cmd) {
			return printJSON(out, rows)
		}
		return printRows(out, rows)
	}

	result, err := a.Service.Import(ctx, f, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}
	if wantJSON(cmd) {
		return printJSON(out, result)
	}

	fmt.Fprintf(out, "Import %d stored with %d rows\n", result.ImportID, result.Rows)
	statuses := make([]core.Status, 0, len(result.ByStatus))
	for st := range result.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, st := range statuses {
		fmt.Fprintf(tw, "  %s\t%d\n", st, result.ByStatus[st])
	}
	return tw.Flush()
}

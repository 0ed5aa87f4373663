package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/report"
)

func newJournalCmd(o *rootOptions) *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent starts, stops and tag writes",
		Long: `Show the action journal, newest first. The journal lives in the cache
file, so it is only kept across runs when cache.path is set.`,
		Example: `  cheapskate journal
  cheapskate journal --limit 100 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !report.ValidFormat(output) {
				return fmt.Errorf("unknown output format %q", output)
			}

			st, err := openStore(o.cfg, o.deps.clock)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			entries, err := st.Entries(limit)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}

			if output == report.FormatTable {
				return report.Journal(cmd.OutOrStdout(), entries, o.deps.clock())
			}
			return report.Value(cmd.OutOrStdout(), output, entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Entries to show (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "Output format (table, json, yaml)")
	return cmd
}

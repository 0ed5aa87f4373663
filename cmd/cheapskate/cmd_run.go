package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/report"
	"github.com/yairfalse/cheapskate/internal/scheduler"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one evaluation pass",
		Long: `Run one full evaluation pass: start business-hours instances if inside
business hours, then stop every instance whose deadline has passed.
This is what the daemon does on every tick; use it from cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !report.ValidFormat(output) {
				return fmt.Errorf("unknown output format %q", output)
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res := a.engine.Run(cmd.Context())

			if output == report.FormatTable {
				printPass(cmd, res)
			} else if err := report.Value(cmd.OutOrStdout(), output, res); err != nil {
				return err
			}

			if res.Err != nil {
				return res.Err
			}
			if len(res.Errors) > 0 {
				return fmt.Errorf("pass %s finished with %d errors", res.RunID, len(res.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "Output format (table, json, yaml)")
	return cmd
}

func printPass(cmd *cobra.Command, res scheduler.PassResult) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (%s)\n", res.RunID, res.Duration)
	for _, id := range res.Booted {
		fmt.Fprintf(w, "  started   %s\n", id)
	}
	for _, id := range res.Stopped {
		fmt.Fprintf(w, "  stopped   %s\n", id)
	}
	for _, id := range sortedKeys(res.Deferred) {
		fmt.Fprintf(w, "  deferred  %s until %s\n", id, res.Deferred[id])
	}
	for _, id := range sortedKeys(res.Errors) {
		fmt.Fprintf(w, "  failed    %s: %s\n", id, res.Errors[id])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/report"
)

func newDueCmd(o *rootOptions) *cobra.Command {
	var (
		hours  float64
		output string
	)

	cmd := &cobra.Command{
		Use:   "due",
		Short: "Print running instances whose deadline falls within the lookahead",
		Example: `  cheapskate due              # Due now
  cheapskate due --hours 2    # Due within the next two hours`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if hours < 0 {
				return fmt.Errorf("--hours must not be negative")
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ids, err := a.engine.ListDueForShutdown(cmd.Context(), hoursToDuration(hours))
			if err != nil {
				return err
			}

			if output != report.FormatTable {
				if ids == nil {
					ids = []string{}
				}
				return report.Value(cmd.OutOrStdout(), output, ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 0, "Lookahead in hours")
	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "Output format (table, json, yaml)")
	return cmd
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

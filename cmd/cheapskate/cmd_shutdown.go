package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newShutdownCmd(o *rootOptions) *cobra.Command {
	var due bool

	cmd := &cobra.Command{
		Use:   "shutdown [ID...]",
		Short: "Stop instances whose deadline has passed",
		Long: `Evaluate the given instances (or, with --due, every instance that is due
now) and stop those whose deadline has passed. Default-on instances are
never stopped; instances with a future deadline are deferred.`,
		Example: `  cheapskate shutdown i-0abc123 i-0def456
  cheapskate shutdown --due`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case due && len(args) > 0:
				return fmt.Errorf("--due cannot be combined with instance IDs")
			case !due && len(args) == 0:
				return fmt.Errorf("give instance IDs or --due")
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := runContext(cmd.Context())
			ids := args
			if due {
				ids, err = a.engine.ListDueForShutdown(ctx, 0)
				if err != nil {
					return err
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOUTCOME\tOFF")

			var errs []error
			for _, id := range ids {
				res, err := a.engine.Shutdown(ctx, id)
				if err != nil {
					errs = append(errs, err)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, res.Outcome, res.OffAt)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&due, "due", false, "Shut down every instance that is due now")
	return cmd
}

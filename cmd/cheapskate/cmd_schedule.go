package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/policy"
)

func newStartBusinessHoursCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start-business-hours",
		Short: "Start stopped business-hours instances until the end of the day",
		Long: `Start every stopped instance in the business-hours group and give it a
deadline at the end of the business day. Outside business hours nothing
happens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			started, err := a.engine.StartBusinessHours(runContext(cmd.Context()))
			for _, id := range started {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return err
		},
	}
}

func newExtendCmd(o *rootOptions) *cobra.Command {
	var (
		hours float64
		user  string
	)

	cmd := &cobra.Command{
		Use:   "extend ID",
		Short: "Start an instance and keep it running for a number of hours",
		Long: `Start the instance and set its deadline to now plus --hours. Requests
whose projected cost reaches the configured threshold are shortened to the
hours the threshold buys. A request that would bring the current deadline
forward is rejected.`,
		Example: `  cheapskate extend i-0abc123 --hours 4
  cheapskate extend i-0abc123 --hours 8 --user alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			if user == "" {
				return fmt.Errorf("--user is required when $USER is not set")
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := runContext(cmd.Context())
			ok, err := a.engine.Extend(ctx, args[0], user, hoursToDuration(hours), false)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: rejected, current deadline is later\n", args[0])
				return nil
			}

			s, err := a.inventory.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: running until %s\n", s.ID, s.Policy.OffAt)
			return nil
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 0, "Hours to keep the instance running")
	cmd.Flags().StringVar(&user, "user", os.Getenv("USER"), "Requester recorded on the instance")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func newGroupCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "group ID N",
		Short: "Move an instance into a schedule group",
		Long: `Set the schedule group of an instance:

  0  default off      stopped once its deadline passes
  1  default on       never stopped
  2  business hours   started in the morning, stopped in the evening`,
		Example: `  cheapskate group i-0abc123 2`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := policy.ParseGroup(args[1])
			if err != nil {
				return err
			}

			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.engine.SetGroup(runContext(cmd.Context()), args[0], g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], g)
			return nil
		},
	}
}

func newSaveAllCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save-all",
		Short: "Rewrite the schedule tag of every instance",
		Long: `Re-encode and write the schedule tag of every priced instance. Unknown
keys are dropped and malformed tags are replaced by defaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			return a.engine.SaveAll(runContext(cmd.Context()))
		},
	}
}

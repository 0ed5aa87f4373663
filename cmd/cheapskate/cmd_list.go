package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/filter"
	"github.com/yairfalse/cheapskate/internal/policy"
	"github.com/yairfalse/cheapskate/internal/report"
)

func newListCmd(o *rootOptions) *cobra.Command {
	var (
		output      string
		groups      []int
		states      []string
		includeTags map[string]string
		excludeTags map[string]string
		refresh     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances with their schedule and hourly price",
		Long: `List every instance in the region with its decoded schedule tag.

Instances whose type is missing from the price catalog are skipped and
logged. The listing is served from the inventory cache unless --refresh
is given.`,
		Example: `  cheapskate list                         # Table of all instances
  cheapskate list --group 2 --state stopped
  cheapskate list --tag team=data -o json
  cheapskate list --refresh               # Ignore the cached listing`,
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

			if refresh {
				a.inventory.Invalidate()
			}

			stop := o.startSpinner("Listing instances ...")
			snaps, err := a.inventory.Snapshots(cmd.Context())
			stop()
			if err != nil {
				return fmt.Errorf("list instances: %w", err)
			}

			gs := make([]policy.Group, 0, len(groups))
			for _, g := range groups {
				gs = append(gs, policy.Group(g))
			}
			f := filter.New(gs, states, includeTags, excludeTags)

			return report.Instances(cmd.OutOrStdout(), output, f.Apply(snaps), a.clock())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "Output format (table, json, yaml)")
	cmd.Flags().IntSliceVar(&groups, "group", nil, "Only show these groups (0 default-off, 1 default-on, 2 business-hours)")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only show these states (running, stopped, ...)")
	cmd.Flags().StringToStringVar(&includeTags, "tag", nil, "Only show instances carrying all these tags")
	cmd.Flags().StringToStringVar(&excludeTags, "exclude-tag", nil, "Hide instances carrying any of these tags")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch a fresh listing from the provider")
	return cmd
}

// startSpinner shows progress on an interactive terminal and returns the
// function that stops it.
func (o *rootOptions) startSpinner(msg string) func() {
	if o.deps.interactive == nil || !o.deps.interactive() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond)
	s.Writer = os.Stderr
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/gateway"
	"github.com/yairfalse/cheapskate/internal/report"
	"github.com/yairfalse/cheapskate/internal/tagging"
)

func newPropagateTagCmd(o *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "propagate-tag ID TAG",
		Short: "Copy an instance tag onto its volumes and managed snapshots",
		Long: `Copy the instance's value for TAG onto every attached volume, and onto
every snapshot of those volumes that carries Managed=true.`,
		Example: `  cheapskate propagate-tag i-0abc123 CostCenter`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			s, err := a.inventory.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			rec := gateway.Record{ID: s.ID, Tags: s.Tags}
			res, perr := tagging.Propagate(cmd.Context(), a.gw, rec, args[1])

			if output != report.FormatTable {
				if err := report.Value(cmd.OutOrStdout(), output, res); err != nil {
					return err
				}
				return perr
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(tw, "RESOURCE\tKIND\tRESULT")
			for _, v := range res.Volumes {
				status := "tagged"
				if v.Err != "" {
					status = v.Err
				}
				fmt.Fprintf(tw, "%s\tvolume\t%s\n", v.VolumeID, status)
				ids := make([]string, 0, len(v.Snapshots))
				for id := range v.Snapshots {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(tw, "%s\tsnapshot\t%s\n", id, v.Snapshots[id])
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return perr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", report.FormatTable, "Output format (table, json, yaml)")
	return cmd
}

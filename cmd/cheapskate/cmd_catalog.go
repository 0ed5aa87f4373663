package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/cheapskate/internal/catalog"
)

func newCatalogCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the EC2 price catalog",
	}
	cmd.AddCommand(newCatalogFetchCmd(o))
	return cmd
}

func newCatalogFetchCmd(o *rootOptions) *cobra.Command {
	var (
		region string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download on-demand prices from the AWS Pricing API",
		Long: `Download shared-tenancy on-demand prices for one region and write them as
a catalog file keyed by "<instance-class>.<Platform>".`,
		Example: `  cheapskate catalog fetch
  cheapskate catalog fetch --region eu-west-1 --out prices-eu.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if region == "" {
				region = o.cfg.AWS.Region
			}
			if out == "" {
				out = o.cfg.Catalog.Path
			}

			client, err := o.deps.newPricing(cmd.Context(), o.cfg)
			if err != nil {
				return err
			}

			stop := o.startSpinner(fmt.Sprintf("Retrieving EC2 prices for %s ...", region))
			products, err := catalog.Fetch(cmd.Context(), client, region)
			stop()
			if err != nil {
				return err
			}

			if err := catalog.WriteFile(out, products); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s products to %s\n", humanize.Comma(int64(len(products))), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "Region to price (default from config)")
	cmd.Flags().StringVar(&out, "out", "", "Catalog file to write (default from config)")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sternrassler/endpoint-etl/internal/config"
	"github.com/Sternrassler/endpoint-etl/pkg/registry"
	"github.com/spf13/cobra"
)

func newTablesCmd(g *globalFlags) *cobra.Command {
	var suffix string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Print the tables each endpoint ingests into",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g, false, func(c *config.Config) {
				if cmd.Flags().Changed("expanded-suffix") {
					c.Ingest.ExpandedSuffix = suffix
				}
			})
			if err != nil {
				return err
			}
			reg, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			return writeTables(cmd.OutOrStdout(), reg)
		},
	}
	cmd.Flags().StringVar(&suffix, "expanded-suffix", "", "suffix of expanded table names")
	return cmd
}

func writeTables(w io.Writer, reg *registry.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tRAW TABLE\tEXPANDED TABLE\tURL TEMPLATE")
	for _, spec := range reg.Specs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.Key, spec.DestinationTable, spec.ExpandedTable, spec.URLTemplate)
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sternrassler/endpoint-etl/internal/config"
	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/spf13/cobra"
)

type expandFlags struct {
	endpoints      []string
	beginYear      int
	endYear        int
	expandedSuffix string
}

// yearRange returns nil when neither bound was given.
func (f *expandFlags) yearRange(cmd *cobra.Command) (*record.YearRange, error) {
	begin, end := cmd.Flags().Changed("begin-year"), cmd.Flags().Changed("end-year")
	if !begin && !end {
		return nil, nil
	}
	if begin != end {
		return nil, fmt.Errorf("--begin-year and --end-year must be given together")
	}
	years := record.YearRange{Begin: f.beginYear, End: f.endYear}
	if err := years.Validate(); err != nil {
		return nil, err
	}
	return &years, nil
}

func newExpandCmd(g *globalFlags) *cobra.Command {
	f := &expandFlags{}
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Rebuild expanded tables from the stored raw records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			years, err := f.yearRange(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, g, true, func(c *config.Config) {
				if cmd.Flags().Changed("expanded-suffix") {
					c.Ingest.ExpandedSuffix = f.expandedSuffix
				}
			})
			if err != nil {
				return err
			}

			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			specs, err := app.registry.Select(f.endpoints)
			if err != nil {
				return err
			}
			summaries := app.expander.ExpandAll(cmd.Context(), specs, years)
			if err := writeExpansions(cmd.OutOrStdout(), summaries); err != nil {
				return err
			}
			return cmd.Context().Err()
		},
	}
	cmd.Flags().StringSliceVar(&f.endpoints, "endpoints", nil, "comma separated endpoint keys (default all)")
	cmd.Flags().IntVar(&f.beginYear, "begin-year", 0, "only expand rows from this year on")
	cmd.Flags().IntVar(&f.endYear, "end-year", 0, "only expand rows up to this year")
	cmd.Flags().StringVar(&f.expandedSuffix, "expanded-suffix", "", "suffix of expanded table names")
	return cmd
}

func writeExpansions(w io.Writer, summaries []expand.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tEXPANDED TABLE\tCOLS\tRAW ROWS\tNOTE")
	for _, s := range summaries {
		if s.Skipped {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\tskipped: %s\n", s.EndpointKey, s.ExpandedTable, s.Reason)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t\n", s.EndpointKey, s.ExpandedTable, s.ColumnCount, s.SourceRows)
	}
	return tw.Flush()
}

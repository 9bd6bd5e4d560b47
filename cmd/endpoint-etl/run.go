package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/endpoint-etl/internal/config"
	"github.com/Sternrassler/endpoint-etl/pkg/ingest"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runFlags are the flags of the run command. Only flags set on the command
// line override the configuration.
type runFlags struct {
	beginYear      int
	endYear        int
	endpoints      []string
	maxConcurrency int
	batchSize      int
	pageDelayMS    int
	maxPages       int
	dropExisting   bool
	skipExpand     bool
	expandedSuffix string
	expandAllYears bool
	keepAwake      bool
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.beginYear, "begin-year", 0, "first year to ingest (required)")
	fs.IntVar(&f.endYear, "end-year", 0, "last year to ingest, inclusive (required)")
	fs.StringSliceVar(&f.endpoints, "endpoints", nil, "comma separated endpoint keys (default all)")
	fs.IntVar(&f.maxConcurrency, "max-concurrency", 0, "page sequences fetched at once")
	fs.IntVar(&f.batchSize, "batch-size", 0, "records per insert batch")
	fs.IntVar(&f.pageDelayMS, "page-delay-ms", 0, "pause between pages of one sequence in milliseconds")
	fs.IntVar(&f.maxPages, "max-pages", 0, "stop each sequence after this many pages (0 = unlimited)")
	fs.BoolVar(&f.dropExisting, "drop-existing", false, "drop raw tables before ingesting")
	fs.BoolVar(&f.skipExpand, "skip-expand", false, "do not rebuild expanded tables")
	fs.StringVar(&f.expandedSuffix, "expanded-suffix", "", "suffix of expanded table names")
	fs.BoolVar(&f.expandAllYears, "expand-all-years", false, "expand every stored row, not only the ingested years")
	fs.BoolVar(&f.keepAwake, "keep-awake", false, "inhibit system sleep while the run is active")
}

// apply overlays the flags that were set explicitly onto cfg.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("max-concurrency") {
		cfg.Ingest.MaxConcurrency = f.maxConcurrency
	}
	if fs.Changed("batch-size") {
		cfg.Ingest.BatchSize = f.batchSize
	}
	if fs.Changed("page-delay-ms") {
		cfg.Pagination.PageDelay = time.Duration(f.pageDelayMS) * time.Millisecond
	}
	if fs.Changed("max-pages") {
		cfg.Pagination.MaxPages = f.maxPages
	}
	if fs.Changed("drop-existing") {
		cfg.Ingest.DropExisting = f.dropExisting
	}
	if fs.Changed("skip-expand") {
		cfg.Ingest.SkipExpansion = f.skipExpand
	}
	if fs.Changed("expanded-suffix") {
		cfg.Ingest.ExpandedSuffix = f.expandedSuffix
	}
}

func (f *runFlags) years() record.YearRange {
	return record.YearRange{Begin: f.beginYear, End: f.endYear}
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch every endpoint for a year range and store the records",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return f.years().Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g, true, func(c *config.Config) { f.apply(cmd.Flags(), c) })
			if err != nil {
				return err
			}
			return runIngest(cmd, cfg, f)
		},
	}
	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("begin-year")
	_ = cmd.MarkFlagRequired("end-year")
	return cmd
}

func runIngest(cmd *cobra.Command, cfg *config.Config, f *runFlags) error {
	ctx := cmd.Context()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	stopMetrics := serveMetrics(cfg.Metrics.Addr)
	defer stopMetrics()

	var hooks ingest.Hooks
	if f.keepAwake {
		hooks = keepAwakeHooks(os.Getpid())
	}

	runner, err := ingest.NewRunner(app.registry, app.fetcher, app.store, app.expander, ingest.Options{
		MaxConcurrency: cfg.Ingest.MaxConcurrency,
		BatchSize:      cfg.Ingest.BatchSize,
		SkipExpansion:  cfg.Ingest.SkipExpansion,
		ExpandAllYears: f.expandAllYears,
		Hooks:          hooks,
	})
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, ingest.Request{Endpoints: f.endpoints, Years: f.years()})
	if report != nil {
		if werr := report.WriteSummary(cmd.OutOrStdout()); werr != nil {
			log.Warn().Err(werr).Msg("Failed to print summary")
		}
	}
	if err != nil {
		if report != nil {
			// The summary already names the failure.
			log.Error().Err(err).Msg("Run did not complete")
			return fmt.Errorf("%w: %w", errReported, err)
		}
		return err
	}
	return nil
}

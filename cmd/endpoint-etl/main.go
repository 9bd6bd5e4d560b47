// Command endpoint-etl ingests paginated, year-partitioned HTTP endpoints
// into PostgreSQL and flattens them into expanded tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/endpoint-etl/internal/config"
	"github.com/Sternrassler/endpoint-etl/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	verbose     bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}

// errReported is returned by commands that already printed their failure.
var errReported = errors.New("reported")

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "endpoint-etl",
		Short:         "Ingest paginated yearly endpoints into PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default ./endpoint-etl.{yaml,json})")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")

	root.AddCommand(newRunCmd(g), newExpandCmd(g), newTablesCmd(g))
	return root
}

// loadConfig reads the configuration, applies the global flags and sets up
// logging.
func loadConfig(cmd *cobra.Command, g *globalFlags, requireDatabase bool, overlay func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = g.metricsAddr
	}
	if overlay != nil {
		overlay(cfg)
	}
	if err := cfg.Validate(requireDatabase); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LevelFor(cfg.Log.Level, g.verbose),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	log.Debug().Str("schema", cfg.Schema).Int("endpoints", len(cfg.Source.Endpoints)).Msg("Configuration loaded")
	return cfg, nil
}

package expand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/Sternrassler/endpoint-etl/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	etlExpansionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_expansions_total",
		Help: "Expansion passes by result (expanded, skipped)",
	}, []string{"result"})

	etlExpandedColumns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "etl_expanded_columns",
		Help: "Column count of the last expanded table by endpoint",
	}, []string{"endpoint"})

	etlExpansionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_expansion_duration_seconds",
		Help:    "Time to rebuild one expanded table",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"endpoint"})
)

// DefaultSuffix is appended to the raw table name to name the expanded table.
const DefaultSuffix = registry.DefaultExpandedSuffix

// ErrNoRows is reported when a raw table holds no rows in the requested range.
var ErrNoRows = errors.New("no rows to expand")

// Store is the storage the expander reads raw payloads from and writes
// expanded tables to. A nil years argument means all rows.
type Store interface {
	// DistinctKeys lists the distinct top-level payload keys in raw.
	DistinctKeys(ctx context.Context, raw ident.Ident, years *record.YearRange) ([]string, error)

	// RebuildExpanded drops and recreates expanded with one text column per
	// entry of cols and fills it from raw. It returns the rows written.
	RebuildExpanded(ctx context.Context, raw, expanded ident.Ident, cols []Column, years *record.YearRange) (int64, error)

	// CountRows counts the rows of table.
	CountRows(ctx context.Context, table ident.Ident, years *record.YearRange) (int64, error)
}

// Summary is the outcome of expanding one endpoint.
type Summary struct {
	EndpointKey   string
	RawTable      ident.Ident
	ExpandedTable ident.Ident
	ColumnCount   int
	SourceRows    int64
	Populated     int64
	Skipped       bool
	Reason        string
	Err           error
	Duration      time.Duration
}

// Expander flattens raw tables into expanded tables.
type Expander struct {
	store  Store
	suffix string
	logger zerolog.Logger
}

// New creates an expander. An empty suffix means DefaultSuffix.
func New(store Store, suffix string) (*Expander, error) {
	if store == nil {
		return nil, fmt.Errorf("expand: store is required")
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if _, err := ident.New(ident.Sanitize(suffix)); err != nil {
		return nil, fmt.Errorf("expand: suffix %q: %w", suffix, err)
	}
	return &Expander{
		store:  store,
		suffix: suffix,
		logger: log.With().Str("component", "expand").Logger(),
	}, nil
}

// ExpandedTable returns the expanded table of spec. Specs from a registry
// carry a name allocated against every other table; the expander's suffix
// only names specs built without one.
func (e *Expander) ExpandedTable(spec registry.EndpointSpec) (ident.Ident, error) {
	name := spec.ExpandedTable
	if name == "" {
		var err error
		if name, err = ident.WithSuffix(spec.DestinationTable, e.suffix); err != nil {
			return "", err
		}
	}
	if name == spec.DestinationTable {
		return "", fmt.Errorf("expanded table %s is the raw table", name)
	}
	return name, nil
}

// Expand rebuilds the expanded table of one endpoint. Failures are reported
// in the summary as a skip; they never abort the caller.
func (e *Expander) Expand(ctx context.Context, spec registry.EndpointSpec, years *record.YearRange) Summary {
	start := time.Now()
	logger := e.logger.With().Str("endpoint", spec.Key).Str("table", spec.DestinationTable.String()).Logger()

	sum := Summary{EndpointKey: spec.Key, RawTable: spec.DestinationTable}
	skip := func(reason string, err error) Summary {
		sum.Skipped = true
		sum.Reason = reason
		sum.Err = err
		sum.Duration = time.Since(start)
		etlExpansionsTotal.WithLabelValues("skipped").Inc()
		logger.Warn().Err(err).Str("reason", reason).Msg("Expansion skipped")
		return sum
	}

	expanded, err := e.ExpandedTable(spec)
	if err != nil {
		return skip("invalid expanded table name", err)
	}
	sum.ExpandedTable = expanded

	keys, err := e.store.DistinctKeys(ctx, spec.DestinationTable, years)
	if err != nil {
		return skip("key discovery failed", err)
	}
	if len(keys) == 0 {
		return skip("no rows", ErrNoRows)
	}

	cols := PlanColumns(keys)
	sum.ColumnCount = len(cols)
	logger.Debug().Int("columns", len(cols)).Msg("Columns planned")

	populated, err := e.store.RebuildExpanded(ctx, spec.DestinationTable, expanded, cols, years)
	if err != nil {
		return skip("rebuild failed", err)
	}
	sum.Populated = populated

	sum.SourceRows, err = e.store.CountRows(ctx, spec.DestinationTable, years)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to count source rows")
		sum.SourceRows = populated
	}

	sum.Duration = time.Since(start)
	etlExpansionsTotal.WithLabelValues("expanded").Inc()
	etlExpandedColumns.WithLabelValues(spec.Key).Set(float64(len(cols)))
	etlExpansionDuration.WithLabelValues(spec.Key).Observe(sum.Duration.Seconds())

	logger.Info().
		Str("expanded_table", expanded.String()).
		Int("columns", sum.ColumnCount).
		Int64("raw_rows", sum.SourceRows).
		Int64("populated", sum.Populated).
		Dur("duration", sum.Duration).
		Msg("Expanded table rebuilt")
	return sum
}

// ExpandAll expands each endpoint in turn. Endpoints not reached before ctx
// is cancelled are reported as skipped.
func (e *Expander) ExpandAll(ctx context.Context, specs []registry.EndpointSpec, years *record.YearRange) []Summary {
	out := make([]Summary, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			out = append(out, Summary{
				EndpointKey: spec.Key,
				RawTable:    spec.DestinationTable,
				Skipped:     true,
				Reason:      "cancelled",
				Err:         err,
			})
			continue
		}
		out = append(out, e.Expand(ctx, spec, years))
	}
	return out
}

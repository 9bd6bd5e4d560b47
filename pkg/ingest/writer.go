package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	etlRecordsSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_records_seen_total",
		Help: "Records handed to storage by endpoint",
	}, []string{"endpoint"})

	etlRecordsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_records_inserted_total",
		Help: "Records actually inserted by endpoint (duplicates excluded)",
	}, []string{"endpoint"})

	etlFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_flushes_total",
		Help: "Buffer flushes by endpoint",
	}, []string{"endpoint"})

	etlFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "etl_flush_duration_seconds",
		Help:    "Duration of one buffer flush",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)

// TableWriter is the storage the writer flushes into.
type TableWriter interface {
	EnsureTable(ctx context.Context, table ident.Ident) error
	BulkInsert(ctx context.Context, table ident.Ident, recs []record.Record) (int64, error)
}

// EndpointStats counts what the writer stored for one endpoint.
type EndpointStats struct {
	EndpointKey string
	Table       ident.Ident
	Seen        int64
	Inserted    int64
	Flushes     int
}

// Duplicates returns the records skipped because their hash was stored.
func (s EndpointStats) Duplicates() int64 {
	return s.Seen - s.Inserted
}

// Writer is the single consumer of a Queue. It keeps one buffer per
// endpoint and flushes a buffer as soon as it reaches the threshold.
type Writer struct {
	store     TableWriter
	threshold int
	logger    zerolog.Logger

	buffers map[string][]record.Record
	tables  map[string]ident.Ident
	stats   map[string]*EndpointStats
	maxHeld int
}

// NewWriter creates a writer flushing every threshold records.
func NewWriter(store TableWriter, threshold int) *Writer {
	if threshold < 1 {
		threshold = 1
	}
	return &Writer{
		store:     store,
		threshold: threshold,
		logger:    log.With().Str("component", "writer").Logger(),
		buffers:   make(map[string][]record.Record),
		tables:    make(map[string]ident.Ident),
		stats:     make(map[string]*EndpointStats),
	}
}

// Run drains q until it is closed, then flushes every non-empty buffer in
// endpoint order. The first storage error stops the writer and is returned.
func (w *Writer) Run(ctx context.Context, q *Queue) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-q.items():
			if !ok {
				return w.flushAll(ctx)
			}
			etlQueueDepth.Dec()
			if err := w.add(ctx, item); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) add(ctx context.Context, item Item) error {
	key := item.Record.EndpointKey
	if _, ok := w.tables[key]; !ok {
		w.tables[key] = item.Table
		w.stats[key] = &EndpointStats{EndpointKey: key, Table: item.Table}
	}

	buf := append(w.buffers[key], item.Record)
	w.buffers[key] = buf
	if len(buf) >= w.threshold {
		return w.flush(ctx, key)
	}
	if len(buf) > w.maxHeld {
		w.maxHeld = len(buf)
	}
	return nil
}

func (w *Writer) flushAll(ctx context.Context) error {
	keys := make([]string, 0, len(w.buffers))
	for k, buf := range w.buffers {
		if len(buf) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.flush(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// flush ensures the endpoint's table and inserts its buffer.
func (w *Writer) flush(ctx context.Context, key string) error {
	buf := w.buffers[key]
	if len(buf) == 0 {
		return nil
	}
	table := w.tables[key]
	start := time.Now()

	if err := w.store.EnsureTable(ctx, table); err != nil {
		return fmt.Errorf("flush %s: %w", key, err)
	}
	inserted, err := w.store.BulkInsert(ctx, table, buf)
	if err != nil {
		return fmt.Errorf("flush %s: %w", key, err)
	}
	w.buffers[key] = make([]record.Record, 0, w.threshold)

	st := w.stats[key]
	st.Seen += int64(len(buf))
	st.Inserted += inserted
	st.Flushes++

	etlRecordsSeen.WithLabelValues(key).Add(float64(len(buf)))
	etlRecordsInserted.WithLabelValues(key).Add(float64(inserted))
	etlFlushesTotal.WithLabelValues(key).Inc()
	etlFlushDuration.Observe(time.Since(start).Seconds())

	w.logger.Info().
		Str("endpoint", key).
		Str("table", table.String()).
		Int("seen", len(buf)).
		Int64("inserted", inserted).
		Dur("duration", time.Since(start)).
		Msg("Flushed batch")
	return nil
}

// Stats returns the per-endpoint counters. Call it after Run returned.
func (w *Writer) Stats() map[string]EndpointStats {
	out := make(map[string]EndpointStats, len(w.stats))
	for k, st := range w.stats {
		out[k] = *st
	}
	return out
}

// MaxHeld returns the largest buffer the writer kept between flushes.
func (w *Writer) MaxHeld() int {
	return w.maxHeld
}

// Package metrics exposes the Prometheus registry used by endpoint-etl.
// All metrics are defined in their respective packages (client, pagination,
// ingest, expand, store, cache, ratelimit) to keep the packages independent.
//
// This package documents the available metrics and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - etl_http_requests_total{host, status} (Counter): Page requests by host and HTTP status
//   - etl_http_request_duration_seconds{host} (Histogram): Page request duration
//   - etl_http_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - etl_http_retries_total{error_class} (Counter): Retry attempts
//   - etl_http_retry_backoff_seconds{error_class} (Histogram): Backoff waits
//   - etl_http_retry_exhausted_total{error_class} (Counter): Pages that exhausted all attempts
//
// Pagination Metrics (pkg/pagination):
//   - etl_pages_fetched_total{endpoint} (Counter)
//   - etl_documents_fetched_total{endpoint} (Counter)
//   - etl_sequences_total{endpoint, stop} (Counter): Finished sequences by stop reason
//
// Pipeline Metrics (pkg/ingest):
//   - etl_tasks_total{outcome} (Counter): Tasks by outcome (completed, failed, cancelled, not_started)
//   - etl_fetches_in_flight (Gauge): Sequences currently holding a limiter slot
//   - etl_queue_depth (Gauge): Records waiting for the writer
//   - etl_records_seen_total{endpoint} (Counter): Records flushed to storage
//   - etl_records_inserted_total{endpoint} (Counter): Records actually stored (new hashes)
//   - etl_flushes_total{endpoint} (Counter)
//   - etl_flush_duration_seconds (Histogram)
//
// Expansion Metrics (pkg/expand):
//   - etl_expansions_total{result} (Counter): Expansions by result (expanded, skipped)
//   - etl_expanded_columns{endpoint} (Gauge): Payload columns of the last expansion
//   - etl_expansion_duration_seconds{endpoint} (Histogram)
//
// Storage Metrics (pkg/store/postgres):
//   - etl_store_statement_duration_seconds{operation} (Histogram)
//
// Page Cache Metrics (pkg/cache):
//   - etl_page_cache_hits_total{state} (Counter): Hits by entry state (fresh, stale)
//   - etl_page_cache_misses_total (Counter)
//   - etl_page_cache_stored_bytes_total (Counter)
//   - etl_page_cache_conditional_requests_total, etl_page_cache_304_responses_total (Counter)
//   - etl_page_cache_errors_total{operation} (Counter)
//
// Cooldown Metrics (pkg/ratelimit):
//   - etl_cooldowns_total{host} (Counter): Cooldowns recorded after 429/503
//   - etl_cooldown_wait_seconds{host} (Histogram): Time spent waiting out cooldowns
//
// Example Prometheus Queries:
//
//   # Duplicate ratio
//   1 - sum(rate(etl_records_inserted_total[5m])) / sum(rate(etl_records_seen_total[5m]))
//
//   # Writer falling behind
//   etl_queue_depth > 0 and etl_fetches_in_flight == 0
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(etl_http_request_duration_seconds_bucket[5m]))
//
//   # Failed sequences
//   sum by (endpoint) (etl_sequences_total{stop!~"exhausted|max_pages"})

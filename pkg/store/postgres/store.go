// Package postgres stores raw payloads and expanded tables in PostgreSQL
// using pgx v5.
//
// Every endpoint owns one raw table in the configured schema. Rows are
// append-only and deduplicated by content hash: inserting a record whose
// hash is already stored is a no-op. Expanded tables are rebuilt from the
// raw table inside a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var etlStoreStatementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "etl_store_statement_duration_seconds",
	Help:    "Duration of storage operations by operation",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"operation"})

// DefaultSchema is used when Config.Schema is empty.
const DefaultSchema = "public"

// insertChunk bounds the rows per INSERT statement, keeping the bind
// parameter count well under the protocol limit of 65535.
const insertChunk = 1000

// Config holds store configuration.
type Config struct {
	// DSN is a libpq connection string or URL
	DSN string

	// Schema all tables are created in
	Schema string

	// MaxConns caps the pool size; 0 keeps the pgxpool default
	MaxConns int32

	// DropExisting drops each raw table the first time it is ensured
	DropExisting bool
}

// Store is a PostgreSQL-backed table manager.
type Store struct {
	pool         *pgxpool.Pool
	schema       ident.Ident
	dropExisting bool
	logger       zerolog.Logger

	mu      sync.Mutex
	ensured map[ident.Ident]struct{}
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	schema, err := schemaIdent(cfg.Schema)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		pool:         pool,
		schema:       schema,
		dropExisting: cfg.DropExisting,
		logger:       log.With().Str("component", "store").Str("schema", schema.String()).Logger(),
		ensured:      make(map[ident.Ident]struct{}),
	}, nil
}

func schemaIdent(name string) (ident.Ident, error) {
	if name == "" {
		name = DefaultSchema
	}
	schema, err := ident.New(name)
	if err != nil {
		return "", fmt.Errorf("schema: %w", err)
	}
	return schema, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Schema returns the schema tables live in.
func (s *Store) Schema() ident.Ident {
	return s.schema
}

// EnsureSchema creates the schema when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	defer observe("ensure_schema", time.Now())
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema.Quote())); err != nil {
		return wrapPgError("create schema "+s.schema.String(), err)
	}
	return nil
}

// EnsureTable creates the raw table and its indexes when absent. With
// DropExisting the table is dropped first, once per Store. Later calls for
// the same table are no-ops.
func (s *Store) EnsureTable(ctx context.Context, table ident.Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ensured[table]; ok {
		return nil
	}
	defer observe("ensure_table", time.Now())

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if s.dropExisting {
			if _, err := tx.Exec(ctx, dropTableSQL(s.schema, table)); err != nil {
				return err
			}
		}
		for _, stmt := range createRawTableSQL(s.schema, table) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapPgError("ensure table "+table.String(), err)
	}

	s.ensured[table] = struct{}{}
	s.logger.Debug().Str("table", table.String()).Bool("dropped", s.dropExisting).Msg("Table ensured")
	return nil
}

// DropTable drops table when present.
func (s *Store) DropTable(ctx context.Context, table ident.Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, dropTableSQL(s.schema, table)); err != nil {
		return wrapPgError("drop table "+table.String(), err)
	}
	delete(s.ensured, table)
	return nil
}

// BulkInsert writes recs to table, skipping records whose hash is already
// stored. It returns the number of rows actually inserted. All chunks are
// written in one transaction.
func (s *Store) BulkInsert(ctx context.Context, table ident.Ident, recs []record.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	defer observe("bulk_insert", time.Now())

	var inserted int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(recs); start += insertChunk {
			end := min(start+insertChunk, len(recs))
			chunk := recs[start:end]

			args := make([]any, 0, len(chunk)*len(rawInsertColumns))
			for _, r := range chunk {
				args = append(args, r.Year, string(r.Payload), r.Hash, r.FetchedAt)
			}

			tag, err := tx.Exec(ctx, buildInsertSQL(s.schema, table, len(chunk)), args...)
			if err != nil {
				return err
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, wrapPgError("insert into "+table.String(), err)
	}

	s.logger.Debug().
		Str("table", table.String()).
		Int("seen", len(recs)).
		Int64("inserted", inserted).
		Msg("Batch inserted")
	return inserted, nil
}

// CountRows counts the rows of table, optionally restricted to years.
func (s *Store) CountRows(ctx context.Context, table ident.Ident, years *record.YearRange) (int64, error) {
	var args []any
	if years != nil {
		args = []any{years.Begin, years.End}
	}

	var n int64
	if err := s.pool.QueryRow(ctx, countRowsSQL(s.schema, table, years != nil), args...).Scan(&n); err != nil {
		return 0, wrapPgError("count rows of "+table.String(), err)
	}
	return n, nil
}

func observe(op string, start time.Time) {
	etlStoreStatementDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// wrapPgError adds the server's detail and SQLSTATE when err came from
// PostgreSQL.
func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			return fmt.Errorf("%s: %w (%s, %s)", op, err, pgErr.Detail, pgErr.SQLState())
		}
		return fmt.Errorf("%s: %w (%s)", op, err, pgErr.SQLState())
	}
	return fmt.Errorf("%s: %w", op, err)
}

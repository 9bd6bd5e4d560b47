package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/jackc/pgx/v5"
)

// maxColumns is PostgreSQL's per-table column limit.
const maxColumns = 1600

// DistinctKeys lists the distinct top-level keys across the payloads of raw,
// optionally restricted to years, in sorted order.
func (s *Store) DistinctKeys(ctx context.Context, raw ident.Ident, years *record.YearRange) ([]string, error) {
	defer observe("distinct_keys", time.Now())

	var args []any
	if years != nil {
		args = []any{years.Begin, years.End}
	}

	rows, err := s.pool.Query(ctx, distinctKeysSQL(s.schema, raw, years != nil), args...)
	if err != nil {
		return nil, wrapPgError("discover keys of "+raw.String(), err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapPgError("discover keys of "+raw.String(), err)
	}
	return keys, nil
}

// RebuildExpanded drops and recreates expanded, then fills it by projecting
// every column's key out of the raw payloads. The rebuild is one
// transaction: on failure the previous expanded table is left in place.
func (s *Store) RebuildExpanded(ctx context.Context, raw, expanded ident.Ident, cols []expand.Column, years *record.YearRange) (int64, error) {
	if len(cols)+3 > maxColumns {
		return 0, fmt.Errorf("expanded table %s would have %d columns, limit is %d", expanded, len(cols)+3, maxColumns)
	}
	defer observe("rebuild_expanded", time.Now())

	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		args = append(args, c.Original)
	}
	if years != nil {
		args = append(args, years.Begin, years.End)
	}

	var populated int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, dropExpandedSQL(s.schema, expanded)); err != nil {
			return err
		}
		for _, stmt := range createExpandedTableSQL(s.schema, expanded, cols) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, buildProjectionSQL(s.schema, raw, expanded, cols, years != nil), args...)
		if err != nil {
			return err
		}
		populated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, wrapPgError("rebuild "+expanded.String(), err)
	}
	return populated, nil
}

package postgres

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/ident"
)

// Raw table columns in insert order.
var rawInsertColumns = []string{"year", "payload", "content_hash", "fetched_at"}

// indexName derives an index name from its table. Index names share the
// schema namespace with tables, so they carry the table name; long table
// names keep a digest of the full name (see ident.WithSuffix).
func indexName(table ident.Ident, suffix string) ident.Ident {
	name, err := ident.WithSuffix(table, suffix)
	if err != nil {
		// suffixes are constants well below the limit
		panic(err)
	}
	return name
}

// createRawTableSQL returns the statements that create a raw table and its
// indexes when absent. The content_hash constraint is declared on the column
// so PostgreSQL picks its name and ON CONFLICT (content_hash) always has an
// arbiter.
func createRawTableSQL(schema, table ident.Ident) []string {
	q := ident.Qualify(schema, table).Quote()
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    year INTEGER NOT NULL,
    payload JSONB NOT NULL,
    content_hash VARCHAR(64) NOT NULL UNIQUE,
    fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, q),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (year)`, indexName(table, "year_idx").Quote(), q),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (payload)`, indexName(table, "payload_gin").Quote(), q),
	}
}

func dropTableSQL(schema, table ident.Ident) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s`, ident.Qualify(schema, table).Quote())
}

// dropExpandedSQL also drops views built on the expanded table; the table is
// rebuilt from the raw records on every expansion.
func dropExpandedSQL(schema, expanded ident.Ident) string {
	return dropTableSQL(schema, expanded) + " CASCADE"
}

// buildInsertSQL returns a multi-row insert for n records that skips rows
// whose content hash is already stored.
func buildInsertSQL(schema, table ident.Ident, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", ident.Qualify(schema, table).Quote(), strings.Join(rawInsertColumns, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		p := i * len(rawInsertColumns)
		fmt.Fprintf(&b, "($%d, $%d::jsonb, $%d, $%d)", p+1, p+2, p+3, p+4)
	}
	b.WriteString(" ON CONFLICT (content_hash) DO NOTHING")
	return b.String()
}

// yearFilter returns a WHERE clause over year bound to parameters
// $first and $first+1, or "" when unfiltered.
func yearFilter(filtered bool, first int) string {
	if !filtered {
		return ""
	}
	return fmt.Sprintf(" WHERE year BETWEEN $%d AND $%d", first, first+1)
}

func distinctKeysSQL(schema, raw ident.Ident, filtered bool) string {
	return fmt.Sprintf(`SELECT DISTINCT k FROM (
    SELECT jsonb_object_keys(payload) AS k FROM %s%s
) keys ORDER BY k`, ident.Qualify(schema, raw).Quote(), yearFilterObjects(filtered))
}

// yearFilterObjects guards jsonb_object_keys against non-object payloads.
func yearFilterObjects(filtered bool) string {
	if filtered {
		return " WHERE jsonb_typeof(payload) = 'object' AND year BETWEEN $1 AND $2"
	}
	return " WHERE jsonb_typeof(payload) = 'object'"
}

func countRowsSQL(schema, table ident.Ident, filtered bool) string {
	return fmt.Sprintf(`SELECT count(*) FROM %s%s`, ident.Qualify(schema, table).Quote(), yearFilter(filtered, 1))
}

// createExpandedTableSQL returns the DDL of an expanded table: the metadata
// columns followed by one TEXT column per payload key.
func createExpandedTableSQL(schema, expanded ident.Ident, cols []expand.Column) []string {
	q := ident.Qualify(schema, expanded).Quote()

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n    %s BIGINT PRIMARY KEY,\n    %s INTEGER NOT NULL,\n    %s TIMESTAMPTZ NOT NULL",
		q, expand.ColumnID, expand.ColumnYear, expand.ColumnFetchedAt)
	for _, c := range cols {
		fmt.Fprintf(&b, ",\n    %s TEXT", c.Name.Quote())
	}
	b.WriteString("\n)")

	return []string{
		b.String(),
		fmt.Sprintf(`CREATE INDEX %s ON %s (year)`, indexName(expanded, "year_idx").Quote(), q),
	}
}

// buildProjectionSQL copies raw rows into the expanded table. Payload keys
// are bound as $1..$n; the year range, when filtered, follows them.
func buildProjectionSQL(schema, raw, expanded ident.Ident, cols []expand.Column, filtered bool) string {
	names := make([]string, 0, len(cols)+3)
	exprs := make([]string, 0, len(cols)+3)
	names = append(names, expand.ColumnID, expand.ColumnYear, expand.ColumnFetchedAt)
	exprs = append(exprs, "id", "year", "fetched_at")
	for i, c := range cols {
		names = append(names, c.Name.Quote())
		exprs = append(exprs, fmt.Sprintf("payload ->> $%d::text", i+1))
	}

	return fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s\nFROM %s%s",
		ident.Qualify(schema, expanded).Quote(),
		strings.Join(names, ", "),
		strings.Join(exprs, ", "),
		ident.Qualify(schema, raw).Quote(),
		yearFilter(filtered, len(cols)+1),
	)
}

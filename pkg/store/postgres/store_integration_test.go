//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/document"
	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDSN returns TEST_DATABASE_URL when set, otherwise starts a Postgres
// container for the test.
func testDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "etl_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://test:test@%s/etl_test?sslmode=disable", endpoint)
}

func newTestStore(t *testing.T, drop bool) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := New(ctx, Config{DSN: testDSN(t), Schema: "etl_test", MaxConns: 4, DropExisting: drop})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func mustRecord(t *testing.T, year int, body string) record.Record {
	t.Helper()
	obj, err := document.DecodeObject([]byte(body))
	require.NoError(t, err)
	rec, err := record.New("items", year, obj, time.Now().UTC())
	require.NoError(t, err)
	return rec
}

func TestStore_Integration_BulkInsertDeduplicates(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	table := ident.MustNew("etl_items")

	require.NoError(t, s.EnsureTable(ctx, table))

	recs := []record.Record{
		mustRecord(t, 2020, `{"a":1,"b":"x"}`),
		mustRecord(t, 2020, `{"b":"x","a":1}`), // same content, different key order
		mustRecord(t, 2021, `{"a":1,"b":"x"}`),
	}

	n, err := s.BulkInsert(ctx, table, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.BulkInsert(ctx, table, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "re-inserting the same records is a no-op")

	total, err := s.CountRows(ctx, table, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	only2021, err := s.CountRows(ctx, table, &record.YearRange{Begin: 2021, End: 2021})
	require.NoError(t, err)
	assert.Equal(t, int64(1), only2021)
}

func TestStore_Integration_BulkInsertChunks(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	table := ident.MustNew("etl_chunks")
	require.NoError(t, s.EnsureTable(ctx, table))

	recs := make([]record.Record, 0, insertChunk+250)
	for i := 0; i < insertChunk+250; i++ {
		recs = append(recs, mustRecord(t, 2020, fmt.Sprintf(`{"n":%d}`, i)))
	}

	n, err := s.BulkInsert(ctx, table, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(len(recs)), n)
}

func TestStore_Integration_DropExistingOncePerStore(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	table := ident.MustNew("etl_drop")

	require.NoError(t, s.EnsureTable(ctx, table))
	_, err := s.BulkInsert(ctx, table, []record.Record{mustRecord(t, 2020, `{"a":1}`)})
	require.NoError(t, err)

	// a second ensure in the same run must keep the data
	require.NoError(t, s.EnsureTable(ctx, table))
	total, err := s.CountRows(ctx, table, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	require.NoError(t, s.DropTable(ctx, table))
	_, err = s.CountRows(ctx, table, nil)
	assert.Error(t, err)
}

func TestStore_Integration_RebuildExpanded(t *testing.T) {
	s := newTestStore(t, true)
	ctx := context.Background()
	raw := ident.MustNew("etl_expand")
	require.NoError(t, s.EnsureTable(ctx, raw))

	_, err := s.BulkInsert(ctx, raw, []record.Record{
		mustRecord(t, 2020, `{"id":"x-1","name":"North","grades":[1,2]}`),
		mustRecord(t, 2020, `{"name":"South","year":"1999"}`),
		mustRecord(t, 2021, `{"name":"East","open":true}`),
	})
	require.NoError(t, err)

	keys, err := s.DistinctKeys(ctx, raw, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"grades", "id", "name", "open", "year"}, keys)

	keys2020, err := s.DistinctKeys(ctx, raw, &record.YearRange{Begin: 2020, End: 2020})
	require.NoError(t, err)
	assert.Equal(t, []string{"grades", "id", "name", "year"}, keys2020)

	cols := expand.PlanColumns(keys)
	expanded := ident.MustNew("etl_expand_expanded")
	n, err := s.RebuildExpanded(ctx, raw, expanded, cols, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var idJSON, name, grades *string
	var year int
	err = s.pool.QueryRow(ctx,
		`SELECT year, id_json, name, grades FROM "etl_test"."etl_expand_expanded" WHERE name = 'North'`,
	).Scan(&year, &idJSON, &name, &grades)
	require.NoError(t, err)
	assert.Equal(t, 2020, year)
	require.NotNil(t, idJSON)
	assert.Equal(t, "x-1", *idJSON)
	require.NotNil(t, grades)
	assert.Equal(t, "[1, 2]", *grades)

	var open *string
	err = s.pool.QueryRow(ctx,
		`SELECT open FROM "etl_test"."etl_expand_expanded" WHERE name = 'South'`,
	).Scan(&open)
	require.NoError(t, err)
	assert.Nil(t, open, "absent keys project to NULL")

	// rebuilding restricted to one year replaces the table
	n, err = s.RebuildExpanded(ctx, raw, expanded, expand.PlanColumns([]string{"name", "open"}), &record.YearRange{Begin: 2021, End: 2021})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	total, err := s.CountRows(ctx, expanded, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestStore_Integration_DistinctKeysMissingTable(t *testing.T) {
	s := newTestStore(t, false)
	_, err := s.DistinctKeys(context.Background(), ident.MustNew("etl_missing"), nil)
	assert.Error(t, err)
}

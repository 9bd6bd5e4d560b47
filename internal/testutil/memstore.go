package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/document"
	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
)

// StoredRow is a row of an in-memory raw table.
type StoredRow struct {
	ID        int64
	Year      int
	Payload   []byte
	Hash      string
	FetchedAt time.Time
}

// MemoryStore is an in-memory stand-in for the PostgreSQL store. It mirrors
// its semantics: hash-unique raw tables and expanded tables rebuilt from
// scratch with ->> style text projection.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	raw      map[ident.Ident][]StoredRow
	hashes   map[ident.Ident]map[string]struct{}
	expanded map[ident.Ident][]map[string]*string
	columns  map[ident.Ident][]string

	// InsertErr, when set, fails every BulkInsert.
	InsertErr error

	// InsertDelay slows every BulkInsert down.
	InsertDelay time.Duration

	inserts  int
	maxBatch int
	ensured  map[ident.Ident]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raw:      make(map[ident.Ident][]StoredRow),
		hashes:   make(map[ident.Ident]map[string]struct{}),
		expanded: make(map[ident.Ident][]map[string]*string),
		columns:  make(map[ident.Ident][]string),
		ensured:  make(map[ident.Ident]int),
	}
}

// EnsureTable creates table when absent.
func (s *MemoryStore) EnsureTable(_ context.Context, table ident.Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured[table]++
	if _, ok := s.hashes[table]; !ok {
		s.hashes[table] = make(map[string]struct{})
		s.raw[table] = nil
	}
	return nil
}

// BulkInsert stores recs whose hash is new and returns how many it stored.
func (s *MemoryStore) BulkInsert(ctx context.Context, table ident.Ident, recs []record.Record) (int64, error) {
	if s.InsertDelay > 0 {
		select {
		case <-time.After(s.InsertDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return 0, s.InsertErr
	}
	hashes, ok := s.hashes[table]
	if !ok {
		return 0, fmt.Errorf("relation %q does not exist", table)
	}

	s.inserts++
	s.maxBatch = max(s.maxBatch, len(recs))

	var n int64
	for _, r := range recs {
		if _, dup := hashes[r.Hash]; dup {
			continue
		}
		hashes[r.Hash] = struct{}{}
		s.nextID++
		s.raw[table] = append(s.raw[table], StoredRow{
			ID:        s.nextID,
			Year:      r.Year,
			Payload:   append([]byte(nil), r.Payload...),
			Hash:      r.Hash,
			FetchedAt: r.FetchedAt,
		})
		n++
	}
	return n, nil
}

// DistinctKeys returns the sorted union of top-level payload keys.
func (s *MemoryStore) DistinctKeys(_ context.Context, raw ident.Ident, years *record.YearRange) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.raw[raw]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", raw)
	}

	seen := make(map[string]struct{})
	for _, row := range rows {
		if years != nil && !years.Contains(row.Year) {
			continue
		}
		obj, err := document.DecodeObject(row.Payload)
		if err != nil {
			return nil, err
		}
		for _, k := range obj.Keys() {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// RebuildExpanded replaces expanded with the projection of raw.
func (s *MemoryStore) RebuildExpanded(_ context.Context, raw, expanded ident.Ident, cols []expand.Column, years *record.YearRange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.raw[raw]
	if !ok {
		return 0, fmt.Errorf("relation %q does not exist", raw)
	}

	names := []string{expand.ColumnID, expand.ColumnYear, expand.ColumnFetchedAt}
	for _, c := range cols {
		names = append(names, c.Name.String())
	}

	var out []map[string]*string
	for _, row := range rows {
		if years != nil && !years.Contains(row.Year) {
			continue
		}
		obj, err := document.DecodeObject(row.Payload)
		if err != nil {
			return 0, err
		}

		projected := map[string]*string{
			expand.ColumnID:        ptr(fmt.Sprint(row.ID)),
			expand.ColumnYear:      ptr(fmt.Sprint(row.Year)),
			expand.ColumnFetchedAt: ptr(row.FetchedAt.Format(time.RFC3339Nano)),
		}
		for _, c := range cols {
			var cell *string
			if v, ok := obj.Get(c.Original); ok {
				if text, ok := v.Text(); ok {
					cell = ptr(text)
				}
			}
			projected[c.Name.String()] = cell
		}
		out = append(out, projected)
	}

	s.expanded[expanded] = out
	s.columns[expanded] = names
	return int64(len(out)), nil
}

// CountRows counts raw or expanded rows of table.
func (s *MemoryStore) CountRows(_ context.Context, table ident.Ident, years *record.YearRange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rows, ok := s.raw[table]; ok {
		var n int64
		for _, row := range rows {
			if years == nil || years.Contains(row.Year) {
				n++
			}
		}
		return n, nil
	}
	if rows, ok := s.expanded[table]; ok {
		return int64(len(rows)), nil
	}
	return 0, fmt.Errorf("relation %q does not exist", table)
}

// Rows returns a copy of the raw rows of table.
func (s *MemoryStore) Rows(table ident.Ident) []StoredRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoredRow(nil), s.raw[table]...)
}

// Expanded returns the rows of an expanded table.
func (s *MemoryStore) Expanded(table ident.Ident) []map[string]*string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanded[table]
}

// Columns returns the column names of an expanded table in order.
func (s *MemoryStore) Columns(table ident.Ident) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.columns[table]...)
}

// Inserts returns the number of successful BulkInsert calls.
func (s *MemoryStore) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// MaxBatch returns the largest batch passed to BulkInsert.
func (s *MemoryStore) MaxBatch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBatch
}

func ptr(s string) *string {
	return &s
}

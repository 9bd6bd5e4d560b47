package expand

import (
	"sort"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
)

// Metadata columns every expanded table carries. Payload keys with these
// names are renamed to "<name>_json".
const (
	ColumnID        = "id"
	ColumnYear      = "year"
	ColumnFetchedAt = "fetched_at"

	reservedSuffix = "json"
)

// Column maps one payload key to its column in the expanded table.
type Column struct {
	Original string
	Name     ident.Ident
}

// PlanColumns turns discovered payload keys into column identifiers. Keys
// are sorted first so the same key set always yields the same columns;
// duplicate keys are dropped.
func PlanColumns(keys []string) []Column {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	alloc := ident.NewAllocator(reservedSuffix, ColumnID, ColumnYear, ColumnFetchedAt)
	cols := make([]Column, len(sorted))
	for i, k := range sorted {
		cols[i] = Column{Original: k, Name: alloc.Allocate(k)}
	}
	return cols
}

// Package expand derives flat tables from raw payload tables.
//
// For each endpoint the expander discovers the union of top-level keys in
// the stored payloads, maps every key to a safe column name and rebuilds
// "<raw>_<suffix>" from scratch with one text column per key next to the
// id, year and fetched_at metadata columns. The expanded table is
// disposable; the raw table stays the system of record.
//
// Basic usage:
//
//	exp, err := expand.New(store, expand.DefaultSuffix)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, sum := range exp.ExpandAll(ctx, specs, &years) {
//	    fmt.Println(sum.ExpandedTable, sum.ColumnCount, sum.SourceRows)
//	}
package expand

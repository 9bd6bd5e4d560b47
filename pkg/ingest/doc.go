// Package ingest runs the ingestion pipeline.
//
// A run builds one task per (endpoint, year) pair and runs at most
// MaxConcurrency of them at a time. Every task walks its page sequence and
// pushes the decoded documents, hashed and tagged with their table, into a
// bounded queue. A single writer drains the queue, buffers records per
// endpoint and flushes a buffer through the store whenever it reaches the
// batch size. A full queue blocks the fetchers; that is the only flow
// control on the write path.
//
// Once every task has returned the queue is closed, the writer flushes what
// is left and, unless disabled, the expanded tables are rebuilt.
//
// Basic usage:
//
//	runner, err := ingest.NewRunner(reg, fetcher, store, expander, ingest.Options{
//	    MaxConcurrency: 10,
//	    BatchSize:      1000,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := runner.Run(ctx, ingest.Request{Years: record.YearRange{Begin: 2019, End: 2021}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report.WriteSummary(os.Stdout)
package ingest

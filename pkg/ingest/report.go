package ingest

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/pagination"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/Sternrassler/endpoint-etl/pkg/registry"
)

// Outcome classifies a finished task.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeNotStarted Outcome = "not_started"
)

// TaskResult is the outcome of one fetch task.
type TaskResult struct {
	Task     Task
	Started  bool
	Summary  pagination.Summary
	Enqueued int
	Dropped  int
}

// Outcome reports how the task ended. A task that fetched some pages before
// failing is still failed; its records are kept.
func (t TaskResult) Outcome() Outcome {
	switch {
	case !t.Started:
		return OutcomeNotStarted
	case t.Summary.Failed():
		return OutcomeFailed
	case t.Summary.Stop == pagination.StopCancelled:
		return OutcomeCancelled
	default:
		return OutcomeCompleted
	}
}

// EndpointReport sums the writer counters of one endpoint.
type EndpointReport struct {
	EndpointKey string
	Table       string
	Seen        int64
	Inserted    int64
}

// Duplicates returns the records that were already stored.
func (e EndpointReport) Duplicates() int64 {
	return e.Seen - e.Inserted
}

func endpointReports(specs []registry.EndpointSpec, stats map[string]EndpointStats) []EndpointReport {
	out := make([]EndpointReport, 0, len(specs))
	for _, spec := range specs {
		st := stats[spec.Key]
		out = append(out, EndpointReport{
			EndpointKey: spec.Key,
			Table:       spec.DestinationTable.String(),
			Seen:        st.Seen,
			Inserted:    st.Inserted,
		})
	}
	return out
}

// Report is the result of one run.
type Report struct {
	RunID      string
	Years      record.YearRange
	Started    time.Time
	Finished   time.Time
	Tasks      []TaskResult
	Endpoints  []EndpointReport
	Expansions []expand.Summary

	// Peak is the largest number of sequences that ran at once.
	Peak int

	// MaxBuffered is the largest per-endpoint buffer held between flushes.
	MaxBuffered int

	Cancelled bool
	Err       error
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// TotalSeen returns the records handed to storage.
func (r *Report) TotalSeen() int64 {
	var n int64
	for _, e := range r.Endpoints {
		n += e.Seen
	}
	return n
}

// TotalInserted returns the records actually inserted.
func (r *Report) TotalInserted() int64 {
	var n int64
	for _, e := range r.Endpoints {
		n += e.Inserted
	}
	return n
}

// FailedTasks returns the tasks whose sequence ended on an error.
func (r *Report) FailedTasks() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Outcome() == OutcomeFailed {
			out = append(out, t)
		}
	}
	return out
}

// Endpoint returns the report for key.
func (r *Report) Endpoint(key string) (EndpointReport, bool) {
	for _, e := range r.Endpoints {
		if e.EndpointKey == key {
			return e, true
		}
	}
	return EndpointReport{}, false
}

// WriteSummary prints a human-readable summary of the run.
func (r *Report) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	status := "completed"
	switch {
	case r.Err != nil:
		status = "failed: " + r.Err.Error()
	case r.Cancelled:
		status = "cancelled"
	}

	fmt.Fprintf(tw, "Run %s (%s) %s in %s\n", r.RunID, r.Years, status, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(tw, "Rows seen: %d\tRows inserted: %d\tDuplicates: %d\n", r.TotalSeen(), r.TotalInserted(), r.TotalSeen()-r.TotalInserted())
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "ENDPOINT\tTABLE\tSEEN\tINSERTED\tDUPLICATES")
	for _, e := range r.Endpoints {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", e.EndpointKey, e.Table, e.Seen, e.Inserted, e.Duplicates())
	}

	if failed := r.FailedTasks(); len(failed) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "FAILED TASK\tSTOP\tPAGES\tERROR")
		for _, t := range failed {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%v\n", t.Task, t.Summary.Stop, t.Summary.Pages, t.Summary.Err)
		}
	}

	if len(r.Expansions) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "EXPANDED TABLE\tCOLS\tRAW ROWS\tNOTE")
		for _, s := range r.Expansions {
			fmt.Fprintln(tw, expansionLine(s))
		}
	}
	return tw.Flush()
}

func expansionLine(s expand.Summary) string {
	name := s.ExpandedTable.String()
	if name == "" {
		name = s.RawTable.String()
	}
	if s.Skipped {
		return strings.Join([]string{name, "-", "-", "skipped: " + s.Reason}, "\t")
	}
	return fmt.Sprintf("%s\t%d\t%d\t", name, s.ColumnCount, s.SourceRows)
}

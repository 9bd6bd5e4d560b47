package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/document"
	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/pagination"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/Sternrassler/endpoint-etl/pkg/registry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var etlTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "etl_tasks_total",
	Help: "Fetch tasks by outcome (completed, failed, cancelled, not_started)",
}, []string{"outcome"})

// Defaults for Options.
const (
	DefaultMaxConcurrency = 10
	DefaultBatchSize      = 1000
)

// SequenceFetcher walks one paginated sequence. *pagination.Fetcher
// implements it.
type SequenceFetcher interface {
	Fetch(ctx context.Context, seq pagination.Sequence, emit pagination.EmitFunc) pagination.Summary
}

// Hooks are optional callbacks around a run.
type Hooks struct {
	// OnRunStart is called before the first task is submitted.
	OnRunStart func(ctx context.Context, runID string)

	// OnRunEnd is called with the final report, after expansion.
	OnRunEnd func(ctx context.Context, report *Report)
}

// Options configures a Runner.
type Options struct {
	MaxConcurrency int
	BatchSize      int
	SkipExpansion  bool

	// ExpandAllYears expands over every stored row instead of the run's
	// year range.
	ExpandAllYears bool

	Hooks Hooks
}

// Request selects what one run ingests. An empty Endpoints list means all.
type Request struct {
	Endpoints []string
	Years     record.YearRange
}

// Runner ties the pipeline together: it schedules fetch tasks through the
// limiter, feeds their documents to the writer and expands the tables once
// ingestion is done.
type Runner struct {
	registry *registry.Registry
	fetcher  SequenceFetcher
	store    TableWriter
	expander *expand.Expander
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRunner creates a runner. expander may be nil, which disables expansion.
func NewRunner(reg *registry.Registry, fetcher SequenceFetcher, store TableWriter, expander *expand.Expander, opts Options) (*Runner, error) {
	if reg == nil || fetcher == nil || store == nil {
		return nil, fmt.Errorf("registry, fetcher and store are required")
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max concurrency must be >= 1 (got %d)", opts.MaxConcurrency)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1 (got %d)", opts.BatchSize)
	}

	return &Runner{
		registry: reg,
		fetcher:  fetcher,
		store:    store,
		expander: expander,
		opts:     opts,
		logger:   log.With().Str("component", "runner").Logger(),
		now:      time.Now,
	}, nil
}

// Run ingests req and then expands the touched endpoints.
//
// Task failures are recorded in the report and do not fail the run. A
// storage error is fatal: Run stops scheduling, waits for running tasks and
// returns the error. Cancelling ctx stops scheduling as well; running
// sequences finish the page they are on, everything enqueued is flushed and
// ctx's error is returned with the report.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	specs, err := r.registry.Select(req.Endpoints)
	if err != nil {
		return nil, err
	}
	tasks, err := BuildTasks(r.registry, specs, req.Years)
	if err != nil {
		return nil, err
	}
	limiter, err := NewLimiter(r.opts.MaxConcurrency)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Years:   req.Years,
		Started: r.now(),
		Tasks:   make([]TaskResult, len(tasks)),
	}
	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	for i, t := range tasks {
		report.Tasks[i] = TaskResult{Task: t}
	}

	if r.opts.Hooks.OnRunStart != nil {
		r.opts.Hooks.OnRunStart(ctx, report.RunID)
	}

	logger.Info().
		Int("endpoints", len(specs)).
		Str("years", req.Years.String()).
		Int("tasks", len(tasks)).
		Int("max_concurrency", r.opts.MaxConcurrency).
		Int("batch_size", r.opts.BatchSize).
		Msg("Run started")

	// The writer must outlive the caller's cancellation so buffered records
	// are flushed. Fetchers use workCtx so a cancelled run never aborts a
	// request mid-page; only a writer failure cancels it.
	writerCtx := context.WithoutCancel(ctx)
	workCtx, cancelWork := context.WithCancelCause(writerCtx)
	defer cancelWork(nil)

	submitCtx, stopSubmit := context.WithCancel(ctx)
	defer stopSubmit()
	context.AfterFunc(workCtx, stopSubmit)

	queue := NewQueue(r.opts.BatchSize)
	writer := NewWriter(r.store, r.opts.BatchSize)
	writerDone := make(chan error, 1)
	go func() {
		err := writer.Run(writerCtx, queue)
		if err != nil {
			cancelWork(err)
		}
		writerDone <- err
	}()

	var wg sync.WaitGroup
	for i := range tasks {
		if submitCtx.Err() != nil {
			break
		}
		if err := limiter.Acquire(submitCtx); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer limiter.Release()
			report.Tasks[i] = r.runTask(ctx, workCtx, tasks[i], queue)
		}()
	}
	wg.Wait()
	queue.Close()
	writerErr := <-writerDone

	report.Peak = limiter.Peak()
	report.MaxBuffered = writer.MaxHeld()
	report.Endpoints = endpointReports(specs, writer.Stats())
	for _, t := range report.Tasks {
		etlTasksTotal.WithLabelValues(string(t.Outcome())).Inc()
	}

	if writerErr != nil {
		report.Finished = r.now()
		report.Err = writerErr
		logger.Error().Err(writerErr).Msg("Run failed: storage error")
		r.runEnd(ctx, report)
		return report, fmt.Errorf("write records: %w", writerErr)
	}

	if ctx.Err() != nil {
		report.Cancelled = true
		report.Finished = r.now()
		logger.Warn().Int64("inserted", report.TotalInserted()).Msg("Run cancelled after flushing buffered records")
		r.runEnd(ctx, report)
		return report, ctx.Err()
	}

	if !r.opts.SkipExpansion && r.expander != nil {
		var years *record.YearRange
		if !r.opts.ExpandAllYears {
			years = &req.Years
		}
		report.Expansions = r.expander.ExpandAll(ctx, specs, years)
	}

	report.Finished = r.now()
	logger.Info().
		Int64("seen", report.TotalSeen()).
		Int64("inserted", report.TotalInserted()).
		Int("failed_tasks", len(report.FailedTasks())).
		Dur("duration", report.Duration()).
		Msg("Run finished")
	r.runEnd(ctx, report)
	return report, nil
}

func (r *Runner) runEnd(ctx context.Context, report *Report) {
	if r.opts.Hooks.OnRunEnd != nil {
		r.opts.Hooks.OnRunEnd(context.WithoutCancel(ctx), report)
	}
}

// runTask fetches one sequence and enqueues its records. Once runCtx is
// cancelled the sequence stops after the page it is on.
func (r *Runner) runTask(runCtx, workCtx context.Context, task Task, queue *Queue) TaskResult {
	res := TaskResult{Task: task, Started: true}
	seq := pagination.Sequence{EndpointKey: task.Spec.Key, Year: task.Year, URL: task.URL}

	emit := func(ctx context.Context, docs []*document.Object) error {
		fetchedAt := r.now().UTC()
		for _, doc := range docs {
			rec, err := record.New(task.Spec.Key, task.Year, doc, fetchedAt)
			if err != nil {
				r.logger.Warn().Err(err).Str("endpoint", task.Spec.Key).Int("year", task.Year).Msg("Dropped unencodable document")
				res.Dropped++
				continue
			}
			if err := queue.Put(ctx, Item{Table: task.Spec.DestinationTable, Record: rec}); err != nil {
				return err
			}
			res.Enqueued++
		}
		if runCtx.Err() != nil {
			return pagination.ErrStop
		}
		return nil
	}

	res.Summary = r.fetcher.Fetch(workCtx, seq, emit)
	if res.Summary.Stop == pagination.StopRequested && runCtx.Err() != nil {
		res.Summary.Stop = pagination.StopCancelled
	}
	return res
}

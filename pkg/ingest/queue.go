package ingest

import (
	"context"
	"sync"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
	"github.com/Sternrassler/endpoint-etl/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var etlQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "etl_queue_depth",
	Help: "Records waiting in the ingest queue",
})

// Item is a record tagged with the table it belongs to.
type Item struct {
	Table  ident.Ident
	Record record.Record
}

// Queue carries records from fetchers to the writer. Its capacity is twice
// the flush threshold; Put blocks while it is full.
type Queue struct {
	ch   chan Item
	once sync.Once
}

// NewQueue returns a queue sized for flushThreshold.
func NewQueue(flushThreshold int) *Queue {
	if flushThreshold < 1 {
		flushThreshold = 1
	}
	return &Queue{ch: make(chan Item, 2*flushThreshold)}
}

// Put enqueues item, blocking until there is room or ctx is done. Put must
// not be called after Close.
func (q *Queue) Put(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		etlQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. It is safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.ch) })
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

func (q *Queue) items() <-chan Item {
	return q.ch
}

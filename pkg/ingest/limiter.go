package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

var etlFetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "etl_fetches_in_flight",
	Help: "Fetch sequences currently running",
})

// Limiter bounds the number of fetch sequences running at once. It does not
// limit the pages a single sequence requests.
type Limiter struct {
	sem  *semaphore.Weighted
	size int

	mu       sync.Mutex
	inFlight int
	peak     int
}

// NewLimiter returns a limiter admitting n concurrent holders.
func NewLimiter(n int) (*Limiter, error) {
	if n < 1 {
		return nil, fmt.Errorf("max concurrency must be >= 1 (got %d)", n)
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	l.mu.Lock()
	l.inFlight++
	if l.inFlight > l.peak {
		l.peak = l.inFlight
	}
	l.mu.Unlock()
	etlFetchesInFlight.Inc()
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.inFlight--
	l.mu.Unlock()
	etlFetchesInFlight.Dec()
	l.sem.Release(1)
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	return l.size
}

// InFlight returns the slots currently held.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Peak returns the highest number of slots held at once.
func (l *Limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewLimiter_Validation(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := NewLimiter(n); err == nil {
			t.Errorf("NewLimiter(%d) error = nil, want error", n)
		}
	}
}

func TestLimiter_Bound(t *testing.T) {
	tests := []struct {
		size    int
		holders int
	}{
		{1, 5},
		{3, 20},
		{8, 8},
	}

	for _, tt := range tests {
		l, err := NewLimiter(tt.size)
		if err != nil {
			t.Fatalf("NewLimiter() error = %v", err)
		}

		var mu sync.Mutex
		current, worst := 0, 0
		var wg sync.WaitGroup
		for i := 0; i < tt.holders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := l.Acquire(context.Background()); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				mu.Lock()
				current++
				worst = max(worst, current)
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				current--
				mu.Unlock()
				l.Release()
			}()
		}
		wg.Wait()

		if worst > tt.size {
			t.Errorf("size %d: %d holders at once", tt.size, worst)
		}
		if l.Peak() > tt.size {
			t.Errorf("size %d: Peak() = %d", tt.size, l.Peak())
		}
		if l.InFlight() != 0 {
			t.Errorf("InFlight() = %d after all released, want 0", l.InFlight())
		}
	}
}

func TestLimiter_AcquireCancelled(t *testing.T) {
	l, _ := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() on full limiter error = %v, want DeadlineExceeded", err)
	}
	if l.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", l.InFlight())
	}
}

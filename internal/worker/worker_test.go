package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingFlusher struct {
	n atomic.Int64
}

func (c *countingFlusher) Flush() { c.n.Add(1) }

type countingSweeper struct {
	n atomic.Int64
}

func (c *countingSweeper) Sweep() int {
	c.n.Add(1)
	return 1
}

func TestCacheFlusherRuns(t *testing.T) {
	t.Parallel()

	flusher := &countingFlusher{}
	w := &CacheFlusher{Cache: flusher, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if flusher.n.Load() == 0 {
		t.Fatal("cache never flushed")
	}
}

func TestLimiterSweeperRuns(t *testing.T) {
	t.Parallel()

	sweeper := &countingSweeper{}
	w := &LimiterSweeper{Limiter: sweeper, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.n.Load() == 0 {
		t.Fatal("limiter never swept")
	}
}

type failingWorker struct{}

func (failingWorker) Name() string              { return "failing" }
func (failingWorker) Run(context.Context) error { return errors.New("boom") }

type blockingWorker struct{}

func (blockingWorker) Name() string { return "blocking" }
func (blockingWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestRunnerCancelsOnFirstError(t *testing.T) {
	t.Parallel()

	r := NewRunner(failingWorker{}, blockingWorker{})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || err.Error() != "boom" {
			t.Fatalf("Run: %v, want boom", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after worker failure")
	}
}

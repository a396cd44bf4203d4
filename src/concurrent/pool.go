package concurrent

import (
	"context"
	"fmt"
	"runtime"
)

// WorkerPool bounds how many CPU-heavy jobs run at once.
type WorkerPool struct {
	maxWorkers int
	sem        chan struct{}
}

// NewWorkerPool creates a pool; maxWorkers <= 0 means GOMAXPROCS.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}
}

// Size returns the number of slots.
func (wp *WorkerPool) Size() int { return wp.maxWorkers }

// Go runs fn on its own goroutine once a slot is free and waits for it.
// If ctx ends first Go returns ctx.Err() immediately; fn keeps its slot until
// it returns, so fn should watch ctx itself to stop early.
func Go[T any](ctx context.Context, wp *WorkerPool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case wp.sem <- struct{}{}:
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-wp.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

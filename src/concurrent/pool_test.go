package concurrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	wp := NewWorkerPool(2)

	var running, peak int32
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_, _ = Go(context.Background(), wp, func(context.Context) (struct{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return struct{}{}, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", peak)
	}
}

func TestGoReturnsValue(t *testing.T) {
	wp := NewWorkerPool(1)
	v, err := Go(context.Background(), wp, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Go = (%d, %v), want (42, nil)", v, err)
	}
}

func TestGoPropagatesError(t *testing.T) {
	wp := NewWorkerPool(1)
	boom := errors.New("boom")
	_, err := Go(context.Background(), wp, func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	wp := NewWorkerPool(1)
	_, err := Go(context.Background(), wp, func(context.Context) (int, error) { panic("bad pixels") })
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
	// the slot must have been released
	if _, err := Go(context.Background(), wp, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("pool unusable after panic: %v", err)
	}
}

func TestGoAbandonsOnCancel(t *testing.T) {
	wp := NewWorkerPool(1)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Go(ctx, wp, func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Go did not return promptly after cancellation")
	}
}

func TestGoWaitsForSlotWithContext(t *testing.T) {
	wp := NewWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Go(context.Background(), wp, func(context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Go(ctx, wp, func(context.Context) (int, error) { return 1, nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled while pool full, got %v", err)
	}
}

func TestNewWorkerPoolDefaultsSize(t *testing.T) {
	if NewWorkerPool(0).Size() < 1 {
		t.Fatal("expected a positive default size")
	}
}

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", got)
	}
	if p.Active() != 0 {
		t.Fatalf("Active = %d after completion", p.Active())
	}
}

func TestPoolDoReturnsTaskError(t *testing.T) {
	p := New(1)
	want := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do err = %v, want %v", err, want)
	}
}

func TestPoolDoRecoversPanic(t *testing.T) {
	p := New(1)
	err := p.Do(context.Background(), func(context.Context) error { panic("bad") })
	if err == nil {
		t.Fatalf("expected error from panicking task")
	}
	// The slot must be released.
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
}

func TestPoolDoHonoursCancellation(t *testing.T) {
	p := New(1)
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	for p.Active() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error { return nil })
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do err = %v, want deadline exceeded", err)
	}
}

func TestPoolDoPrefersFinishedResult(t *testing.T) {
	p := New(1)
	want := errors.New("finished")
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})
		errc := make(chan error, 1)
		go func() {
			errc <- p.Do(ctx, func(context.Context) error {
				<-release
				return want
			})
		}()
		for p.Active() == 0 {
			time.Sleep(time.Millisecond)
		}
		close(release)
		// The slot is freed only after the result is handed over.
		for len(p.slots) != 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
		if err := <-errc; !errors.Is(err, want) {
			t.Fatalf("iteration %d: Do err = %v, want %v", i, err, want)
		}
	}
}

func TestRunAndMap(t *testing.T) {
	p := New(3)
	v, err := Run(context.Background(), p, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Run = %d, %v", v, err)
	}

	out, err := Map(context.Background(), p, []int{1, 2, 3, 4, 5}, func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i, want := range []int{1, 4, 9, 16, 25} {
		if out[i] != want {
			t.Fatalf("Map[%d] = %d, want %d", i, out[i], want)
		}
	}

	_, err = Map(context.Background(), p, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("two")
		}
		return n, nil
	})
	if err == nil {
		t.Fatalf("Map should surface task errors")
	}
}

func TestNewDefaultsSize(t *testing.T) {
	if New(0).Size() < 1 {
		t.Fatalf("default pool size must be positive")
	}
}

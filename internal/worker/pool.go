// Package worker bounds CPU-heavy work (propagation, constraint sampling,
// footprint projection) so request handlers never run it inline.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
)

// Pool runs tasks on at most Size goroutines at once.
type Pool struct {
	slots  chan struct{}
	active atomic.Int64
}

// New creates a pool. A non-positive size uses GOMAXPROCS.
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{slots: make(chan struct{}, size)}
}

func (p *Pool) Size() int { return cap(p.slots) }

// Active returns the number of tasks currently holding a slot.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Do runs fn on a pool goroutine and waits for it. If ctx ends first Do
// returns ctx.Err(), unless fn's result is already available; fn keeps its
// slot until it returns, so it should watch ctx itself.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	p.active.Add(1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker task panicked: %v", r)
			}
			p.active.Add(-1)
			done <- err
			<-p.slots
		}()
		err = fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}

// Run is Do for tasks that produce a value.
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Map applies fn to every item on the pool and returns results in input
// order. The first error cancels the remaining items.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]R, len(items))
	errs := make(chan error, len(items))
	for i := range items {
		i := i
		go func() {
			errs <- p.Do(ctx, func(ctx context.Context) error {
				r, err := fn(ctx, items[i])
				if err != nil {
					return err
				}
				out[i] = r
				return nil
			})
		}()
	}

	var first error
	for range items {
		if err := <-errs; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	if first != nil {
		return nil, first
	}
	return out, nil
}

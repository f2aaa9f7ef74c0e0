package sandbox

import (
	"context"
	"fmt"
	"sync"
)

// loop is the single goroutine that owns a sandbox connection. Every provider
// call for one sandbox runs on it, one at a time, in submission order.
type loop struct {
	jobs     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newLoop() *loop {
	l := &loop{
		jobs: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *loop) run() {
	defer close(l.done)
	for {
		select {
		case job := <-l.jobs:
			job()
		case <-l.quit:
			return
		}
	}
}

// stop ends the loop once the running job, if any, returns. It does not wait.
func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

type loopResult[T any] struct {
	val T
	err error
}

// submit runs fn on the loop and blocks until it returns or ctx is done.
// A job that already started keeps running after the caller gave up; the next
// job only starts once it has finished.
func submit[T any](ctx context.Context, l *loop, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	res := make(chan loopResult[T], 1)

	job := func() {
		if err := ctx.Err(); err != nil {
			res <- loopResult[T]{err: err}
			return
		}
		defer func() {
			if r := recover(); r != nil {
				res <- loopResult[T]{err: fmt.Errorf("panic in sandbox call: %v", r)}
			}
		}()
		v, err := fn(ctx)
		res <- loopResult[T]{val: v, err: err}
	}

	select {
	case l.jobs <- job:
	case <-l.quit:
		return zero, ErrLoopStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-res:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

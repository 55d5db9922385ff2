// Package bridge lets request goroutines run operations against a session
// that is owned by a single execution context.
//
// The goroutine that calls Serve becomes the execution context. Submit hands
// it a work item over a channel and waits for the result for at most the
// given timeout. A timed out operation is not cancelled: it keeps running on
// the session context and its side effects still apply.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/danhigham/telecharm-web/internal/metrics"
)

var (
	ErrNotReady       = errors.New("session not ready")
	ErrTimeout        = errors.New("operation timed out")
	ErrAlreadyServing = errors.New("bridge already serving")
)

const defaultMaxInFlight = 16

type job[S any] struct {
	name  string
	run   func(ctx context.Context, s S)
	abort func(err error)
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// MaxInFlight bounds the number of operations executing at once.
	MaxInFlight int64
}

// Bridge connects callers to the session of type S.
type Bridge[S any] struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	sem     *semaphore.Weighted
	work    chan job[S]

	mu   sync.RWMutex
	done chan struct{} // non-nil while Serve runs
}

func New[S any](opts Options) *Bridge[S] {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	return &Bridge[S]{
		log:     opts.Logger,
		metrics: opts.Metrics,
		sem:     semaphore.NewWeighted(opts.MaxInFlight),
		work:    make(chan job[S]),
	}
}

// Ready reports whether an execution context is currently serving.
func (b *Bridge[S]) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.done != nil
}

func (b *Bridge[S]) serving() chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.done
}

// Serve executes submitted work items against s until ctx is done.
// Work items run concurrently on goroutines derived from ctx, never from the
// submitting caller's context.
func (b *Bridge[S]) Serve(ctx context.Context, s S) error {
	done := make(chan struct{})

	b.mu.Lock()
	if b.done != nil {
		b.mu.Unlock()
		return ErrAlreadyServing
	}
	b.done = done
	b.mu.Unlock()

	b.log.Info("Bridge serving")
	defer func() {
		b.mu.Lock()
		b.done = nil
		close(done)
		b.mu.Unlock()
		b.log.Info("Bridge stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-b.work:
			if err := b.sem.Acquire(ctx, 1); err != nil {
				j.abort(ErrNotReady)
				return nil
			}
			b.metrics.InFlight(1)
			go func() {
				defer b.sem.Release(1)
				defer b.metrics.InFlight(-1)
				j.run(ctx, s)
			}()
		}
	}
}

type result[T any] struct {
	value T
	err   error
}

// Submit runs op on the execution context of b and waits up to timeout for
// its result. It fails fast with ErrNotReady when nothing is serving.
// Cancelling ctx or hitting the timeout abandons only the wait.
func Submit[S, T any](ctx context.Context, b *Bridge[S], name string, timeout time.Duration, op func(ctx context.Context, s S) (T, error)) (T, error) {
	var zero T

	done := b.serving()
	if done == nil {
		b.metrics.ObserveOperation(name, "not_ready")
		return zero, fmt.Errorf("%s: %w", name, ErrNotReady)
	}

	res := make(chan result[T], 1)
	j := job[S]{
		name: name,
		run: func(ctx context.Context, s S) {
			start := time.Now()
			v, err := call(ctx, s, op)
			b.metrics.ObserveDuration(name, time.Since(start))
			res <- result[T]{value: v, err: err}
		},
		abort: func(err error) {
			res <- result[T]{err: err}
		},
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b.work <- j:
	case <-done:
		b.metrics.ObserveOperation(name, "not_ready")
		return zero, fmt.Errorf("%s: %w", name, ErrNotReady)
	case <-timer.C:
		b.metrics.ObserveOperation(name, "timeout")
		return zero, fmt.Errorf("%s: %w after %s", name, ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-res:
		if r.err != nil {
			b.metrics.ObserveOperation(name, "error")
		} else {
			b.metrics.ObserveOperation(name, "ok")
		}
		return r.value, r.err
	case <-timer.C:
		b.metrics.ObserveOperation(name, "timeout")
		b.log.Warn("Operation timed out, leaving it running",
			zap.String("op", name), zap.Duration("timeout", timeout))
		return zero, fmt.Errorf("%s: %w after %s", name, ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// call runs op and converts a panic into an error so one failing operation
// cannot take down the execution context.
func call[S, T any](ctx context.Context, s S, op func(ctx context.Context, s S) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx, s)
}

package sync

import (
	"context"
	"time"
)

// result carries an operation outcome across the race
type result[T any] struct {
	value T
	err   error
}

// WithDeadline races op against a deadline and returns fallback if the
// deadline fires first. The losing operation's eventual result is discarded:
// the derived context is cancelled so transports that honor cancellation
// stop early, but cancellation is best-effort — the remote call may still
// complete server-side. The fallback is produced exactly once; a late
// result from the real operation after the timer fired is dropped.
func WithDeadline[T any](ctx context.Context, clock Clock, d time.Duration, fallback T, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the losing goroutine never blocks after the race is over
	ch := make(chan result[T], 1)
	go func() {
		value, err := op(opCtx)
		ch <- result[T]{value, err}
	}()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-clock.After(d):
		return fallback, nil
	case <-ctx.Done():
		return fallback, ctx.Err()
	}
}

// WithDeadlineErr is like WithDeadline but expiry is surfaced as ErrTimeout
// instead of a fallback value
func WithDeadlineErr[T any](ctx context.Context, clock Clock, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		value, err := op(opCtx)
		ch <- result[T]{value, err}
	}()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-clock.After(d):
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

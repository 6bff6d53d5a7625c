package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDeadline(t *testing.T) {
	t.Run("operation wins the race", func(t *testing.T) {
		clock := newFakeClock(false)

		got, err := WithDeadline(context.Background(), clock, 10*time.Second, "fallback",
			func(ctx context.Context) (string, error) {
				return "real", nil
			})

		require.NoError(t, err)
		assert.Equal(t, "real", got)
	})

	t.Run("fallback fires exactly once when the operation never resolves", func(t *testing.T) {
		clock := newFakeClock(false)
		release := make(chan struct{})

		results := make(chan string, 2)
		go func() {
			got, _ := WithDeadline(context.Background(), clock, 10*time.Second, "fallback",
				func(ctx context.Context) (string, error) {
					<-release
					return "late", nil
				})
			results <- got
		}()

		require.Eventually(t, func() bool {
			return len(clock.Waits()) == 1
		}, time.Second, time.Millisecond)
		assert.Equal(t, 10*time.Second, clock.Waits()[0])

		clock.fire(0)
		assert.Equal(t, "fallback", <-results)

		// The operation resolving later must not produce a second result
		close(release)
		select {
		case extra := <-results:
			t.Fatalf("unexpected second result %q", extra)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("operation error propagates", func(t *testing.T) {
		clock := newFakeClock(false)
		opErr := errors.New("remote failed")

		got, err := WithDeadline(context.Background(), clock, time.Second, "fallback",
			func(ctx context.Context) (string, error) {
				return "", opErr
			})

		assert.ErrorIs(t, err, opErr)
		assert.Empty(t, got)
	})

	t.Run("caller cancellation beats the fallback", func(t *testing.T) {
		clock := newFakeClock(false)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := WithDeadline(ctx, clock, time.Second, "fallback",
			func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			})

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("losing operation sees its context cancelled", func(t *testing.T) {
		clock := newFakeClock(false)
		sawCancel := make(chan struct{})

		done := make(chan struct{})
		go func() {
			_, _ = WithDeadline(context.Background(), clock, time.Second, 0,
				func(ctx context.Context) (int, error) {
					<-ctx.Done()
					close(sawCancel)
					return 0, ctx.Err()
				})
			close(done)
		}()

		require.Eventually(t, func() bool {
			return len(clock.Waits()) == 1
		}, time.Second, time.Millisecond)
		clock.fire(0)
		<-done

		select {
		case <-sawCancel:
		case <-time.After(time.Second):
			t.Fatal("losing operation never observed cancellation")
		}
	})
}

func TestWithDeadlineErr(t *testing.T) {
	t.Run("expiry surfaces ErrTimeout", func(t *testing.T) {
		clock := newFakeClock(false)

		done := make(chan error, 1)
		go func() {
			_, err := WithDeadlineErr(context.Background(), clock, 30*time.Second,
				func(ctx context.Context) (string, error) {
					<-ctx.Done()
					return "", ctx.Err()
				})
			done <- err
		}()

		require.Eventually(t, func() bool {
			return len(clock.Waits()) == 1
		}, time.Second, time.Millisecond)
		clock.fire(0)

		assert.ErrorIs(t, <-done, ErrTimeout)
	})

	t.Run("result passes through when the operation wins", func(t *testing.T) {
		clock := newFakeClock(false)

		got, err := WithDeadlineErr(context.Background(), clock, time.Second,
			func(ctx context.Context) (int, error) {
				return 42, nil
			})

		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})
}

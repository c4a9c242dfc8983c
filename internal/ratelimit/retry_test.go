package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seractech/planwatch/internal/clock/manual"
	"github.com/seractech/planwatch/internal/planning"
)

func testPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func TestPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := testPolicy()
	for attempt, base := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		for i := 0; i < 20; i++ {
			got := p.Backoff(attempt)
			require.GreaterOrEqual(t, got, base)
			require.Less(t, got, base+base/2)
		}
	}
	capped := p.Backoff(10)
	require.GreaterOrEqual(t, capped, 30*time.Second)
	require.Less(t, capped, 45*time.Second)
}

func TestExecuteWithRetryRecoversFrom429(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 3}, WithClock(clk))

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "portal", testPolicy(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &planning.StatusError{URL: "https://portal/search", Code: http.StatusTooManyRequests}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.InDelta(t, 0.5, l.Rate("portal"), 1e-9)

	slept := clk.Slept()
	require.NotEmpty(t, slept)
	require.GreaterOrEqual(t, slept[0], 2*time.Second)
}

func TestExecuteWithRetryHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 10, DefaultBurst: 3}, WithClock(clk))

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "portal", testPolicy(), func(context.Context) error {
		calls++
		if calls == 1 {
			return &planning.StatusError{Code: http.StatusServiceUnavailable, RetryAfter: 45 * time.Second}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, clk.Slept()[0])
}

func TestExecuteWithRetryRetriesRequestTimeouts(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 10, DefaultBurst: 3}, WithClock(clk))

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "portal", testPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("colly visit failed: %w", context.DeadlineExceeded)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, clk.Slept(), 2)
}

func TestExecuteWithRetryStopsWhenCallerContextEnds(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 10, DefaultBurst: 3}, WithClock(clk))

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	calls := 0
	err := l.ExecuteWithRetry(ctx, "portal", testPolicy(), func(context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("colly fetch canceled: %w", context.DeadlineExceeded)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, clk.Slept())
}

func TestExecuteWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 3}, WithClock(clk))

	calls := 0
	err := l.ExecuteWithRetry(context.Background(), "portal", testPolicy(), func(context.Context) error {
		calls++
		return &planning.StatusError{Code: http.StatusNotFound}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	var statusErr *planning.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.True(t, statusErr.NotFound())
	require.Empty(t, clk.Slept())
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 3}, WithClock(clk))

	calls := 0
	transient := errors.New("connection reset by peer")
	err := l.ExecuteWithRetry(context.Background(), "portal", testPolicy(), func(context.Context) error {
		calls++
		return transient
	})
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, calls)
	require.Len(t, clk.Slept(), 2)
}

func TestExecuteWithRetryTakesTokenPerAttempt(t *testing.T) {
	t.Parallel()

	clk := manual.New(epoch)
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1}, WithClock(clk))
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	var stamps []time.Time
	_ = l.ExecuteWithRetry(context.Background(), "k", p, func(context.Context) error {
		stamps = append(stamps, clk.Now())
		return errors.New("flaky")
	})
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 999*time.Millisecond)
	}
}

func TestExecuteWithRetryCanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := l.ExecuteWithRetry(ctx, "k", testPolicy(), func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
)

// Policy controls ExecuteWithRetry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns three attempts with a 2s base and 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff returns the wait before retry number attempt (0-based): the
// exponential delay capped at MaxDelay, plus up to half of it again as jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay) + randomJitter(time.Duration(delay)/2)
}

// ExecuteWithRetry runs op, taking a token for key before every attempt and
// retrying transient failures with jittered exponential backoff. A 429 also
// throttles key for the rest of the run. Once ctx is done no further attempt
// is made. The last error is returned wrapped.
func (l *Limiter) ExecuteWithRetry(ctx context.Context, key string, p Policy, op func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := l.Acquire(ctx, key); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if planning.IsThrottled(err) {
			l.Throttle(key)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d/%d: %w", attempt+1, maxAttempts, err)
		}
		if !planning.IsRetryable(err) {
			return fmt.Errorf("attempt %d/%d: %w", attempt+1, maxAttempts, err)
		}
		if attempt == maxAttempts-1 {
			break
		}

		wait := p.Backoff(attempt)
		if ra := planning.RetryAfter(err); ra > wait {
			wait = ra
		}
		metrics.ObserveRetry(key)
		l.logger.Debug("retrying request",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry backoff %s: %w", key, err)
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

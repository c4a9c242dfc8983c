// Package ratelimit implements per-host token buckets and the retry wrapper
// every outbound request goes through.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seractech/planwatch/internal/clock/system"
	"github.com/seractech/planwatch/internal/metrics"
)

// Clock supplies time to the limiter and blocks on its behalf.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// ThrottleFactor multiplies a key's rate after an HTTP 429.
	ThrottleFactor float64
	// MinRPS is the floor throttling never goes below.
	MinRPS float64
}

// Limiter manages one token bucket per key.
type Limiter struct {
	mu             sync.Mutex
	limiters       map[string]*rate.Limiter
	defaultRate    rate.Limit
	defaultBurst   int
	throttleFactor float64
	minRate        rate.Limit
	clock          Clock
	logger         *zap.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the time source, mainly for tests.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger.Named("ratelimit") }
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	factor := cfg.ThrottleFactor
	if factor <= 0 || factor >= 1 {
		factor = 0.5
	}
	minRate := rate.Limit(cfg.MinRPS)
	if cfg.MinRPS <= 0 {
		minRate = 0.05
	}
	l := &Limiter{
		limiters:       make(map[string]*rate.Limiter),
		defaultRate:    r,
		defaultBurst:   burst,
		throttleFactor: factor,
		minRate:        minRate,
		clock:          system.New(),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Configure sets a dedicated rate for key. Zero values fall back to the defaults.
// Reconfiguring an existing key keeps its current tokens.
func (l *Limiter) Configure(key string, rps float64, burst int) {
	r := l.defaultRate
	if rps > 0 {
		r = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.limiters[key]; ok {
		now := l.clock.Now()
		existing.SetLimitAt(now, r)
		existing.SetBurstAt(now, burst)
		return
	}
	lim := rate.NewLimiter(r, burst)
	// Buckets start full relative to the injected clock, not wall time.
	lim.AllowN(l.clock.Now(), 0)
	l.limiters[key] = lim
}

// Acquire blocks until a token for key is available, respecting the context.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	limiter := l.bucket(key)

	now := l.clock.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("rate limit %s: burst too small", key)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := l.clock.Sleep(ctx, delay); err != nil {
		reservation.CancelAt(l.clock.Now())
		return fmt.Errorf("rate limit wait %s: %w", key, err)
	}
	if delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, delay)
	}
	return nil
}

// Throttle lowers key's rate after the server signalled overload. The new rate
// holds for the rest of the run.
func (l *Limiter) Throttle(key string) {
	limiter := l.bucket(key)
	now := l.clock.Now()

	l.mu.Lock()
	current := limiter.Limit()
	next := current * rate.Limit(l.throttleFactor)
	if current == rate.Inf {
		next = l.defaultRate
		if next == rate.Inf {
			next = 1
		}
	}
	if next < l.minRate {
		next = l.minRate
	}
	limiter.SetLimitAt(now, next)
	l.mu.Unlock()

	metrics.ObserveThrottle(key)
	l.logger.Warn("throttling after 429",
		zap.String("key", key),
		zap.Float64("previous_rps", float64(current)),
		zap.Float64("rps", float64(next)),
	)
}

// Rate returns the current rate for key.
func (l *Limiter) Rate(key string) float64 {
	return float64(l.bucket(key).Limit())
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		limiter.AllowN(l.clock.Now(), 0)
		l.limiters[key] = limiter
	}
	return limiter
}

package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/observability"
)

const (
	// DefaultLimit is the maximum number of calls allowed inside one window.
	DefaultLimit = 10
	// DefaultPeriod is the length of the trailing window.
	DefaultPeriod = 60 * time.Second
)

// Clock supplies the current time and sleeps. Times returned by Now must carry
// a monotonic reading so wall-clock adjustments do not affect the window.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the process clock.
var SystemClock Clock = systemClock{}

// Limiter caps outbound calls to limit per trailing period. Wait blocks the
// caller synchronously; it is not a cancellation point. mu is never held
// across a sleep.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	clock  Clock
	calls  *window
	logger *zap.Logger
}

// New creates a Limiter using the system clock. Non-positive arguments fall back
// to DefaultLimit and DefaultPeriod.
func New(limit int, period time.Duration, logger *zap.Logger) *Limiter {
	return NewWithClock(limit, period, SystemClock, logger)
}

// NewWithClock creates a Limiter with an explicit clock.
func NewWithClock(limit int, period time.Duration, clock Clock, logger *zap.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		limit:  limit,
		period: period,
		clock:  clock,
		calls:  newWindow(limit),
		logger: logger,
	}
}

// Wait records one outbound call, first sleeping until the oldest retained call
// leaves the window when the cap has been reached. Returns the time spent waiting.
// The lock is released while sleeping so InWindow never blocks behind a waiter;
// the window is re-checked after every sleep.
func (l *Limiter) Wait() time.Duration {
	var waited time.Duration
	l.mu.Lock()
	for {
		now := l.clock.Now()
		l.calls.prune(now, l.period)
		if !l.calls.full() {
			l.calls.push(now)
			l.mu.Unlock()
			return waited
		}
		wait := l.period - now.Sub(l.calls.oldest())
		l.mu.Unlock()

		l.logger.Info("rate limit reached, waiting",
			zap.Duration("wait", wait),
			zap.Int("limit", l.limit),
			zap.Duration("period", l.period))
		observability.RateLimitWaitsTotal.Inc()
		observability.RateLimitWaitSeconds.Observe(wait.Seconds())
		l.clock.Sleep(wait)
		waited += wait

		l.mu.Lock()
	}
}

// InWindow returns the number of calls currently retained in the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.prune(l.clock.Now(), l.period)
	return l.calls.len()
}

// Limit returns the configured cap.
func (l *Limiter) Limit() int {
	return l.limit
}

package validate

import (
	"context"
	"sync"
	"time"
)

// Default limiter budgets.
const (
	DefaultMaxRequests   = 10
	DefaultWindow        = time.Minute
	DefaultMaxFailures   = 5
	DefaultFailureWindow = time.Hour
)

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// MaxRequests is the request budget per Window for one key.
	MaxRequests int

	// Window is the sliding window for MaxRequests.
	Window time.Duration

	// MaxFailures locks a key out once reached within FailureWindow.
	MaxFailures int

	// FailureWindow is the sliding window for MaxFailures.
	FailureWindow time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultFailureWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Limiter is a sliding-window rate limiter keyed by (operation,
// identifier), with a lockout after repeated failures. It is safe for
// concurrent use.
type Limiter struct {
	cfg LimiterConfig

	mu       sync.Mutex
	requests map[string][]time.Time
	failures map[string][]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLimiter creates a limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	return &Limiter{
		cfg:      cfg.withDefaults(),
		requests: make(map[string][]time.Time),
		failures: make(map[string][]time.Time),
	}
}

func limiterKey(operation, identifier string) string {
	return operation + ":" + identifier
}

// Check rejects the request if the key is locked out or over budget, and
// otherwise counts it against the budget.
func (l *Limiter) Check(operation, identifier string) error {
	if err := l.blocked(operation, identifier); err != nil {
		return err
	}
	return l.Allow(operation, identifier)
}

// Allow counts one request against the key's budget, or returns a
// *LimitError if the budget for the current window is spent. Rejected
// requests are not counted.
func (l *Limiter) Allow(operation, identifier string) error {
	key := limiterKey(operation, identifier)
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.requests[key], now, l.cfg.Window)
	if len(recent) >= l.cfg.MaxRequests {
		l.requests[key] = recent
		return &LimitError{
			Operation:  operation,
			RetryAfter: recent[len(recent)-l.cfg.MaxRequests].Add(l.cfg.Window).Sub(now),
		}
	}
	l.requests[key] = append(recent, now)
	return nil
}

// RecordFailure counts a failed attempt for the key.
func (l *Limiter) RecordFailure(operation, identifier string) {
	key := limiterKey(operation, identifier)
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key] = append(prune(l.failures[key], now, l.cfg.FailureWindow), now)
}

// Blocked reports whether the key is locked out.
func (l *Limiter) Blocked(operation, identifier string) bool {
	return l.blocked(operation, identifier) != nil
}

// CheckLockout returns a *LimitError if the key is locked out. Unlike
// Check it does not count a request.
func (l *Limiter) CheckLockout(operation, identifier string) error {
	return l.blocked(operation, identifier)
}

func (l *Limiter) blocked(operation, identifier string) error {
	key := limiterKey(operation, identifier)
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.failures[key], now, l.cfg.FailureWindow)
	if len(recent) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = recent
	if len(recent) < l.cfg.MaxFailures {
		return nil
	}
	return &LimitError{
		Operation:  operation,
		RetryAfter: recent[len(recent)-l.cfg.MaxFailures].Add(l.cfg.FailureWindow).Sub(now),
		Blocked:    true,
	}
}

// Prune drops keys with no timestamps left in their window.
func (l *Limiter) Prune() {
	now := l.cfg.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, ts := range l.requests {
		if recent := prune(ts, now, l.cfg.Window); len(recent) == 0 {
			delete(l.requests, key)
		} else {
			l.requests[key] = recent
		}
	}
	for key, ts := range l.failures {
		if recent := prune(ts, now, l.cfg.FailureWindow); len(recent) == 0 {
			delete(l.failures, key)
		} else {
			l.failures[key] = recent
		}
	}
}

// Keys returns how many request and failure keys are tracked.
func (l *Limiter) Keys() (requests, failures int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests), len(l.failures)
}

// StartCleanupRoutine starts a background goroutine that periodically
// prunes stale keys. The goroutine is stopped when Close is called.
func (l *Limiter) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (l *Limiter) Close() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	return nil
}

// prune keeps the timestamps still inside window. ts is ascending.
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}

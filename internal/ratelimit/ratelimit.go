// Package ratelimit enforces the upstream API quotas (requests per minute and
// per hour) before any outbound request is issued.
//
// A Limiter owns its Store; nothing here is package-level state, so tests and
// sessions get isolation by constructing fresh instances. MemoryStore serves a
// single process, RedisStore shares the quota between processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

// Upstream quotas published for the OpenAQ free tier.
const (
	DefaultPerMinute = 60
	DefaultPerHour   = 2000
)

// minWait keeps a denied-but-waiting caller from spinning on a zero hint.
const minWait = 10 * time.Millisecond

// Policy decides what Acquire does when a quota is exhausted.
type Policy string

const (
	// PolicyWait blocks until the window resets, bounded by the limiter's max wait.
	PolicyWait Policy = "wait"
	// PolicyFail returns a RateLimitError immediately.
	PolicyFail Policy = "fail"
)

// ParsePolicy maps a config string to a Policy. Empty means PolicyWait.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyWait:
		return PolicyWait, nil
	case PolicyFail:
		return PolicyFail, nil
	default:
		return "", fmt.Errorf("rate limit policy must be wait or fail, got %q", s)
	}
}

// State is a snapshot of the quota counters.
type State struct {
	MinuteCount   int       `json:"minuteCount"`
	MinuteResetAt time.Time `json:"minuteResetAt"`
	HourCount     int       `json:"hourCount"`
	HourResetAt   time.Time `json:"hourResetAt"`
}

// Decision is the outcome of a single reservation attempt.
// Scope and RetryAfter are set only when Allowed is false.
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

// Store holds the counters. Reserve either counts one request against both
// windows or counts nothing and reports the exhausted window.
type Store interface {
	Reserve(ctx context.Context, now time.Time) (Decision, error)
	Snapshot(ctx context.Context, now time.Time) (State, error)
}

// Limiter applies a Policy on top of a Store.
type Limiter struct {
	store   Store
	policy  Policy
	maxWait time.Duration
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Used by tests to drive window rollover.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the context-aware sleep used by PolicyWait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithLogger attaches a logger for wait/deny events.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter. maxWait bounds the cumulative time a single Acquire
// may block under PolicyWait.
func New(store Store, policy Policy, maxWait time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		policy:  policy,
		maxWait: maxWait,
		logger:  zap.NewNop(),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire reserves one outbound request. It returns nil once the request may
// be sent, a *aqerr.RateLimitError when the quota is exhausted and the policy
// (or the wait bound) forbids waiting, or ctx.Err() if ctx ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		d, err := l.store.Reserve(ctx, l.now())
		if err != nil {
			return fmt.Errorf("rate limit store: %w", err)
		}
		if d.Allowed {
			return nil
		}

		wait := d.RetryAfter
		if wait < minWait {
			wait = minWait
		}
		if l.policy != PolicyWait || waited+wait > l.maxWait {
			observability.RateLimitDeniedTotal.WithLabelValues(d.Scope).Inc()
			l.logger.Warn("rate limit exhausted", zap.String("scope", d.Scope), zap.Duration("retry_after", d.RetryAfter))
			return &aqerr.RateLimitError{Scope: d.Scope, RetryAfter: d.RetryAfter}
		}

		l.logger.Debug("rate limit wait", zap.String("scope", d.Scope), zap.Duration("wait", wait))
		observability.RateLimitWaitSecondsTotal.Add(wait.Seconds())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// State returns the current counters.
func (l *Limiter) State(ctx context.Context) (State, error) {
	return l.store.Snapshot(ctx, l.now())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

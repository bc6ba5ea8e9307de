package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
)

// MemoryStore keeps per-process fixed-window counters. A window starts with
// the first request after the previous one expired. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	minute    window
	hour      window
}

type window struct {
	size  time.Duration
	start time.Time
	count int
}

// NewMemoryStore creates a MemoryStore. A limit <= 0 disables that window.
func NewMemoryStore(perMinute, perHour int) *MemoryStore {
	return &MemoryStore{
		perMinute: perMinute,
		perHour:   perHour,
		minute:    window{size: time.Minute},
		hour:      window{size: time.Hour},
	}
}

func (w *window) expired(now time.Time) bool {
	return w.start.IsZero() || now.Sub(w.start) >= w.size
}

func (w *window) roll(now time.Time) {
	if w.expired(now) {
		w.start = now
		w.count = 0
	}
}

func (w *window) resetAt() time.Time {
	return w.start.Add(w.size)
}

// Reserve implements Store. The hour window is checked first so a caller
// waiting on it is not woken every minute for nothing.
func (s *MemoryStore) Reserve(ctx context.Context, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minute.roll(now)
	s.hour.roll(now)

	if s.perHour > 0 && s.hour.count >= s.perHour {
		return Decision{Scope: aqerr.ScopeHour, RetryAfter: s.hour.resetAt().Sub(now)}, nil
	}
	if s.perMinute > 0 && s.minute.count >= s.perMinute {
		return Decision{Scope: aqerr.ScopeMinute, RetryAfter: s.minute.resetAt().Sub(now)}, nil
	}

	s.minute.count++
	s.hour.count++
	return Decision{Allowed: true}, nil
}

// Snapshot implements Store without mutating the windows.
func (s *MemoryStore) Snapshot(ctx context.Context, now time.Time) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st State
	if !s.minute.expired(now) {
		st.MinuteCount = s.minute.count
		st.MinuteResetAt = s.minute.resetAt()
	}
	if !s.hour.expired(now) {
		st.HourCount = s.hour.count
		st.HourResetAt = s.hour.resetAt()
	}
	return st, nil
}

// Package traffic keeps sliding windows of upstream call outcomes. Health
// reporting reads error rates and throttling counts from it.
package traffic

import (
	"errors"
	"sync"
	"time"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
)

// DefaultMaxAge is how long outcomes are retained.
const DefaultMaxAge = 5 * time.Minute

// Counts are outcome totals within a window.
type Counts struct {
	Success   int `json:"success"`
	Failure   int `json:"failure"`
	Throttled int `json:"throttled"`
}

// Total returns the number of outcomes of any kind.
func (c Counts) Total() int {
	return c.Success + c.Failure + c.Throttled
}

// Tracker maintains sliding windows of outcome timestamps. Safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	maxAge    time.Duration
	now       func() time.Time
	success   []time.Time
	failure   []time.Time
	throttled []time.Time
}

// NewTracker returns a Tracker keeping outcomes for maxAge (DefaultMaxAge
// when <= 0).
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// Observe classifies err and records it. Answers the upstream gave on
// purpose (not found, bad input) count as successes; throttling is kept
// apart so it does not inflate the error rate.
func (t *Tracker) Observe(err error) {
	switch {
	case err == nil, errors.Is(err, aqerr.ErrNotFound), errors.Is(err, aqerr.ErrInvalidInput):
		t.RecordSuccess()
	case errors.Is(err, aqerr.ErrRateLimited):
		t.RecordThrottled()
	default:
		t.RecordFailure()
	}
}

// RecordSuccess records a successful call.
func (t *Tracker) RecordSuccess() {
	t.record(&t.success)
}

// RecordFailure records a failed call (network, auth, data).
func (t *Tracker) RecordFailure() {
	t.record(&t.failure)
}

// RecordThrottled records a call refused by a quota, local or remote.
func (t *Tracker) RecordThrottled() {
	t.record(&t.throttled)
}

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// Counts returns outcome totals within window.
func (t *Tracker) Counts(window time.Duration) Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return Counts{
		Success:   countSince(t.success, cutoff),
		Failure:   countSince(t.failure, cutoff),
		Throttled: countSince(t.throttled, cutoff),
	}
}

// ErrorRate returns (failures, successes+failures) within window.
// Throttled calls are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (failures, total int) {
	c := t.Counts(window)
	return c.Failure, c.Failure + c.Success
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success, t.failure, t.throttled = nil, nil, nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops outcomes older than maxAge. Slices are in append order,
// so the expired prefix is contiguous.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.success)
	prune(&t.failure)
	prune(&t.throttled)
}

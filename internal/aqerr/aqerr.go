// Package aqerr defines the error kinds surfaced by the API access layer.
// Callers classify failures with errors.Is against the sentinels below;
// rate-limit failures additionally carry a *RateLimitError for errors.As.
package aqerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfig marks missing or invalid configuration. Fatal at startup.
	ErrConfig = errors.New("configuration error")
	// ErrAuth marks credentials rejected by the upstream API.
	ErrAuth = errors.New("authentication rejected")
	// ErrRateLimited marks an exhausted local or remote quota.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork marks transport failures, timeouts and upstream 5xx after retries.
	ErrNetwork = errors.New("network failure")
	// ErrData marks a malformed or unexpected response shape.
	ErrData = errors.New("malformed response")
	// ErrNotFound marks a resource the upstream API does not know.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks caller arguments rejected before any request is made.
	ErrInvalidInput = errors.New("invalid input")
)

// Rate-limit scopes reported in RateLimitError.Scope.
const (
	ScopeMinute = "minute"
	ScopeHour   = "hour"
	ScopeRemote = "remote"
)

// RateLimitError reports which quota was exhausted and how long to wait.
// RetryAfter is zero when no hint is known.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (%s quota), retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("rate limited (%s quota)", e.Scope)
}

// Is makes errors.Is(err, ErrRateLimited) true for any RateLimitError.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the retry hint from err, or zero if err carries none.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// Kind returns a short stable name for the error kind, "" for nil and
// "unknown" for errors outside this package's taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}

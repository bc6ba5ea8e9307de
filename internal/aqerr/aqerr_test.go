package aqerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRateLimitError_IsAndAs(t *testing.T) {
	err := fmt.Errorf("get locations: %w", &RateLimitError{Scope: ScopeRemote, RetryAfter: 30 * time.Second})

	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("errors.Is(err, ErrRateLimited) = false, want true")
	}
	if got := RetryAfter(err); got != 30*time.Second {
		t.Errorf("RetryAfter() = %v, want 30s", got)
	}
	if !strings.Contains(err.Error(), "retry after 30s") {
		t.Errorf("Error() = %q, want retry hint", err.Error())
	}
}

func TestRetryAfter_NoHint(t *testing.T) {
	if got := RetryAfter(errors.New("boom")); got != 0 {
		t.Errorf("RetryAfter() = %v, want 0", got)
	}
	if got := RetryAfter(&RateLimitError{Scope: ScopeMinute}); got != 0 {
		t.Errorf("RetryAfter() = %v, want 0", got)
	}
}

// TestKind verifies that every sentinel, wrapped or not, maps to its stable name.
func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"config", fmt.Errorf("load: %w", ErrConfig), "config"},
		{"auth", ErrAuth, "auth"},
		{"rate limit struct", &RateLimitError{Scope: ScopeHour}, "rate_limit"},
		{"rate limit sentinel", ErrRateLimited, "rate_limit"},
		{"not found", ErrNotFound, "not_found"},
		{"invalid", fmt.Errorf("%w: start after end", ErrInvalidInput), "invalid"},
		{"data", fmt.Errorf("decode: %w", ErrData), "data"},
		{"network", fmt.Errorf("%w: %w", ErrNetwork, context.DeadlineExceeded), "network"},
		{"unknown", errors.New("other"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

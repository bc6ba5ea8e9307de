package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
)

// TestCategorizeError verifies that CategorizeError maps errors to the correct ErrorCategory
// for metrics labeling, including sentinel errors and wrapped errors.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"wrapped transport timeout", fmt.Errorf("%w: GET /x: %w", aqerr.ErrNetwork, context.DeadlineExceeded), ErrorCategoryTimeout},
		{"auth", fmt.Errorf("%w: HTTP 401", aqerr.ErrAuth), ErrorCategoryAuth},
		{"not found", fmt.Errorf("%w: /locations/1", aqerr.ErrNotFound), ErrorCategoryNotFound},
		{"remote rate limit", &aqerr.RateLimitError{Scope: aqerr.ScopeRemote}, ErrorCategoryRateLimited},
		{"upstream 5xx", fmt.Errorf("%w: %w: HTTP 503", aqerr.ErrNetwork, errServerError), ErrorCategoryUpstream5xx},
		{"circuit open", fmt.Errorf("%w: %w", aqerr.ErrNetwork, errCircuitOpen), ErrorCategoryCircuitOpen},
		{"network", fmt.Errorf("%w: connection refused", aqerr.ErrNetwork), ErrorCategoryNetwork},
		{"data", fmt.Errorf("%w: bad envelope", aqerr.ErrData), ErrorCategoryData},
		{"config", aqerr.ErrConfig, ErrorCategoryConfig},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

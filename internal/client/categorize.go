package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (openaqApiErrorsTotal).
const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryAuth        ErrorCategory = "auth"
	ErrorCategoryNotFound    ErrorCategory = "not_found"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryData        ErrorCategory = "data"
	ErrorCategoryConfig      ErrorCategory = "config"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, aqerr.ErrAuth):
		return ErrorCategoryAuth
	case errors.Is(err, aqerr.ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, aqerr.ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, errServerError):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, aqerr.ErrNetwork):
		return ErrorCategoryNetwork
	case errors.Is(err, aqerr.ErrData):
		return ErrorCategoryData
	case errors.Is(err, aqerr.ErrConfig):
		return ErrorCategoryConfig
	default:
		return ErrorCategoryUnknown
	}
}

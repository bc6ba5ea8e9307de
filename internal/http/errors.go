package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/airquality-dashboard/internal/aqerr"
	"github.com/kjstillabower/airquality-dashboard/internal/observability"
	"github.com/kjstillabower/airquality-dashboard/internal/validation"
)

// invalidCodes maps validation failures to response codes. Order matters
// only for readability; each sentinel is distinct.
var invalidCodes = []struct {
	err  error
	code string
}{
	{validation.ErrCountryInvalid, "INVALID_COUNTRY"},
	{validation.ErrCityInvalid, "INVALID_CITY"},
	{validation.ErrParameterInvalid, "INVALID_PARAMETER"},
	{validation.ErrIDInvalid, "INVALID_ID"},
	{validation.ErrTimeInvalid, "INVALID_TIME_RANGE"},
	{validation.ErrRangeInvalid, "INVALID_TIME_RANGE"},
	{validation.ErrPeriodInvalid, "INVALID_PERIOD"},
	{validation.ErrBBoxInvalid, "INVALID_BBOX"},
	{errLimitInvalid, "INVALID_LIMIT"},
	{errFilterRequired, "INVALID_FILTER"},
}

// statusClientClosed is the conventional status for a request the client
// abandoned before a response was ready.
const statusClientClosed = 499

// errorStatus maps an error to its HTTP status and response code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, aqerr.ErrInvalidInput):
		for _, c := range invalidCodes {
			if errors.Is(err, c.err) {
				return http.StatusBadRequest, c.code
			}
		}
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, aqerr.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, aqerr.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, aqerr.ErrAuth):
		return http.StatusBadGateway, "AUTH_ERROR"
	case errors.Is(err, aqerr.ErrNetwork):
		return http.StatusServiceUnavailable, "NETWORK_ERROR"
	case errors.Is(err, aqerr.ErrData):
		return http.StatusBadGateway, "DATA_ERROR"
	case errors.Is(err, aqerr.ErrConfig):
		return http.StatusInternalServerError, "CONFIG_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return statusClientClosed, "CANCELED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// errorMessages are the client-facing messages for upstream failures. Input
// errors echo their own text instead.
var errorMessages = map[string]string{
	"NOT_FOUND":      "Resource not found",
	"RATE_LIMITED":   "OpenAQ request quota exhausted",
	"AUTH_ERROR":     "OpenAQ rejected the configured API key",
	"NETWORK_ERROR":  "Unable to reach OpenAQ",
	"DATA_ERROR":     "OpenAQ returned an unexpected response",
	"CONFIG_ERROR":   "Service is misconfigured",
	"TIMEOUT":        "Request timed out",
	"CANCELED":       "Request canceled",
	"INTERNAL_ERROR": "Internal error",
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError translates a typed error into a response. Rate-limit
// errors carry Retry-After in whole seconds.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	logger := observability.LoggerFrom(r.Context(), nil)
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.String("code", code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", code), zap.Error(err))
	}

	msg, ok := errorMessages[code]
	if !ok {
		msg = err.Error()
	}
	if status == http.StatusTooManyRequests {
		if d := aqerr.RetryAfter(err); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
	}
	writeError(w, r, status, code, msg)
}

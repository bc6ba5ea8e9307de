package client

import (
	"github.com/sony/gobreaker"

	"github.com/kjstillabower/airquality-dashboard/internal/observability"
)

func newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	threshold := s.FailureThreshold
	observability.CircuitBreakerState.Set(observability.CircuitBreakerStateValue(gobreaker.StateClosed.String()))
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openaq",
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			observability.CircuitBreakerState.Set(observability.CircuitBreakerStateValue(to.String()))
		},
	})
}

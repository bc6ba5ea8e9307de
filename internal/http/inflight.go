package http

import (
	"context"
	"sync/atomic"
	"time"
)

// requestCounter counts dashboard requests between middleware entry and exit
// so shutdown can drain them after the listener closes.
type requestCounter struct {
	n atomic.Int64
}

// begin registers a request and returns the func that ends it.
func (c *requestCounter) begin() (end func()) {
	c.n.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.n.Add(-1)
		}
	}
}

func (c *requestCounter) count() int64 { return c.n.Load() }

// drain polls every interval until no request is in flight or ctx is done.
func (c *requestCounter) drain(ctx context.Context, interval time.Duration) error {
	if c.count() == 0 {
		return nil
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.count() == 0 {
				return nil
			}
		}
	}
}

var inFlight = &requestCounter{}

// InFlightCount returns the number of dashboard requests being served.
func InFlightCount() int64 {
	return inFlight.count()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return inFlight.drain(ctx, checkInterval)
}

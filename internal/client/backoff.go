package client

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// epochThreshold separates X-RateLimit-Reset values given as seconds-until-reset
// from absolute unix timestamps.
const epochThreshold = 1_000_000_000

// backoff returns the delay before retry n (n >= 1): base * 2^(n-1) plus up to
// 10% jitter, capped at RetryMaxDelay, raised to the server hint (itself capped
// at MaxRetryAfter), and never shorter than the previous delay.
func (c *OpenAQClient) backoff(n int, hint, prev time.Duration) time.Duration {
	d := float64(c.cfg.RetryBaseDelay) * math.Pow(2, float64(n-1))
	d += d * 0.1 * c.jitter()

	delay := c.cfg.RetryMaxDelay
	if d < float64(c.cfg.RetryMaxDelay) {
		delay = time.Duration(d)
	}
	if hint > c.cfg.MaxRetryAfter {
		hint = c.cfg.MaxRetryAfter
	}
	if hint > delay {
		delay = hint
	}
	if delay < prev {
		delay = prev
	}
	return delay
}

// retryHint reads the server's wait hint: Retry-After as seconds or an HTTP
// date, otherwise X-RateLimit-Reset as seconds (or a unix timestamp).
// Zero means no usable hint.
func retryHint(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return positiveSeconds(int64(secs))
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		if secs >= epochThreshold {
			if d := time.Unix(secs, 0).Sub(now); d > 0 {
				return d
			}
			return 0
		}
		return positiveSeconds(secs)
	}
	return 0
}

func positiveSeconds(secs int64) time.Duration {
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

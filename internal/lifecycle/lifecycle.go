// Package lifecycle tracks the process phase reported by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Process phases.
const (
	PhaseStarting     = "starting"
	PhaseReady        = "ready"
	PhaseShuttingDown = "shutting-down"
)

var (
	ready        atomic.Bool
	shuttingDown atomic.Bool
	startedAt    atomic.Int64
)

func init() {
	startedAt.Store(time.Now().UnixNano())
}

// MarkReady records that startup (config, key check, initial warm) finished.
func MarkReady() {
	ready.Store(true)
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health returns 503 while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Phase returns the current phase. Shutting down takes precedence.
func Phase() string {
	switch {
	case shuttingDown.Load():
		return PhaseShuttingDown
	case ready.Load():
		return PhaseReady
	default:
		return PhaseStarting
	}
}

// Uptime returns time since the package was initialized.
func Uptime() time.Duration {
	return time.Since(time.Unix(0, startedAt.Load()))
}

// Reset returns to the starting phase. For tests.
func Reset() {
	ready.Store(false)
	shuttingDown.Store(false)
}

package channels

import (
	"sync"
	"time"
)

// Status is a snapshot of a transport's connection state.
type Status struct {
	Connected  bool      `json:"connected"`
	Error      string    `json:"error,omitempty"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// StatusTracker records connection state for health checks.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
}

// SetConnected records a connection change; errMsg is cleared on success.
func (t *StatusTracker) SetConnected(connected bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Connected = connected
	t.status.Error = errMsg
}

// Touch records that an update was received.
func (t *StatusTracker) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastUpdate = now
}

// Status returns the current snapshot.
func (t *StatusTracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

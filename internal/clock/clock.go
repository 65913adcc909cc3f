// Package clock provides the time source used by the mitigation engine.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current instant. Implementations must be monotonic for
// the lifetime of the process.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns the wall clock. time.Now carries a monotonic reading, so
// Sub and Before between its values are immune to wall clock steps.
func Real() Clock { return realClock{} }

// Manual is a clock that only moves when told to. Used by tests and by
// virtual-time simulation.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set jumps the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

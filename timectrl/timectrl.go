// Package timectrl provides the clock used wherever a request's defaults
// depend on the current time.
package timectrl

import (
	"sync"
	"time"
)

// Clock returns the current time. Components depend on this instead of
// time.Now so date-range defaults are testable.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual constructs a clock stopped at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// OrSystem returns c, or the system clock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}

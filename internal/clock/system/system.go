// Package system provides real clock implementations.
package system

import (
	"sync"
	"time"
)

// Clock implements harvest.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Source is anything that reports the current time.
type Source interface {
	Now() time.Time
}

// Monotonic wraps a Source so that successive readings strictly increase at
// microsecond resolution, even when the wall clock stalls or steps back.
type Monotonic struct {
	mu   sync.Mutex
	src  Source
	last time.Time
}

// NewMonotonic wraps src. A nil src uses the wall clock.
func NewMonotonic(src Source) *Monotonic {
	if src == nil {
		src = Clock{}
	}
	return &Monotonic{src: src}
}

// Now returns a UTC time truncated to microseconds and strictly after the
// previous reading.
func (m *Monotonic) Now() time.Time {
	now := m.src.Now().UTC().Truncate(time.Microsecond)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.last.IsZero() && !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}

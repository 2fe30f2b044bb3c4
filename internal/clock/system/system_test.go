// Package system exercises the real-time clock adapters.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

type frozen struct{ at time.Time }

func (f frozen) Now() time.Time { return f.at }

// TestMonotonicStrictlyIncreases checks a stalled source still yields increasing readings.
func TestMonotonicStrictlyIncreases(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	clk := NewMonotonic(frozen{at: at})

	first := clk.Now()
	second := clk.Now()
	third := clk.Now()

	if !first.Equal(at.Truncate(time.Microsecond)) {
		t.Fatalf("expected first reading truncated to microseconds, got %v", first)
	}
	if !second.After(first) || !third.After(second) {
		t.Fatalf("expected strictly increasing readings: %v %v %v", first, second, third)
	}
	if third.Sub(first) != 2*time.Microsecond {
		t.Fatalf("expected microsecond steps, got %v", third.Sub(first))
	}
}

// TestMonotonicIgnoresBackwardStep verifies a clock step back does not reorder readings.
func TestMonotonicIgnoresBackwardStep(t *testing.T) {
	t.Parallel()

	src := &stepping{times: []time.Time{
		time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
		time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}}
	clk := NewMonotonic(src)
	first := clk.Now()
	second := clk.Now()
	if !second.After(first) {
		t.Fatalf("expected %v after %v", second, first)
	}
}

type stepping struct {
	times []time.Time
	i     int
}

func (s *stepping) Now() time.Time {
	t := s.times[s.i]
	if s.i < len(s.times)-1 {
		s.i++
	}
	return t
}

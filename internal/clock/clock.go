package clock

import (
	"sync"
	"time"
)

// Clock is the time source for bucket refills.
type Clock interface {
	Now() time.Time
}

// Real reads time.Now. The returned values carry Go's monotonic reading, so
// Sub between two of them is immune to wall-clock adjustments.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock by d. A negative d moves it backwards, which is
// how tests simulate a misbehaving time source.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

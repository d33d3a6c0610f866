package clock

import (
	"sync"
	"time"
)

// Manual is a hand-driven Clock for tests. Time only moves when Advance is
// called; waiters registered through After or Sleep fire once the manual
// time passes their deadline.
type Manual struct {
	mu      sync.Mutex
	current time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManual returns a Manual clock positioned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{current: start.UTC()}
}

// Now reports the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// After registers a waiter that fires once the clock advances past d.
// Non-positive durations fire immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	if d <= 0 {
		ch <- m.current
		m.mu.Unlock()
		return ch
	}
	m.waiters = append(m.waiters, waiter{deadline: m.current.Add(d), ch: ch})
	m.mu.Unlock()
	return ch
}

// Sleep blocks the caller until the clock advances by at least d.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Advance moves the clock forward by d and releases every waiter whose
// deadline has been reached. It returns the new current time.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	now := m.current
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.deadline.After(now) {
			kept = append(kept, w)
			continue
		}
		w.ch <- now
	}
	m.waiters = kept
	m.mu.Unlock()
	return now
}

// Waiting reports how many waiters have not fired yet.
func (m *Manual) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

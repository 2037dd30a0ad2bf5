package clock

import (
	"sync"
	"time"
)

// Manual is a hand-cranked clock for deterministic tests. Time only moves
// when Advance or AdvanceTo is called; sleepers block until the clock
// reaches their wake-up time.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters map[*manualWaiter]struct{}
}

type manualWaiter struct {
	wake time.Time
	ch   chan time.Time
}

// NewManual returns a Manual clock positioned at start (normalised to UTC).
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:     start.UTC(),
		waiters: make(map[*manualWaiter]struct{}),
	}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that fires once the clock has been advanced by at
// least d. Non-positive durations fire immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters[&manualWaiter{wake: m.now.Add(d), ch: ch}] = struct{}{}
	return ch
}

// Sleep blocks until the clock has been advanced by at least d.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Advance moves the clock forward by d, waking every sleeper whose wake-up
// time has been reached, and returns the new current time.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	return m.AdvanceTo(m.Now().Add(d))
}

// AdvanceTo moves the clock to at, never backwards, and wakes due sleepers.
func (m *Manual) AdvanceTo(at time.Time) time.Time {
	at = at.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.now) {
		m.now = at
	}
	for w := range m.waiters {
		if w.wake.After(m.now) {
			continue
		}
		w.ch <- m.now
		delete(m.waiters, w)
	}
	return m.now
}

// Sleepers reports how many goroutines are currently blocked on the clock.
// Tests use it to rendezvous with a scheduler before advancing time.
func (m *Manual) Sleepers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

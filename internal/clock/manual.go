package clock

import (
	"context"
	"sync"
	"time"
)

// Manual provides a controllable clock for deterministic tests.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	slept  []time.Duration
}

type manualTimer struct {
	at time.Time
	ch chan struct{}
}

// NewManual constructs a Manual clock starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep blocks until the manual clock advances by at least d or ctx ends.
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	m.slept = append(m.slept, d)
	if d <= 0 {
		m.mu.Unlock()
		return ctx.Err()
	}
	timer := &manualTimer{at: m.now.Add(d), ch: make(chan struct{})}
	m.timers = append(m.timers, timer)
	m.mu.Unlock()
	select {
	case <-timer.ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, t := range m.timers {
			if t == timer {
				m.timers = append(m.timers[:i], m.timers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves time forward by d and releases any due sleepers.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if timer.at.After(m.now) {
			remaining = append(remaining, timer)
			continue
		}
		close(timer.ch)
	}
	m.timers = remaining
	return m.now
}

// Pending returns the number of blocked sleepers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Slept returns every duration passed to Sleep, in call order.
func (m *Manual) Slept() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.slept...)
}

// Instant is a Clock whose Sleep returns immediately after recording the
// requested duration and moving time forward.
type Instant struct {
	Manual
}

// NewInstant constructs an Instant clock starting at start.
func NewInstant(start time.Time) *Instant {
	return &Instant{Manual: Manual{now: start.UTC()}}
}

// Sleep records d and advances the clock without blocking.
func (i *Instant) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	i.slept = append(i.slept, d)
	if d > 0 {
		i.now = i.now.Add(d)
	}
	i.mu.Unlock()
	return nil
}

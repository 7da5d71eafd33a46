package steptimer

import (
	"fmt"
	"sync"

	"klipper-go-movequeue/pkg/errors"
)

// Manual is a deterministic timer for tests and dry runs. Its clock counts
// timer cycles and only moves in Fire, Advance and RunUntilIdle.
type Manual struct {
	mu           sync.Mutex
	handler      func()
	now          uint64
	next         uint64
	period       uint32
	armed        bool
	reprogrammed bool

	arms    int
	disarms int
	fired   int
}

// NewManual returns an idle timer at cycle 0.
func NewManual() *Manual {
	return &Manual{}
}

// SetHandler sets the function run on every firing.
func (m *Manual) SetHandler(h func()) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// SetPeriod arms the timer to fire period cycles after the current time.
func (m *Manual) SetPeriod(period uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed {
		m.arms++
	}
	m.armed = true
	m.period = period
	m.next = m.now + uint64(period)
	m.reprogrammed = true
}

// Disarm stops the timer.
func (m *Manual) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed {
		m.disarms++
	}
	m.armed = false
}

// Armed reports whether the timer will fire again.
func (m *Manual) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Now returns the current cycle count.
func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Next returns the cycle of the next firing, valid while armed.
func (m *Manual) Next() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Arms counts idle-to-armed transitions.
func (m *Manual) Arms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arms
}

// Disarms counts armed-to-idle transitions.
func (m *Manual) Disarms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disarms
}

// Fired counts handler invocations.
func (m *Manual) Fired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}

// Fire jumps the clock to the next firing and runs the handler once. It
// returns false when the timer is idle.
func (m *Manual) Fire() bool {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return false
	}
	m.now = m.next
	m.reprogrammed = false
	m.fired++
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		h()
	}

	m.mu.Lock()
	if m.armed && !m.reprogrammed {
		m.next = m.now + uint64(m.period)
	}
	m.mu.Unlock()
	return true
}

// Advance moves the clock forward by cycles, firing everything that falls
// due on the way.
func (m *Manual) Advance(cycles uint64) int {
	m.mu.Lock()
	until := m.now + cycles
	m.mu.Unlock()

	n := 0
	for {
		m.mu.Lock()
		due := m.armed && m.next <= until
		m.mu.Unlock()
		if !due {
			break
		}
		m.Fire()
		n++
	}

	m.mu.Lock()
	if m.now < until {
		m.now = until
	}
	m.mu.Unlock()
	return n
}

// RunUntilIdle fires until the timer disarms itself. It gives up with a
// timer error after limit firings.
func (m *Manual) RunUntilIdle(limit int) (int, error) {
	for n := 0; n < limit; n++ {
		if !m.Fire() {
			return n, nil
		}
	}
	if m.Armed() {
		return limit, errors.TimerError(fmt.Sprintf("still armed after %d firings", limit))
	}
	return limit, nil
}

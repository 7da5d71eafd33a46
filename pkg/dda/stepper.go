package dda

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"klipper-go-movequeue/pkg/log"
)

// Counter is a Stepper that only counts pulses, for simulation and tests.
type Counter struct {
	steps   [MaxAxes]atomic.Uint64
	forward [MaxAxes]atomic.Bool
}

// SetDirection records the direction output.
func (c *Counter) SetDirection(axis int, forward bool) { c.forward[axis].Store(forward) }

// Step counts one pulse.
func (c *Counter) Step(axis int) { c.steps[axis].Add(1) }

// Steps returns the pulses emitted on axis.
func (c *Counter) Steps(axis int) uint64 { return c.steps[axis].Load() }

// Forward returns the last direction set on axis.
func (c *Counter) Forward(axis int) bool { return c.forward[axis].Load() }

// Trace is a Stepper writing one line per direction change and per pulse
// group. Pulses are buffered per axis and flushed on direction changes or
// Flush, so the output stays readable at high step rates.
type Trace struct {
	mu      sync.Mutex
	w       io.Writer
	names   []string
	pending [MaxAxes]uint64
	log     *log.Logger
}

// NewTrace writes to w using names for the axis labels.
func NewTrace(w io.Writer, names []string) *Trace {
	return &Trace{w: w, names: names, log: log.GetLogger("dda")}
}

func (t *Trace) name(axis int) string {
	if axis < len(t.names) {
		return t.names[axis]
	}
	return fmt.Sprintf("axis%d", axis)
}

// SetDirection flushes buffered pulses on axis and logs the new direction.
func (t *Trace) SetDirection(axis int, forward bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushAxis(axis)
	dir := "-"
	if forward {
		dir = "+"
	}
	t.writef("%s dir %s\n", t.name(axis), dir)
}

// Step buffers one pulse.
func (t *Trace) Step(axis int) {
	t.mu.Lock()
	t.pending[axis]++
	t.mu.Unlock()
}

// Flush writes all buffered pulse counts.
func (t *Trace) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for axis := range t.pending {
		t.flushAxis(axis)
	}
}

func (t *Trace) flushAxis(axis int) {
	if t.pending[axis] == 0 {
		return
	}
	t.writef("%s step %d\n", t.name(axis), t.pending[axis])
	t.pending[axis] = 0
}

func (t *Trace) writef(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(t.w, format, args...); err != nil {
		t.log.WithError(err).Debug("trace write failed")
	}
}

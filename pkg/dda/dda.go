// Package dda is the move generator behind the queue: it turns a per-axis
// step target into a Bresenham step sequence, one dominant-axis step per
// timer tick.
package dda

import (
	"math"
	"sync/atomic"

	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/movequeue"
)

// MaxAxes is the number of axes a target can address.
const MaxAxes = 4

// Target is a relative move: signed step counts per axis, moved at Rate
// steps per second on the dominant axis. Add is added to the step interval
// after every tick (negative accelerates).
type Target struct {
	Steps [MaxAxes]int32
	Rate  float64
	Add   int32
}

// Motion is the per-slot execution state.
type Motion struct {
	delta     [MaxAxes]uint32
	forward   [MaxAxes]bool
	counter   [MaxAxes]int64
	total     uint32
	remaining uint32
	add       int32
}

// Total returns the number of ticks the move takes.
func (m *Motion) Total() uint32 { return m.total }

// Remaining returns the ticks left.
func (m *Motion) Remaining() uint32 { return m.remaining }

// Stepper receives the physical pulses.
type Stepper interface {
	SetDirection(axis int, forward bool)
	Step(axis int)
}

// Slot is the queue slot type the mover fills.
type Slot = movequeue.Slot[Motion]

// Mover implements movequeue.Mover for Target.
type Mover struct {
	cfg     Config
	stepper Stepper
	pos     [MaxAxes]atomic.Int64
	log     *log.Logger
}

var _ movequeue.Mover[Motion, Target] = (*Mover)(nil)

// New creates a mover driving stepper.
func New(cfg Config, stepper Stepper) (*Mover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mover{cfg: cfg, stepper: stepper, log: log.GetLogger("dda")}, nil
}

// Create plans target into s and activates it. Steps on unconfigured axes
// are ignored. Runs on the producer.
func (m *Mover) Create(s *Slot, t Target) {
	mv := Motion{add: t.Add}
	for i := 0; i < m.cfg.Axes(); i++ {
		steps := t.Steps[i]
		mv.forward[i] = steps >= 0
		d := int64(steps)
		if d < 0 {
			d = -d
		}
		mv.delta[i] = uint32(d)
		if mv.delta[i] > mv.total {
			mv.total = mv.delta[i]
		}
	}
	for i := range mv.counter {
		mv.counter[i] = -int64(mv.total / 2)
	}
	mv.remaining = mv.total
	s.Move = mv
	s.Interval = m.interval(t.Rate)
	s.Activate()
}

func (m *Mover) interval(rate float64) uint32 {
	if rate <= 0 {
		rate = m.cfg.DefaultRate
	}
	iv := float64(m.cfg.ClockHz) / rate
	if iv > math.MaxUint32 {
		return math.MaxUint32
	}
	if iv < float64(m.cfg.MinInterval) {
		return m.cfg.MinInterval
	}
	return uint32(iv)
}

// Start sets the direction outputs. A move without steps retires here.
func (m *Mover) Start(s *Slot) {
	mv := &s.Move
	if mv.total == 0 {
		s.Retire()
		return
	}
	for axis := 0; axis < m.cfg.Axes(); axis++ {
		if mv.delta[axis] > 0 {
			m.stepper.SetDirection(axis, mv.forward[axis])
		}
	}
}

// Step emits this tick's pulses, then re-enables interrupts and updates the
// interval for the next tick.
func (m *Mover) Step(s *Slot, irq movequeue.Interrupts) {
	mv := &s.Move
	if mv.remaining == 0 {
		s.Retire()
		return
	}
	for axis := 0; axis < m.cfg.Axes(); axis++ {
		if mv.delta[axis] == 0 {
			continue
		}
		mv.counter[axis] += int64(mv.delta[axis])
		if mv.counter[axis] >= 0 {
			m.stepper.Step(axis)
			mv.counter[axis] -= int64(mv.total)
			if mv.forward[axis] {
				m.pos[axis].Add(1)
			} else {
				m.pos[axis].Add(-1)
			}
		}
	}

	irq.Enable()

	mv.remaining--
	if mv.remaining == 0 {
		s.Retire()
		return
	}
	if mv.add != 0 {
		iv := int64(s.Interval) + int64(mv.add)
		if iv < int64(m.cfg.MinInterval) {
			iv = int64(m.cfg.MinInterval)
		}
		if iv > math.MaxUint32 {
			iv = math.MaxUint32
		}
		s.Interval = uint32(iv)
	}
}

// Position returns the step position of every axis.
func (m *Mover) Position() [MaxAxes]int64 {
	var out [MaxAxes]int64
	for i := range out {
		out[i] = m.pos[i].Load()
	}
	return out
}

// AxisNames returns the configured axis names.
func (m *Mover) AxisNames() []string {
	return append([]string(nil), m.cfg.AxisNames...)
}

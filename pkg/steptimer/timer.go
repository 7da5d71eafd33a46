// Package steptimer provides the periodic timers that drive the queue's
// dispatcher: a reactor-backed one for real runs and a manual one whose clock
// only moves when told to.
package steptimer

import (
	"sync"

	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/reactor"
)

// Timer fires a handler every period clock cycles on a reactor. Scale
// stretches wall time: with scale 10 a 1 ms period fires every 10 ms.
//
// SetPeriod and Disarm may be called from inside the handler; they then take
// effect when the handler returns.
type Timer struct {
	r       *reactor.Reactor
	rt      *reactor.Timer
	clockHz float64
	scale   float64
	log     *log.Logger

	mu      sync.Mutex
	handler func()
	period  uint32
	armed   bool
	firing  bool
}

// New registers an idle timer on r.
func New(r *reactor.Reactor, clockHz uint32, scale float64) *Timer {
	if scale <= 0 {
		scale = 1
	}
	t := &Timer{
		r:       r,
		clockHz: float64(clockHz),
		scale:   scale,
		log:     log.GetLogger("steptimer"),
	}
	t.rt = r.RegisterTimer("step", t.fire, reactor.NEVER)
	return t
}

// SetHandler sets the function run on every firing.
func (t *Timer) SetHandler(h func()) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Timer) seconds(period uint32) float64 {
	return float64(period) / t.clockHz * t.scale
}

// SetPeriod arms the timer to fire period cycles from now and every period
// cycles after that.
func (t *Timer) SetPeriod(period uint32) {
	t.mu.Lock()
	wasArmed := t.armed
	t.period = period
	t.armed = true
	firing := t.firing
	t.mu.Unlock()

	if !wasArmed {
		t.log.Debug("armed, period %d", period)
	}
	if !firing {
		t.r.UpdateTimer(t.rt, t.r.Monotonic()+t.seconds(period))
	}
}

// Disarm stops the timer.
func (t *Timer) Disarm() {
	t.mu.Lock()
	wasArmed := t.armed
	t.armed = false
	firing := t.firing
	t.mu.Unlock()

	if wasArmed {
		t.log.Debug("disarmed")
	}
	if !firing {
		t.r.UpdateTimer(t.rt, reactor.NEVER)
	}
}

// Armed reports whether the timer will fire again.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Close unregisters the timer from the reactor.
func (t *Timer) Close() {
	t.r.UnregisterTimer(t.rt)
}

func (t *Timer) fire(eventtime float64) float64 {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return reactor.NEVER
	}
	h := t.handler
	t.firing = true
	t.mu.Unlock()

	if h != nil {
		h()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.firing = false
	if !t.armed {
		return reactor.NEVER
	}
	return eventtime + t.seconds(t.period)
}

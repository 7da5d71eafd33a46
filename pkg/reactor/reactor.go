// Package reactor is a timer service: callbacks registered with a wake time
// run on a single dispatch goroutine and return their next wake time.
package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/log"
)

const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// maxSleep caps a single idle wait so the loop notices shutdown promptly
// even without a wake signal.
const maxSleep = time.Second

// TimerCallback is called when a timer fires with the dispatch time and
// returns the next wake time, or NEVER to go idle.
type TimerCallback func(eventtime float64) float64

// Timer is a registered callback.
type Timer struct {
	id       uint64
	name     string
	callback TimerCallback

	mu         sync.Mutex
	waketime   float64
	running    bool
	pending    float64
	hasPending bool
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasPending {
		return t.pending
	}
	return t.waketime
}

// Name returns the label given at registration.
func (t *Timer) Name() string { return t.name }

// Reactor dispatches timers in wake-time order on one goroutine.
type Reactor struct {
	mu     sync.Mutex
	timers []*Timer
	nextID atomic.Uint64

	wake    chan struct{}
	start   time.Time
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	log     *log.Logger
}

// New creates a stopped reactor.
func New() *Reactor {
	return &Reactor{
		wake:  make(chan struct{}, 1),
		start: time.Now(),
		done:  make(chan struct{}),
		log:   log.GetLogger("reactor"),
	}
}

// Monotonic returns seconds since the reactor was created.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.start).Seconds()
}

// RegisterTimer adds a timer. A waketime of NOW fires on the next pass.
func (r *Reactor) RegisterTimer(name string, callback TimerCallback, waketime float64) *Timer {
	t := &Timer{
		id:       r.nextID.Add(1),
		name:     name,
		callback: callback,
		waketime: waketime,
	}
	r.mu.Lock()
	r.timers = append(r.timers, t)
	r.mu.Unlock()
	r.kick()
	return t
}

// UnregisterTimer removes a timer. It will not fire again once this returns,
// unless it is firing right now.
func (r *Reactor) UnregisterTimer(t *Timer) {
	t.mu.Lock()
	t.waketime = NEVER
	t.hasPending = false
	t.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.timers {
		if other.id == t.id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// UpdateTimer changes a timer's wake time. Called from inside the timer's own
// callback, the update is held and replaces the callback's return value.
func (r *Reactor) UpdateTimer(t *Timer, waketime float64) {
	t.mu.Lock()
	if t.running {
		t.pending = waketime
		t.hasPending = true
	} else {
		t.waketime = waketime
	}
	t.mu.Unlock()
	r.kick()
}

func (r *Reactor) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run starts the dispatch goroutine. It stops when ctx is done or End is
// called.
func (r *Reactor) Run(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	go r.dispatchLoop(ctx)
}

// End stops the dispatch loop.
func (r *Reactor) End() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Wait blocks until the dispatch loop has exited.
func (r *Reactor) Wait() {
	if r.running.Load() {
		<-r.done
	}
}

func (r *Reactor) dispatchLoop(ctx context.Context) {
	defer close(r.done)

	sleep := time.NewTimer(maxSleep)
	defer sleep.Stop()

	for {
		next := r.checkTimers(r.Monotonic())

		delay := maxSleep
		if next < NEVER {
			delay = time.Duration((next - r.Monotonic()) * float64(time.Second))
		}
		if delay <= 0 {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		if delay > maxSleep {
			delay = maxSleep
		}

		if !sleep.Stop() {
			select {
			case <-sleep.C:
			default:
			}
		}
		sleep.Reset(delay)
		select {
		case <-sleep.C:
		case <-r.wake:
		case <-ctx.Done():
			return
		}
	}
}

// checkTimers fires every due timer once and returns the earliest wake time
// left.
func (r *Reactor) checkTimers(eventtime float64) float64 {
	r.mu.Lock()
	timers := append([]*Timer(nil), r.timers...)
	r.mu.Unlock()

	next := NEVER
	for _, t := range timers {
		t.mu.Lock()
		if eventtime >= t.waketime {
			t.waketime = NEVER
			t.running = true
			t.mu.Unlock()

			waketime := r.fire(t, eventtime)

			t.mu.Lock()
			t.running = false
			if t.hasPending {
				waketime = t.pending
				t.hasPending = false
			}
			t.waketime = waketime
		}
		if t.waketime < next {
			next = t.waketime
		}
		t.mu.Unlock()
	}
	return next
}

// fire runs one callback. A panicking timer is logged and parked at NEVER.
func (r *Reactor) fire(t *Timer, eventtime float64) (waketime float64) {
	defer func() {
		if err := errors.RecoverPanic(recover()); err != nil {
			r.log.WithError(err).WithField("timer", t.name).Error("timer callback panicked")
			waketime = NEVER
		}
	}()
	return t.callback(eventtime)
}

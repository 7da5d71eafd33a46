package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func runFor(r *Reactor, d time.Duration) {
	r.Run(context.Background())
	time.Sleep(d)
	r.End()
	r.Wait()
}

func TestMonotonic(t *testing.T) {
	r := New()

	t1 := r.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := r.Monotonic()

	if elapsed := t2 - t1; elapsed < 0.009 || elapsed > 0.5 {
		t.Errorf("Unexpected elapsed time: %f (expected ~0.01)", elapsed)
	}
}

func TestTimerFiresOnce(t *testing.T) {
	r := New()

	var called atomic.Int32
	r.RegisterTimer("once", func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, NOW)

	runFor(r, 50*time.Millisecond)

	if called.Load() != 1 {
		t.Errorf("Timer callback called %d times, expected 1", called.Load())
	}
}

func TestTimerRepeat(t *testing.T) {
	r := New()

	var called atomic.Int32
	r.RegisterTimer("repeat", func(eventtime float64) float64 {
		if called.Add(1) < 3 {
			return eventtime + 0.01
		}
		return NEVER
	}, NOW)

	runFor(r, 150*time.Millisecond)

	if called.Load() != 3 {
		t.Errorf("Timer callback called %d times, expected 3", called.Load())
	}
}

func TestUnregisterTimer(t *testing.T) {
	r := New()

	var called atomic.Int32
	timer := r.RegisterTimer("gone", func(eventtime float64) float64 {
		called.Add(1)
		return NEVER
	}, r.Monotonic()+0.05)
	r.UnregisterTimer(timer)

	runFor(r, 100*time.Millisecond)

	if called.Load() != 0 {
		t.Errorf("Timer callback called %d times after unregister, expected 0", called.Load())
	}
}

func TestUpdateTimerWakesIdleLoop(t *testing.T) {
	r := New()

	fired := make(chan float64, 1)
	timer := r.RegisterTimer("idle", func(eventtime float64) float64 {
		fired <- eventtime
		return NEVER
	}, NEVER)

	r.Run(context.Background())
	defer func() {
		r.End()
		r.Wait()
	}()

	time.Sleep(20 * time.Millisecond)
	r.UpdateTimer(timer, NOW)

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("idle timer was not woken by UpdateTimer")
	}
}

func TestUpdateFromInsideCallbackWins(t *testing.T) {
	r := New()

	var timer *Timer
	var called atomic.Int32
	timer = r.RegisterTimer("self", func(eventtime float64) float64 {
		if called.Add(1) == 1 {
			// park the timer even though the return value asks for more
			r.UpdateTimer(timer, NEVER)
		}
		return eventtime + 0.005
	}, NOW)

	runFor(r, 60*time.Millisecond)

	if called.Load() != 1 {
		t.Errorf("expected the in-callback update to park the timer, fired %d times", called.Load())
	}
	if timer.Waketime() != NEVER {
		t.Errorf("expected NEVER, got %f", timer.Waketime())
	}
}

func TestPanickingTimerIsParked(t *testing.T) {
	r := New()

	var other atomic.Int32
	bad := r.RegisterTimer("bad", func(float64) float64 { panic("boom") }, NOW)
	r.RegisterTimer("good", func(float64) float64 {
		other.Add(1)
		return NEVER
	}, NOW)

	runFor(r, 30*time.Millisecond)

	if bad.Waketime() != NEVER {
		t.Errorf("panicking timer should be parked")
	}
	if other.Load() != 1 {
		t.Errorf("other timers must keep running, got %d", other.Load())
	}
}

func TestContextStopsLoop(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	r.Run(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor did not stop on context cancel")
	}
}

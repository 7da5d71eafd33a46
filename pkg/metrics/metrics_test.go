// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	"strings"
	"testing"
	"time"

	"klipper-go-movequeue/pkg/heater"
	"klipper-go-movequeue/pkg/movequeue"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A test counter")
	c.Inc(nil)
	c.Add(nil, 4)
	c.Inc(Labels{"type": "a"})

	if v := c.Get(nil); v != 5 {
		t.Errorf("Get(nil) = %d, want 5", v)
	}
	if v := c.Get(Labels{"type": "b"}); v != 0 {
		t.Errorf("unseen labels = %d, want 0", v)
	}

	var sb strings.Builder
	c.Write(&sb)
	want := "# HELP test_total A test counter\n# TYPE test_total counter\ntest_total 5\ntest_total{type=\"a\"} 1\n"
	if sb.String() != want {
		t.Errorf("Write:\n%s\nwant:\n%s", sb.String(), want)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("g", "gauge")
	g.Set(Labels{"x": "1"}, 2.5)
	g.Add(Labels{"x": "1"}, -1)
	if v := g.Get(Labels{"x": "1"}); v != 1.5 {
		t.Errorf("Get = %v, want 1.5", v)
	}
	var sb strings.Builder
	g.Write(&sb)
	if !strings.Contains(sb.String(), "g{x=\"1\"} 1.5\n") {
		t.Errorf("unexpected output %q", sb.String())
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := NewHistogram("h", "hist", []float64{1, 0.1, 10})
	for _, v := range []float64{0.05, 0.5, 0.5, 5, 50} {
		h.Observe(nil, v)
	}
	snap := h.Snapshot(nil)
	if snap.Count != 5 || math.Abs(snap.Sum-56.05) > 1e-9 {
		t.Errorf("count %d sum %v", snap.Count, snap.Sum)
	}
	want := map[float64]uint64{0.1: 1, 1: 3, 10: 4}
	for bound, n := range want {
		if snap.Buckets[bound] != n {
			t.Errorf("bucket %v = %d, want %d", bound, snap.Buckets[bound], n)
		}
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, line := range []string{
		`h_bucket{le="0.1"} 1`,
		`h_bucket{le="1"} 3`,
		`h_bucket{le="10"} 4`,
		`h_bucket{le="+Inf"} 5`,
		`h_count 5`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing %q in\n%s", line, out)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	got := Labels{"b": "q\"x", "a": "back\\slash"}.String()
	want := `{a="back\\slash",b="q\"x"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("x", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("x", "")); err == nil {
		t.Error("duplicate name accepted")
	}
	if r.Get("x") == nil {
		t.Error("Get returned nil")
	}
}

func TestQueueMetricsObserve(t *testing.T) {
	m := NewQueueMetrics()
	m.Observe(movequeue.Event{Type: movequeue.EventArmed})
	m.Observe(movequeue.Event{Type: movequeue.EventEnqueued, Seq: 1, Kind: movequeue.KindMove, Occupancy: 1})
	m.Observe(movequeue.Event{Type: movequeue.EventEnqueued, Seq: 2, Kind: movequeue.KindWait, Occupancy: 2})
	m.Observe(movequeue.Event{Type: movequeue.EventBlocked, Waited: 3 * time.Millisecond, Occupancy: 2})
	m.Observe(movequeue.Event{Type: movequeue.EventPaused, Occupancy: 2})
	m.Observe(movequeue.Event{Type: movequeue.EventDisarmed, Tick: 9})

	if v := m.Events.Get(Labels{"event": "enqueued", "kind": "move"}); v != 1 {
		t.Errorf("enqueued move = %d", v)
	}
	if v := m.Events.Get(Labels{"event": "enqueued", "kind": "wait"}); v != 1 {
		t.Errorf("enqueued wait = %d", v)
	}
	if m.Armed.Get(nil) != 0 || m.Paused.Get(nil) != 1 {
		t.Errorf("armed %v paused %v", m.Armed.Get(nil), m.Paused.Get(nil))
	}
	if m.Ticks.Get(nil) != 9 {
		t.Errorf("ticks %v", m.Ticks.Get(nil))
	}
	if snap := m.BlockedWait.Snapshot(nil); snap.Count != 1 {
		t.Errorf("blocked count %d", snap.Count)
	}

	m.SetHeaterStatus(heater.Status{Name: "bed", Target: 60, Temperature: 42, Duty: 0.5})
	m.SetPosition("x", -12)
	out := m.Gather()
	for _, line := range []string{
		`movequeue_heater_target_celsius{heater="bed"} 60`,
		`movequeue_axis_position_steps{axis="x"} -12`,
		`movequeue_events_total{event="armed"} 1`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing %q", line)
		}
	}
}

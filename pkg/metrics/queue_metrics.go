// Move queue metrics
//
// QueueMetrics is a movequeue observer that turns lifecycle events into
// Prometheus series, plus gauges for heaters and axis positions that the
// CLI samples periodically.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"

	"klipper-go-movequeue/pkg/heater"
	"klipper-go-movequeue/pkg/movequeue"
)

// QueueMetrics holds the move queue metric set
type QueueMetrics struct {
	Occupancy   *Gauge
	Capacity    *Gauge
	Armed       *Gauge
	Paused      *Gauge
	Ticks       *Gauge
	Events      *Counter
	BlockedWait *Histogram

	HeaterTemperature *Gauge
	HeaterTarget      *Gauge
	HeaterDuty        *Gauge
	Position          *Gauge

	Goroutines *Gauge
	Uptime     *Gauge

	start    time.Time
	registry *Registry
}

// NewQueueMetrics creates and registers the queue metrics
func NewQueueMetrics() *QueueMetrics {
	m := &QueueMetrics{
		Occupancy: NewGauge("movequeue_occupancy", "Slots holding queued or executing work"),
		Capacity:  NewGauge("movequeue_capacity", "Configured slot count"),
		Armed:     NewGauge("movequeue_timer_armed", "Step timer state (1=armed)"),
		Paused:    NewGauge("movequeue_input_paused", "Upstream flow control state (1=paused)"),
		Ticks:     NewGauge("movequeue_ticks", "Dispatcher ticks since start"),
		Events:    NewCounter("movequeue_events_total", "Queue lifecycle events by type"),
		BlockedWait: NewHistogram("movequeue_enqueue_blocked_seconds",
			"Time a producer spent waiting for a free slot", ExponentialBuckets(0.001, 4, 8)),

		HeaterTemperature: NewGauge("movequeue_heater_temperature_celsius", "Measured heater temperature"),
		HeaterTarget:      NewGauge("movequeue_heater_target_celsius", "Heater target temperature"),
		HeaterDuty:        NewGauge("movequeue_heater_duty", "Heater PWM duty cycle (0-1)"),
		Position:          NewGauge("movequeue_axis_position_steps", "Axis position in steps"),

		Goroutines: NewGauge("movequeue_go_goroutines", "Number of goroutines"),
		Uptime:     NewGauge("movequeue_uptime_seconds", "Seconds since start"),

		start:    time.Now(),
		registry: NewRegistry(),
	}
	m.registry.MustRegister(
		m.Occupancy, m.Capacity, m.Armed, m.Paused, m.Ticks, m.Events, m.BlockedWait,
		m.HeaterTemperature, m.HeaterTarget, m.HeaterDuty, m.Position,
		m.Goroutines, m.Uptime,
	)
	return m
}

// Observe implements movequeue.Observer. It only touches atomics and the
// histogram lock, so it is safe on the dispatcher.
func (m *QueueMetrics) Observe(ev movequeue.Event) {
	labels := Labels{"event": ev.Type.String()}
	if ev.Seq != 0 {
		labels["kind"] = ev.Kind.String()
	}
	m.Events.Inc(labels)
	m.Occupancy.Set(nil, float64(ev.Occupancy))
	m.Ticks.Set(nil, float64(ev.Tick))

	switch ev.Type {
	case movequeue.EventBlocked:
		m.BlockedWait.Observe(nil, ev.Waited.Seconds())
	case movequeue.EventArmed:
		m.Armed.Set(nil, 1)
	case movequeue.EventDisarmed:
		m.Armed.Set(nil, 0)
	case movequeue.EventPaused:
		m.Paused.Set(nil, 1)
	case movequeue.EventResumed:
		m.Paused.Set(nil, 0)
	}
}

// SetQueueStatus records a queue snapshot
func (m *QueueMetrics) SetQueueStatus(st movequeue.Status) {
	m.Capacity.Set(nil, float64(st.Capacity))
	m.Occupancy.Set(nil, float64(st.Occupancy))
	m.Ticks.Set(nil, float64(st.Ticks))
	m.Armed.Set(nil, boolGauge(st.Armed))
	m.Paused.Set(nil, boolGauge(st.Paused))
}

// SetHeaterStatus records one heater's state
func (m *QueueMetrics) SetHeaterStatus(st heater.Status) {
	l := Labels{"heater": st.Name}
	m.HeaterTemperature.Set(l, st.Temperature)
	m.HeaterTarget.Set(l, st.Target)
	m.HeaterDuty.Set(l, st.Duty)
}

// SetPosition records an axis position
func (m *QueueMetrics) SetPosition(axis string, steps int64) {
	m.Position.Set(Labels{"axis": axis}, float64(steps))
}

// Gather refreshes runtime gauges and renders every metric
func (m *QueueMetrics) Gather() string {
	m.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	m.Uptime.Set(nil, time.Since(m.start).Seconds())
	return m.registry.Gather()
}

// Registry returns the underlying registry
func (m *QueueMetrics) Registry() *Registry { return m.registry }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

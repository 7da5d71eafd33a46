// Package safety tracks the shutdown state of a run. A shutdown disables
// every registered output, then tells the owner to stop feeding the queue.
package safety

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"klipper-go-movequeue/pkg/log"
)

// State is the run's shutdown state.
type State int

const (
	StateRunning State = iota
	StateShuttingDown
	StateShutdown
	// StateError is a shutdown caused by a fault rather than a request.
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason describes why a run was shut down.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonEmergencyStop Reason = "emergency_stop"
	ReasonHeatingFailed Reason = "heating_failed"
	ReasonSensorFault   Reason = "sensor_fault"
	ReasonUserRequest   Reason = "user_request"
)

var ErrShutdown = errors.New("safety: shut down")

// Disabler turns an output off.
type Disabler interface {
	Disable() error
}

// DisablerFunc adapts a function to Disabler.
type DisablerFunc func() error

func (f DisablerFunc) Disable() error { return f() }

type output struct {
	name string
	d    Disabler
}

// Manager owns the shutdown state.
type Manager struct {
	mu    sync.RWMutex
	clock func() time.Time
	log   *log.Logger

	state  State
	reason Reason
	msg    string
	at     time.Time

	outputs    []output
	onShutdown []func(reason Reason, msg string)
}

// New creates a running manager. clock may be nil.
func New(clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{clock: clock, log: log.GetLogger("safety")}
}

// Register adds an output disabled on shutdown, in registration order.
func (m *Manager) Register(name string, d Disabler) {
	m.mu.Lock()
	m.outputs = append(m.outputs, output{name: name, d: d})
	m.mu.Unlock()
}

// OnShutdown registers a callback run after outputs are disabled.
func (m *Manager) OnShutdown(fn func(reason Reason, msg string)) {
	m.mu.Lock()
	m.onShutdown = append(m.onShutdown, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsShutdown reports whether a shutdown completed.
func (m *Manager) IsShutdown() bool {
	s := m.State()
	return s == StateShutdown || s == StateError
}

// CheckOperational returns an error wrapping ErrShutdown unless running.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateRunning {
		return fmt.Errorf("%w: %s: %s", ErrShutdown, m.reason, m.msg)
	}
	return nil
}

// EmergencyStop shuts down immediately.
func (m *Manager) EmergencyStop(msg string) error {
	return m.shutdown(ReasonEmergencyStop, msg)
}

// HeatingFailed shuts down because a heater cannot hold or reach its target.
func (m *Manager) HeatingFailed(name string, temp, target float64) error {
	return m.shutdown(ReasonHeatingFailed,
		fmt.Sprintf("heater %s not heating at expected rate (%.1f of %.1f)", name, temp, target))
}

// SensorFault shuts down on a sensor reading error.
func (m *Manager) SensorFault(name string, err error) error {
	return m.shutdown(ReasonSensorFault, fmt.Sprintf("heater %s: %v", name, err))
}

// RequestShutdown is an orderly, non-fault shutdown.
func (m *Manager) RequestShutdown(msg string) error {
	return m.shutdown(ReasonUserRequest, msg)
}

// shutdown disables every output even when some fail and returns the first
// disable error. Only the first shutdown has any effect.
func (m *Manager) shutdown(reason Reason, msg string) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateShuttingDown
	m.reason = reason
	m.msg = msg
	m.at = m.clock()
	outputs := append([]output(nil), m.outputs...)
	m.mu.Unlock()

	m.log.WithFields(log.Fields{"reason": string(reason)}).Error(msg)

	var first error
	for _, o := range outputs {
		if err := o.d.Disable(); err != nil {
			m.log.WithError(err).WithField("output", o.name).Error("disable failed")
			if first == nil {
				first = err
			}
		}
	}

	m.mu.Lock()
	m.state = StateShutdown
	if reason != ReasonUserRequest {
		m.state = StateError
	}
	callbacks := slices.Clone(m.onShutdown)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason, msg)
	}
	return first
}

// Reset returns a shut down manager to running.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StateShuttingDown {
		return errors.New("safety: cannot reset while running or shutting down")
	}
	m.state = StateRunning
	m.reason = ReasonNone
	m.msg = ""
	m.at = time.Time{}
	return nil
}

// Status is the reportable shutdown state.
type Status struct {
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Msg    string    `json:"message,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{State: m.state.String(), Reason: string(m.reason), Msg: m.msg, At: m.at}
}

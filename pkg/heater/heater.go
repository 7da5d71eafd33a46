package heater

import (
	"errors"
	"sync"
	"time"

	"klipper-go-movequeue/pkg/log"
)

var (
	ErrTargetTooHigh = errors.New("heater: target temperature too high")
	ErrNoSensor      = errors.New("heater: no sensor configured")
	ErrUnknownHeater = errors.New("heater: unknown heater")
)

// PIDParams holds PID controller gains.
type PIDParams struct {
	Kp float64
	Ki float64
	Kd float64
}

// Config holds configuration for one heater.
type Config struct {
	Name   string
	Sensor SensorConfig
	PID    PIDParams

	// Target is applied at construction; 0 leaves the heater off.
	Target float64
	// Hysteresis is how far from target still counts as "at temperature".
	Hysteresis float64
	// Residency is how long the temperature must stay within Hysteresis
	// before the heater reports Achieved.
	Residency time.Duration
	MaxTemp   float64
	MaxPower  float64
}

// DefaultConfig returns a hotend-like heater.
func DefaultConfig(name string) Config {
	return Config{
		Name:       name,
		Sensor:     DefaultSensorConfig(),
		PID:        PIDParams{Kp: 0.05, Ki: 0.005, Kd: 0.25},
		Hysteresis: 2,
		Residency:  time.Second,
		MaxTemp:    300,
		MaxPower:   1,
	}
}

// Heater is a PID-controlled heater with target tracking.
type Heater struct {
	cfg    Config
	sensor *Sensor
	now    func() time.Time
	log    *log.Logger

	mu        sync.RWMutex
	target    float64
	duty      float64
	prevErr   float64
	integral  float64
	inBandAt  time.Time // zero while outside the band
	lastPWMAt time.Time
	setPWM    func(duty float64)
}

// New creates a heater with its own sensor. A nil clock uses time.Now.
func New(cfg Config, clock func() time.Time) *Heater {
	if clock == nil {
		clock = time.Now
	}
	h := &Heater{
		cfg:    cfg,
		sensor: NewSensor(cfg.Sensor),
		now:    clock,
		log:    log.GetLogger("heater").WithPrefix("heater " + cfg.Name),
	}
	h.target = cfg.Target
	return h
}

// Name returns the heater name.
func (h *Heater) Name() string { return h.cfg.Name }

// Sensor returns the heater's temperature sensor.
func (h *Heater) Sensor() *Sensor { return h.sensor }

// OnPWM registers the output callback.
func (h *Heater) OnPWM(fn func(duty float64)) {
	h.mu.Lock()
	h.setPWM = fn
	h.mu.Unlock()
}

// SetTarget changes the target. Zero switches the heater off.
func (h *Heater) SetTarget(target float64) error {
	if target > h.cfg.MaxTemp {
		return ErrTargetTooHigh
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = target
	h.inBandAt = time.Time{}
	h.integral = 0
	if target == 0 {
		h.apply(0)
	}
	return nil
}

// Target returns the current target temperature.
func (h *Heater) Target() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.target
}

// Duty returns the current PWM duty cycle.
func (h *Heater) Duty() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.duty
}

func (h *Heater) apply(duty float64) {
	h.duty = duty
	if h.setPWM != nil {
		h.setPWM(duty)
	}
}

// Update runs one PID iteration from the current sensor reading and
// refreshes the in-band timer.
func (h *Heater) Update() {
	now := h.now()
	temp := h.sensor.Temperature()

	h.mu.Lock()
	defer h.mu.Unlock()

	dt := 0.0
	if !h.lastPWMAt.IsZero() {
		dt = now.Sub(h.lastPWMAt).Seconds()
	}
	h.lastPWMAt = now

	if h.target == 0 {
		h.inBandAt = time.Time{}
		return
	}

	diff := h.target - temp
	if diff <= h.cfg.Hysteresis && diff >= -h.cfg.Hysteresis {
		if h.inBandAt.IsZero() {
			h.inBandAt = now
			h.log.WithField("temp", temp).Debug("entered target band")
		}
	} else {
		h.inBandAt = time.Time{}
	}

	if dt <= 0 {
		return
	}
	h.integral += diff * dt
	if h.cfg.PID.Ki > 0 {
		limit := h.cfg.MaxPower / h.cfg.PID.Ki
		h.integral = clamp(h.integral, -limit, limit)
	}
	out := h.cfg.PID.Kp*diff + h.cfg.PID.Ki*h.integral + h.cfg.PID.Kd*(diff-h.prevErr)/dt
	h.prevErr = diff
	h.apply(clamp(out, 0, h.cfg.MaxPower))
}

// Achieved reports whether the heater is off or has held its target within
// Hysteresis for at least Residency.
func (h *Heater) Achieved() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.target == 0 {
		return true
	}
	return !h.inBandAt.IsZero() && h.now().Sub(h.inBandAt) >= h.cfg.Residency
}

// Status is a snapshot for diagnostics.
type Status struct {
	Name        string  `json:"name"`
	Target      float64 `json:"target"`
	Temperature float64 `json:"temperature"`
	Duty        float64 `json:"duty"`
	Achieved    bool    `json:"achieved"`
}

// Status returns the current heater state.
func (h *Heater) Status() Status {
	st := Status{
		Name:        h.cfg.Name,
		Temperature: h.sensor.Temperature(),
		Achieved:    h.Achieved(),
	}
	h.mu.RLock()
	st.Target = h.target
	st.Duty = h.duty
	h.mu.RUnlock()
	return st
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

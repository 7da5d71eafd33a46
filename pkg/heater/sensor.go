// Package heater reads thermistors, drives heaters with PID and answers the
// "all heaters at temperature" question a wait slot polls.
package heater

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrSensorOpen  = errors.New("heater: sensor open circuit")
	ErrSensorShort = errors.New("heater: sensor short circuit")
	ErrOutOfRange  = errors.New("heater: temperature out of range")
)

// ThermistorParams describes an NTC thermistor behind a pullup divider
// (B-parameter model).
type ThermistorParams struct {
	Beta   float64
	R0     float64 // ohms at T0
	T0     float64 // kelvin
	Pullup float64 // ohms
}

// DefaultThermistorParams is a 100K NTC with a 4.7K pullup.
func DefaultThermistorParams() ThermistorParams {
	return ThermistorParams{Beta: 3950, R0: 100000, T0: 298.15, Pullup: 4700}
}

// SensorConfig holds configuration for a temperature sensor.
type SensorConfig struct {
	Params    ThermistorParams
	ADCMax    float64
	MinTemp   float64
	MaxTemp   float64
	AvgCount  int
	MaxFaults int
}

// DefaultSensorConfig returns a 12-bit ADC thermistor setup.
func DefaultSensorConfig() SensorConfig {
	return SensorConfig{
		Params:    DefaultThermistorParams(),
		ADCMax:    4095,
		MinTemp:   -10,
		MaxTemp:   400,
		AvgCount:  4,
		MaxFaults: 3,
	}
}

// Sensor converts ADC samples to a moving-average temperature.
type Sensor struct {
	cfg SensorConfig

	mu      sync.RWMutex
	samples []float64
	next    int
	filled  int
	temp    float64
	faults  int
}

// NewSensor creates a sensor with an empty averaging window.
func NewSensor(cfg SensorConfig) *Sensor {
	if cfg.AvgCount <= 0 {
		cfg.AvgCount = 1
	}
	if cfg.MaxFaults <= 0 {
		cfg.MaxFaults = 1
	}
	return &Sensor{cfg: cfg, samples: make([]float64, cfg.AvgCount)}
}

// UpdateADC feeds one raw reading. Bad readings count as faults and only
// return an error once MaxFaults consecutive ones were seen.
func (s *Sensor) UpdateADC(adc float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	temp, err := s.adcToTemp(adc)
	if err == nil && (temp < s.cfg.MinTemp || temp > s.cfg.MaxTemp) {
		err = ErrOutOfRange
	}
	if err != nil {
		s.faults++
		if s.faults >= s.cfg.MaxFaults {
			return err
		}
		return nil
	}
	s.faults = 0

	s.samples[s.next] = temp
	s.next = (s.next + 1) % len(s.samples)
	if s.filled < len(s.samples) {
		s.filled++
	}
	var sum float64
	for i := 0; i < s.filled; i++ {
		sum += s.samples[i]
	}
	s.temp = sum / float64(s.filled)
	return nil
}

func (s *Sensor) adcToTemp(adc float64) (float64, error) {
	if adc <= 0 {
		return 0, ErrSensorShort
	}
	if adc >= s.cfg.ADCMax {
		return 0, ErrSensorOpen
	}
	p := s.cfg.Params
	r := p.Pullup * adc / (s.cfg.ADCMax - adc)
	kelvin := 1.0 / (1.0/p.T0 + math.Log(r/p.R0)/p.Beta)
	return kelvin - 273.15, nil
}

// TempToADC is the inverse conversion, used by the simulated plant.
func (s *Sensor) TempToADC(celsius float64) float64 {
	p := s.cfg.Params
	r := p.R0 * math.Exp(p.Beta*(1.0/(celsius+273.15)-1.0/p.T0))
	return r * s.cfg.ADCMax / (r + p.Pullup)
}

// Temperature returns the averaged temperature in Celsius.
func (s *Sensor) Temperature() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.temp
}

// Faulted reports whether the fault limit was reached.
func (s *Sensor) Faulted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faults >= s.cfg.MaxFaults
}

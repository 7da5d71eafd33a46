package heater

import (
	"errors"
	"math"
	"testing"
	"time"

	"klipper-go-movequeue/pkg/config"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func TestSensorRoundTrip(t *testing.T) {
	s := NewSensor(DefaultSensorConfig())
	for _, want := range []float64{25, 60, 200, 250} {
		adc := s.TempToADC(want)
		got, err := s.adcToTemp(adc)
		if err != nil {
			t.Fatalf("adcToTemp(%v): %v", adc, err)
		}
		if math.Abs(got-want) > 0.01 {
			t.Errorf("round trip %v -> %v", want, got)
		}
	}
}

func TestSensorAveraging(t *testing.T) {
	cfg := DefaultSensorConfig()
	cfg.AvgCount = 2
	s := NewSensor(cfg)
	if err := s.UpdateADC(s.TempToADC(100)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateADC(s.TempToADC(110)); err != nil {
		t.Fatal(err)
	}
	if got := s.Temperature(); math.Abs(got-105) > 0.05 {
		t.Errorf("Temperature() = %v, want ~105", got)
	}
}

func TestSensorFaults(t *testing.T) {
	cfg := DefaultSensorConfig()
	cfg.MaxFaults = 2
	s := NewSensor(cfg)
	if err := s.UpdateADC(0); err != nil {
		t.Fatalf("first fault should be tolerated, got %v", err)
	}
	if err := s.UpdateADC(0); err != ErrSensorShort {
		t.Fatalf("second fault: got %v, want %v", err, ErrSensorShort)
	}
	if !s.Faulted() {
		t.Error("sensor should be faulted")
	}
	if err := s.UpdateADC(cfg.ADCMax); err != ErrSensorOpen {
		t.Errorf("open circuit: got %v", err)
	}
	if err := s.UpdateADC(s.TempToADC(50)); err != nil {
		t.Errorf("good reading: %v", err)
	}
	if s.Faulted() {
		t.Error("good reading should clear faults")
	}
}

func TestHeaterAchievedNeedsResidency(t *testing.T) {
	clk := newClock()
	cfg := DefaultConfig("extruder")
	cfg.Residency = 2 * time.Second
	h := New(cfg, clk.now)

	if !h.Achieved() {
		t.Fatal("heater without target should count as achieved")
	}
	if err := h.SetTarget(200); err != nil {
		t.Fatal(err)
	}
	if h.Achieved() {
		t.Fatal("cold heater reported achieved")
	}

	h.Sensor().UpdateADC(h.Sensor().TempToADC(199))
	h.Update()
	if h.Achieved() {
		t.Fatal("achieved before residency elapsed")
	}
	clk.advance(time.Second)
	h.Update()
	if h.Achieved() {
		t.Fatal("achieved after half the residency")
	}
	clk.advance(time.Second)
	if !h.Achieved() {
		t.Fatal("not achieved after full residency")
	}

	// Leaving the band resets the timer.
	cfg.Sensor.AvgCount = 1
	h2 := New(cfg, clk.now)
	h2.SetTarget(200)
	h2.Sensor().UpdateADC(h2.Sensor().TempToADC(200))
	h2.Update()
	clk.advance(3 * time.Second)
	h2.Sensor().UpdateADC(h2.Sensor().TempToADC(150))
	h2.Update()
	if h2.Achieved() {
		t.Error("achieved while out of band")
	}
}

func TestHeaterTargetLimits(t *testing.T) {
	h := New(DefaultConfig("bed"), nil)
	if err := h.SetTarget(1000); err != ErrTargetTooHigh {
		t.Errorf("SetTarget(1000) = %v", err)
	}
	var duty float64 = -1
	h.OnPWM(func(d float64) { duty = d })
	if err := h.SetTarget(0); err != nil {
		t.Fatal(err)
	}
	if duty != 0 {
		t.Errorf("switching off should write duty 0, got %v", duty)
	}
}

func TestSetMet(t *testing.T) {
	clk := newClock()
	cfg := DefaultConfig("a")
	cfg.Residency = 0
	a := New(cfg, clk.now)
	cfg.Name = "b"
	b := New(cfg, clk.now)
	set := NewSet(a, b)

	if !set.Met() {
		t.Fatal("idle heaters should satisfy the condition")
	}
	a.SetTarget(60)
	if set.Met() {
		t.Fatal("met while a is cold")
	}
	a.Sensor().UpdateADC(a.Sensor().TempToADC(60))
	a.Update()
	if !set.Met() {
		t.Fatal("not met with a at target and b off")
	}
	if got := set.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names() = %v", got)
	}
	if !NewSet().Met() {
		t.Error("empty set should be met")
	}
}

func TestPlantReachesTarget(t *testing.T) {
	clk := newClock()
	cfg := DefaultConfig("extruder")
	cfg.PID = PIDParams{Kp: 0.2, Ki: 0.01, Kd: 0.1}
	cfg.Residency = time.Second
	cfg.Hysteresis = 3
	h := New(cfg, clk.now)
	plant := NewPlant(DefaultPlantConfig(), h)
	if err := h.SetTarget(80); err != nil {
		t.Fatal(err)
	}

	const dt = 0.1
	for i := 0; i < 3000 && !h.Achieved(); i++ {
		clk.advance(100 * time.Millisecond)
		if err := plant.Advance(dt); err != nil {
			t.Fatal(err)
		}
	}
	if !h.Achieved() {
		t.Fatalf("plant never settled, temp %.1f duty %.2f", plant.Temperature(), h.Duty())
	}
}

func TestLoadHeaters(t *testing.T) {
	cfg, err := config.LoadString(`
[heater extruder]
target: 210
hysteresis: 1.5
residency: 500ms
max_temp: 280
pid_kp: 0.1

[heater bed]
max_temp: 120
`)
	if err != nil {
		t.Fatal(err)
	}
	heaters, err := LoadHeaters(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(heaters) != 2 {
		t.Fatalf("got %d heaters", len(heaters))
	}
	ext := heaters[0]
	if ext.Name() != "extruder" || ext.Target() != 210 {
		t.Errorf("extruder: name %q target %v", ext.Name(), ext.Target())
	}
	if ext.cfg.Hysteresis != 1.5 || ext.cfg.Residency != 500*time.Millisecond || ext.cfg.PID.Kp != 0.1 {
		t.Errorf("extruder config not applied: %+v", ext.cfg)
	}
	if heaters[1].Target() != 0 {
		t.Errorf("bed target = %v", heaters[1].Target())
	}

	bad, _ := config.LoadString("[heater hot]\nmax_temp: 100\ntarget: 150\n")
	if _, err := LoadHeaters(bad, nil); err == nil {
		t.Error("target above max_temp should fail")
	}
}

func TestSetTargetByName(t *testing.T) {
	cfg := DefaultConfig("bed")
	cfg.MaxTemp = 120
	set := NewSet(New(cfg, nil))

	if err := set.SetTarget("bed", 60); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if h, _ := set.Get("bed"); h.Target() != 60 {
		t.Errorf("target = %v", h.Target())
	}
	if err := set.SetTarget("chamber", 40); !errors.Is(err, ErrUnknownHeater) {
		t.Errorf("unknown heater: %v", err)
	}
	if err := set.SetTarget("bed", 200); !errors.Is(err, ErrTargetTooHigh) {
		t.Errorf("too hot: %v", err)
	}
}

func TestSetOff(t *testing.T) {
	a, b := New(DefaultConfig("a"), nil), New(DefaultConfig("b"), nil)
	set := NewSet(a, b)
	a.SetTarget(100)
	b.SetTarget(50)
	if err := set.Off(); err != nil {
		t.Fatal(err)
	}
	if a.Target() != 0 || b.Target() != 0 || a.Duty() != 0 {
		t.Errorf("targets %v/%v duty %v after Off", a.Target(), b.Target(), a.Duty())
	}
}

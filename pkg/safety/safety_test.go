package safety

import (
	"errors"
	"testing"
	"time"

	"klipper-go-movequeue/pkg/config"
	"klipper-go-movequeue/pkg/heater"
)

type recorder struct {
	order *[]string
	name  string
	err   error
}

func (r recorder) Disable() error {
	*r.order = append(*r.order, r.name)
	return r.err
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateRunning:      "running",
		StateShuttingDown: "shutting_down",
		StateShutdown:     "shutdown",
		StateError:        "error",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", int(s), got, want)
		}
	}
}

func TestShutdownDisablesInOrder(t *testing.T) {
	var order []string
	boom := errors.New("relay stuck")
	m := New(nil)
	m.Register("heaters", recorder{order: &order, name: "heaters", err: boom})
	m.Register("motors", recorder{order: &order, name: "motors"})

	var gotReason Reason
	var gotMsg string
	m.OnShutdown(func(reason Reason, msg string) {
		gotReason, gotMsg = reason, msg
	})

	if err := m.EmergencyStop("stop now"); err != boom {
		t.Errorf("EmergencyStop returned %v, want first disable error", err)
	}
	if len(order) != 2 || order[0] != "heaters" || order[1] != "motors" {
		t.Errorf("disable order = %v", order)
	}
	if gotReason != ReasonEmergencyStop || gotMsg != "stop now" {
		t.Errorf("callback got %q %q", gotReason, gotMsg)
	}
	if m.State() != StateError {
		t.Errorf("state = %s, want error", m.State())
	}
	if !m.IsShutdown() {
		t.Error("IsShutdown should be true")
	}
}

func TestShutdownOnlyOnce(t *testing.T) {
	var order []string
	m := New(nil)
	m.Register("heaters", recorder{order: &order, name: "heaters"})
	calls := 0
	m.OnShutdown(func(Reason, string) { calls++ })

	m.RequestShutdown("done")
	m.EmergencyStop("again")
	if len(order) != 1 || calls != 1 {
		t.Errorf("disables %d, callbacks %d", len(order), calls)
	}
	st := m.Status()
	if st.State != "shutdown" || st.Reason != string(ReasonUserRequest) || st.Msg != "done" {
		t.Errorf("status = %+v", st)
	}
}

func TestShutdownCallbackMayRegister(t *testing.T) {
	m := New(nil)
	var calls []string
	m.OnShutdown(func(Reason, string) {
		calls = append(calls, "first")
		// Runs on a copy of the callback list, so registering here neither
		// deadlocks nor runs the new callback in this shutdown.
		m.OnShutdown(func(Reason, string) { calls = append(calls, "late") })
	})
	m.OnShutdown(func(Reason, string) { calls = append(calls, "second") })

	m.SensorFault("bed", errors.New("short"))
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("callbacks = %v", calls)
	}
}

func TestCheckOperationalAndReset(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := New(func() time.Time { return at })

	if err := m.Reset(); err == nil {
		t.Error("Reset while running should fail")
	}
	if err := m.CheckOperational(); err != nil {
		t.Fatalf("running manager not operational: %v", err)
	}

	m.SensorFault("bed", errors.New("open circuit"))
	err := m.CheckOperational()
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("CheckOperational = %v", err)
	}
	if st := m.Status(); !st.At.Equal(at) || st.Reason != string(ReasonSensorFault) {
		t.Errorf("status = %+v", st)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.State() != StateRunning || m.CheckOperational() != nil {
		t.Error("reset manager should be running")
	}
}

// heatedTo sets h's measured temperature, filling the sensor's averaging window.
func heatedTo(t *testing.T, h *heater.Heater, temp float64) {
	t.Helper()
	s := h.Sensor()
	for i := 0; i < 8; i++ {
		if err := s.UpdateADC(s.TempToADC(temp)); err != nil {
			t.Fatal(err)
		}
	}
}

func newVerified(t *testing.T, target float64) (*heater.Heater, *Manager, *Verifier) {
	t.Helper()
	h := heater.New(heater.DefaultConfig("extruder"), nil)
	heatedTo(t, h, 25)
	if err := h.SetTarget(target); err != nil {
		t.Fatal(err)
	}
	m := New(nil)
	return h, m, NewVerifier(DefaultVerifyConfig(), h, m)
}

func TestVerifierStalledHeater(t *testing.T) {
	_, m, v := newVerified(t, 200)
	start := time.Unix(0, 0)
	for i := 0; i <= 30; i++ {
		fault := v.Check(start.Add(time.Duration(i)*time.Second), 1)
		if fault != (i == 21) {
			t.Fatalf("sample %d: fault = %v", i, fault)
		}
		if fault {
			break
		}
	}
	if m.Status().Reason != string(ReasonHeatingFailed) {
		t.Errorf("reason = %q", m.Status().Reason)
	}
}

func TestVerifierProgressingHeater(t *testing.T) {
	h, m, v := newVerified(t, 200)
	start := time.Unix(0, 0)
	temp := 25.0
	for i := 0; i < 400; i++ {
		if temp < 198 {
			temp++
		}
		heatedTo(t, h, temp)
		if v.Check(start.Add(time.Duration(i)*time.Second), 1) {
			t.Fatalf("fault at sample %d, temp %.0f", i, temp)
		}
	}
	if m.IsShutdown() {
		t.Error("progressing heater shut down")
	}
}

func TestVerifierCannotHoldTarget(t *testing.T) {
	h, m, v := newVerified(t, 200)
	start := time.Unix(0, 0)
	heatedTo(t, h, 199)
	if v.Check(start, 1) {
		t.Fatal("fault while at target")
	}
	heatedTo(t, h, 150)
	var faultAt int
	for i := 1; i <= 5 && faultAt == 0; i++ {
		if v.Check(start.Add(time.Duration(i)*time.Second), 1) {
			faultAt = i
		}
	}
	if faultAt != 3 {
		t.Errorf("fault at sample %d, want 3", faultAt)
	}
	if !m.IsShutdown() {
		t.Error("manager not shut down")
	}
}

func TestVerifierIgnoresHeaterOff(t *testing.T) {
	_, m, v := newVerified(t, 0)
	for i := 0; i < 100; i++ {
		if v.Check(time.Unix(int64(i), 0), 1) {
			t.Fatal("fault with target 0")
		}
	}
	if m.IsShutdown() {
		t.Error("shut down with heater off")
	}
}

func TestLoadVerifyConfig(t *testing.T) {
	cfg, err := config.LoadString("[verify_heater extruder]\nmax_error: 60\ncheck_gain_time: 10\nheating_gain: 1\n")
	if err != nil {
		t.Fatal(err)
	}
	vc, err := LoadVerifyConfig(cfg, "extruder")
	if err != nil {
		t.Fatal(err)
	}
	want := VerifyConfig{MaxError: 60, CheckGainTime: 10 * time.Second, Hysteresis: 5, HeatingGain: 1}
	if vc != want {
		t.Errorf("got %+v, want %+v", vc, want)
	}
	if vc, _ := LoadVerifyConfig(cfg, "bed"); vc != DefaultVerifyConfig() {
		t.Errorf("missing section should give defaults, got %+v", vc)
	}

	bad, _ := config.LoadString("[verify_heater bed]\nmax_error: 0\n")
	if _, err := LoadVerifyConfig(bad, "bed"); err == nil {
		t.Error("max_error 0 should be rejected")
	}
}

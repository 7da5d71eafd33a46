package safety

import (
	"time"

	"klipper-go-movequeue/pkg/config"
	"klipper-go-movequeue/pkg/heater"
)

// VerifyConfig tunes the heating check.
type VerifyConfig struct {
	// MaxError is the degree-seconds below target tolerated before a fault.
	MaxError float64
	// CheckGainTime is how long a heater may take to gain HeatingGain
	// degrees while approaching its target.
	CheckGainTime time.Duration
	// Hysteresis is the band around target treated as reached.
	Hysteresis  float64
	HeatingGain float64
}

// DefaultVerifyConfig matches the usual hotend tuning.
func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{MaxError: 120, CheckGainTime: 20 * time.Second, Hysteresis: 5, HeatingGain: 2}
}

// LoadVerifyConfig reads [verify_heater NAME], falling back to defaults.
func LoadVerifyConfig(cfg *config.Config, name string) (VerifyConfig, error) {
	out := DefaultVerifyConfig()
	sec := cfg.GetSectionOptional("verify_heater " + name)
	if sec == nil {
		return out, nil
	}
	zero := 0.0
	var err error
	if out.MaxError, err = sec.GetFloatWithBounds("max_error", config.FloatBounds{Above: &zero}, out.MaxError); err != nil {
		return out, err
	}
	if out.CheckGainTime, err = sec.GetDuration("check_gain_time", out.CheckGainTime); err != nil {
		return out, err
	}
	if out.Hysteresis, err = sec.GetFloatWithBounds("hysteresis", config.FloatBounds{MinVal: &zero}, out.Hysteresis); err != nil {
		return out, err
	}
	if out.HeatingGain, err = sec.GetFloatWithBounds("heating_gain", config.FloatBounds{Above: &zero}, out.HeatingGain); err != nil {
		return out, err
	}
	return out, nil
}

// Verifier watches one heater and shuts the run down when it stops making
// progress towards its target or cannot hold it.
type Verifier struct {
	cfg VerifyConfig
	h   *heater.Heater
	m   *Manager

	err         float64
	approaching bool
	starting    bool
	goalTemp    float64
	goalTime    time.Time
	lastTarget  float64
}

// NewVerifier checks h on behalf of m.
func NewVerifier(cfg VerifyConfig, h *heater.Heater, m *Manager) *Verifier {
	return &Verifier{cfg: cfg, h: h, m: m}
}

// Check evaluates one sample taken at now, dt seconds after the previous
// one. The error integrates how far below target the heater sits; a fault
// needs both a stalled approach and MaxError degree-seconds of shortfall.
// It returns true when it triggered a shutdown.
func (v *Verifier) Check(now time.Time, dt float64) bool {
	st := v.h.Status()
	temp, target := st.Temperature, st.Target

	if temp >= target-v.cfg.Hysteresis || target <= 0 {
		v.approaching = false
		v.starting = false
		if temp <= target+v.cfg.Hysteresis {
			v.err = 0
		}
		v.lastTarget = target
		return false
	}

	v.err += (target - v.cfg.Hysteresis - temp) * dt
	switch {
	case !v.approaching:
		if target != v.lastTarget {
			v.approaching = true
			v.starting = true
			v.goalTemp = temp + v.cfg.HeatingGain
			v.goalTime = now.Add(v.cfg.CheckGainTime)
		} else if v.err >= v.cfg.MaxError {
			v.m.HeatingFailed(v.h.Name(), temp, target)
			return true
		}
	case temp >= v.goalTemp:
		v.starting = false
		v.err = 0
		v.goalTemp = temp + v.cfg.HeatingGain
		v.goalTime = now.Add(v.cfg.CheckGainTime)
	case !now.Before(v.goalTime):
		v.approaching = false
	case v.starting:
		v.err = min(v.err, v.cfg.MaxError)
	}
	v.lastTarget = target
	return false
}

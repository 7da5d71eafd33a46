package heater

import (
	"time"

	"klipper-go-movequeue/pkg/config"
)

// LoadHeaters builds one heater per [heater NAME] section. clock may be nil.
func LoadHeaters(cfg *config.Config, clock func() time.Time) ([]*Heater, error) {
	var heaters []*Heater
	for _, sec := range cfg.GetPrefixSections("heater") {
		hc, err := loadHeaterConfig(sec)
		if err != nil {
			return nil, err
		}
		heaters = append(heaters, New(hc, clock))
	}
	return heaters, nil
}

func loadHeaterConfig(sec *config.Section) (Config, error) {
	hc := DefaultConfig(sec.Suffix())
	zero := 0.0
	var err error

	if hc.MaxTemp, err = sec.GetFloatWithBounds("max_temp", config.FloatBounds{Above: &zero}, hc.MaxTemp); err != nil {
		return hc, err
	}
	maxTemp := hc.MaxTemp
	if hc.Target, err = sec.GetFloatWithBounds("target", config.FloatBounds{MinVal: &zero, MaxVal: &maxTemp}, 0); err != nil {
		return hc, err
	}
	if hc.Hysteresis, err = sec.GetFloatWithBounds("hysteresis", config.FloatBounds{MinVal: &zero}, hc.Hysteresis); err != nil {
		return hc, err
	}
	if hc.Residency, err = sec.GetDuration("residency", hc.Residency); err != nil {
		return hc, err
	}
	one := 1.0
	if hc.MaxPower, err = sec.GetFloatWithBounds("max_power", config.FloatBounds{Above: &zero, MaxVal: &one}, hc.MaxPower); err != nil {
		return hc, err
	}
	if hc.PID.Kp, err = sec.GetFloat("pid_kp", hc.PID.Kp); err != nil {
		return hc, err
	}
	if hc.PID.Ki, err = sec.GetFloat("pid_ki", hc.PID.Ki); err != nil {
		return hc, err
	}
	if hc.PID.Kd, err = sec.GetFloat("pid_kd", hc.PID.Kd); err != nil {
		return hc, err
	}
	if hc.Sensor.Params.Beta, err = sec.GetFloatWithBounds("beta", config.FloatBounds{Above: &zero}, hc.Sensor.Params.Beta); err != nil {
		return hc, err
	}
	if hc.Sensor.Params.Pullup, err = sec.GetFloatWithBounds("pullup_resistor", config.FloatBounds{Above: &zero}, hc.Sensor.Params.Pullup); err != nil {
		return hc, err
	}
	hc.Sensor.MaxTemp = hc.MaxTemp + 100
	return hc, nil
}

package serial

import (
	"time"

	"klipper-go-movequeue/pkg/config"
)

// SectionName is the config section read by LoadConfig.
const SectionName = "serial"

// Flow control modes.
const (
	FlowNone    = "none"
	FlowXonXoff = "xonxoff"
)

// Config holds serial port configuration.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
	FlowControl string
}

// DefaultConfig returns 115200 baud with XON/XOFF.
func DefaultConfig() Config {
	return Config{
		BaudRate:    115200,
		ReadTimeout: 100 * time.Millisecond,
		FlowControl: FlowXonXoff,
	}
}

// LoadConfig reads [serial]. ok is false when the section is absent.
func LoadConfig(cfg *config.Config) (out Config, ok bool, err error) {
	out = DefaultConfig()
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return out, false, nil
	}
	if out.Device, err = sec.Get("device"); err != nil {
		return out, true, err
	}
	minBaud := 1
	if out.BaudRate, err = sec.GetIntWithBounds("baud", &minBaud, nil, out.BaudRate); err != nil {
		return out, true, err
	}
	if out.ReadTimeout, err = sec.GetDuration("read_timeout", out.ReadTimeout); err != nil {
		return out, true, err
	}
	if out.FlowControl, err = sec.GetChoice("flow_control", []string{FlowNone, FlowXonXoff}, out.FlowControl); err != nil {
		return out, true, err
	}
	return out, true, nil
}

package monitor

import (
	"time"

	"klipper-go-movequeue/pkg/config"
)

// SectionName is the config section read by LoadConfig.
const SectionName = "monitor"

// Config holds the listen address and broadcast interval.
type Config struct {
	Address  string
	Interval time.Duration
}

// DefaultConfig broadcasts at 4 Hz on :7130.
func DefaultConfig() Config {
	return Config{Address: ":7130", Interval: 250 * time.Millisecond}
}

// LoadConfig reads [monitor]. ok is false when the section is absent.
func LoadConfig(cfg *config.Config) (out Config, ok bool, err error) {
	out = DefaultConfig()
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return out, false, nil
	}
	if out.Address, err = sec.Get("address", out.Address); err != nil {
		return out, true, err
	}
	if out.Interval, err = sec.GetDuration("interval", out.Interval); err != nil {
		return out, true, err
	}
	if out.Interval <= 0 {
		out.Interval = DefaultConfig().Interval
	}
	return out, true, nil
}

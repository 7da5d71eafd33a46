package dda

import (
	"fmt"
	"math"

	"klipper-go-movequeue/pkg/config"
	"klipper-go-movequeue/pkg/errors"
)

// SectionName is the config section read by LoadConfig.
const SectionName = "stepper"

// Config describes the axes and timing limits of the mover.
type Config struct {
	AxisNames   []string
	ClockHz     uint32
	MinInterval uint32  // clock cycles, fastest allowed step period
	DefaultRate float64 // steps per second for targets without a rate
}

// DefaultConfig drives x, y, z and e on a 16 MHz clock.
func DefaultConfig() Config {
	return Config{
		AxisNames:   []string{"x", "y", "z", "e"},
		ClockHz:     16000000,
		MinInterval: 200,
		DefaultRate: 1000,
	}
}

// Axes returns the number of driven axes.
func (c Config) Axes() int { return len(c.AxisNames) }

// Validate checks the axis count and timing values.
func (c Config) Validate() error {
	if len(c.AxisNames) == 0 || len(c.AxisNames) > MaxAxes {
		return errors.ConfigValidationError(SectionName, "axes", fmt.Sprintf("must name 1 to %d axes", MaxAxes))
	}
	if c.ClockHz == 0 {
		return errors.ConfigValidationError(SectionName, "clock_hz", "must be positive")
	}
	if c.MinInterval == 0 {
		return errors.ConfigValidationError(SectionName, "min_interval", "must be positive")
	}
	if c.DefaultRate <= 0 {
		return errors.ConfigValidationError(SectionName, "default_rate", "must be positive")
	}
	return nil
}

// AxisIndex maps an axis name to its index.
func (c Config) AxisIndex(name string) (int, bool) {
	for i, n := range c.AxisNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// LoadConfig reads [stepper]. clockHz comes from the queue configuration so
// both agree on the timer clock.
func LoadConfig(cfg *config.Config, clockHz uint32) (Config, error) {
	out := DefaultConfig()
	out.ClockHz = clockHz
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return out, out.Validate()
	}

	var err error
	if out.AxisNames, err = sec.GetList("axes", ",", out.AxisNames); err != nil {
		return out, err
	}
	one, maxU32 := 1, min(math.MaxUint32, math.MaxInt)
	minInterval, err := sec.GetIntWithBounds("min_interval", &one, &maxU32, int(out.MinInterval))
	if err != nil {
		return out, err
	}
	out.MinInterval = uint32(minInterval)
	zero := 0.0
	if out.DefaultRate, err = sec.GetFloatWithBounds("default_rate", config.FloatBounds{Above: &zero}, out.DefaultRate); err != nil {
		return out, err
	}
	return out, out.Validate()
}

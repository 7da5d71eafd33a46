package movequeue

import (
	"math"
	"time"

	"klipper-go-movequeue/pkg/config"
	"klipper-go-movequeue/pkg/errors"
)

// SectionName is the config section read by LoadConfig.
const SectionName = "movequeue"

// Config is supplied at construction and never changes afterwards.
type Config struct {
	// Capacity is the number of slots. Must be a power of two; one slot is
	// always kept free so at most Capacity-1 items are queued.
	Capacity int

	// PollInterval is how long a producer sleeps between checks while the
	// queue is full.
	PollInterval time.Duration

	// Interruptible releases the interrupt mask during the slow part of a tick
	// (condition polls, mover timing work).
	Interruptible bool

	// ClockHz is the timer clock frequency. Periods are counted in its cycles.
	ClockHz uint32

	// WaitPeriod is the tick period, in clock cycles, while a wait slot polls
	// its condition.
	WaitPeriod uint32

	// WaitTimeout bounds how long a wait slot may hold the queue.
	WaitTimeout time.Duration

	// KickPeriod is the period used to arm an idle timer after an enqueue.
	KickPeriod uint32

	// LowWatermark is the free-slot count at or below which input is paused.
	LowWatermark int
}

// DefaultConfig mirrors a 16 MHz controller with an 8 slot buffer.
func DefaultConfig() Config {
	return Config{
		Capacity:     8,
		PollInterval: 10 * time.Millisecond,
		ClockHz:      16000000,
		WaitPeriod:   16000,
		WaitTimeout:  time.Second,
		KickPeriod:   16,
		LowWatermark: 2,
	}
}

// Validate checks the structural constraints New relies on.
func (c Config) Validate() error {
	if c.Capacity < 2 || c.Capacity&(c.Capacity-1) != 0 {
		return errors.QueueCapacityError(c.Capacity)
	}
	if c.Capacity > math.MaxUint32/2 {
		return errors.QueueCapacityError(c.Capacity)
	}
	if c.PollInterval <= 0 {
		return errors.ConfigValidationError(SectionName, "poll_interval", "must be positive")
	}
	if c.ClockHz == 0 {
		return errors.ConfigValidationError(SectionName, "clock_hz", "must be positive")
	}
	if c.WaitPeriod == 0 {
		return errors.ConfigValidationError(SectionName, "wait_period", "must be positive")
	}
	if c.KickPeriod == 0 {
		return errors.ConfigValidationError(SectionName, "kick_period", "must be positive")
	}
	if c.WaitTimeout <= 0 {
		return errors.ConfigValidationError(SectionName, "wait_timeout", "must be positive")
	}
	if c.LowWatermark < 0 {
		return errors.ConfigValidationError(SectionName, "low_watermark", "must not be negative")
	}
	return nil
}

// WaitBudget converts WaitTimeout into wait-slot ticks at the condition poll
// rate, saturating at the counter width.
func (c Config) WaitBudget() uint32 {
	ticks := float64(c.ClockHz) / float64(c.WaitPeriod) * c.WaitTimeout.Seconds()
	if ticks >= math.MaxUint32 {
		return math.MaxUint32
	}
	if ticks < 1 {
		return 1
	}
	return uint32(ticks)
}

// LoadConfig reads the [movequeue] section, falling back to DefaultConfig for
// anything not set.
func LoadConfig(cfg *config.Config) (Config, error) {
	out := DefaultConfig()
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return out, nil
	}

	minCap := 2
	capacity, err := sec.GetIntWithBounds("capacity", &minCap, nil, out.Capacity)
	if err != nil {
		return out, err
	}
	out.Capacity = capacity

	if out.PollInterval, err = sec.GetDuration("poll_interval", out.PollInterval); err != nil {
		return out, err
	}
	if out.Interruptible, err = sec.GetBool("interruptible", false); err != nil {
		return out, err
	}

	one, maxU32 := 1, min(math.MaxUint32, math.MaxInt)
	clockHz, err := sec.GetIntWithBounds("clock_hz", &one, &maxU32, int(out.ClockHz))
	if err != nil {
		return out, err
	}
	out.ClockHz = uint32(clockHz)

	waitPeriod, err := sec.GetIntWithBounds("wait_period", &one, &maxU32, int(out.WaitPeriod))
	if err != nil {
		return out, err
	}
	out.WaitPeriod = uint32(waitPeriod)

	kick, err := sec.GetIntWithBounds("kick_period", &one, &maxU32, int(out.KickPeriod))
	if err != nil {
		return out, err
	}
	out.KickPeriod = uint32(kick)

	if out.WaitTimeout, err = sec.GetDuration("wait_timeout", out.WaitTimeout); err != nil {
		return out, err
	}

	zero := 0
	if out.LowWatermark, err = sec.GetIntWithBounds("low_watermark", &zero, nil, out.LowWatermark); err != nil {
		return out, err
	}

	return out, out.Validate()
}

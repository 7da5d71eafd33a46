package heater

import (
	"github.com/valyala/fastrand"

	"klipper-go-movequeue/pkg/reactor"
)

// PlantConfig describes a first-order thermal model.
type PlantConfig struct {
	Ambient  float64 // celsius
	HeatRate float64 // degrees per second at full power
	CoolRate float64 // fraction of (temp - ambient) lost per second
	NoiseADC uint32  // peak-to-peak ADC noise in counts
	Period   float64 // seconds between updates
}

// DefaultPlantConfig approximates a small hotend.
func DefaultPlantConfig() PlantConfig {
	return PlantConfig{
		Ambient:  25,
		HeatRate: 40,
		CoolRate: 0.05,
		NoiseADC: 2,
		Period:   0.1,
	}
}

// Plant simulates the physical heater a Heater drives. Each update it
// integrates the heater's duty cycle, feeds a noisy ADC sample back into the
// sensor and runs one PID iteration.
type Plant struct {
	cfg    PlantConfig
	heater *Heater
	temp   float64
	rng    fastrand.RNG
	timer  *reactor.Timer
}

// NewPlant attaches a simulated plant to h starting at ambient.
func NewPlant(cfg PlantConfig, h *Heater) *Plant {
	p := &Plant{cfg: cfg, heater: h, temp: cfg.Ambient}
	h.Sensor().UpdateADC(h.Sensor().TempToADC(p.temp))
	return p
}

// Temperature returns the simulated true temperature.
func (p *Plant) Temperature() float64 { return p.temp }

// Advance integrates dt seconds of physics and updates the heater.
func (p *Plant) Advance(dt float64) error {
	duty := p.heater.Duty()
	p.temp += (duty*p.cfg.HeatRate - p.cfg.CoolRate*(p.temp-p.cfg.Ambient)) * dt

	adc := p.heater.Sensor().TempToADC(p.temp)
	if p.cfg.NoiseADC > 0 {
		adc += float64(p.rng.Uint32n(p.cfg.NoiseADC+1)) - float64(p.cfg.NoiseADC)/2
	}
	err := p.heater.Sensor().UpdateADC(adc)
	p.heater.Update()
	return err
}

// Name returns the driven heater's name.
func (p *Plant) Name() string { return p.heater.Name() }

// Attach drives the plant from a reactor timer until Detach. A sensor fault
// stops the plant and is passed to onFault, which may be nil.
func (p *Plant) Attach(r *reactor.Reactor, onFault func(error)) {
	p.timer = r.RegisterTimer("plant "+p.heater.Name(), func(eventtime float64) float64 {
		if err := p.Advance(p.cfg.Period); err != nil {
			p.heater.log.WithError(err).Error("sensor fault, stopping plant")
			if onFault != nil {
				onFault(err)
			}
			return reactor.NEVER
		}
		return eventtime + p.cfg.Period
	}, reactor.NOW)
}

// Detach stops the reactor timer.
func (p *Plant) Detach(r *reactor.Reactor) {
	if p.timer != nil {
		r.UnregisterTimer(p.timer)
		p.timer = nil
	}
}

package journal

import (
	"klipper-go-movequeue/pkg/config"
)

// SectionName is the config section read by LoadConfig.
const SectionName = "journal"

// Config locates the database and sizes the event buffer.
type Config struct {
	Path   string
	Buffer int
}

// DefaultConfig buffers 4096 events.
func DefaultConfig() Config {
	return Config{Path: "movequeue.db", Buffer: 4096}
}

// LoadConfig reads [journal]. ok is false when the section is absent.
func LoadConfig(cfg *config.Config) (out Config, ok bool, err error) {
	out = DefaultConfig()
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return out, false, nil
	}
	if out.Path, err = sec.Get("path", out.Path); err != nil {
		return out, true, err
	}
	one := 1
	if out.Buffer, err = sec.GetIntWithBounds("buffer", &one, nil, out.Buffer); err != nil {
		return out, true, err
	}
	return out, true, nil
}

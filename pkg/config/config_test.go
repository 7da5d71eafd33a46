package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"klipper-go-movequeue/pkg/errors"
)

const sample = `
# move queue tuning
[movequeue]
capacity: 16
poll_interval: 5ms
interruptible = yes
wait_timeout: 2.5

[heater extruder]
target: 210
hysteresis: 2   ; degrees

[heater bed]
target: 60

[stepper]
axes: x, y, z
`

func TestLoadString(t *testing.T) {
	cfg, err := LoadString(sample)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if got := cfg.GetSectionNames(); strings.Join(got, "|") != "movequeue|heater extruder|heater bed|stepper" {
		t.Errorf("unexpected section order: %v", got)
	}

	mq, err := cfg.GetSection("movequeue")
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	if n, err := mq.GetInt("capacity"); err != nil || n != 16 {
		t.Errorf("capacity = %d, %v", n, err)
	}
	if b, err := mq.GetBool("INTERRUPTIBLE"); err != nil || !b {
		t.Errorf("interruptible = %v, %v", b, err)
	}
	if d, err := mq.GetDuration("poll_interval"); err != nil || d != 5*time.Millisecond {
		t.Errorf("poll_interval = %v, %v", d, err)
	}
	if d, err := mq.GetDuration("wait_timeout"); err != nil || d != 2500*time.Millisecond {
		t.Errorf("wait_timeout = %v, %v", d, err)
	}
	if d, err := mq.GetDuration("kick", time.Second); err != nil || d != time.Second {
		t.Errorf("fallback duration = %v, %v", d, err)
	}
}

func TestPrefixSections(t *testing.T) {
	cfg, err := LoadString(sample)
	if err != nil {
		t.Fatal(err)
	}
	heaters := cfg.GetPrefixSections("heater")
	if len(heaters) != 2 {
		t.Fatalf("expected 2 heaters, got %d", len(heaters))
	}
	if heaters[0].Suffix() != "extruder" || heaters[1].Suffix() != "bed" {
		t.Errorf("unexpected suffixes %q %q", heaters[0].Suffix(), heaters[1].Suffix())
	}
	h, err := heaters[0].GetFloat("hysteresis")
	if err != nil || h != 2 {
		t.Errorf("inline comment not stripped: %v %v", h, err)
	}
}

func TestWarnings(t *testing.T) {
	cfg, err := LoadString(sample)
	if err != nil {
		t.Fatal(err)
	}
	mq, _ := cfg.GetSection("movequeue")
	mq.GetInt("capacity")
	mq.GetList("missing", ",", nil)

	warnings := strings.Join(cfg.Warnings(), "\n")
	for _, want := range []string{
		"unused option 'poll_interval' in section [movequeue]",
		"unused section [stepper]",
		"unused section [heater bed]",
	} {
		if !strings.Contains(warnings, want) {
			t.Errorf("missing warning %q in:\n%s", want, warnings)
		}
	}
	if strings.Contains(warnings, "'capacity'") {
		t.Errorf("capacity was read but reported unused")
	}
}

func TestErrors(t *testing.T) {
	cfg, err := LoadString("[movequeue]\ncapacity: eight\nclock_hz: 0\nmode: fast\n")
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := cfg.GetSection("movequeue")

	if _, err := sec.GetInt("capacity"); !errors.Is(err, errors.ErrConfigType) {
		t.Errorf("expected CONFIG_TYPE, got %v", err)
	}
	one := 1
	if _, err := sec.GetIntWithBounds("clock_hz", &one, nil); !errors.Is(err, errors.ErrConfigValidation) {
		t.Errorf("expected CONFIG_VALIDATION, got %v", err)
	}
	if _, err := sec.GetInt("absent"); !errors.Is(err, errors.ErrConfigOption) {
		t.Errorf("expected CONFIG_OPTION, got %v", err)
	}
	if _, err := sec.GetChoice("mode", []string{"slow", "normal"}); err == nil {
		t.Errorf("expected invalid choice error")
	}
	if _, err := cfg.GetSection("serial"); !errors.Is(err, errors.ErrConfigSection) {
		t.Errorf("expected CONFIG_SECTION, got %v", err)
	}
	if _, err := LoadString("[movequeue]\nno separator here\n"); err == nil {
		t.Errorf("expected malformed line error")
	}
	if _, err := LoadString("[include other.cfg]\n"); err == nil {
		t.Errorf("include must fail without a file")
	}
}

func TestLoadInclude(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("main.cfg", "[include parts/*.cfg]\n[movequeue]\ncapacity: 32\n")
	os.Mkdir(filepath.Join(dir, "parts"), 0o755)
	write("parts/heater.cfg", "[heater bed]\ntarget: 55\n")
	write("parts/queue.cfg", "[movequeue]\ncapacity: 4\nkick_period: 20\n")

	cfg, err := Load(filepath.Join(dir, "main.cfg"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mq, _ := cfg.GetSection("movequeue")
	if n, _ := mq.GetInt("capacity"); n != 32 {
		t.Errorf("later definition should win, got %d", n)
	}
	if n, _ := mq.GetInt("kick_period"); n != 20 {
		t.Errorf("included option lost, got %d", n)
	}
	if !cfg.HasSection("heater bed") {
		t.Errorf("included section missing")
	}

	write("loop.cfg", "[include loop.cfg]\n")
	if _, err := Load(filepath.Join(dir, "loop.cfg")); err == nil {
		t.Errorf("expected recursive include error")
	}
}

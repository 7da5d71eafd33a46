package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"klipper-go-movequeue/pkg/errors"
)

// Section is one [name] block. Option names are case-insensitive.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{name: name, options: opts, accessed: make(map[string]struct{})}
}

// GetName returns the full section name.
func (s *Section) GetName() string { return s.name }

// Suffix returns the part after the first space, e.g. "extruder" for
// [heater extruder].
func (s *Section) Suffix() string {
	_, suffix, _ := strings.Cut(s.name, " ")
	return strings.TrimSpace(suffix)
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// UnusedOptions returns the sorted options nobody read.
func (s *Section) UnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			out = append(out, opt)
		}
	}
	sort.Strings(out)
	return out
}

// lookup marks option accessed and returns its raw value. found is false when
// the option is absent; a missing option with no fallback is an error.
func (s *Section) lookup(option string, hasFallback bool) (raw string, found bool, err error) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	if v, ok := s.options[key]; ok {
		return strings.TrimSpace(v), true, nil
	}
	if hasFallback {
		return "", false, nil
	}
	return "", false, errors.ConfigOptionError(s.name, option)
}

// Get returns a string option value.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	raw, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil || found {
		return raw, err
	}
	return fallback[0], nil
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	raw, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.ConfigTypeError(s.name, option, raw, "integer", err)
	}
	return i, nil
}

// GetIntWithBounds returns an integer option value with bounds checking.
func (s *Section) GetIntWithBounds(option string, minVal, maxVal *int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if minVal != nil && v < *minVal {
		return 0, errors.ConfigValidationError(s.name, option, "must have minimum of "+strconv.Itoa(*minVal))
	}
	if maxVal != nil && v > *maxVal {
		return 0, errors.ConfigValidationError(s.name, option, "must have maximum of "+strconv.Itoa(*maxVal))
	}
	return v, nil
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	raw, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.ConfigTypeError(s.name, option, raw, "float", err)
	}
	return f, nil
}

// FloatBounds specifies bounds for GetFloatWithBounds.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

// GetFloatWithBounds returns a float64 option value with bounds checking.
func (s *Section) GetFloatWithBounds(option string, bounds FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	switch {
	case bounds.MinVal != nil && v < *bounds.MinVal:
		return 0, errors.ConfigValidationError(s.name, option, "must have minimum of "+ftoa(*bounds.MinVal))
	case bounds.MaxVal != nil && v > *bounds.MaxVal:
		return 0, errors.ConfigValidationError(s.name, option, "must have maximum of "+ftoa(*bounds.MaxVal))
	case bounds.Above != nil && v <= *bounds.Above:
		return 0, errors.ConfigValidationError(s.name, option, "must be above "+ftoa(*bounds.Above))
	case bounds.Below != nil && v >= *bounds.Below:
		return 0, errors.ConfigValidationError(s.name, option, "must be below "+ftoa(*bounds.Below))
	}
	return v, nil
}

// GetBool accepts 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	raw, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return false, err
	}
	if !found {
		return fallback[0], nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, errors.ConfigTypeError(s.name, option, raw, "boolean", nil)
}

// GetDuration accepts Go duration syntax ("250ms", "1.5s") or a bare number
// of seconds. Negative values are rejected.
func (s *Section) GetDuration(option string, fallback ...time.Duration) (time.Duration, error) {
	raw, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback[0], nil
	}
	var d time.Duration
	if secs, perr := strconv.ParseFloat(raw, 64); perr == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(raw); err != nil {
		return 0, errors.ConfigTypeError(s.name, option, raw, "duration", err)
	}
	if d < 0 {
		return 0, errors.ConfigValidationError(s.name, option, "must not be negative")
	}
	return d, nil
}

// GetChoice returns a string option that must be one of choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", errors.ConfigValidationError(s.name, option, "'"+v+"' is not one of "+strings.Join(choices, ", "))
}

// GetList splits an option on sep, dropping empty items.
func (s *Section) GetList(option string, sep string, fallback ...[]string) ([]string, error) {
	raw, found, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return fallback[0], nil
	}
	var out []string
	for _, p := range strings.Split(raw, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

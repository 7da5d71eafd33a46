// Package config parses klipper-style INI files ("[section]", "key: value",
// "#" comments, "[include glob]") and tracks which sections and options the
// program actually read, so leftovers can be reported as warnings.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"klipper-go-movequeue/pkg/errors"
)

// Config is a parsed configuration with access tracking.
type Config struct {
	mu       sync.Mutex
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads a configuration file, following [include ...] directives
// relative to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.loadFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Include directives are rejected
// since there is no file to resolve them against.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data), "<string>", nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string, visiting map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "invalid config path "+path)
	}
	if visiting[abs] {
		return errors.New(errors.ErrConfigSection, "recursive include of "+path)
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	f, err := os.Open(abs)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "unable to open config "+path)
	}
	defer f.Close()

	include := func(spec string) error {
		pattern := filepath.Join(filepath.Dir(abs), spec)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return errors.Wrap(err, errors.ErrConfigSection, "invalid include pattern "+spec)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
			return errors.New(errors.ErrConfigSection, "include file does not exist: "+pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := c.loadFile(m, visiting); err != nil {
				return err
			}
		}
		return nil
	}
	return c.parse(f, path, include)
}

// parse reads one source. include is nil when includes are not allowed.
func (c *Config) parse(r io.Reader, source string, include func(string) error) error {
	var (
		name    string
		options map[string]string
	)
	flush := func() {
		if name != "" {
			c.addSection(name, options)
		}
		name, options = "", nil
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return errors.New(errors.ErrConfigSection, fmt.Sprintf("empty section header in %s", source)).SetLine(lineNum)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				if include == nil {
					return errors.New(errors.ErrConfigSection, "include not supported in "+source).SetLine(lineNum)
				}
				if err := include(strings.TrimSpace(spec)); err != nil {
					return err
				}
				continue
			}
			name = header
			options = make(map[string]string)
			continue
		}

		if name == "" {
			continue
		}
		key, value, ok := splitOption(line)
		if !ok {
			return errors.New(errors.ErrConfigOption, fmt.Sprintf("malformed line %q in %s", line, source)).
				SetSection(name).SetLine(lineNum)
		}
		options[key] = value
	}
	flush()
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "error reading "+source)
	}
	return nil
}

func stripComment(raw string) string {
	line := strings.TrimSpace(raw)
	if idx := strings.IndexAny(line, "#;"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	return line
}

// splitOption accepts "key: value" and "key = value", whichever separator
// comes first.
func splitOption(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[k] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a section by name.
func (c *Config) GetSection(name string) (*Section, error) {
	if sec := c.GetSectionOptional(name); sec != nil {
		return sec, nil
	}
	return nil, errors.ConfigSectionError(name)
}

// GetSectionOptional returns a section, or nil if it does not exist.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if ok {
		c.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists without marking it accessed.
func (c *Config) HasSection(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns all section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// GetPrefixSections returns sections named "<prefix> <suffix>", e.g. every
// [heater NAME], marking them accessed.
func (c *Config) GetPrefixSections(prefix string) []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*Section
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix+" ") {
			c.accessed[name] = struct{}{}
			result = append(result, c.sections[name])
		}
	}
	return result
}

// Warnings lists sections and options that were never read.
func (c *Config) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, name := range c.order {
		if _, ok := c.accessed[name]; !ok {
			out = append(out, fmt.Sprintf("unused section [%s]", name))
			continue
		}
		for _, opt := range c.sections[name].UnusedOptions() {
			out = append(out, fmt.Sprintf("unused option '%s' in section [%s]", opt, name))
		}
	}
	return out
}

package heater

import (
	"fmt"
	"sort"
	"sync"
)

// Set is a named collection of heaters. Its Met method is the wait-slot
// condition: every heater has reached its target, or has none.
type Set struct {
	mu      sync.RWMutex
	heaters map[string]*Heater
}

// NewSet groups heaters by name.
func NewSet(heaters ...*Heater) *Set {
	s := &Set{heaters: make(map[string]*Heater, len(heaters))}
	for _, h := range heaters {
		s.heaters[h.Name()] = h
	}
	return s
}

// Add registers a heater, replacing one with the same name.
func (s *Set) Add(h *Heater) {
	s.mu.Lock()
	s.heaters[h.Name()] = h
	s.mu.Unlock()
}

// Get looks up a heater by name.
func (s *Set) Get(name string) (*Heater, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heaters[name]
	return h, ok
}

// Names returns the heater names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.heaters))
	for name := range s.heaters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetTarget sets the target of the named heater.
func (s *Set) SetTarget(name string, celsius float64) error {
	h, ok := s.Get(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownHeater, name)
	}
	if err := h.SetTarget(celsius); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Off sets every target to zero.
func (s *Set) Off() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.heaters {
		if err := h.SetTarget(0); err != nil {
			return err
		}
	}
	return nil
}

// Met reports whether all heaters are at temperature. An empty set is
// always met.
func (s *Set) Met() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.heaters {
		if !h.Achieved() {
			return false
		}
	}
	return true
}

// Status returns every heater's status sorted by name.
func (s *Set) Status() []Status {
	names := s.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		if h, ok := s.Get(name); ok {
			out = append(out, h.Status())
		}
	}
	return out
}

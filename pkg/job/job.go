// Package job turns job files and line commands into queue items.
//
// A job is an ordered list of entries. Moves and waits become queue items;
// heat entries change heater targets from the producer side the moment they
// are reached, so a later wait entry holds motion until the heaters settle.
package job

import (
	"fmt"
	"sort"

	"klipper-go-movequeue/pkg/dda"
	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/movequeue"
)

// Kind identifies a job entry.
type Kind uint8

const (
	KindMove Kind = iota
	KindWait
	KindHeat
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindWait:
		return "wait"
	case KindHeat:
		return "heat"
	}
	return "unknown"
}

// Entry is one job step.
type Entry struct {
	Kind Kind

	// Pos is the source line for text jobs and the 1-based step number for
	// YAML jobs.
	Pos int

	Target dda.Target         // KindMove
	Heat   map[string]float64 // KindHeat, heater name to target in Celsius
}

// Item converts a move or wait entry into a queue item. ok is false for heat
// entries.
func (e Entry) Item() (item movequeue.Item[dda.Target], ok bool) {
	switch e.Kind {
	case KindMove:
		return movequeue.Move(e.Target), true
	case KindWait:
		return movequeue.WaitForCondition[dda.Target](), true
	}
	return item, false
}

// HeaterNames returns the heaters a heat entry touches, sorted.
func (e Entry) HeaterNames() []string {
	names := make([]string, 0, len(e.Heat))
	for name := range e.Heat {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Job is a parsed job.
type Job struct {
	Name    string
	Entries []Entry
}

// Summary counts entries by kind.
type Summary struct {
	Moves int
	Waits int
	Heats int
	Steps [dda.MaxAxes]int64 // absolute steps per axis
}

// Summary tallies the job.
func (j *Job) Summary() Summary {
	var s Summary
	for _, e := range j.Entries {
		switch e.Kind {
		case KindMove:
			s.Moves++
			for i, n := range e.Target.Steps {
				if n < 0 {
					n = -n
				}
				s.Steps[i] += int64(n)
			}
		case KindWait:
			s.Waits++
		case KindHeat:
			s.Heats++
		}
	}
	return s
}

// CheckHeaters reports the first heat entry naming a heater not in known.
func (j *Job) CheckHeaters(known []string) error {
	set := make(map[string]bool, len(known))
	for _, name := range known {
		set[name] = true
	}
	for _, e := range j.Entries {
		for _, name := range e.HeaterNames() {
			if !set[name] {
				return errors.JobError(e.Pos, fmt.Sprintf("unknown heater %q", name))
			}
		}
	}
	return nil
}

// builder validates entries against the configured axes.
type builder struct {
	axes dda.Config
	rate float64
}

func (b builder) move(pos int, steps map[string]int64, rate float64, add int64) (Entry, error) {
	e := Entry{Kind: KindMove, Pos: pos}
	if len(steps) == 0 {
		return e, errors.JobError(pos, "move names no axis")
	}
	for name, n := range steps {
		idx, ok := b.axes.AxisIndex(name)
		if !ok {
			return e, errors.JobError(pos, fmt.Sprintf("unknown axis %q", name))
		}
		if n > 1<<31-1 || n < -(1<<31-1) {
			return e, errors.JobError(pos, fmt.Sprintf("axis %s: %d steps out of range", name, n))
		}
		e.Target.Steps[idx] = int32(n)
	}
	if rate == 0 {
		rate = b.rate
	}
	if rate < 0 {
		return e, errors.JobError(pos, "rate must be positive")
	}
	if add > 1<<31-1 || add < -(1<<31) {
		return e, errors.JobError(pos, "add out of range")
	}
	e.Target.Rate = rate
	e.Target.Add = int32(add)
	return e, nil
}

func (b builder) heat(pos int, temps map[string]float64) (Entry, error) {
	if len(temps) == 0 {
		return Entry{}, errors.JobError(pos, "heat names no heater")
	}
	for name, t := range temps {
		if t < 0 {
			return Entry{}, errors.JobError(pos, fmt.Sprintf("heater %s: negative target", name))
		}
	}
	return Entry{Kind: KindHeat, Pos: pos, Heat: temps}, nil
}

package job

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"klipper-go-movequeue/pkg/dda"
	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/pool"
)

// Parser reads line commands:
//
//	move x=400 y=-200 [rate=2000] [add=-5]
//	wait
//	heat extruder=210 bed=60
//
// Text after '#' or ';' is ignored.
type Parser struct {
	b builder
}

// NewParser returns a parser for the given axes. Moves without a rate use
// axes.DefaultRate.
func NewParser(axes dda.Config) *Parser {
	return &Parser{b: builder{axes: axes, rate: axes.DefaultRate}}
}

// ParseLine parses one command. ok is false for blank and comment lines.
func (p *Parser) ParseLine(pos int, line string) (e Entry, ok bool, err error) {
	if i := strings.IndexAny(line, "#;"); i >= 0 {
		line = line[:i]
	}
	buf := pool.GetStringSlice()
	defer pool.PutStringSlice(buf)
	for f := range strings.FieldsSeq(line) {
		*buf = append(*buf, f)
	}
	fields := *buf
	if len(fields) == 0 {
		return e, false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "wait":
		if len(args) != 0 {
			return e, false, errors.JobError(pos, "wait takes no arguments")
		}
		return Entry{Kind: KindWait, Pos: pos}, true, nil
	case "move":
		e, err = p.parseMove(pos, args)
	case "heat":
		e, err = p.parseHeat(pos, args)
	default:
		return e, false, errors.JobError(pos, fmt.Sprintf("unknown command %q", fields[0]))
	}
	if err != nil {
		return e, false, err
	}
	return e, true, nil
}

func splitArg(pos int, arg string) (string, string, error) {
	k, v, found := strings.Cut(arg, "=")
	if !found || k == "" || v == "" {
		return "", "", errors.JobError(pos, fmt.Sprintf("malformed argument %q", arg))
	}
	return strings.ToLower(k), v, nil
}

func (p *Parser) parseMove(pos int, args []string) (Entry, error) {
	steps := pool.GetStepsMap()
	defer pool.PutStepsMap(steps)
	var (
		rate float64
		add  int64
	)
	for _, arg := range args {
		k, v, err := splitArg(pos, arg)
		if err != nil {
			return Entry{}, err
		}
		switch k {
		case "rate":
			if rate, err = strconv.ParseFloat(v, 64); err != nil || rate <= 0 {
				return Entry{}, errors.JobError(pos, fmt.Sprintf("invalid rate %q", v))
			}
		case "add":
			if add, err = strconv.ParseInt(v, 10, 32); err != nil {
				return Entry{}, errors.JobError(pos, fmt.Sprintf("invalid add %q", v))
			}
		default:
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return Entry{}, errors.JobError(pos, fmt.Sprintf("axis %s: invalid step count %q", k, v))
			}
			steps[k] = n
		}
	}
	return p.b.move(pos, steps, rate, add)
}

func (p *Parser) parseHeat(pos int, args []string) (Entry, error) {
	temps := make(map[string]float64, len(args))
	for _, arg := range args {
		k, v, err := splitArg(pos, arg)
		if err != nil {
			return Entry{}, err
		}
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Entry{}, errors.JobError(pos, fmt.Sprintf("heater %s: invalid target %q", k, v))
		}
		temps[k] = t
	}
	return p.b.heat(pos, temps)
}

// Parse reads a whole text job, stopping at the first bad line.
func (p *Parser) Parse(r io.Reader, name string) (*Job, error) {
	job := &Job{Name: name}
	sc := bufio.NewScanner(r)
	pos := 0
	for sc.Scan() {
		pos++
		e, ok, err := p.ParseLine(pos, sc.Text())
		if err != nil {
			return nil, err
		}
		if ok {
			job.Entries = append(job.Entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrJob, "unable to read job")
	}
	return job, nil
}

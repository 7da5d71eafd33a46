package job

import (
	"io"
	"os"

	"github.com/goccy/go-yaml"

	"klipper-go-movequeue/pkg/dda"
	"klipper-go-movequeue/pkg/errors"
)

// fileJob is the YAML layout:
//
//	name: demo
//	rate: 2000
//	steps:
//	  - heat: {extruder: 210}
//	  - wait: true
//	  - move: {x: 400, y: -200}
//	    rate: 4000
type fileJob struct {
	Name  string     `yaml:"name"`
	Rate  float64    `yaml:"rate"`
	Steps []fileStep `yaml:"steps"`
}

type fileStep struct {
	Move map[string]int64   `yaml:"move"`
	Rate float64            `yaml:"rate"`
	Add  int64              `yaml:"add"`
	Wait bool               `yaml:"wait"`
	Heat map[string]float64 `yaml:"heat"`
}

// Load reads a YAML job file.
func Load(path string, axes dda.Config) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrJob, "unable to open job file")
	}
	defer f.Close()
	job, err := Decode(f, axes)
	if err != nil {
		return nil, err
	}
	if job.Name == "" {
		job.Name = path
	}
	return job, nil
}

// Decode parses a YAML job. Unknown keys are rejected.
func Decode(r io.Reader, axes dda.Config) (*Job, error) {
	var fj fileJob
	dec := yaml.NewDecoder(r, yaml.Strict())
	if err := dec.Decode(&fj); err != nil {
		return nil, errors.Wrap(err, errors.ErrJob, "unable to parse job file")
	}
	if fj.Rate < 0 {
		return nil, errors.New(errors.ErrJob, "rate must be positive")
	}
	b := builder{axes: axes, rate: axes.DefaultRate}
	if fj.Rate > 0 {
		b.rate = fj.Rate
	}

	job := &Job{Name: fj.Name, Entries: make([]Entry, 0, len(fj.Steps))}
	for i, st := range fj.Steps {
		pos := i + 1
		set := 0
		if st.Move != nil {
			set++
		}
		if st.Wait {
			set++
		}
		if st.Heat != nil {
			set++
		}
		if set != 1 {
			return nil, errors.JobError(pos, "step needs exactly one of move, wait, heat")
		}

		var (
			e   Entry
			err error
		)
		switch {
		case st.Move != nil:
			e, err = b.move(pos, st.Move, st.Rate, st.Add)
		case st.Wait:
			e = Entry{Kind: KindWait, Pos: pos}
		default:
			e, err = b.heat(pos, st.Heat)
		}
		if err != nil {
			return nil, err
		}
		job.Entries = append(job.Entries, e)
	}
	return job, nil
}

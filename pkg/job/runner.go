package job

import (
	"context"
	"fmt"
	"io"

	"klipper-go-movequeue/pkg/dda"
	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/movequeue"
)

// Queue is the producer side of the move queue.
type Queue interface {
	EnqueueContext(ctx context.Context, item movequeue.Item[dda.Target]) error
}

// Heaters applies heat entries.
type Heaters interface {
	SetTarget(name string, celsius float64) error
}

// Runner feeds entries to the queue from the producer goroutine.
type Runner struct {
	q       Queue
	heaters Heaters
	log     *log.Logger
	applied int
}

// NewRunner creates a runner. heaters may be nil when no job uses heat.
func NewRunner(q Queue, heaters Heaters) *Runner {
	return &Runner{q: q, heaters: heaters, log: log.GetLogger("job")}
}

// Applied returns the number of entries applied so far.
func (r *Runner) Applied() int { return r.applied }

// Apply enqueues a move or wait, or sets heater targets. It blocks while the
// queue is full.
func (r *Runner) Apply(ctx context.Context, e Entry) error {
	if item, ok := e.Item(); ok {
		if err := r.q.EnqueueContext(ctx, item); err != nil {
			return err
		}
		r.applied++
		return nil
	}
	if r.heaters == nil {
		return errors.JobError(e.Pos, "no heaters configured")
	}
	for _, name := range e.HeaterNames() {
		if err := r.heaters.SetTarget(name, e.Heat[name]); err != nil {
			return errors.Wrap(err, errors.ErrJob, "heat").SetLine(e.Pos)
		}
		r.log.WithFields(log.Fields{"heater": name, "target": e.Heat[name]}).Info("heater target set")
	}
	r.applied++
	return nil
}

// Run applies every entry of job in order.
func (r *Runner) Run(ctx context.Context, job *Job) error {
	r.log.WithFields(log.Fields{"job": job.Name, "entries": len(job.Entries)}).Info("job started")
	for _, e := range job.Entries {
		if err := r.Apply(ctx, e); err != nil {
			return err
		}
	}
	r.log.WithField("job", job.Name).Info("job queued")
	return nil
}

// Serve applies line commands until lines is closed or ctx is done. Each
// accepted line is answered with "ok", a rejected one with "error: ...".
// Cancellation or a failed reply write ends Serve early.
func (r *Runner) Serve(ctx context.Context, p *Parser, lines <-chan string, reply io.Writer) error {
	pos := 0
	for {
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}
		pos++
		e, ok, err := p.ParseLine(pos, line)
		if err == nil && ok {
			err = r.Apply(ctx, e)
			if errors.Is(err, errors.ErrQueueCancelled) {
				return err
			}
		}
		if !ok && err == nil {
			continue
		}
		var werr error
		if err != nil {
			r.log.WithError(err).Warn("command rejected")
			_, werr = fmt.Fprintf(reply, "error: %v\n", err)
		} else {
			_, werr = io.WriteString(reply, "ok\n")
		}
		if werr != nil {
			return errors.Wrap(werr, errors.ErrSerial, "unable to send reply")
		}
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"klipper-go-movequeue/pkg/config"
	"klipper-go-movequeue/pkg/dda"
	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/heater"
	"klipper-go-movequeue/pkg/job"
	"klipper-go-movequeue/pkg/journal"
	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/metrics"
	"klipper-go-movequeue/pkg/monitor"
	"klipper-go-movequeue/pkg/movequeue"
	"klipper-go-movequeue/pkg/reactor"
	"klipper-go-movequeue/pkg/safety"
	"klipper-go-movequeue/pkg/serial"
	"klipper-go-movequeue/pkg/steptimer"
)

type runOptions struct {
	configPath string
	jobPath    string
	virtual    bool
	scale      float64
	trace      bool
	metrics    bool
	monitor    bool
	journal    string
	serial     bool
	refresh    time.Duration
	out        io.Writer
}

type queue = movequeue.Queue[dda.Motion, dda.Target]

// session owns every component of one run.
type session struct {
	opts runOptions
	log  *log.Logger

	cfg     *config.Config
	qcfg    movequeue.Config
	dcfg    dda.Config
	heaters *heater.Set
	plants  []*heater.Plant
	pcfg    heater.PlantConfig
	clock   func() time.Time

	safety    *safety.Manager
	verifiers []*safety.Verifier

	counter *dda.Counter
	trace   *dda.Trace
	mover   *dda.Mover
	queue   *queue
	job     *job.Job

	manual  *steptimer.Manual
	vclock  atomic.Uint64 // virtual cycles, read by the heater clock
	plantAt uint64

	reactor *reactor.Reactor
	timer   *steptimer.Timer

	qm         *metrics.QueueMetrics
	metricsSrv *metrics.Server
	monitorSrv *monitor.Server
	journal    *journal.Journal
	port       *serial.Port
	link       *serial.Link

	closers []func() error
}

type steppers []dda.Stepper

func (ss steppers) SetDirection(axis int, forward bool) {
	for _, s := range ss {
		s.SetDirection(axis, forward)
	}
}

func (ss steppers) Step(axis int) {
	for _, s := range ss {
		s.Step(axis)
	}
}

// loadJob picks the YAML decoder for .yaml/.yml and the line parser otherwise.
func loadJob(path string, axes dda.Config) (*job.Job, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return job.Load(path, axes)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrJob, "unable to open job file")
	}
	defer f.Close()
	return job.NewParser(axes).Parse(f, path)
}

func newSession(opts runOptions) (*session, error) {
	if opts.out == nil {
		opts.out = os.Stdout
	}
	if opts.refresh <= 0 {
		opts.refresh = 500 * time.Millisecond
	}
	s := &session{opts: opts, log: log.GetLogger("session"), pcfg: heater.DefaultPlantConfig()}
	if err := s.build(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) build() (err error) {
	opts := s.opts

	if s.cfg, err = config.Load(opts.configPath); err != nil {
		return err
	}
	if s.qcfg, err = movequeue.LoadConfig(s.cfg); err != nil {
		return err
	}
	if s.dcfg, err = dda.LoadConfig(s.cfg, s.qcfg.ClockHz); err != nil {
		return err
	}

	s.clock = time.Now
	if opts.virtual {
		s.manual = steptimer.NewManual()
		epoch := time.Now()
		s.clock = func() time.Time { return epoch.Add(s.cyclesToDuration(s.vclock.Load())) }
	}
	hs, err := heater.LoadHeaters(s.cfg, s.clock)
	if err != nil {
		return err
	}
	s.heaters = heater.NewSet(hs...)
	s.safety = safety.New(s.clock)
	s.safety.Register("heaters", safety.DisablerFunc(s.heaters.Off))
	for _, h := range hs {
		s.plants = append(s.plants, heater.NewPlant(s.pcfg, h))
		vcfg, err := safety.LoadVerifyConfig(s.cfg, h.Name())
		if err != nil {
			return err
		}
		s.verifiers = append(s.verifiers, safety.NewVerifier(vcfg, h, s.safety))
	}

	if opts.jobPath != "" {
		if s.job, err = loadJob(opts.jobPath, s.dcfg); err != nil {
			return err
		}
		if err = s.job.CheckHeaters(s.heaters.Names()); err != nil {
			return err
		}
	} else if !opts.serial {
		return errors.New(errors.ErrJob, "a job file or --serial is required")
	}

	var qopts []movequeue.Option
	var observers []movequeue.Observer
	notify := opts.out

	if err = s.setupSerial(&qopts, &notify); err != nil {
		return err
	}
	qopts = append(qopts, movequeue.WithNotifier(notify))

	s.qm = metrics.NewQueueMetrics()
	observers = append(observers, s.qm)
	if err = s.setupServers(&observers); err != nil {
		return err
	}
	if err = s.setupJournal(&observers); err != nil {
		return err
	}
	qopts = append(qopts, movequeue.WithObserver(observers...))

	for _, w := range s.cfg.Warnings() {
		s.log.Warn("%s", w)
	}

	s.counter = &dda.Counter{}
	backend := steppers{s.counter}
	if opts.trace {
		s.trace = dda.NewTrace(opts.out, s.dcfg.AxisNames)
		backend = append(backend, s.trace)
	}
	if s.mover, err = dda.New(s.dcfg, backend); err != nil {
		return err
	}

	var timer movequeue.Timer
	if s.manual != nil {
		timer = s.manual
	} else {
		s.reactor = reactor.New()
		s.timer = steptimer.New(s.reactor, s.qcfg.ClockHz, opts.scale)
		timer = s.timer
	}
	if s.queue, err = movequeue.New[dda.Motion, dda.Target](s.qcfg, s.mover, s.heaters, timer, qopts...); err != nil {
		return err
	}
	if s.manual != nil {
		s.manual.SetHandler(s.queue.Step)
	} else {
		s.timer.SetHandler(s.queue.Step)
	}
	return s.startServers()
}

func (s *session) setupSerial(qopts *[]movequeue.Option, notify *io.Writer) error {
	scfg, ok, err := serial.LoadConfig(s.cfg)
	if err != nil {
		return err
	}
	if !s.opts.serial {
		return nil
	}
	if !ok {
		return errors.ConfigSectionError(serial.SectionName)
	}
	if s.port, err = serial.Open(scfg); err != nil {
		return err
	}
	s.closers = append(s.closers, s.port.Close)
	s.link = serial.NewLink(s.port, scfg.FlowControl)
	*qopts = append(*qopts, movequeue.WithFlowControl(s.link))
	*notify = s.link
	return nil
}

func (s *session) setupServers(observers *[]movequeue.Observer) error {
	mcfg, ok, err := metrics.LoadServerConfig(s.cfg)
	if err != nil {
		return err
	}
	if ok || s.opts.metrics {
		s.metricsSrv = metrics.NewServer(s.qm, mcfg)
	}

	moncfg, ok, err := monitor.LoadConfig(s.cfg)
	if err != nil {
		return err
	}
	if ok || s.opts.monitor {
		s.monitorSrv = monitor.New(moncfg, s.snapshot)
		s.monitorSrv.SetEmergencyStop(s.safety.EmergencyStop)
		s.closers = append(s.closers, func() error { return shutdown(s.monitorSrv.Shutdown) })
		*observers = append(*observers, s.monitorSrv)
	}
	return nil
}

// startServers binds the HTTP listeners once the queue exists, so no request
// can observe a half-built session.
func (s *session) startServers() error {
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Start(); err != nil {
			return errors.Wrap(err, errors.ErrRuntimeInit, "metrics server")
		}
		s.closers = append(s.closers, func() error { return shutdown(s.metricsSrv.Shutdown) })
	}
	if s.monitorSrv != nil {
		if err := s.monitorSrv.Start(); err != nil {
			return errors.Wrap(err, errors.ErrRuntimeInit, "monitor server")
		}
	}
	return nil
}

func (s *session) setupJournal(observers *[]movequeue.Observer) error {
	jcfg, ok, err := journal.LoadConfig(s.cfg)
	if err != nil {
		return err
	}
	if s.opts.journal != "" {
		jcfg.Path = s.opts.journal
		ok = true
	}
	if !ok {
		return nil
	}
	note := "serial"
	if s.job != nil {
		note = s.job.Name
	}
	if s.journal, err = journal.Open(jcfg, note); err != nil {
		return err
	}
	s.closers = append(s.closers, s.journal.Close)
	*observers = append(*observers, s.journal)
	s.log.WithFields(log.Fields{"path": jcfg.Path, "run": s.journal.Run()}).Info("journal recording")
	return nil
}

// verifyInterval is the heater verification period in seconds.
const verifyInterval = 1.0

func shutdown(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return fn(ctx)
}

func (s *session) cyclesToDuration(cycles uint64) time.Duration {
	return time.Duration(float64(cycles) / float64(s.qcfg.ClockHz) * float64(time.Second))
}

// snapshot is the monitor source. Every read is lock-free or briefly locked.
func (s *session) snapshot() monitor.Snapshot {
	snap := monitor.Snapshot{
		Heaters:  s.heaters.Status(),
		Safety:   s.safety.Status(),
		Position: make(map[string]int64, len(s.dcfg.AxisNames)),
	}
	if s.queue != nil {
		snap.Queue = s.queue.Status()
	}
	if s.mover != nil {
		pos := s.mover.Position()
		for i, name := range s.dcfg.AxisNames {
			snap.Position[name] = pos[i]
		}
	}
	return snap
}

func (s *session) refreshMetrics() {
	snap := s.snapshot()
	s.qm.SetQueueStatus(snap.Queue)
	for _, st := range snap.Heaters {
		s.qm.SetHeaterStatus(st)
	}
	for axis, steps := range snap.Position {
		s.qm.SetPosition(axis, steps)
	}
}

// verify samples every heater verifier once.
func (s *session) verify(dt float64) {
	now := s.clock()
	for _, v := range s.verifiers {
		if v.Check(now, dt) {
			return
		}
	}
}

// plantFault shuts the run down on a simulated sensor fault.
func (s *session) plantFault(name string) func(error) {
	return func(err error) { s.safety.SensorFault(name, err) }
}

// produce is the producer goroutine: the job, or serial commands.
func (s *session) produce(ctx context.Context) error {
	runner := job.NewRunner(s.queue, s.heaters)
	if s.job != nil {
		return runner.Run(ctx, s.job)
	}
	lines, errs := s.link.Lines(ctx)
	go func() {
		for err := range errs {
			s.log.WithError(err).Error("serial read failed")
		}
	}()
	if _, err := io.WriteString(s.link, "start\n"); err != nil {
		return errors.Wrap(err, errors.ErrSerial, "unable to send start")
	}
	return runner.Serve(ctx, job.NewParser(s.dcfg), lines, s.link)
}

// run executes until the producer is done and the queue has drained.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.safety.OnShutdown(func(safety.Reason, string) { cancel() })

	produced := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				produced <- errors.RecoverPanic(r)
			}
		}()
		produced <- s.produce(ctx)
	}()

	go func() {
		ticker := time.NewTicker(s.opts.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshMetrics()
			}
		}
	}()

	var err error
	if s.manual != nil {
		err = s.driveVirtual(ctx, produced)
	} else {
		err = s.driveReactor(ctx, produced)
	}
	s.refreshMetrics()
	if s.trace != nil {
		s.trace.Flush()
	}
	if serr := s.safety.CheckOperational(); serr != nil {
		return serr
	}
	return err
}

// driveVirtual fires the manual timer back to back, advancing the heater
// plants in virtual time before each firing.
func (s *session) driveVirtual(ctx context.Context, produced <-chan error) error {
	done := false
	periodCycles := uint64(s.pcfg.Period * float64(s.qcfg.ClockHz))
	verifyEvery := max(1, int(math.Round(verifyInterval/s.pcfg.Period)))
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !done {
			select {
			case err := <-produced:
				if err != nil {
					return err
				}
				done = true
			default:
			}
		}
		if s.manual.Armed() {
			next := s.manual.Next()
			for s.plantAt+periodCycles <= next {
				s.plantAt += periodCycles
				s.vclock.Store(s.plantAt)
				for _, p := range s.plants {
					if err := p.Advance(s.pcfg.Period); err != nil {
						s.plantFault(p.Name())(err)
					}
				}
				if steps++; steps%verifyEvery == 0 {
					s.verify(float64(verifyEvery) * s.pcfg.Period)
				}
				if s.safety.IsShutdown() {
					return ctx.Err()
				}
			}
			s.vclock.Store(next)
			s.manual.Fire()
			continue
		}
		if done && s.queue.IsEmpty() {
			return nil
		}
		select {
		case <-ctx.Done():
		case err := <-produced:
			if err != nil {
				return err
			}
			done = true
		case <-time.After(time.Millisecond):
		}
	}
}

// driveReactor lets the reactor fire the step timer in real time and waits
// for the queue to drain.
func (s *session) driveReactor(ctx context.Context, produced <-chan error) error {
	s.reactor.Run(ctx)
	for _, p := range s.plants {
		p.Attach(s.reactor, s.plantFault(p.Name()))
	}
	verifier := s.reactor.RegisterTimer("verify heaters", func(eventtime float64) float64 {
		s.verify(verifyInterval)
		return eventtime + verifyInterval
	}, s.reactor.Monotonic()+verifyInterval)
	defer func() {
		s.reactor.UnregisterTimer(verifier)
		for _, p := range s.plants {
			p.Detach(s.reactor)
		}
		s.reactor.End()
		s.reactor.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-produced:
		if err != nil {
			return err
		}
	}

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for !s.queue.IsEmpty() || s.timer.Armed() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
	return nil
}

// summary writes the final position and queue counters.
func (s *session) summary(w io.Writer) {
	st := s.queue.Status()
	fmt.Fprintf(w, "ticks %d, position", st.Ticks)
	pos := s.mover.Position()
	for i, name := range s.dcfg.AxisNames {
		fmt.Fprintf(w, " %s=%d", name, pos[i])
	}
	fmt.Fprintln(w)
	s.queue.Print(w)
	for _, hs := range s.heaters.Status() {
		fmt.Fprintf(w, "heater %s %.1f/%.1f\n", hs.Name, hs.Temperature, hs.Target)
	}
}

func (s *session) close() {
	if s.timer != nil {
		s.timer.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Warn("shutdown")
		}
	}
	s.closers = nil
}

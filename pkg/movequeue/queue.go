// Package movequeue implements the move-dispatch queue: a fixed-capacity ring
// of slots shared between a producer goroutine that admits motion and a timer
// callback that executes it one tick at a time.
//
// The producer owns head and the slot after it; the dispatcher owns tail and
// the slot at it. Each index is published with a single atomic store after the
// slot content is written. The only lock is the interrupt mask, which the
// dispatcher holds for a tick and the producer holds for the head store and
// the timer kick.
package movequeue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/log"
)

// Option configures optional collaborators of a Queue.
type Option func(*options)

type options struct {
	flow   FlowControl
	notify io.Writer
	obs    Observer
	logger *log.Logger
}

// WithFlowControl pauses upstream input when free slots drop to the low watermark.
func WithFlowControl(fc FlowControl) Option {
	return func(o *options) { o.flow = fc }
}

// WithNotifier sets the sink for status lines such as "condition achieved".
func WithNotifier(w io.Writer) Option {
	return func(o *options) { o.notify = w }
}

// WithObserver registers lifecycle event observers.
func WithObserver(obs ...Observer) Option {
	return func(o *options) {
		if len(obs) == 1 {
			o.obs = obs[0]
			return
		}
		o.obs = Observers(obs)
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Queue is the move-dispatch queue. M is the mover's per-slot motion state and
// T the target type handed to Enqueue.
type Queue[M, T any] struct {
	cfg    Config
	mask   uint32
	budget uint32
	slots  []Slot[M]

	head atomic.Uint32 // producer-owned
	tail atomic.Uint32 // dispatcher-owned

	// irq held means "interrupts disabled".
	irq sync.Mutex
	ih  interrupts

	mover   Mover[M, T]
	cond    Condition
	timer   Timer
	flow    FlowControl
	hasFlow bool
	notify  io.Writer
	obs     Observer
	log     *log.Logger

	seq    uint64 // producer-owned
	ticks  atomic.Uint64
	period uint32 // last programmed period, under irq
	paused atomic.Bool
}

// New builds a queue with every slot idle and both indices at zero.
// A nil cond makes wait slots complete on their first tick.
func New[M, T any](cfg Config, mover Mover[M, T], cond Condition, timer Timer, opts ...Option) (*Queue[M, T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mover == nil {
		return nil, errors.RuntimeErrorInit("movequeue", "mover is required")
	}
	if timer == nil {
		return nil, errors.RuntimeErrorInit("movequeue", "timer is required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.flow != nil && cfg.LowWatermark >= cfg.Capacity-1 {
		return nil, errors.ConfigValidationError(SectionName, "low_watermark", "must be below capacity-1")
	}
	hasFlow := o.flow != nil
	if !hasFlow {
		o.flow = nopFlowControl{}
	}
	if o.notify == nil {
		o.notify = io.Discard
	}
	if o.obs == nil {
		o.obs = nopObserver{}
	}
	if o.logger == nil {
		o.logger = log.GetLogger("movequeue")
	}
	if cond == nil {
		cond = ConditionFunc(func() bool { return true })
	}

	q := &Queue[M, T]{
		cfg:     cfg,
		mask:    uint32(cfg.Capacity - 1),
		budget:  cfg.WaitBudget(),
		slots:   make([]Slot[M], cfg.Capacity),
		mover:   mover,
		cond:    cond,
		timer:   timer,
		flow:    o.flow,
		hasFlow: hasFlow,
		notify:  o.notify,
		obs:     o.obs,
		log:     o.logger,
	}
	q.ih = interrupts{mu: &q.irq, enabled: cfg.Interruptible}
	return q, nil
}

// Config returns the construction-time configuration.
func (q *Queue[M, T]) Config() Config { return q.cfg }

// IsFull reports whether no slot is free. Advisory: the answer may be stale
// by the time the caller acts on it.
func (q *Queue[M, T]) IsFull() bool {
	return (q.tail.Load()-q.head.Load()-1)&q.mask == 0
}

// IsEmpty reports whether nothing is queued or executing. Advisory.
func (q *Queue[M, T]) IsEmpty() bool {
	tail := q.tail.Load()
	return tail == q.head.Load() && !q.slots[tail].Live()
}

// Occupancy is (head - tail) mod N.
func (q *Queue[M, T]) Occupancy() int {
	return int((q.head.Load() - q.tail.Load()) & q.mask)
}

func (q *Queue[M, T]) free() int {
	return int(q.mask) - q.Occupancy()
}

// Enqueue admits item, spinning with Config.PollInterval while the queue is
// full. It never fails.
func (q *Queue[M, T]) Enqueue(item Item[T]) {
	_ = q.EnqueueContext(context.Background(), item)
}

// EnqueueContext is Enqueue with a way out of the full-queue wait. When ctx is
// done before a slot frees, the queue is left untouched and the context error
// is returned wrapped.
//
// Only one goroutine may act as producer.
func (q *Queue[M, T]) EnqueueContext(ctx context.Context, item Item[T]) error {
	if q.IsFull() {
		start := time.Now()
		poll := time.NewTicker(q.cfg.PollInterval)
		for q.IsFull() {
			select {
			case <-ctx.Done():
				poll.Stop()
				return errors.QueueCancelledError(ctx.Err())
			case <-poll.C:
			}
		}
		poll.Stop()
		q.obs.Observe(Event{Type: EventBlocked, Waited: time.Since(start)})
	}

	h := (q.head.Load() + 1) & q.mask
	s := &q.slots[h]
	q.seq++
	s.seq = q.seq
	s.kind = item.kind
	if target, ok := item.Target(); ok {
		s.budget = 0
		q.mover.Create(s, target)
	} else {
		s.budget = q.budget
		s.Interval = q.cfg.WaitPeriod
		s.Activate()
	}

	q.irq.Lock()
	q.head.Store(h)
	if !q.timer.Armed() {
		q.period = q.cfg.KickPeriod
		q.timer.SetPeriod(q.cfg.KickPeriod)
		q.event(EventArmed, nil, h)
	}
	q.event(EventEnqueued, s, h)
	if q.hasFlow && !q.paused.Load() && q.free() <= q.cfg.LowWatermark {
		q.paused.Store(true)
		q.flow.PauseInput()
		q.event(EventPaused, nil, h)
	}
	q.irq.Unlock()
	return nil
}

// Step is the consumer dispatcher, called once per timer tick. It advances the
// executing slot by one tick, moves on to the next slot in the same tick when
// the current one is exhausted, and disarms the timer once the queue drains.
func (q *Queue[M, T]) Step() {
	q.irq.Lock()
	q.ticks.Add(1)

	tail := q.tail.Load()
	s := &q.slots[tail]
	if s.Live() {
		if s.kind == KindWait {
			q.poll(s, tail)
		} else {
			q.mover.Step(s, &q.ih)
			q.ih.restore()
			if !s.Live() {
				q.event(EventCompleted, s, tail)
			}
		}
	}

	if !s.Live() {
		q.advance()
	}

	q.program()

	if q.hasFlow && q.paused.Load() && q.free() > q.cfg.LowWatermark {
		q.paused.Store(false)
		q.flow.ResumeInput()
		q.event(EventResumed, nil, q.tail.Load())
	}
	q.irq.Unlock()
}

// poll runs one tick of a wait slot.
func (q *Queue[M, T]) poll(s *Slot[M], idx uint32) {
	q.ih.Enable()
	met := q.cond.Met()
	q.ih.restore()

	if met {
		s.Retire()
		q.notifyf("condition achieved\n")
		q.event(EventConditionMet, s, idx)
		return
	}
	s.budget--
	if s.budget == 0 {
		s.Retire()
		q.log.WithFields(log.Fields{"seq": s.seq, "slot": idx}).Warn("condition wait timed out")
		q.notifyf("condition timed out\n")
		q.event(EventConditionTimeout, s, idx)
	}
}

// advance moves tail to the next published slot and starts it, or disarms the
// timer when there is nothing left.
func (q *Queue[M, T]) advance() {
	if q.IsEmpty() {
		q.disarm()
		return
	}
	t := (q.tail.Load() + 1) & q.mask
	q.tail.Store(t)
	s := &q.slots[t]
	if s.kind == KindMove {
		q.mover.Start(s)
	}
	q.event(EventStarted, s, t)
}

// program sets the next firing period from the tail slot, or disarms.
func (q *Queue[M, T]) program() {
	if q.IsEmpty() {
		q.disarm()
		return
	}
	p := q.slots[q.tail.Load()].Interval
	if p == 0 {
		p = q.cfg.KickPeriod
	}
	armed := q.timer.Armed()
	if p != q.period || !armed {
		q.period = p
		q.timer.SetPeriod(p)
		if !armed {
			q.event(EventArmed, nil, q.tail.Load())
		}
	}
}

func (q *Queue[M, T]) disarm() {
	if !q.timer.Armed() {
		return
	}
	q.timer.Disarm()
	q.period = 0
	q.event(EventDisarmed, nil, q.tail.Load())
}

func (q *Queue[M, T]) event(t EventType, s *Slot[M], idx uint32) {
	ev := Event{
		Type:      t,
		Index:     idx,
		Head:      q.head.Load(),
		Tail:      q.tail.Load(),
		Occupancy: q.Occupancy(),
		Tick:      q.ticks.Load(),
	}
	if s != nil {
		ev.Seq = s.seq
		ev.Kind = s.kind
	}
	q.obs.Observe(ev)
}

func (q *Queue[M, T]) notifyf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(q.notify, format, args...); err != nil {
		q.log.WithError(err).Debug("notifier write failed")
	}
}

// Status is a point-in-time view of the queue for diagnostics.
type Status struct {
	Tail      uint32 `json:"tail"`
	Head      uint32 `json:"head"`
	Capacity  int    `json:"capacity"`
	Occupancy int    `json:"occupancy"`
	Full      bool   `json:"full"`
	Empty     bool   `json:"empty"`
	Armed     bool   `json:"armed"`
	Paused    bool   `json:"paused"`
	Ticks     uint64 `json:"ticks"`
}

// Status takes an unsynchronized snapshot; fields may disagree slightly while
// both contexts are running.
func (q *Queue[M, T]) Status() Status {
	return Status{
		Tail:      q.tail.Load(),
		Head:      q.head.Load(),
		Capacity:  len(q.slots),
		Occupancy: q.Occupancy(),
		Full:      q.IsFull(),
		Empty:     q.IsEmpty(),
		Armed:     q.timer.Armed(),
		Paused:    q.paused.Load(),
		Ticks:     q.ticks.Load(),
	}
}

// Print writes "Q<tail>/<head>" plus F when full and E when empty.
func (q *Queue[M, T]) Print(w io.Writer) error {
	line := fmt.Sprintf("Q%d/%d", q.tail.Load(), q.head.Load())
	if q.IsFull() {
		line += "F"
	}
	if q.IsEmpty() {
		line += "E"
	}
	_, err := io.WriteString(w, line+"\n")
	return err
}

// interrupts is the handle passed to Mover.Step. Enable drops the mask for
// the rest of the external work; restore takes it back before bookkeeping.
type interrupts struct {
	mu       *sync.Mutex
	enabled  bool
	released bool
}

func (i *interrupts) Enable() {
	if i.enabled && !i.released {
		i.released = true
		i.mu.Unlock()
	}
}

func (i *interrupts) restore() {
	if i.released {
		i.mu.Lock()
		i.released = false
	}
}

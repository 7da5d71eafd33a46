package movequeue

import "time"

// Mover is the move-generation collaborator. The queue calls Create from the
// producer and Start/Step from the dispatcher.
type Mover[M, T any] interface {
	// Create fully initializes a motion slot for target and activates it.
	Create(s *Slot[M], target T)

	// Start arms the slot for execution. Called once, when the slot becomes tail.
	Start(s *Slot[M])

	// Step performs one tick of physical execution and retires the slot when
	// the motion is exhausted. Implementations may call irq.Enable once the
	// pulses of this tick are out and only timing work remains.
	Step(s *Slot[M], irq Interrupts)
}

// Condition is polled by wait slots, e.g. "all heaters reached target".
type Condition interface {
	Met() bool
}

// ConditionFunc adapts a plain function to Condition.
type ConditionFunc func() bool

// Met calls f.
func (f ConditionFunc) Met() bool { return f() }

// Timer is the periodic timer driving Step. Periods are in timer clock cycles.
type Timer interface {
	// SetPeriod programs the next firing period, arming the timer if needed.
	SetPeriod(ticks uint32)
	// Disarm stops the timer from firing until the next SetPeriod.
	Disarm()
	// Armed reports whether the timer will fire again.
	Armed() bool
}

// FlowControl throttles an upstream producer when the queue runs low on free
// slots, e.g. XOFF/XON on a serial line.
type FlowControl interface {
	PauseInput()
	ResumeInput()
}

// Interrupts is handed to Mover.Step. Enable re-opens the interrupt mask for
// the rest of the tick when the queue is configured as interruptible.
type Interrupts interface {
	Enable()
}

// EventType identifies a queue lifecycle event.
type EventType uint8

const (
	EventEnqueued EventType = iota
	EventBlocked
	EventStarted
	EventCompleted
	EventConditionMet
	EventConditionTimeout
	EventArmed
	EventDisarmed
	EventPaused
	EventResumed
)

var eventNames = [...]string{
	EventEnqueued:         "enqueued",
	EventBlocked:          "blocked",
	EventStarted:          "started",
	EventCompleted:        "completed",
	EventConditionMet:     "condition_met",
	EventConditionTimeout: "condition_timeout",
	EventArmed:            "armed",
	EventDisarmed:         "disarmed",
	EventPaused:           "paused",
	EventResumed:          "resumed",
}

func (e EventType) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// Event describes one lifecycle transition. Slot-less events (armed,
// disarmed, paused, resumed) carry Seq 0.
type Event struct {
	Type      EventType
	Seq       uint64
	Kind      Kind
	Index     uint32
	Head      uint32
	Tail      uint32
	Occupancy int
	Tick      uint64
	Waited    time.Duration // EventBlocked only
}

// Observer receives lifecycle events. Observe is called from both contexts,
// including the dispatcher, and must not block.
type Observer interface {
	Observe(ev Event)
}

// Observers fans an event out to several observers.
type Observers []Observer

// Observe forwards ev to every observer in order.
func (os Observers) Observe(ev Event) {
	for _, o := range os {
		o.Observe(ev)
	}
}

type nopFlowControl struct{}

func (nopFlowControl) PauseInput()  {}
func (nopFlowControl) ResumeInput() {}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

package movequeue

import "sync/atomic"

// Kind discriminates what a slot holds.
type Kind uint8

const (
	// KindMove is an ordinary motion slot driven by the Mover.
	KindMove Kind = iota
	// KindWait pauses execution until the Condition is met or the tick budget runs out.
	KindWait
)

func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Slot is one buffered unit of work. Storage is reused in place: a slot is
// populated by the producer, ticked by the dispatcher and retired once exhausted.
//
// Only the producer touches a slot before its index is published; only the
// dispatcher touches it afterwards.
type Slot[M any] struct {
	live   atomic.Bool
	kind   Kind
	budget uint32
	seq    uint64

	// Interval is the number of timer clock cycles until the next tick of this
	// slot. The Mover keeps it current; wait slots use Config.WaitPeriod.
	Interval uint32

	// Move holds the motion parameters. The queue never interprets them.
	Move M
}

// Live reports whether the slot still requires ticks.
func (s *Slot[M]) Live() bool { return s.live.Load() }

// Activate marks a freshly created slot as live. Called by Mover.Create.
func (s *Slot[M]) Activate() { s.live.Store(true) }

// Retire clears the live flag. The dispatcher advances past the slot in the
// same tick.
func (s *Slot[M]) Retire() { s.live.Store(false) }

// Kind returns the slot discriminator.
func (s *Slot[M]) Kind() Kind { return s.kind }

// Budget returns the remaining ticks of a wait slot.
func (s *Slot[M]) Budget() uint32 { return s.budget }

// Seq is the 1-based enqueue sequence number of the work item held by the slot.
func (s *Slot[M]) Seq() uint64 { return s.seq }

// Item is what the producer hands to Enqueue: either a motion target or a
// wait-for-condition marker.
type Item[T any] struct {
	kind   Kind
	target T
}

// Move wraps a motion target.
func Move[T any](target T) Item[T] {
	return Item[T]{kind: KindMove, target: target}
}

// WaitForCondition returns a marker that holds execution until the queue's
// Condition is met.
func WaitForCondition[T any]() Item[T] {
	return Item[T]{kind: KindWait}
}

// Kind returns the item discriminator.
func (it Item[T]) Kind() Kind { return it.kind }

// Target returns the motion target and whether the item is a move.
func (it Item[T]) Target() (T, bool) {
	return it.target, it.kind == KindMove
}

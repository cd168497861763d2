package engine

import "github.com/fillien/schedsim/pkg/simtime"

// Priority is a fixed dispatch-order tiebreaker for events sharing a time.
// Numerically lower priorities fire first (spec.md §3).
type Priority int

// Fixed priorities, in firing order.
const (
	PriorityJobCompletion Priority = iota
	PriorityDeadlineMiss
	PriorityProcessorAvailable
	PriorityJobArrival
	PriorityTimerDefault
)

// Kind tags the closed set of event variants the engine dispatches. Any new
// variant must be added here and handled everywhere this is switched over
// (DESIGN Notes: "Tagged-union events").
type Kind int

// Event kinds.
const (
	KindJobArrival Kind = iota
	KindJobCompletion
	KindDeadlineMiss
	KindProcessorAvailable
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindJobArrival:
		return "JobArrival"
	case KindJobCompletion:
		return "JobCompletion"
	case KindDeadlineMiss:
		return "DeadlineMiss"
	case KindProcessorAvailable:
		return "ProcessorAvailable"
	case KindTimer:
		return "Timer"
	default:
		return "Unknown"
	}
}

// Key orders events lexicographically on (Time, Priority, Sequence).
type Key struct {
	Time     simtime.TimePoint
	Priority Priority
	Sequence uint64
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if k.Time != other.Time {
		return k.Time < other.Time
	}
	if k.Priority != other.Priority {
		return k.Priority < other.Priority
	}
	return k.Sequence < other.Sequence
}

// Event is a single scheduled occurrence: a key and the callback to invoke
// at dispatch time.
type Event struct {
	Key      Key
	Kind     Kind
	Callback func(now simtime.TimePoint)
}

// TimerID is an opaque, invalidatable handle to a scheduled Event. Its zero
// value and any cancelled/fired handle compare as invalid via Valid().
type TimerID struct {
	entry *queueEntry
}

// Valid reports whether the receiver still refers to a pending, uncancelled
// event.
func (id TimerID) Valid() bool {
	return id.entry != nil && !id.entry.removed
}

// DeferredID is an opaque handle to a registered deferred callback.
type DeferredID int

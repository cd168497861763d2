// Package engine implements the deterministic discrete-event core (spec.md
// C2): a strictly ordered min-heap event queue, cancellable timers,
// per-timestep deferred-callback batches, and a pluggable trace sink. The
// Engine is the sole owner of the queue, the deferred table, and the trace
// writer (spec.md §3 Ownership). Other components hold an *Engine
// directly; engine imports no platform or sched package, so no import
// cycle arises (see DESIGN.md's C4 entry).
package engine

import (
	log "github.com/golang/glog"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/simtime"
)

type deferredEntry struct {
	callback      func()
	pending       bool
	firedThisStep bool
}

// Engine drives simulated time forward by repeatedly popping and
// dispatching the minimum-key pending event, per spec.md §5's single-
// threaded cooperative model.
type Engine struct {
	queue       priorityQueue
	deferred    []*deferredEntry
	finalized   bool
	currentTime simtime.TimePoint
	seq         uint64
	stopRequested bool
	dispatching bool
	traceWriter Writer

	arrivalHandlerSet bool
}

// New returns an empty Engine at time zero.
func New() *Engine {
	return &Engine{}
}

// Now returns the engine's current simulated time.
func (e *Engine) Now() simtime.TimePoint {
	return e.currentTime
}

func (e *Engine) nextSeq() uint64 {
	e.seq++
	return e.seq
}

// Schedule inserts an event of the given kind at time with priority,
// invoking callback at dispatch. time must not be strictly before Now().
func (e *Engine) Schedule(time simtime.TimePoint, priority Priority, kind Kind, callback func(now simtime.TimePoint)) (TimerID, error) {
	if time < e.currentTime {
		return TimerID{}, simerrors.InvalidState("schedule: time %v is before now %v", time, e.currentTime)
	}
	ev := Event{
		Key:      Key{Time: time, Priority: priority, Sequence: e.nextSeq()},
		Kind:     kind,
		Callback: callback,
	}
	entry := e.queue.push(ev)
	return TimerID{entry: entry}, nil
}

// AddTimer schedules a Timer-kind event, the common case for hardware/policy
// callbacks. time == Now() is permitted (needed for deadline alarms
// coincident with a completion).
func (e *Engine) AddTimer(time simtime.TimePoint, priority Priority, callback func(now simtime.TimePoint)) (TimerID, error) {
	return e.Schedule(time, priority, KindTimer, callback)
}

// Cancel removes the event referenced by *id, if still present, and
// invalidates *id. A no-op on an already-fired or already-cancelled handle.
// Safe to call from within a callback firing at the same timestep.
func (e *Engine) Cancel(id *TimerID) {
	if id == nil || id.entry == nil {
		return
	}
	e.queue.remove(id.entry)
	*id = TimerID{}
}

// RegisterDeferred appends a new deferred callback slot, returning a stable
// handle for RequestDeferred. Rejected once the engine is finalized (no new
// deferred slots may appear after a run has begun consuming them across
// components that assume a fixed table).
func (e *Engine) RegisterDeferred(callback func()) (DeferredID, error) {
	if e.finalized {
		return 0, simerrors.AlreadyFinalized("engine deferred table")
	}
	e.deferred = append(e.deferred, &deferredEntry{callback: callback})
	return DeferredID(len(e.deferred) - 1), nil
}

// Finalize freezes the deferred-callback table. Calling it is optional but
// idiomatic once wiring is complete; Run* does not require it.
func (e *Engine) Finalize() {
	e.finalized = true
}

// RequestDeferred marks id to fire once at the next timestep boundary.
// Duplicate requests within the same timestep coalesce.
func (e *Engine) RequestDeferred(id DeferredID) {
	if int(id) < 0 || int(id) >= len(e.deferred) {
		return
	}
	e.deferred[id].pending = true
}

// SetJobArrivalHandler claims the engine's single job-arrival handler slot.
// A single allocator (spec.md §4.11) owns job arrivals for the lifetime of
// a run; a second claim is rejected so two allocators can never both
// schedule against the same task. The typed dispatch itself lives in the
// caller (pkg/sched's allocators) to keep Engine free of a dependency on
// platform/sched types; this method only enforces the single-claim
// invariant (spec.md §8 property 11).
func (e *Engine) SetJobArrivalHandler() error {
	if e.arrivalHandlerSet {
		return simerrors.HandlerAlreadySet("engine: job arrival handler already set")
	}
	e.arrivalHandlerSet = true
	return nil
}

// RequestStop arranges for the current Run*/RunWhile loop to halt at the
// next timestep boundary, after any events already dispatching at this
// timestep complete. Auto-resets before the next Run* call.
func (e *Engine) RequestStop() {
	e.stopRequested = true
}

// runDeferred fires every requested-and-not-yet-fired-this-timestep
// deferred callback, in registration order, resetting firedThisStep for the
// new timestep first. A callback requested while this pass runs fires in
// the same pass if it is registered after the one being run and has not
// fired yet; otherwise it stays pending for the next timestep's batch.
func (e *Engine) runDeferred() {
	for _, d := range e.deferred {
		d.firedThisStep = false
	}
	for _, d := range e.deferred {
		if d.pending && !d.firedThisStep {
			d.pending = false
			d.firedThisStep = true
			d.callback()
		}
	}
}

// dispatchTimestep pops and runs every event sharing the queue's current
// minimum time, then runs the deferred batch for that timestep.
func (e *Engine) dispatchTimestep() {
	t := e.queue.peekMin().event.Key.Time
	e.currentTime = t
	for {
		top := e.queue.peekMin()
		if top == nil || top.event.Key.Time != t {
			break
		}
		entry := e.queue.popMin()
		e.dispatching = true
		log.V(2).Infof("dispatch %v %s", entry.event.Key, entry.event.Kind)
		entry.event.Callback(t)
		e.dispatching = false
	}
	e.runDeferred()
}

// Run drains the queue until it is empty.
func (e *Engine) Run() {
	e.RunWhile(func() bool { return true })
}

// RunUntil drains the queue until it is empty or the next event's time
// would exceed horizon; the event at exactly horizon is still dispatched.
func (e *Engine) RunUntil(horizon simtime.TimePoint) {
	e.RunWhile(func() bool {
		top := e.queue.peekMin()
		return top != nil && top.event.Key.Time <= horizon
	})
}

// RunWhile drains the queue one timestep at a time for as long as pred
// returns true and the queue is non-empty. The stop flag is reset on entry
// and checked at each timestep boundary.
func (e *Engine) RunWhile(pred func() bool) {
	e.stopRequested = false
	for e.queue.Len() > 0 && pred() && !e.stopRequested {
		e.dispatchTimestep()
	}
}

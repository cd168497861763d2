// Package platform implements spec.md's C3 platform model and C4 hardware
// state machines: ProcessorType/ClockDomain/PowerDomain/Processor/Task, the
// construct-then-finalize lifecycle, the processor state machine, DVFS
// frequency transitions, and C-state power management. Platform exclusively
// owns every hardware entity and task (spec.md §3 Ownership); schedulers and
// allocators hold only ID-based, non-owning references into it.
package platform

import (
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/simtime"
)

// ProcessorType describes a family of processors sharing a performance
// factor and context-switch cost.
type ProcessorType struct {
	Name               string
	Performance        float64 // dimensionless, in (0, infinity)
	ContextSwitchDelay simtime.Duration
}

// CStateScope controls whether a CStateLevel's achieved depth is decided
// per-processor or as the minimum request across a whole power domain.
type CStateScope int

// C-state scopes.
const (
	PerProcessor CStateScope = iota
	DomainWide
)

// CStateLevel is one sleep depth a PowerDomain can place its processors
// into. Level 0 is always the active (C0) state.
type CStateLevel struct {
	Level       int
	Scope       CStateScope
	WakeLatency simtime.Duration
	Power       simtime.Power
}

// PowerPolynomial holds the cubic power-vs-frequency coefficients
// P(f) = A0 + A1*f + A2*f^2 + A3*f^3, f in GHz.
type PowerPolynomial struct {
	A0, A1, A2, A3 float64
}

// Evaluate returns P(f) in milliwatts for f in MHz.
func (p PowerPolynomial) Evaluate(f simtime.Frequency) simtime.Power {
	g := f.GHz()
	return simtime.Power(p.A0 + p.A1*g + p.A2*g*g + p.A3*g*g*g)
}

// ClockDomain groups processors that share one frequency setting and,
// optionally, a discrete set of Operating Performance Points.
type ClockDomain struct {
	ID      simtime.ClockDomainID
	CurrentFreq,
	FreqMin,
	FreqMax simtime.Frequency
	OPPs []simtime.Frequency // sorted ascending; nil means continuous (free) scaling

	HasEfficientFreq bool
	EfficientFreq    simtime.Frequency // DPM preferred below this threshold

	HasPower bool
	Power    PowerPolynomial

	TransitionDelay simtime.Duration

	Locked        bool
	Transitioning bool
	PendingFreq   simtime.Frequency

	Processors []simtime.ProcessorID

	eng             *engine.Engine
	platform        *Platform
	transitionTimer engine.TimerID
	oppCache        *lruCeilCache
}

// PowerDomain groups processors that share C-state (sleep-depth)
// management.
type PowerDomain struct {
	ID         simtime.PowerDomainID
	CStates    []CStateLevel // sorted by Level, Level 0 implicit as active
	Processors []simtime.ProcessorID

	eng      *engine.Engine
	platform *Platform
}

// ProcessorState is one of the five hardware states in spec.md §4.3.
type ProcessorState int

// Processor states.
const (
	Idle ProcessorState = iota
	ContextSwitching
	Running
	Sleep
	Changing
)

func (s ProcessorState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case ContextSwitching:
		return "ContextSwitching"
	case Running:
		return "Running"
	case Sleep:
		return "Sleep"
	case Changing:
		return "Changing"
	default:
		return "Unknown"
	}
}

// RunningJob is the minimal view of a schedulable unit of work a Processor
// needs in order to execute it: sched.Job implements this, but platform
// never imports the sched package (see DESIGN.md's C4 entry) -- the
// interface is defined here, at the consumer.
type RunningJob interface {
	// RemainingWork returns the job's remaining reference-unit work, in
	// seconds.
	RemainingWork() float64
	// ConsumeWork subtracts amount (reference-unit seconds) from the job's
	// remaining work, never going below zero.
	ConsumeWork(amount float64)
	// IsComplete reports whether remaining work is at or below
	// simtime.Tolerance.
	IsComplete() bool
	// AbsoluteDeadline returns the job's hard real-time deadline (task
	// arrival + relative deadline), enforced by the processor's deadline
	// timer independent of any CBS scheduling-deadline postponement.
	AbsoluteDeadline() simtime.TimePoint
}

// JobCompletionISR is invoked when a processor's current job completes.
type JobCompletionISR func(p *Processor)

// DeadlineMissISR is invoked when a job's absolute deadline timer fires
// before the job completed.
type DeadlineMissISR func(p *Processor)

// ProcessorAvailableISR is invoked when a processor finishes a context
// switch and becomes able to run its pending job.
type ProcessorAvailableISR func(p *Processor)

// Processor is one schedulable execution unit.
type Processor struct {
	ID            simtime.ProcessorID
	TypeID        simtime.ProcessorTypeID
	ClockDomainID simtime.ClockDomainID
	PowerDomainID simtime.PowerDomainID

	State         ProcessorState
	CurrentJob    RunningJob
	RequestedLevel int // requested C-state level, 0 = active

	CompletionTimer engine.TimerID
	DeadlineTimer   engine.TimerID
	TransitionTimer engine.TimerID

	LastUpdate  simtime.TimePoint
	PendingClear bool
	PreDVFSState ProcessorState
	pendingJob   RunningJob // job recorded while Changing, applied on DVFS end
	runningSince simtime.TimePoint // start of the current Running span, for processor_active traces

	// ISR hooks, set once by the owning scheduler.
	OnJobCompletion      JobCompletionISR
	OnDeadlineMiss       DeadlineMissISR
	OnProcessorAvailable ProcessorAvailableISR

	platform *Platform
}

// Task is a periodic real-time task.
type Task struct {
	ID               simtime.TaskID
	Period           simtime.Duration
	RelativeDeadline simtime.Duration
	WCET             simtime.Duration // reference-unit WCET
}

// WCETFor returns the task's WCET scaled for execution on a processor of
// the given type, relative to the platform's reference performance:
// WCET / (type.Performance / referencePerformance).
func (t Task) WCETFor(pt ProcessorType, referencePerformance float64) simtime.Duration {
	scale := pt.Performance / referencePerformance
	return simtime.Duration(float64(t.WCET) / scale)
}

// EnergyListener receives synchronous notifications of hardware state
// changes, as spec.md §4.6 describes. pkg/energy.Tracker implements this;
// platform never imports pkg/energy (the interface lives at the producer
// here because Platform is the sole caller and owns the listener
// reference, matching the teacher's functional-options style of small,
// locally-defined interfaces).
type EnergyListener interface {
	// OnProcessorStateChange fires whenever a processor's executing state
	// bucket (Running/Idle/Sleep, folding ContextSwitching/Changing into
	// their pre-transition bucket) changes.
	OnProcessorStateChange(now simtime.TimePoint, p *Processor, oldState, newState ProcessorState)
	// OnFrequencyChange fires once per processor in a clock domain whose
	// frequency just changed, before the scheduler is informed (spec.md §5
	// ordering guarantee 4).
	OnFrequencyChange(now simtime.TimePoint, p *Processor, oldFreq, newFreq simtime.Frequency)
	// OnCStateChange fires when a processor's achieved C-state level
	// changes.
	OnCStateChange(now simtime.TimePoint, p *Processor, oldLevel, newLevel int)
}

package platform

import (
	"sort"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/simtime"
)

// Platform owns every ProcessorType, ClockDomain, PowerDomain, Processor,
// and Task in a simulation. Construction accepts additions; once Finalize
// is called the set is frozen and reference_performance is computed
// (spec.md §4.2).
type Platform struct {
	ProcessorTypes []ProcessorType
	ClockDomains   []*ClockDomain
	PowerDomains   []*PowerDomain
	Processors     []*Processor
	Tasks          []Task

	finalized            bool
	referencePerformance float64

	eng                  *engine.Engine
	energy               EnergyListener
	contextSwitchEnabled bool
}

// New returns an empty, unfinalized Platform bound to eng for scheduling
// hardware timers. contextSwitchEnabled toggles whether processor types with
// a nonzero ContextSwitchDelay actually traverse the ContextSwitching state
// (spec.md §4.3). Call SetEnergyListener once the platform's energy tracker
// has been constructed, since the tracker itself needs a reference to this
// Platform first.
func New(eng *engine.Engine, contextSwitchEnabled bool) *Platform {
	return &Platform{eng: eng, contextSwitchEnabled: contextSwitchEnabled}
}

// SetEnergyListener installs the listener notified of every processor
// state, frequency, and C-state change from this point forward (spec.md
// §4.6). Resolves the construction-order cycle between Platform and
// pkg/energy.Tracker: build the Platform, build the Tracker from it, then
// wire it back with SetEnergyListener before adding any processors.
func (p *Platform) SetEnergyListener(e EnergyListener) { p.energy = e }

// AddProcessorType registers a new processor type and returns its ID.
func (p *Platform) AddProcessorType(name string, performance float64, contextSwitchDelay simtime.Duration) (simtime.ProcessorTypeID, error) {
	if p.finalized {
		return 0, simerrors.AlreadyFinalized("platform")
	}
	id := simtime.ProcessorTypeID(len(p.ProcessorTypes))
	p.ProcessorTypes = append(p.ProcessorTypes, ProcessorType{
		Name:               name,
		Performance:        performance,
		ContextSwitchDelay: contextSwitchDelay,
	})
	return id, nil
}

// AddClockDomain registers a new clock domain and returns its ID.
func (p *Platform) AddClockDomain(freqMin, freqMax simtime.Frequency, transitionDelay simtime.Duration) (simtime.ClockDomainID, error) {
	if p.finalized {
		return 0, simerrors.AlreadyFinalized("platform")
	}
	id := simtime.ClockDomainID(len(p.ClockDomains))
	cd := &ClockDomain{
		ID:              id,
		CurrentFreq:     freqMax,
		FreqMin:         freqMin,
		FreqMax:         freqMax,
		TransitionDelay: transitionDelay,
		eng:             p.eng,
		platform:        p,
		oppCache:        newLRUCeilCache(64),
	}
	p.ClockDomains = append(p.ClockDomains, cd)
	return id, nil
}

// SetOPPs installs a sorted set of discrete operating performance points on
// a clock domain (optional; nil/empty means continuous "free" scaling).
func (p *Platform) SetOPPs(cd simtime.ClockDomainID, opps []simtime.Frequency) error {
	if p.finalized {
		return simerrors.AlreadyFinalized("platform")
	}
	sorted := append([]simtime.Frequency(nil), opps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p.ClockDomains[cd].OPPs = sorted
	p.ClockDomains[cd].oppCache.clear()
	return nil
}

// SetEfficientFrequency installs the DPM efficient-frequency threshold.
func (p *Platform) SetEfficientFrequency(cd simtime.ClockDomainID, f simtime.Frequency) error {
	if p.finalized {
		return simerrors.AlreadyFinalized("platform")
	}
	p.ClockDomains[cd].HasEfficientFreq = true
	p.ClockDomains[cd].EfficientFreq = f
	return nil
}

// SetPowerPolynomial installs the cubic power coefficients for a clock
// domain.
func (p *Platform) SetPowerPolynomial(cd simtime.ClockDomainID, poly PowerPolynomial) error {
	if p.finalized {
		return simerrors.AlreadyFinalized("platform")
	}
	p.ClockDomains[cd].HasPower = true
	p.ClockDomains[cd].Power = poly
	return nil
}

// AddPowerDomain registers a new power domain and returns its ID.
func (p *Platform) AddPowerDomain(cstates []CStateLevel) (simtime.PowerDomainID, error) {
	if p.finalized {
		return 0, simerrors.AlreadyFinalized("platform")
	}
	sorted := append([]CStateLevel(nil), cstates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })
	id := simtime.PowerDomainID(len(p.PowerDomains))
	p.PowerDomains = append(p.PowerDomains, &PowerDomain{
		ID:       id,
		CStates:  sorted,
		eng:      p.eng,
		platform: p,
	})
	return id, nil
}

// AddProcessor registers a new processor of the given type, bound to a
// clock domain and power domain, and returns its ID.
func (p *Platform) AddProcessor(typeID simtime.ProcessorTypeID, cd simtime.ClockDomainID, pd simtime.PowerDomainID) (simtime.ProcessorID, error) {
	if p.finalized {
		return 0, simerrors.AlreadyFinalized("platform")
	}
	id := simtime.ProcessorID(len(p.Processors))
	proc := &Processor{
		ID:            id,
		TypeID:        typeID,
		ClockDomainID: cd,
		PowerDomainID: pd,
		State:         Idle,
		platform:      p,
	}
	p.Processors = append(p.Processors, proc)
	p.ClockDomains[cd].Processors = append(p.ClockDomains[cd].Processors, id)
	p.PowerDomains[pd].Processors = append(p.PowerDomains[pd].Processors, id)
	return id, nil
}

// AddTask registers a new periodic task and returns its ID.
func (p *Platform) AddTask(period, relativeDeadline, wcet simtime.Duration) (simtime.TaskID, error) {
	if p.finalized {
		return 0, simerrors.AlreadyFinalized("platform")
	}
	id := simtime.TaskID(len(p.Tasks))
	p.Tasks = append(p.Tasks, Task{ID: id, Period: period, RelativeDeadline: relativeDeadline, WCET: wcet})
	return id, nil
}

// Finalize freezes the platform's collections. Idempotent: a second call
// is a no-op rather than an error, since it performs no mutation of its
// own. It computes reference_performance as the maximum performance factor
// across all registered processor types (defaulting to 1.0 if none were
// registered) and stores it on every processor for speed computation.
func (p *Platform) Finalize() {
	if p.finalized {
		return
	}
	if len(p.ProcessorTypes) == 0 {
		p.referencePerformance = 1.0
	} else {
		max := p.ProcessorTypes[0].Performance
		for _, pt := range p.ProcessorTypes[1:] {
			if pt.Performance > max {
				max = pt.Performance
			}
		}
		p.referencePerformance = max
	}
	p.finalized = true
}

// ReferencePerformance returns the maximum processor-type performance
// factor computed at Finalize.
func (p *Platform) ReferencePerformance() float64 { return p.referencePerformance }

// ProcessorType looks up a processor's type.
func (p *Platform) ProcessorType(id simtime.ProcessorTypeID) ProcessorType { return p.ProcessorTypes[id] }

// ClockDomain looks up a clock domain by ID.
func (p *Platform) ClockDomain(id simtime.ClockDomainID) *ClockDomain { return p.ClockDomains[id] }

// PowerDomain looks up a power domain by ID.
func (p *Platform) PowerDomain(id simtime.PowerDomainID) *PowerDomain { return p.PowerDomains[id] }

// Processor looks up a processor by ID.
func (p *Platform) Processor(id simtime.ProcessorID) *Processor { return p.Processors[id] }

// Task looks up a task by ID.
func (p *Platform) Task(id simtime.TaskID) Task { return p.Tasks[id] }

// Speed returns the processor's current execution speed, a dimensionless
// multiplier of reference-unit seconds of work per second: (current_freq /
// freq_max) * (type.performance / reference_performance).
func (p *Platform) Speed(proc *Processor) float64 {
	cd := p.ClockDomains[proc.ClockDomainID]
	pt := p.ProcessorTypes[proc.TypeID]
	return (float64(cd.CurrentFreq) / float64(cd.FreqMax)) * (pt.Performance / p.referencePerformance)
}

// Package energy implements spec.md's C5 energy tracker: per-processor
// power integration driven by processor state, clock-domain frequency, and
// power-domain C-state notifications. Grounded on the teacher's
// analysis/sched_metrics.go stepwise-interval-integration pattern
// (metric.recordInterval accumulates a quantity across a sequence of state
// intervals and finalizes it on demand); here the accumulated quantity is
// energy rather than CPU-busy time.
package energy

import (
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

type procState struct {
	accumulated simtime.Energy
	lastUpdate  simtime.TimePoint
	lastState   platform.ProcessorState
	lastCState  int
}

// Tracker implements platform.EnergyListener, integrating power over time
// for every processor in a platform.
type Tracker struct {
	plat   *platform.Platform
	states map[simtime.ProcessorID]*procState
}

// New returns a Tracker bound to plat. Call this after platform.New and
// before adding any processors, then wire it back with
// plat.SetEnergyListener(tracker) so every subsequent state/frequency/
// C-state notification reaches it.
func New(plat *platform.Platform) *Tracker {
	return &Tracker{plat: plat, states: map[simtime.ProcessorID]*procState{}}
}

func (t *Tracker) stateFor(p *platform.Processor) *procState {
	s, ok := t.states[p.ID]
	if !ok {
		s = &procState{lastState: platform.Idle}
		t.states[p.ID] = s
	}
	return s
}

// powerOf returns the instantaneous power draw of p given its tracked
// (state, cstate) bucket and current clock domain frequency: C-state power
// from the PowerDomain while Sleep, otherwise the ClockDomain's cubic power
// polynomial evaluated at its current frequency (spec.md §4.6).
func (t *Tracker) powerOf(p *platform.Processor, state platform.ProcessorState, cstateLevel int) simtime.Power {
	if state == platform.Sleep {
		pd := t.plat.PowerDomain(p.PowerDomainID)
		return pd.PowerAt(cstateLevel)
	}
	cd := t.plat.ClockDomain(p.ClockDomainID)
	if !cd.HasPower {
		return 0
	}
	return cd.Power.Evaluate(cd.CurrentFreq)
}

func (t *Tracker) integrate(now simtime.TimePoint, p *platform.Processor) {
	s := t.stateFor(p)
	elapsed := now.Sub(s.lastUpdate)
	if elapsed > 0 {
		s.accumulated = s.accumulated.Accumulate(t.powerOf(p, s.lastState, s.lastCState), elapsed)
	}
	s.lastUpdate = now
}

// OnProcessorStateChange integrates energy at the old state before
// recording the new one.
func (t *Tracker) OnProcessorStateChange(now simtime.TimePoint, p *platform.Processor, oldState, newState platform.ProcessorState) {
	t.integrate(now, p)
	s := t.stateFor(p)
	s.lastState = newState
}

// OnFrequencyChange integrates every processor in the affected clock
// domain at its old frequency (by virtue of integrate closing the interval
// before the domain's CurrentFreq is mutated by the caller) and advances
// its accounting clock. Platform calls this before notifying the
// scheduler, so energy always closes out at the frequency active during
// the interval just ended (spec.md §5 ordering guarantee 4).
func (t *Tracker) OnFrequencyChange(now simtime.TimePoint, p *platform.Processor, oldFreq, newFreq simtime.Frequency) {
	t.integrate(now, p)
}

// OnCStateChange integrates at the processor's previous (state, cstate)
// pair and records the new level.
func (t *Tracker) OnCStateChange(now simtime.TimePoint, p *platform.Processor, oldLevel, newLevel int) {
	t.integrate(now, p)
	s := t.stateFor(p)
	s.lastCState = newLevel
}

// updateToTime rolls every tracked processor's accumulator forward to now,
// without mutating recorded state/cstate (used lazily before any query).
func (t *Tracker) updateToTime(now simtime.TimePoint) {
	for _, p := range t.plat.Processors {
		t.integrate(now, p)
	}
}

// ProcessorEnergy returns the accumulated energy of one processor as of
// now.
func (t *Tracker) ProcessorEnergy(now simtime.TimePoint, id simtime.ProcessorID) simtime.Energy {
	t.updateToTime(now)
	return t.states[id].accumulated
}

// ClockDomainEnergy sums the accumulated energy of every processor in a
// clock domain as of now.
func (t *Tracker) ClockDomainEnergy(now simtime.TimePoint, id simtime.ClockDomainID) simtime.Energy {
	t.updateToTime(now)
	var sum simtime.Energy
	for _, pid := range t.plat.ClockDomain(id).Processors {
		sum += t.states[pid].accumulated
	}
	return sum
}

// PowerDomainEnergy sums the accumulated energy of every processor in a
// power domain as of now.
func (t *Tracker) PowerDomainEnergy(now simtime.TimePoint, id simtime.PowerDomainID) simtime.Energy {
	t.updateToTime(now)
	var sum simtime.Energy
	for _, pid := range t.plat.PowerDomain(id).Processors {
		sum += t.states[pid].accumulated
	}
	return sum
}

// Total sums the accumulated energy of every processor in the platform as
// of now.
func (t *Tracker) Total(now simtime.TimePoint) simtime.Energy {
	t.updateToTime(now)
	var sum simtime.Energy
	for _, p := range t.plat.Processors {
		sum += t.states[p.ID].accumulated
	}
	return sum
}

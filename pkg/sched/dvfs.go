package sched

import (
	"math"

	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

// UtilizationSource is the read-only view into a ReclaimPolicy's
// utilization bookkeeping that a DVFSPolicy needs (spec.md §4.8's three
// utilization queries).
type UtilizationSource interface {
	ActiveUtilization() float64
	SchedulerUtilization() float64
	MaxSchedulerUtilization() float64
}

// DVFSPolicy is the shared contract for PowerAware, FFA, CSF, and their
// Timer variants (spec.md §4.10). Grounded on the teacher's
// registry-of-named-strategies pattern (DESIGN.md's C9 entry): each
// concrete policy is a small value selected by name in pkg/simulation.
type DVFSPolicy interface {
	// OnUtilizationChanged recomputes and applies (or schedules) the
	// domain's target frequency and active core count.
	OnUtilizationChanged(now simtime.TimePoint)
	// OnProcessorIdle/OnProcessorActive notify the policy of a processor
	// entering or leaving the Idle state, in case that alone should
	// trigger a re-evaluation (most policies re-derive everything from
	// utilization and treat these as no-ops).
	OnProcessorIdle(now simtime.TimePoint, p simtime.ProcessorID)
	OnProcessorActive(now simtime.TimePoint, p simtime.ProcessorID)
	// SetFrequencyChangedCallback installs cb, invoked after this policy
	// applies a frequency change, so the owning scheduler can reprice
	// completion timers.
	SetFrequencyChangedCallback(cb func(now simtime.TimePoint))
}

// dvfsBase holds the machinery shared by every concrete policy: cooldown
// gating (or, for Timer variants, cooldown-deferred scheduling), the
// sleep-excess-idle-cores + set-frequency + notify apply sequence, and the
// currently-applied (frequency, active core count) pair used to detect
// no-op changes.
type dvfsBase struct {
	eng      *engine.Engine
	plat     *platform.Platform
	domainID simtime.ClockDomainID
	util     UtilizationSource

	cstateLevel int // DPM sleep depth requested on excess idle cores
	cooldown    simtime.Duration
	timerVariant bool

	appliedFreq  simtime.Frequency
	appliedCores int
	haveApplied  bool
	lastApply    simtime.TimePoint

	pendingTimer engine.TimerID

	freqChangedCB func(now simtime.TimePoint)
}

func newDVFSBase(eng *engine.Engine, plat *platform.Platform, domainID simtime.ClockDomainID, util UtilizationSource, cstateLevel int, cooldown simtime.Duration, timerVariant bool) dvfsBase {
	return dvfsBase{
		eng: eng, plat: plat, domainID: domainID, util: util,
		cstateLevel: cstateLevel, cooldown: cooldown, timerVariant: timerVariant,
	}
}

func (b *dvfsBase) domain() *platform.ClockDomain { return b.plat.ClockDomain(b.domainID) }

func (b *dvfsBase) SetFrequencyChangedCallback(cb func(now simtime.TimePoint)) {
	b.freqChangedCB = cb
}

func (b *dvfsBase) OnProcessorIdle(now simtime.TimePoint, p simtime.ProcessorID)   {}
func (b *dvfsBase) OnProcessorActive(now simtime.TimePoint, p simtime.ProcessorID) {}

func (b *dvfsBase) inCooldown(now simtime.TimePoint) bool {
	return b.haveApplied && now.Sub(b.lastApply) < b.cooldown
}

// attemptApply is the cooldown-aware entry point every concrete policy
// calls once it has computed a (targetFreq, activeCores, doSleep) triple.
func (b *dvfsBase) attemptApply(now simtime.TimePoint, targetFreq simtime.Frequency, activeCores int, doSleep bool) {
	if b.haveApplied && targetFreq == b.appliedFreq && activeCores == b.appliedCores {
		if b.pendingTimer.Valid() {
			b.eng.Cancel(&b.pendingTimer)
		}
		return
	}
	if !b.timerVariant {
		if b.inCooldown(now) {
			return // silently dropped
		}
		b.applyNow(now, targetFreq, activeCores, doSleep)
		return
	}
	if b.pendingTimer.Valid() {
		b.eng.Cancel(&b.pendingTimer)
	}
	id, err := b.eng.AddTimer(now.Add(b.cooldown), engine.PriorityTimerDefault, func(fireNow simtime.TimePoint) {
		b.pendingTimer = engine.TimerID{}
		b.applyNow(fireNow, targetFreq, activeCores, doSleep)
	})
	if err == nil {
		b.pendingTimer = id
	}
}

// applyNow runs the apply-target sequence (spec.md §4.10): sleep excess
// idle processors in reverse index order, set the domain frequency, then
// invoke the frequency-changed callback.
func (b *dvfsBase) applyNow(now simtime.TimePoint, targetFreq simtime.Frequency, activeCores int, doSleep bool) {
	cd := b.domain()
	if doSleep {
		n := len(cd.Processors)
		if activeCores > n {
			activeCores = n
		}
		if activeCores < 0 {
			activeCores = 0
		}
		for i := n - 1; i >= activeCores; i-- {
			proc := b.plat.Processor(cd.Processors[i])
			if proc.State != platform.Idle {
				continue
			}
			if err := proc.RequestCState(now, b.cstateLevel); err == nil {
				b.eng.Trace("proc_sleep", func(r engine.Record) {
					r.Field("proc", uint64(cd.Processors[i]))
				})
			}
		}
	}
	if targetFreq != cd.CurrentFreq {
		_ = cd.SetFrequency(now, targetFreq)
	}
	b.appliedFreq = targetFreq
	b.appliedCores = activeCores
	b.haveApplied = true
	b.lastApply = now
	if b.freqChangedCB != nil {
		b.freqChangedCB(now)
	}
}

// clip clamps x to [lo, hi].
func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// PowerAwarePolicy sets frequency linearly in active utilization and never
// touches DPM (spec.md §4.10).
type PowerAwarePolicy struct{ dvfsBase }

// NewPowerAwarePolicy returns a PowerAware DVFS policy for domainID, with no
// per-domain cooldown gating if cooldown is zero.
func NewPowerAwarePolicy(eng *engine.Engine, plat *platform.Platform, domainID simtime.ClockDomainID, util UtilizationSource, cooldown simtime.Duration) *PowerAwarePolicy {
	return &PowerAwarePolicy{newDVFSBase(eng, plat, domainID, util, 0, cooldown, false)}
}

func (p *PowerAwarePolicy) OnUtilizationChanged(now simtime.TimePoint) {
	cd := p.domain()
	u := clip(p.util.ActiveUtilization(), 0, 1)
	target := cd.FreqMin + simtime.Frequency(float64(cd.FreqMax-cd.FreqMin)*u)
	if target < cd.FreqMin {
		target = cd.FreqMin
	}
	if target > cd.FreqMax {
		target = cd.FreqMax
	}
	p.attemptApply(now, target, len(cd.Processors), false)
}

// FfaPolicy is the frequency-first DVFS+DPM policy (spec.md §4.10).
type FfaPolicy struct{ dvfsBase }

// NewFfaPolicy returns an FFA policy. timerVariant selects the FfaTimer
// cooldown-scheduling behavior.
func NewFfaPolicy(eng *engine.Engine, plat *platform.Platform, domainID simtime.ClockDomainID, util UtilizationSource, cstateLevel int, cooldown simtime.Duration, timerVariant bool) *FfaPolicy {
	return &FfaPolicy{newDVFSBase(eng, plat, domainID, util, cstateLevel, cooldown, timerVariant)}
}

func (p *FfaPolicy) OnUtilizationChanged(now simtime.TimePoint) {
	cd := p.domain()
	m := len(cd.Processors)
	if m == 0 {
		return
	}
	uTotal := p.util.SchedulerUtilization()
	uMax := p.util.MaxSchedulerUtilization()
	fMinReq := float64(cd.FreqMax) * (uTotal + float64(m-1)*uMax) / float64(m)

	var target simtime.Frequency
	var cores int
	if cd.HasEfficientFreq && fMinReq < float64(cd.EfficientFreq) {
		target = cd.EfficientFreq
		cores = int(math.Ceil(float64(m) * fMinReq / float64(cd.EfficientFreq)))
	} else {
		target = cd.CeilToMode(simtime.Frequency(fMinReq))
		cores = m
	}
	p.attemptApply(now, target, cores, true)
}

// CsfPolicy is the core-first DVFS+DPM policy (spec.md §4.10).
type CsfPolicy struct{ dvfsBase }

// NewCsfPolicy returns a CSF policy. timerVariant selects the CsfTimer
// cooldown-scheduling behavior.
func NewCsfPolicy(eng *engine.Engine, plat *platform.Platform, domainID simtime.ClockDomainID, util UtilizationSource, cstateLevel int, cooldown simtime.Duration, timerVariant bool) *CsfPolicy {
	return &CsfPolicy{newDVFSBase(eng, plat, domainID, util, cstateLevel, cooldown, timerVariant)}
}

func (p *CsfPolicy) OnUtilizationChanged(now simtime.TimePoint) {
	cd := p.domain()
	m := len(cd.Processors)
	if m == 0 {
		return
	}
	uActive := p.util.ActiveUtilization()
	uMax := p.util.MaxSchedulerUtilization()

	var mMin int
	if uMax >= 1 {
		mMin = m
	} else {
		mMin = int(math.Ceil((uActive - uMax) / (1 - uMax)))
		mMin = int(clip(float64(mMin), 1, float64(m)))
	}
	fMinReq := float64(cd.FreqMax) * (uActive + float64(mMin-1)*uMax) / float64(mMin)

	var target simtime.Frequency
	var cores int
	if cd.HasEfficientFreq && fMinReq < float64(cd.EfficientFreq) {
		target = cd.EfficientFreq
		cores = int(math.Ceil(float64(mMin) * fMinReq / float64(cd.EfficientFreq)))
		if cores > m {
			cores = m
		}
	} else {
		target = cd.CeilToMode(simtime.Frequency(fMinReq))
		cores = m
	}
	p.attemptApply(now, target, cores, true)
}

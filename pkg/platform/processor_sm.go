package platform

import (
	"math"

	log "github.com/golang/glog"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/simtime"
)

// Assign gives job to the processor. From Idle it enters Running directly,
// or ContextSwitching first if context-switch delay is enabled for its
// type and nonzero. From Sleep it records the job and begins a wake-up
// timer. From Changing it records the job as pending (only legal if no
// pending job is already recorded). Any other state is an error (spec.md
// §4.3's transition table).
func (p *Processor) Assign(now simtime.TimePoint, job RunningJob) error {
	switch p.State {
	case Idle:
		pt := p.platform.ProcessorTypes[p.TypeID]
		if p.platform.contextSwitchEnabled && pt.ContextSwitchDelay > 0 {
			p.pendingJob = job
			p.State = ContextSwitching
			p.platform.eng.Trace("context_switch", func(r engine.Record) {
				r.Field("proc", uint64(p.ID))
			})
			timer, err := p.platform.eng.AddTimer(now.Add(pt.ContextSwitchDelay), engine.PriorityTimerDefault, func(fireTime simtime.TimePoint) {
				p.endContextSwitch(fireTime)
			})
			if err != nil {
				return err
			}
			p.TransitionTimer = timer
			return nil
		}
		p.LastUpdate = now
		p.CurrentJob = job
		p.State = Running
		p.notifyStateChange(now, Idle, Running)
		return p.beginExecution(now)
	case Sleep:
		p.pendingJob = job
		p.beginWakeUp(now)
		return nil
	case Changing:
		if p.pendingJob != nil {
			return simerrors.InvalidState("processor %d: pending job already recorded while changing", p.ID)
		}
		p.pendingJob = job
		return nil
	default:
		return simerrors.InvalidState("processor %d: cannot assign in state %s", p.ID, p.State)
	}
}

// Clear removes the processor's current or pending job and returns it to
// Idle (Running, ContextSwitching), or marks pending_clear if currently
// Changing (applied when the DVFS transition ends). Clearing an Idle or
// Sleep processor is an error.
func (p *Processor) Clear(now simtime.TimePoint) error {
	switch p.State {
	case Running:
		p.updateConsumedWork(now)
		p.platform.eng.Cancel(&p.CompletionTimer)
		p.platform.eng.Cancel(&p.DeadlineTimer)
		oldState := p.State
		p.CurrentJob = nil
		p.State = Idle
		p.notifyStateChange(now, oldState, Idle)
		return nil
	case ContextSwitching:
		p.platform.eng.Cancel(&p.TransitionTimer)
		p.pendingJob = nil
		p.State = Idle
		return nil
	case Changing:
		p.PendingClear = true
		return nil
	default:
		return simerrors.InvalidState("processor %d: cannot clear in state %s", p.ID, p.State)
	}
}

// RequestCState asks the processor to enter sleep at level (>0). Legal only
// from Idle (enters Sleep) or Sleep itself (changes the requested level).
func (p *Processor) RequestCState(now simtime.TimePoint, level int) error {
	if level <= 0 {
		return simerrors.InvalidState("processor %d: request_cstate requires level > 0", p.ID)
	}
	switch p.State {
	case Idle:
		oldLevel := p.currentAchievedLevel()
		p.RequestedLevel = level
		newLevel := p.currentAchievedLevel()
		oldState := p.State
		p.State = Sleep
		p.notifyStateChange(now, oldState, Sleep)
		if newLevel != oldLevel {
			p.notifyCStateChange(now, oldLevel, newLevel)
		}
		return nil
	case Sleep:
		oldLevel := p.currentAchievedLevel()
		p.RequestedLevel = level
		newLevel := p.currentAchievedLevel()
		if newLevel != oldLevel {
			p.notifyCStateChange(now, oldLevel, newLevel)
		}
		return nil
	default:
		return simerrors.InvalidState("processor %d: cannot request c-state in state %s", p.ID, p.State)
	}
}

func (p *Processor) currentAchievedLevel() int {
	return p.platform.PowerDomains[p.PowerDomainID].achievedLevel(p)
}

// beginExecution computes the completion delay for the processor's current
// job at its current speed and arms the completion and deadline timers.
func (p *Processor) beginExecution(now simtime.TimePoint) error {
	p.runningSince = now
	speed := p.platform.Speed(p)
	delta := p.completionDelay(speed)
	timer, err := p.platform.eng.AddTimer(now.Add(delta), engine.PriorityJobCompletion, func(fireTime simtime.TimePoint) {
		p.onCompletionTimer(fireTime)
	})
	if err != nil {
		return err
	}
	p.CompletionTimer = timer
	return p.armDeadlineTimer(now)
}

// armDeadlineTimer arms the job's absolute-deadline alarm if not already
// armed and not already past.
func (p *Processor) armDeadlineTimer(now simtime.TimePoint) error {
	if p.DeadlineTimer.Valid() {
		return nil
	}
	dl := p.CurrentJob.AbsoluteDeadline()
	if dl < now {
		return nil
	}
	timer, err := p.platform.eng.AddTimer(dl, engine.PriorityDeadlineMiss, func(fireTime simtime.TimePoint) {
		p.onDeadlineTimer(fireTime)
	})
	if err != nil {
		return err
	}
	p.DeadlineTimer = timer
	return nil
}

// completionDelay returns ceil(remaining_work / speed) nanoseconds, never
// under-delivering work.
func (p *Processor) completionDelay(speed float64) simtime.Duration {
	remaining := p.CurrentJob.RemainingWork()
	ns := math.Ceil(remaining / speed * float64(simtime.Second))
	return simtime.Duration(ns)
}

// updateConsumedWork integrates speed*(now-LastUpdate) reference-unit work
// out of the current job's remaining work, and advances LastUpdate.
func (p *Processor) updateConsumedWork(now simtime.TimePoint) {
	if p.State != Running || p.CurrentJob == nil {
		p.LastUpdate = now
		return
	}
	elapsed := now.Sub(p.LastUpdate)
	if elapsed > 0 {
		speed := p.platform.Speed(p)
		p.CurrentJob.ConsumeWork(elapsed.Seconds() * speed)
	}
	p.LastUpdate = now
}

// RescheduleCompletion recomputes and re-arms the completion timer for the
// processor's current job at its current speed. Called whenever execution
// is preempted, the processor's speed changes mid-execution, or it is
// assigned a job carrying new remaining work. A no-op if not Running.
func (p *Processor) RescheduleCompletion(now simtime.TimePoint) error {
	if p.State != Running {
		return nil
	}
	p.updateConsumedWork(now)
	p.platform.eng.Cancel(&p.CompletionTimer)
	if p.CurrentJob.IsComplete() {
		return nil
	}
	speed := p.platform.Speed(p)
	delta := p.completionDelay(speed)
	timer, err := p.platform.eng.AddTimer(now.Add(delta), engine.PriorityJobCompletion, func(fireTime simtime.TimePoint) {
		p.onCompletionTimer(fireTime)
	})
	if err != nil {
		return err
	}
	p.CompletionTimer = timer
	return nil
}

func (p *Processor) onCompletionTimer(now simtime.TimePoint) {
	if p.State != Running {
		log.Warningf("processor %d: completion timer fired while in state %s, ignoring", p.ID, p.State)
		return
	}
	p.updateConsumedWork(now)
	p.platform.eng.Cancel(&p.DeadlineTimer)
	oldState := p.State
	p.CurrentJob = nil
	p.State = Idle
	p.notifyStateChange(now, oldState, Idle)
	if p.OnJobCompletion != nil {
		p.OnJobCompletion(p)
	}
}

func (p *Processor) onDeadlineTimer(now simtime.TimePoint) {
	if p.OnDeadlineMiss != nil {
		p.OnDeadlineMiss(p)
	}
}

func (p *Processor) endContextSwitch(now simtime.TimePoint) {
	oldState := p.State
	p.LastUpdate = now
	p.CurrentJob = p.pendingJob
	p.pendingJob = nil
	p.State = Running
	p.notifyStateChange(now, oldState, Running)
	if err := p.beginExecution(now); err != nil {
		log.Errorf("processor %d: failed to begin execution after context switch: %v", p.ID, err)
	}
	if p.OnProcessorAvailable != nil {
		p.OnProcessorAvailable(p)
	}
}

func (p *Processor) beginWakeUp(now simtime.TimePoint) {
	level := p.currentAchievedLevel()
	latency := simtime.Zero
	if level > 0 {
		latency = p.platform.PowerDomains[p.PowerDomainID].wakeLatency(level)
	}
	if latency == 0 {
		p.wakeUp(now)
		return
	}
	timer, err := p.platform.eng.AddTimer(now.Add(latency), engine.PriorityTimerDefault, func(fireTime simtime.TimePoint) {
		p.wakeUp(fireTime)
	})
	if err != nil {
		log.Errorf("processor %d: failed to arm wake-up timer: %v", p.ID, err)
		return
	}
	p.TransitionTimer = timer
}

// wakeUp resolves a Sleep processor's wake-up timer: if a job is pending,
// it proceeds to Running (via ContextSwitching if enabled); otherwise it
// simply becomes Idle.
func (p *Processor) wakeUp(now simtime.TimePoint) {
	oldLevel := p.currentAchievedLevel()
	oldState := p.State
	p.RequestedLevel = 0
	newLevel := p.currentAchievedLevel()
	if p.pendingJob == nil {
		p.State = Idle
		p.notifyStateChange(now, oldState, Idle)
		if newLevel != oldLevel {
			p.notifyCStateChange(now, oldLevel, newLevel)
		}
		return
	}
	job := p.pendingJob
	p.pendingJob = nil
	p.State = Idle
	p.notifyStateChange(now, oldState, Idle)
	if newLevel != oldLevel {
		p.notifyCStateChange(now, oldLevel, newLevel)
	}
	if err := p.Assign(now, job); err != nil {
		log.Errorf("processor %d: failed to resume pending job on wake: %v", p.ID, err)
	}
}

func (p *Processor) notifyStateChange(now simtime.TimePoint, oldState, newState ProcessorState) {
	if oldState == Running {
		duration := now.Sub(p.runningSince)
		p.platform.eng.Trace("processor_active", func(r engine.Record) {
			r.Field("proc", uint64(p.ID)).Field("duration", duration.Seconds())
		})
	}
	switch newState {
	case Running:
		p.platform.eng.Trace("proc_activated", func(r engine.Record) {
			r.Field("proc", uint64(p.ID))
		})
	case Idle:
		p.platform.eng.Trace("proc_idled", func(r engine.Record) {
			r.Field("proc", uint64(p.ID))
		})
	}
	if p.platform.energy != nil {
		p.platform.energy.OnProcessorStateChange(now, p, oldState, newState)
	}
}

func (p *Processor) notifyCStateChange(now simtime.TimePoint, oldLevel, newLevel int) {
	if p.platform.energy != nil {
		p.platform.energy.OnCStateChange(now, p, oldLevel, newLevel)
	}
}

// beginDVFS moves the processor into Changing, preserving its pre-
// transition state. If Running, consumed work is closed out and the
// completion timer is cancelled (it is re-armed when the transition ends).
func (p *Processor) beginDVFS(now simtime.TimePoint) {
	if p.State == Changing {
		return
	}
	if p.State == Running {
		p.updateConsumedWork(now)
		p.platform.eng.Cancel(&p.CompletionTimer)
	}
	p.PreDVFSState = p.State
	p.State = Changing
	p.platform.eng.Trace("proc_change", func(r engine.Record) {
		r.Field("proc", uint64(p.ID))
	})
}

// endDVFS resolves a completed frequency transition: to Idle if a clear was
// requested mid-transition, otherwise back to the pre-transition state,
// re-arming the completion timer at the new speed if that state is
// Running.
func (p *Processor) endDVFS(now simtime.TimePoint) {
	if p.PendingClear {
		oldState := p.PreDVFSState
		p.PendingClear = false
		p.CurrentJob = nil
		p.pendingJob = nil
		p.State = Idle
		if oldState != Idle {
			p.notifyStateChange(now, oldState, Idle)
		}
		return
	}
	p.State = p.PreDVFSState
	if p.State == Running {
		p.LastUpdate = now
		if err := p.RescheduleCompletion(now); err != nil {
			log.Errorf("processor %d: failed to reschedule completion after DVFS: %v", p.ID, err)
		}
	}
	if job := p.pendingJob; job != nil && (p.State == Idle || p.State == Sleep) {
		p.pendingJob = nil
		if err := p.Assign(now, job); err != nil {
			log.Errorf("processor %d: failed to assign pending job after DVFS: %v", p.ID, err)
		}
	}
}

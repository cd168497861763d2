package sched

import (
	"sort"

	log "github.com/golang/glog"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

func secondsOf(t simtime.TimePoint) float64   { return simtime.Duration(t).Seconds() }
func secondsOfDur(d simtime.Duration) float64 { return d.Seconds() }

// EdfScheduler implements global Earliest-Deadline-First dispatch across a
// fixed processor set, with CBS servers as the schedulable entities
// (spec.md §4.9). Grounded on the teacher's per-CPU event-ordering and
// reconciliation logic (DESIGN.md's C8 entry), generalized from
// per-thread/per-CPU trace reconciliation to per-server/per-processor
// dispatch.
type EdfScheduler struct {
	eng        *engine.Engine
	plat       *platform.Platform
	processors []simtime.ProcessorID
	policy     ReclaimPolicy
	dvfs       DVFSPolicy

	servers map[simtime.TaskID]*Server

	runningServer map[simtime.ProcessorID]*Server
	serverProc    map[simtime.ServerID]simtime.ProcessorID
	budgetTimers  map[simtime.ServerID]engine.TimerID

	uTotal, uMax float64
	nextServerID int
	nextJobID    map[simtime.TaskID]int

	deferredReschedule engine.DeferredID

	deadlineMisses int
	preemptions    int
}

// NewEdfScheduler returns an EdfScheduler dispatching across processors
// using policy for bandwidth reclamation, installing its ISRs on every
// processor in the set.
func NewEdfScheduler(eng *engine.Engine, plat *platform.Platform, processors []simtime.ProcessorID, policy ReclaimPolicy) *EdfScheduler {
	sc := &EdfScheduler{
		eng:           eng,
		plat:          plat,
		processors:    append([]simtime.ProcessorID(nil), processors...),
		policy:        policy,
		servers:       map[simtime.TaskID]*Server{},
		runningServer: map[simtime.ProcessorID]*Server{},
		serverProc:    map[simtime.ServerID]simtime.ProcessorID{},
		budgetTimers:  map[simtime.ServerID]engine.TimerID{},
		nextJobID:     map[simtime.TaskID]int{},
	}
	id, err := eng.RegisterDeferred(func() { sc.reschedule(sc.eng.Now()) })
	if err != nil {
		log.Errorf("edf scheduler: failed to register reschedule deferred callback: %v", err)
	}
	sc.deferredReschedule = id
	if grub, ok := policy.(*GrubPolicy); ok {
		grub.SetOnInactive(func(now simtime.TimePoint, s *Server) { sc.reschedule(now) })
	}
	for _, pid := range processors {
		proc := plat.Processor(pid)
		proc.OnJobCompletion = sc.onJobCompletion
		proc.OnDeadlineMiss = sc.onDeadlineMiss
		proc.OnProcessorAvailable = sc.onProcessorAvailable
	}
	return sc
}

// SetDVFSPolicy installs the DVFS/DPM policy consulted on every reschedule,
// and wires its frequency-changed callback back to a reschedule.
func (sc *EdfScheduler) SetDVFSPolicy(p DVFSPolicy) {
	sc.dvfs = p
	if p != nil {
		p.SetFrequencyChangedCallback(func(now simtime.TimePoint) { sc.reschedule(now) })
	}
}

// Utilization view, satisfying sched.UtilizationSource for a DVFS policy
// bound to this scheduler's reclaim policy.
func (sc *EdfScheduler) ActiveUtilization() float64       { return sc.policy.ActiveUtilization() }
func (sc *EdfScheduler) SchedulerUtilization() float64    { return sc.policy.SchedulerUtilization() }
func (sc *EdfScheduler) MaxSchedulerUtilization() float64 { return sc.policy.MaxSchedulerUtilization() }

// DeadlineMisses returns the count of hard deadline misses observed.
func (sc *EdfScheduler) DeadlineMisses() int { return sc.deadlineMisses }

// Preemptions returns the count of preemptions performed.
func (sc *EdfScheduler) Preemptions() int { return sc.preemptions }

// admit runs the multiprocessor admission test (spec.md §4.9): accept iff
// U_total + U_new <= m - (m-1)*max(U_max, U_new).
func (sc *EdfScheduler) admit(budget, period simtime.Duration) error {
	uNew := budget.Ratio(period)
	uMax := sc.uMax
	if uNew > uMax {
		uMax = uNew
	}
	uTotal := sc.uTotal + uNew
	m := float64(len(sc.processors))
	if uTotal > m-(m-1)*uMax {
		return simerrors.AdmissionFailure("admission test failed: U_total=%v exceeds %v - %v*U_max=%v (m=%v)", uTotal, m, m-1, uMax, m)
	}
	return nil
}

// NextJobID returns a monotonically increasing job id local to task.
func (sc *EdfScheduler) NextJobID(task simtime.TaskID) simtime.JobID {
	id := sc.nextJobID[task]
	sc.nextJobID[task] = id + 1
	return simtime.JobID(id)
}

// OnJobArrival handles a task's job release: resolves (and on first
// arrival, admits and creates) the task's server, enqueues the job,
// activates or reactivates the server as needed, and schedules a
// reschedule via deferred callback to coalesce same-timestep arrival
// bursts (spec.md §4.9).
func (sc *EdfScheduler) OnJobArrival(task platform.Task, job *Job) error {
	now := sc.eng.Now()
	s, ok := sc.servers[task.ID]
	if !ok {
		if err := sc.admit(task.WCET, task.Period); err != nil {
			sc.eng.Trace("task_rejected", func(r engine.Record) {
				r.Field("task_id", uint64(task.ID))
			})
			return err
		}
		s = &Server{
			ID:        simtime.ServerID(sc.nextServerID),
			TaskID:    task.ID,
			Period:    task.Period,
			MaxBudget: task.WCET,
			State:     Inactive,
			Overrun:   Queue,
		}
		sc.nextServerID++
		sc.servers[task.ID] = s
		sc.uTotal += s.Utilization()
		if s.Utilization() > sc.uMax {
			sc.uMax = s.Utilization()
		}
	}

	sc.eng.Trace("job_arrival", func(r engine.Record) {
		r.Field("task_id", uint64(task.ID)).Field("job_id", uint64(job.ID)).
			Field("duration", job.TotalWork()).Field("deadline", secondsOf(job.Deadline))
	})

	s.EnqueueJob(job)
	switch s.State {
	case Inactive:
		if err := s.Activate(now, sc.policy); err != nil {
			return err
		}
		sc.traceServerState(now, s)
	case NonContending:
		if err := s.Reactivate(now, sc.policy); err != nil {
			return err
		}
		sc.traceServerState(now, s)
	}

	sc.eng.RequestDeferred(sc.deferredReschedule)
	return nil
}

func (sc *EdfScheduler) onJobCompletion(proc *platform.Processor) {
	now := sc.eng.Now()
	s := sc.runningServer[proc.ID]
	if s == nil {
		return
	}
	job := s.CurrentJob()
	delete(sc.runningServer, proc.ID)
	delete(sc.serverProc, s.ID)
	sc.cancelBudgetTimer(s)
	if job != nil {
		sc.eng.Trace("job_completion", func(r engine.Record) {
			r.Field("task_id", uint64(s.TaskID)).Field("job_id", uint64(job.ID))
		})
	}
	if elapsed := now.Sub(s.LastUpdate); elapsed > 0 {
		s.ConsumeBudget(elapsed)
		s.UpdateVirtualTime(elapsed, sc.policy)
	}
	s.LastUpdate = now
	s.CompleteJob(now, sc.policy)
	sc.traceServerState(now, s)
	sc.reschedule(now)
}

func (sc *EdfScheduler) onDeadlineMiss(proc *platform.Processor) {
	sc.deadlineMisses++
	s := sc.runningServer[proc.ID]
	var taskID simtime.TaskID
	var jobID simtime.JobID
	if s != nil {
		if j := s.CurrentJob(); j != nil {
			taskID, jobID = s.TaskID, j.ID
		}
	}
	sc.eng.Trace("deadline_miss", func(r engine.Record) {
		r.Field("task_id", uint64(taskID)).Field("job_id", uint64(jobID))
	})
}

func (sc *EdfScheduler) onProcessorAvailable(proc *platform.Processor) {
	sc.reschedule(sc.eng.Now())
}

func (sc *EdfScheduler) armBudgetTimer(now simtime.TimePoint, s *Server) {
	sc.cancelBudgetTimer(s)
	budget := sc.policy.ComputeServerBudget(s)
	if budget <= 0 {
		sc.onBudgetExhausted(now, s)
		return
	}
	id, err := sc.eng.AddTimer(now.Add(budget), engine.PriorityTimerDefault, func(fireNow simtime.TimePoint) {
		sc.onBudgetExhausted(fireNow, s)
	})
	if err != nil {
		log.Errorf("edf scheduler: failed to arm budget timer for server %d: %v", s.ID, err)
		return
	}
	sc.budgetTimers[s.ID] = id
}

func (sc *EdfScheduler) cancelBudgetTimer(s *Server) {
	if id, ok := sc.budgetTimers[s.ID]; ok {
		sc.eng.Cancel(&id)
		delete(sc.budgetTimers, s.ID)
	}
}

func (sc *EdfScheduler) onBudgetExhausted(now simtime.TimePoint, s *Server) {
	if s.State != Running {
		return
	}
	delete(sc.budgetTimers, s.ID)
	if elapsed := now.Sub(s.LastUpdate); elapsed > 0 {
		s.ConsumeBudget(elapsed)
		s.UpdateVirtualTime(elapsed, sc.policy)
	}
	s.LastUpdate = now
	extra := s.ExhaustBudget(sc.policy)
	if extra > 0 {
		sc.eng.Trace("serv_budget_replenished", func(r engine.Record) {
			r.Field("sched_id", uint64(s.ID)).Field("budget", secondsOfDur(extra))
		})
		sc.armBudgetTimer(now, s)
		return
	}
	sc.eng.Trace("serv_budget_exhausted", func(r engine.Record) {
		r.Field("sched_id", uint64(s.ID))
	})
	sc.eng.Trace("serv_postpone", func(r engine.Record) {
		r.Field("sched_id", uint64(s.ID)).Field("deadline", secondsOf(s.Deadline))
	})
	if procID, ok := sc.serverProc[s.ID]; ok {
		proc := sc.plat.Processor(procID)
		if err := proc.Clear(now); err != nil {
			log.Errorf("edf scheduler: failed to clear processor %d on budget exhaustion: %v", procID, err)
		}
		delete(sc.serverProc, s.ID)
		delete(sc.runningServer, procID)
	}
	sc.traceServerState(now, s)
	sc.reschedule(now)
}

func (sc *EdfScheduler) traceServerState(now simtime.TimePoint, s *Server) {
	var recType string
	switch s.State {
	case Ready:
		recType = "serv_ready"
	case Running:
		recType = "serv_running"
	case Inactive:
		recType = "serv_inactive"
	case NonContending:
		recType = "serv_non_cont"
	default:
		return
	}
	sc.eng.Trace(recType, func(r engine.Record) {
		r.Field("sched_id", uint64(s.ID)).Field("task_id", uint64(s.TaskID))
		switch s.State {
		case Ready, Running:
			r.Field("deadline", secondsOf(s.Deadline)).Field("utilization", s.Utilization())
		case Inactive:
			r.Field("utilization", s.Utilization())
		}
	})
}

func (sc *EdfScheduler) readyServers() []*Server {
	var out []*Server
	for _, s := range sc.servers {
		if s.State == Ready {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline != out[j].Deadline {
			return out[i].Deadline < out[j].Deadline
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// orderedProcessors returns this scheduler's Idle processors, followed by
// its Running processors sorted ascending by their current server's
// deadline (so the latest-deadline Running processor sorts last); Sleep,
// Changing, and ContextSwitching processors are excluded (spec.md §4.9).
func (sc *EdfScheduler) orderedProcessors() []*platform.Processor {
	var idle, running []*platform.Processor
	for _, pid := range sc.processors {
		proc := sc.plat.Processor(pid)
		switch proc.State {
		case platform.Idle:
			idle = append(idle, proc)
		case platform.Running:
			running = append(running, proc)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		si, sj := sc.runningServer[running[i].ID], sc.runningServer[running[j].ID]
		if si == nil || sj == nil {
			return false
		}
		return si.Deadline < sj.Deadline
	})
	return append(idle, running...)
}

func (sc *EdfScheduler) assignServerToProcessor(now simtime.TimePoint, s *Server, proc *platform.Processor) {
	if err := s.Dispatch(sc.policy); err != nil {
		log.Errorf("edf scheduler: dispatch server %d: %v", s.ID, err)
		return
	}
	s.LastUpdate = now
	job := s.CurrentJob()
	if job == nil {
		return
	}
	if err := proc.Assign(now, job); err != nil {
		log.Errorf("edf scheduler: assign processor %d: %v", proc.ID, err)
		return
	}
	sc.runningServer[proc.ID] = s
	sc.serverProc[s.ID] = proc.ID
	sc.traceServerState(now, s)
	sc.eng.Trace("job_start", func(r engine.Record) {
		r.Field("task_id", uint64(s.TaskID)).Field("job_id", uint64(job.ID))
	})
	sc.armBudgetTimer(now, s)
}

func (sc *EdfScheduler) preemptServer(now simtime.TimePoint, s *Server, proc *platform.Processor) {
	sc.cancelBudgetTimer(s)
	if err := proc.Clear(now); err != nil {
		log.Errorf("edf scheduler: preempt-clear processor %d: %v", proc.ID, err)
		return
	}
	delete(sc.runningServer, proc.ID)
	delete(sc.serverProc, s.ID)
	if err := s.Preempt(sc.policy); err != nil {
		log.Errorf("edf scheduler: preempt server %d: %v", s.ID, err)
		return
	}
	sc.preemptions++
	sc.eng.Trace("preemption", func(r engine.Record) {
		r.Field("sched_id", uint64(s.ID))
	})
	sc.traceServerState(now, s)
}

// runningServersSorted returns the currently running servers ordered by
// ID, so callers that must iterate sc.runningServer for a trace-emitting
// or timer-arming side effect get a deterministic order regardless of Go's
// randomized map iteration (spec.md §8 Property 2).
func (sc *EdfScheduler) runningServersSorted() []*Server {
	out := make([]*Server, 0, len(sc.runningServer))
	for _, s := range sc.runningServer {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// reschedule runs the global-EDF reschedule algorithm (spec.md §4.9),
// invoked on every arrival, completion, preemption, state change, or
// frequency change.
func (sc *EdfScheduler) reschedule(now simtime.TimePoint) {
	for _, s := range sc.runningServersSorted() {
		elapsed := now.Sub(s.LastUpdate)
		if elapsed > 0 {
			s.ConsumeBudget(elapsed)
			s.UpdateVirtualTime(elapsed, sc.policy)
			sc.eng.Trace("virtual_time_update", func(r engine.Record) {
				r.Field("sched_id", uint64(s.ID)).Field("virtual_time", secondsOf(s.VirtualTime))
			})
		}
		s.LastUpdate = now
	}

	if sc.dvfs != nil {
		sc.dvfs.OnUtilizationChanged(now)
	}

	ready := sc.readyServers()
	procs := sc.orderedProcessors()
	for i := 0; i < len(ready) && i < len(procs); i++ {
		s := ready[i]
		proc := procs[i]
		if proc.State == platform.Idle {
			sc.assignServerToProcessor(now, s, proc)
			continue
		}
		cur := sc.runningServer[proc.ID]
		if cur != nil && cur.Deadline > s.Deadline {
			sc.preemptServer(now, cur, proc)
			sc.assignServerToProcessor(now, s, proc)
		}
	}

	if sc.policy.NeedsGlobalBudgetRecalculation() {
		for _, s := range sc.runningServersSorted() {
			sc.armBudgetTimer(now, s)
		}
	}
}

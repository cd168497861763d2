package sched

import (
	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/simtime"
)

// ServerState is one of the four CBS server states (spec.md §4.7, extended
// with NonContending per §4.8's GRUB reclamation).
type ServerState int

// Server states.
const (
	Inactive ServerState = iota
	Ready
	Running
	NonContending
)

func (s ServerState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case NonContending:
		return "NonContending"
	default:
		return "Unknown"
	}
}

// OverrunPolicy controls enqueue_job behavior when a server already has a
// job assigned (spec.md §4.7).
type OverrunPolicy int

// Overrun policies.
const (
	Queue OverrunPolicy = iota // append; never drop
	Skip                       // drop the incoming job if one is already assigned
	Abort                      // replace the assigned job with the incoming one
)

// ServerStateChange is the change variant passed to
// ReclaimPolicy.OnServerStateChange (spec.md §4.8).
type ServerStateChange int

// Server state change variants.
const (
	Activated ServerStateChange = iota
	Dispatched
	Preempted
	Completed
	WentNonContending
	DeadlineReached
	Detached
)

// Server is a per-task Constant-Bandwidth Server: a bandwidth reservation
// with static period T and budget Q, enforcing temporal isolation via
// deadline postponement.
type Server struct {
	ID      simtime.ServerID
	TaskID  simtime.TaskID
	Period  simtime.Duration // T
	MaxBudget simtime.Duration // Q

	State   ServerState
	Overrun OverrunPolicy

	Deadline    simtime.TimePoint // d, the CBS scheduling deadline
	Budget      simtime.Duration  // q, remaining budget
	VirtualTime simtime.TimePoint // vt

	LastUpdate simtime.TimePoint // last time exec was integrated into vt/budget

	jobs []*Job // jobs[0], if present, is the server's currently assigned job
}

// Utilization returns Q/T.
func (s *Server) Utilization() float64 {
	if s.Period == 0 {
		return 0
	}
	return s.MaxBudget.Ratio(s.Period)
}

// CurrentJob returns the job presently assigned to the server (dispatched
// or awaiting dispatch), or nil.
func (s *Server) CurrentJob() *Job {
	if len(s.jobs) == 0 {
		return nil
	}
	return s.jobs[0]
}

// PendingCount returns the number of jobs queued behind the current one.
func (s *Server) PendingCount() int {
	if len(s.jobs) == 0 {
		return 0
	}
	return len(s.jobs) - 1
}

// EnqueueJob applies the server's OverrunPolicy to an incoming job.
func (s *Server) EnqueueJob(job *Job) {
	switch s.Overrun {
	case Skip:
		if len(s.jobs) > 0 {
			return
		}
		s.jobs = append(s.jobs, job)
	case Abort:
		if len(s.jobs) > 0 {
			s.jobs[0] = job
		} else {
			s.jobs = append(s.jobs, job)
		}
	default: // Queue
		s.jobs = append(s.jobs, job)
	}
}

// activateLocked performs a fresh CBS activation: d := now + T, q := Q,
// vt reset to now.
func (s *Server) activateLocked(now simtime.TimePoint) {
	s.Deadline = now.Add(s.Period)
	s.Budget = s.MaxBudget
	s.VirtualTime = now
	s.LastUpdate = now
}

// Activate transitions Inactive -> Ready, performing a fresh CBS
// activation. policy is notified of the Activated change.
func (s *Server) Activate(now simtime.TimePoint, policy ReclaimPolicy) error {
	if s.State != Inactive {
		return simerrors.InvalidState("server %d: activate requires Inactive, got %s", s.ID, s.State)
	}
	s.activateLocked(now)
	s.State = Ready
	policy.OnServerStateChange(s, Activated)
	return nil
}

// Dispatch transitions Ready -> Running.
func (s *Server) Dispatch(policy ReclaimPolicy) error {
	if s.State != Ready {
		return simerrors.InvalidState("server %d: dispatch requires Ready, got %s", s.ID, s.State)
	}
	s.State = Running
	policy.OnServerStateChange(s, Dispatched)
	return nil
}

// Preempt transitions Running -> Ready.
func (s *Server) Preempt(policy ReclaimPolicy) error {
	if s.State != Running {
		return simerrors.InvalidState("server %d: preempt requires Running, got %s", s.ID, s.State)
	}
	s.State = Ready
	policy.OnServerStateChange(s, Preempted)
	return nil
}

// UpdateVirtualTime advances vt by policy.ComputeVirtualTime over execTime.
// A computed value below the current vt is clamped to it, so vt never
// decreases (spec.md §8 property 4); no error is raised in that case.
func (s *Server) UpdateVirtualTime(execTime simtime.Duration, policy ReclaimPolicy) {
	next := policy.ComputeVirtualTime(s, s.VirtualTime, execTime)
	if next < s.VirtualTime {
		next = s.VirtualTime
	}
	s.VirtualTime = next
}

// ConsumeBudget subtracts execTime from q, never going below zero.
func (s *Server) ConsumeBudget(execTime simtime.Duration) {
	s.Budget -= execTime
	if s.Budget < 0 {
		s.Budget = 0
	}
}

// PostponeDeadline advances d by one period without changing state (used by
// reclamation policies).
func (s *Server) PostponeDeadline() {
	s.Deadline = s.Deadline.Add(s.Period)
}

// ExhaustBudget handles q reaching zero while the current job is not
// complete. If the policy grants extra budget, it is added to q in place and
// the server stays Running; otherwise it performs standard CBS postponement
// (d += T, q := Q) and returns to Ready.
func (s *Server) ExhaustBudget(policy ReclaimPolicy) (extraGranted simtime.Duration) {
	extra := policy.OnBudgetExhausted(s)
	if extra > 0 {
		s.Budget += extra
		return extra
	}
	s.PostponeDeadline()
	s.Budget = s.MaxBudget
	s.State = Ready
	return extra
}

// CompleteJob dequeues the just-finished job. If another job is already
// queued and has arrived by now, the server re-activates directly into
// Ready. Otherwise it asks the policy whether to go NonContending (only
// possible with budget remaining); failing that it goes Inactive.
// Returns the new state.
func (s *Server) CompleteJob(now simtime.TimePoint, policy ReclaimPolicy) ServerState {
	policy.OnServerStateChange(s, Completed)
	if len(s.jobs) > 0 {
		s.jobs = s.jobs[1:]
	}
	if len(s.jobs) > 0 && !s.jobs[0].Arrival.After(now) {
		s.activateLocked(now)
		s.State = Ready
		policy.OnServerStateChange(s, Activated)
		return s.State
	}
	if s.Budget > 0 && policy.OnEarlyCompletion(s, s.Budget) {
		s.State = NonContending
		policy.OnServerStateChange(s, WentNonContending)
		policy.ArmDeadlineTimer(s)
		return s.State
	}
	s.State = Inactive
	return s.State
}

// Reactivate brings a NonContending server back to Ready on a new arrival,
// performing a fresh CBS activation.
func (s *Server) Reactivate(now simtime.TimePoint, policy ReclaimPolicy) error {
	if s.State != NonContending {
		return simerrors.InvalidState("server %d: reactivate requires NonContending, got %s", s.ID, s.State)
	}
	policy.CancelDeadlineTimer(s)
	s.activateLocked(now)
	s.State = Ready
	policy.OnServerStateChange(s, Activated)
	return nil
}

// DeadlineReached transitions a NonContending server to Inactive when its
// policy-owned virtual-time timer fires.
func (s *Server) DeadlineReached(policy ReclaimPolicy) {
	policy.OnServerStateChange(s, DeadlineReached)
	if s.State == NonContending {
		s.State = Inactive
	}
}

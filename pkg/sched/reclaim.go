package sched

import "github.com/fillien/schedsim/pkg/simtime"

// ReclaimPolicy is the pluggable bandwidth-reclamation strategy a Server
// consults for virtual-time acceleration, budget sizing, and state-change
// bookkeeping (spec.md §4.8). Grounded on the teacher's small,
// function-typed strategy interfaces (see DESIGN.md's C7 entry): reclaim
// kinds vary in behavior but never in shape, so an interface value held by
// the EdfScheduler is enough -- no inheritance hierarchy.
type ReclaimPolicy interface {
	// OnEarlyCompletion is called when a job completes with budget > 0.
	// Returning true sends the server to NonContending; the caller must
	// then arm a policy-controlled deadline timer.
	OnEarlyCompletion(s *Server, remainingBudget simtime.Duration) bool
	// OnBudgetExhausted returns extra budget to grant in place before
	// standard CBS postponement; zero means standard postponement.
	OnBudgetExhausted(s *Server) simtime.Duration
	// ComputeVirtualTime returns the server's new virtual time after
	// executing for execTime.
	ComputeVirtualTime(s *Server, currentVT simtime.TimePoint, execTime simtime.Duration) simtime.TimePoint
	// ComputeServerBudget returns the server's currently effective budget
	// (its dynamic budget, under GRUB; its static remaining budget,
	// otherwise).
	ComputeServerBudget(s *Server) simtime.Duration
	// OnServerStateChange notifies the policy of a CBS state transition so
	// it can update active-utilization bookkeeping.
	OnServerStateChange(s *Server, change ServerStateChange)
	// ArmDeadlineTimer is called immediately after a server transitions to
	// NonContending; GRUB arms its virtual-time timer here. A no-op for
	// policies that never return true from OnEarlyCompletion.
	ArmDeadlineTimer(s *Server)
	// CancelDeadlineTimer is called immediately before a NonContending
	// server leaves that state (reactivation). A no-op for policies that
	// never arm one.
	CancelDeadlineTimer(s *Server)
	// ActiveUtilization returns the sum of utilizations of servers
	// currently Ready or Running.
	ActiveUtilization() float64
	// SchedulerUtilization returns the sum of utilizations of every
	// in-scheduler (registered, not detached) server.
	SchedulerUtilization() float64
	// MaxSchedulerUtilization returns the largest utilization among
	// in-scheduler servers.
	MaxSchedulerUtilization() float64
	// NeedsGlobalBudgetRecalculation reports whether a change to active
	// utilization requires every Running server's budget-exhaustion timer to
	// be re-armed against a freshly recomputed dynamic budget (true for GRUB,
	// false for default CBS and CASH).
	NeedsGlobalBudgetRecalculation() bool
}

// utilTracker is the bookkeeping shared by every ReclaimPolicy
// implementation: the set of servers ever registered (in-scheduler) and the
// subset currently active (Ready or Running).
type utilTracker struct {
	registered map[simtime.ServerID]*Server
	active     map[simtime.ServerID]bool
}

func newUtilTracker() utilTracker {
	return utilTracker{registered: map[simtime.ServerID]*Server{}, active: map[simtime.ServerID]bool{}}
}

func (t *utilTracker) onStateChange(s *Server, change ServerStateChange) {
	switch change {
	case Activated:
		t.registered[s.ID] = s
		t.active[s.ID] = true
	case Dispatched:
		t.active[s.ID] = true
	case Preempted:
		t.active[s.ID] = true // still Ready: still active
	case Completed:
		delete(t.active, s.ID) // a completed server is never active until re-Activated/Dispatched
	case WentNonContending, Detached, DeadlineReached:
		delete(t.active, s.ID)
	}
}

func (t *utilTracker) activeUtilization() float64 {
	var sum float64
	for id := range t.active {
		sum += t.registered[id].Utilization()
	}
	return sum
}

func (t *utilTracker) schedulerUtilization() float64 {
	var sum float64
	for _, s := range t.registered {
		sum += s.Utilization()
	}
	return sum
}

func (t *utilTracker) maxSchedulerUtilization() float64 {
	var max float64
	for _, s := range t.registered {
		if u := s.Utilization(); u > max {
			max = u
		}
	}
	return max
}

// NoReclaim is the default CBS policy: no bandwidth reclamation, standard
// virtual-time rate (vt += exec_time / U), standard postponement.
type NoReclaim struct {
	util utilTracker
}

// NewNoReclaim returns the default non-reclaiming CBS policy.
func NewNoReclaim() *NoReclaim {
	return &NoReclaim{util: newUtilTracker()}
}

func (p *NoReclaim) OnEarlyCompletion(s *Server, remainingBudget simtime.Duration) bool { return false }
func (p *NoReclaim) OnBudgetExhausted(s *Server) simtime.Duration                       { return 0 }

func (p *NoReclaim) ComputeVirtualTime(s *Server, currentVT simtime.TimePoint, execTime simtime.Duration) simtime.TimePoint {
	u := s.Utilization()
	if u <= 0 {
		return currentVT
	}
	delta := simtime.Duration(float64(execTime) / u)
	return currentVT.Add(delta)
}

func (p *NoReclaim) ComputeServerBudget(s *Server) simtime.Duration { return s.Budget }

func (p *NoReclaim) OnServerStateChange(s *Server, change ServerStateChange) {
	p.util.onStateChange(s, change)
}

func (p *NoReclaim) ArmDeadlineTimer(s *Server)    {}
func (p *NoReclaim) CancelDeadlineTimer(s *Server) {}

func (p *NoReclaim) ActiveUtilization() float64           { return p.util.activeUtilization() }
func (p *NoReclaim) SchedulerUtilization() float64        { return p.util.schedulerUtilization() }
func (p *NoReclaim) MaxSchedulerUtilization() float64     { return p.util.maxSchedulerUtilization() }
func (p *NoReclaim) NeedsGlobalBudgetRecalculation() bool { return false }

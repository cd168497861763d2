package sched

import "github.com/fillien/schedsim/pkg/simtime"

// CashPolicy implements Capacity Sharing reclamation (spec.md §4.8): a
// single spare-budget counter accumulates unused budget on early completion
// and is handed out in full to the next server that exhausts its budget.
// Virtual-time rate and active-utilization bookkeeping are the default CBS
// formulas.
type CashPolicy struct {
	util  utilTracker
	spare simtime.Duration
}

// NewCashPolicy returns an empty-pool CASH policy.
func NewCashPolicy() *CashPolicy {
	return &CashPolicy{util: newUtilTracker()}
}

// OnEarlyCompletion pools the remaining budget and never sends the server
// to NonContending.
func (p *CashPolicy) OnEarlyCompletion(s *Server, remainingBudget simtime.Duration) bool {
	p.spare += remainingBudget
	return false
}

// OnBudgetExhausted grants the whole spare pool and resets it.
func (p *CashPolicy) OnBudgetExhausted(s *Server) simtime.Duration {
	extra := p.spare
	p.spare = 0
	return extra
}

func (p *CashPolicy) ComputeVirtualTime(s *Server, currentVT simtime.TimePoint, execTime simtime.Duration) simtime.TimePoint {
	u := s.Utilization()
	if u <= 0 {
		return currentVT
	}
	delta := simtime.Duration(float64(execTime) / u)
	return currentVT.Add(delta)
}

func (p *CashPolicy) ComputeServerBudget(s *Server) simtime.Duration { return s.Budget }

func (p *CashPolicy) OnServerStateChange(s *Server, change ServerStateChange) {
	p.util.onStateChange(s, change)
}

func (p *CashPolicy) ArmDeadlineTimer(s *Server)    {} // CASH never goes NonContending
func (p *CashPolicy) CancelDeadlineTimer(s *Server) {}

func (p *CashPolicy) ActiveUtilization() float64           { return p.util.activeUtilization() }
func (p *CashPolicy) SchedulerUtilization() float64        { return p.util.schedulerUtilization() }
func (p *CashPolicy) MaxSchedulerUtilization() float64     { return p.util.maxSchedulerUtilization() }
func (p *CashPolicy) NeedsGlobalBudgetRecalculation() bool { return false }

// SpareBudget exposes the current pooled budget (tests, analyzer).
func (p *CashPolicy) SpareBudget() simtime.Duration { return p.spare }

package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fillien/schedsim/pkg/simtime"
)

func newServer(id simtime.ServerID, period, budget simtime.Duration) *Server {
	return &Server{ID: id, Period: period, MaxBudget: budget, State: Inactive}
}

func TestServerUtilizationIsBudgetOverPeriod(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	require.InDelta(t, 0.2, s.Utilization(), 1e-9)
}

func TestActivateFromInactivePerformsFreshActivation(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := NewNoReclaim()
	now := simtime.Epoch.Add(simtime.FromSeconds(1.0))
	require.NoError(t, s.Activate(now, policy))
	require.Equal(t, Ready, s.State)
	require.Equal(t, now.Add(s.Period), s.Deadline)
	require.Equal(t, s.MaxBudget, s.Budget)
	require.Equal(t, now, s.VirtualTime)
}

func TestActivateRejectsNonInactiveState(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	s.State = Ready
	require.Error(t, s.Activate(simtime.Epoch, NewNoReclaim()))
}

func TestDispatchAndPreemptRoundTrip(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := NewNoReclaim()
	require.NoError(t, s.Activate(simtime.Epoch, policy))
	require.NoError(t, s.Dispatch(policy))
	require.Equal(t, Running, s.State)
	require.NoError(t, s.Preempt(policy))
	require.Equal(t, Ready, s.State)
}

func TestDispatchRejectsFromInactive(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	require.Error(t, s.Dispatch(NewNoReclaim()))
}

func TestConsumeBudgetNeverGoesNegative(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	s.Budget = simtime.FromSeconds(0.01)
	s.ConsumeBudget(simtime.FromSeconds(0.02))
	require.Equal(t, simtime.Zero, s.Budget)
}

func TestExhaustBudgetStandardPostponement(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := NewNoReclaim()
	now := simtime.Epoch
	require.NoError(t, s.Activate(now, policy))
	require.NoError(t, s.Dispatch(policy))
	s.Budget = 0

	oldDeadline := s.Deadline
	extra := s.ExhaustBudget(policy)
	require.Equal(t, simtime.Zero, extra)
	require.Equal(t, oldDeadline.Add(s.Period), s.Deadline)
	require.Equal(t, s.MaxBudget, s.Budget)
	require.Equal(t, Ready, s.State)
}

// grantingPolicy is a minimal ReclaimPolicy that grants extra budget on
// exhaustion and allows early completion to go NonContending, exercising the
// two branches default NoReclaim never takes.
type grantingPolicy struct {
	NoReclaim
	extra       simtime.Duration
	earlyResult bool
	armed       bool
	canceled    bool
}

func (p *grantingPolicy) OnBudgetExhausted(s *Server) simtime.Duration { return p.extra }
func (p *grantingPolicy) OnEarlyCompletion(s *Server, remaining simtime.Duration) bool {
	return p.earlyResult
}
func (p *grantingPolicy) ArmDeadlineTimer(s *Server)    { p.armed = true }
func (p *grantingPolicy) CancelDeadlineTimer(s *Server) { p.canceled = true }

func newGrantingPolicy() *grantingPolicy {
	return &grantingPolicy{NoReclaim: *NewNoReclaim()}
}

func TestExhaustBudgetWithPolicyGrantRemainsRunning(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := newGrantingPolicy()
	policy.extra = simtime.FromSeconds(0.01)
	require.NoError(t, s.Activate(simtime.Epoch, policy))
	require.NoError(t, s.Dispatch(policy))
	s.Budget = 0

	extra := s.ExhaustBudget(policy)
	require.Equal(t, simtime.FromSeconds(0.01), extra)
	require.Equal(t, simtime.FromSeconds(0.01), s.Budget)
	require.Equal(t, Running, s.State)
}

func TestCompleteJobGoesNonContendingOnEarlyCompletionWithBudget(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := newGrantingPolicy()
	policy.earlyResult = true
	require.NoError(t, s.Activate(simtime.Epoch, policy))
	require.NoError(t, s.Dispatch(policy))
	s.EnqueueJob(&Job{})
	s.Budget = simtime.FromSeconds(0.01)

	state := s.CompleteJob(simtime.Epoch, policy)
	require.Equal(t, NonContending, state)
	require.True(t, policy.armed)
}

func TestCompleteJobGoesInactiveWithNoBudgetOrPolicyRefusal(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := NewNoReclaim()
	require.NoError(t, s.Activate(simtime.Epoch, policy))
	require.NoError(t, s.Dispatch(policy))
	s.EnqueueJob(&Job{})
	s.Budget = 0

	state := s.CompleteJob(simtime.Epoch, policy)
	require.Equal(t, Inactive, state)
}

func TestCompleteJobReactivatesDirectlyWhenNextJobAlreadyArrived(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := NewNoReclaim()
	now := simtime.Epoch
	require.NoError(t, s.Activate(now, policy))
	require.NoError(t, s.Dispatch(policy))

	job1 := &Job{}
	job2 := NewJob(0, 1, now, now.Add(simtime.FromSeconds(0.1)), 0.01)
	s.EnqueueJob(job1)
	s.EnqueueJob(job2)

	state := s.CompleteJob(now, policy)
	require.Equal(t, Ready, state)
	require.Equal(t, job2, s.CurrentJob())
}

func TestReactivateFromNonContendingCancelsTimerAndReactivates(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	policy := newGrantingPolicy()
	policy.earlyResult = true
	require.NoError(t, s.Activate(simtime.Epoch, policy))
	require.NoError(t, s.Dispatch(policy))
	s.EnqueueJob(&Job{})
	s.Budget = simtime.FromSeconds(0.01)
	require.Equal(t, NonContending, s.CompleteJob(simtime.Epoch, policy))

	now := simtime.Epoch.Add(simtime.FromSeconds(0.05))
	require.NoError(t, s.Reactivate(now, policy))
	require.Equal(t, Ready, s.State)
	require.True(t, policy.canceled)
	require.Equal(t, now.Add(s.Period), s.Deadline)
}

func TestReactivateRejectsFromNonNonContendingState(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	require.Error(t, s.Reactivate(simtime.Epoch, NewNoReclaim()))
}

func TestDeadlineReachedTransitionsNonContendingToInactive(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	s.State = NonContending
	policy := NewNoReclaim()
	s.DeadlineReached(policy)
	require.Equal(t, Inactive, s.State)
}

func TestDeadlineReachedNoOpOutsideNonContending(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	s.State = Ready
	policy := NewNoReclaim()
	s.DeadlineReached(policy)
	require.Equal(t, Ready, s.State)
}

func TestEnqueueJobOverrunPolicies(t *testing.T) {
	t.Run("Queue appends", func(t *testing.T) {
		s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
		s.Overrun = Queue
		job1, job2 := &Job{}, &Job{}
		s.EnqueueJob(job1)
		s.EnqueueJob(job2)
		require.Equal(t, 1, s.PendingCount())
	})
	t.Run("Skip drops incoming when one is assigned", func(t *testing.T) {
		s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
		s.Overrun = Skip
		job1, job2 := &Job{}, &Job{}
		s.EnqueueJob(job1)
		s.EnqueueJob(job2)
		require.Equal(t, job1, s.CurrentJob())
		require.Equal(t, 0, s.PendingCount())
	})
	t.Run("Abort replaces the assigned job", func(t *testing.T) {
		s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
		s.Overrun = Abort
		job1, job2 := &Job{}, &Job{}
		s.EnqueueJob(job1)
		s.EnqueueJob(job2)
		require.Equal(t, job2, s.CurrentJob())
		require.Equal(t, 0, s.PendingCount())
	})
}

func TestUpdateVirtualTimeNeverGoesBackward(t *testing.T) {
	s := newServer(0, simtime.FromSeconds(0.1), simtime.FromSeconds(0.02))
	s.VirtualTime = simtime.Epoch.Add(simtime.FromSeconds(1.0))
	// NoReclaim with Utilization 0.2: vt += execTime/0.2.
	s.UpdateVirtualTime(simtime.FromSeconds(0.01), NewNoReclaim())
	require.True(t, s.VirtualTime.After(simtime.Epoch.Add(simtime.FromSeconds(1.0))))
}

package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fillien/schedsim/pkg/simtime"
)

func TestCashOnEarlyCompletionPoolsBudgetAndNeverGoesNonContending(t *testing.T) {
	p := NewCashPolicy()
	stays := p.OnEarlyCompletion(&Server{}, simtime.FromSeconds(0.03))
	require.False(t, stays)
	require.Equal(t, simtime.FromSeconds(0.03), p.SpareBudget())
}

func TestCashOnBudgetExhaustedGrantsWholePoolAndResetsIt(t *testing.T) {
	p := NewCashPolicy()
	p.OnEarlyCompletion(&Server{}, simtime.FromSeconds(0.05))

	extra := p.OnBudgetExhausted(&Server{})
	require.Equal(t, simtime.FromSeconds(0.05), extra)
	require.Equal(t, simtime.Zero, p.SpareBudget())

	again := p.OnBudgetExhausted(&Server{})
	require.Equal(t, simtime.Zero, again)
}

func TestCashPoolAccumulatesAcrossMultipleEarlyCompletions(t *testing.T) {
	p := NewCashPolicy()
	p.OnEarlyCompletion(&Server{}, simtime.FromSeconds(0.01))
	p.OnEarlyCompletion(&Server{}, simtime.FromSeconds(0.02))
	require.Equal(t, simtime.FromSeconds(0.03), p.SpareBudget())
}

func TestCashComputeServerBudgetReturnsCurrentBudgetUnchanged(t *testing.T) {
	p := NewCashPolicy()
	s := &Server{Budget: simtime.FromSeconds(0.04)}
	require.Equal(t, simtime.FromSeconds(0.04), p.ComputeServerBudget(s))
}

func TestCashComputeVirtualTimeScalesByUtilization(t *testing.T) {
	p := NewCashPolicy()
	s := &Server{Period: simtime.FromSeconds(0.1), MaxBudget: simtime.FromSeconds(0.02)}
	vt := p.ComputeVirtualTime(s, simtime.Epoch, simtime.FromSeconds(0.01))
	require.Equal(t, simtime.Epoch.Add(simtime.FromSeconds(0.05)), vt)
}

func TestCashArmAndCancelDeadlineTimerAreNoOps(t *testing.T) {
	p := NewCashPolicy()
	s := &Server{State: NonContending}
	p.ArmDeadlineTimer(s)
	p.CancelDeadlineTimer(s)
	require.Equal(t, NonContending, s.State)
}

func TestCashNeedsGlobalBudgetRecalculationIsFalse(t *testing.T) {
	p := NewCashPolicy()
	require.False(t, p.NeedsGlobalBudgetRecalculation())
}

func TestCashUtilizationTracksActivatedServers(t *testing.T) {
	p := NewCashPolicy()
	s := &Server{ID: 0, Period: simtime.FromSeconds(0.1), MaxBudget: simtime.FromSeconds(0.02)}
	p.OnServerStateChange(s, Activated)
	require.InDelta(t, 0.2, p.SchedulerUtilization(), 1e-9)
	require.InDelta(t, 0.2, p.ActiveUtilization(), 1e-9)
	require.InDelta(t, 0.2, p.MaxSchedulerUtilization(), 1e-9)
}

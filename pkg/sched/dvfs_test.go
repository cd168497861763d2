package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

type fakeUtilSource struct {
	active    float64
	scheduler float64
	max       float64
}

func (f *fakeUtilSource) ActiveUtilization() float64       { return f.active }
func (f *fakeUtilSource) SchedulerUtilization() float64    { return f.scheduler }
func (f *fakeUtilSource) MaxSchedulerUtilization() float64 { return f.max }

func newDualProcPlatform(t *testing.T, eng *engine.Engine) (*platform.Platform, simtime.ClockDomainID) {
	t.Helper()
	plat := platform.New(eng, false)
	typeID, err := plat.AddProcessorType("cluster0", 1.0, 0)
	require.NoError(t, err)
	domainID, err := plat.AddClockDomain(1000, 2000, 0)
	require.NoError(t, err)
	powerID, err := plat.AddPowerDomain(nil)
	require.NoError(t, err)
	_, err = plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	_, err = plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	plat.Finalize()
	return plat, domainID
}

func TestPowerAwareSetsFrequencyLinearlyInUtilization(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	util := &fakeUtilSource{active: 0.5}
	p := NewPowerAwarePolicy(eng, plat, domainID, util, simtime.Zero)

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, simtime.Frequency(1500), plat.ClockDomain(domainID).CurrentFreq)
}

func TestPowerAwareClipsUtilizationAboveOne(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	util := &fakeUtilSource{active: 1.5}
	p := NewPowerAwarePolicy(eng, plat, domainID, util, simtime.Zero)

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, simtime.Frequency(2000), plat.ClockDomain(domainID).CurrentFreq)
}

func TestPowerAwareCooldownDropsChangeUntilElapsed(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	util := &fakeUtilSource{active: 0.5}
	p := NewPowerAwarePolicy(eng, plat, domainID, util, simtime.FromSeconds(1.0))

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, simtime.Frequency(1500), plat.ClockDomain(domainID).CurrentFreq)

	util.active = 1.0
	p.OnUtilizationChanged(simtime.Epoch.Add(simtime.FromSeconds(0.1)))
	require.Equal(t, simtime.Frequency(1500), plat.ClockDomain(domainID).CurrentFreq, "change inside cooldown window must be dropped")

	p.OnUtilizationChanged(simtime.Epoch.Add(simtime.FromSeconds(1.5)))
	require.Equal(t, simtime.Frequency(2000), plat.ClockDomain(domainID).CurrentFreq)
}

func TestPowerAwareInvokesFrequencyChangedCallback(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	util := &fakeUtilSource{active: 0.5}
	p := NewPowerAwarePolicy(eng, plat, domainID, util, simtime.Zero)

	var called simtime.TimePoint
	fired := false
	p.SetFrequencyChangedCallback(func(now simtime.TimePoint) { fired = true; called = now })

	p.OnUtilizationChanged(simtime.Epoch)
	require.True(t, fired)
	require.Equal(t, simtime.Epoch, called)
}

func TestFfaTargetsEfficientFrequencyWhenRequirementIsLow(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	require.NoError(t, plat.SetEfficientFrequency(domainID, 1500))
	util := &fakeUtilSource{scheduler: 0.2, max: 0.2}
	p := NewFfaPolicy(eng, plat, domainID, util, 1, simtime.Zero, false)

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, simtime.Frequency(1500), plat.ClockDomain(domainID).CurrentFreq)
}

func TestFfaUsesAllCoresAtCeiledFrequencyWhenAboveEfficientThreshold(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	require.NoError(t, plat.SetEfficientFrequency(domainID, 1200))
	util := &fakeUtilSource{scheduler: 1.8, max: 0.9}
	p := NewFfaPolicy(eng, plat, domainID, util, 1, simtime.Zero, false)

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, 2, p.appliedCores)
}

func TestCsfRequestsFewerCoresAtLowUtilization(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	require.NoError(t, plat.SetEfficientFrequency(domainID, 1000))
	util := &fakeUtilSource{active: 0.3, max: 0.3}
	p := NewCsfPolicy(eng, plat, domainID, util, 1, simtime.Zero, false)

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, 1, p.appliedCores)
}

func TestCsfSleepsExcessIdleProcessorsAtRequestedCStateLevel(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	require.NoError(t, plat.SetEfficientFrequency(domainID, 1000))
	util := &fakeUtilSource{active: 0.3, max: 0.3}
	p := NewCsfPolicy(eng, plat, domainID, util, 1, simtime.Zero, false)

	p.OnUtilizationChanged(simtime.Epoch)
	cd := plat.ClockDomain(domainID)
	idleProc := plat.Processor(cd.Processors[1])
	require.Equal(t, platform.Sleep, idleProc.State)
}

func TestTimerVariantDefersApplyUntilCooldownElapses(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	util := &fakeUtilSource{active: 0.5}
	p := NewPowerAwarePolicy(eng, plat, domainID, util, simtime.Zero)
	p.timerVariant = true
	p.cooldown = simtime.FromSeconds(1.0)

	p.OnUtilizationChanged(simtime.Epoch)
	require.Equal(t, simtime.Frequency(2000), plat.ClockDomain(domainID).CurrentFreq, "apply must not happen synchronously for a timer variant")

	eng.Run()
	require.Equal(t, simtime.Frequency(1500), plat.ClockDomain(domainID).CurrentFreq)
}

// TestTimerVariantCollisionCancelsEarlierPendingApply pins the Open Question
// behavior on a timer-variant policy: a second utilization change arriving
// while an earlier one is still pending cooldown cancels and replaces it,
// rather than queuing both.
func TestTimerVariantCollisionCancelsEarlierPendingApply(t *testing.T) {
	eng := engine.New()
	plat, domainID := newDualProcPlatform(t, eng)
	util := &fakeUtilSource{active: 0.5}
	p := NewPowerAwarePolicy(eng, plat, domainID, util, simtime.Zero)
	p.timerVariant = true
	p.cooldown = simtime.FromSeconds(1.0)

	p.OnUtilizationChanged(simtime.Epoch)
	firstTimer := p.pendingTimer

	util.active = 1.0
	_, err := eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(0.1)), engine.PriorityTimerDefault, func(now simtime.TimePoint) {
		p.OnUtilizationChanged(now)
	})
	require.NoError(t, err)

	eng.Run()
	require.NotEqual(t, firstTimer, p.pendingTimer)
	require.Equal(t, simtime.Frequency(2000), plat.ClockDomain(domainID).CurrentFreq)
}

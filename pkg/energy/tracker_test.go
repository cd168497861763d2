package energy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

type fakeJob struct {
	remaining float64
	deadline  simtime.TimePoint
}

func (j *fakeJob) RemainingWork() float64              { return j.remaining }
func (j *fakeJob) ConsumeWork(amount float64)          { j.remaining -= amount }
func (j *fakeJob) IsComplete() bool                    { return j.remaining <= simtime.Tolerance }
func (j *fakeJob) AbsoluteDeadline() simtime.TimePoint { return j.deadline }

func newTrackedPlatform(t *testing.T, eng *engine.Engine) (*platform.Platform, *Tracker, simtime.ProcessorID) {
	t.Helper()
	plat := platform.New(eng, false)
	tracker := New(plat)
	plat.SetEnergyListener(tracker)

	typeID, err := plat.AddProcessorType("cluster0", 1.0, 0)
	require.NoError(t, err)
	domainID, err := plat.AddClockDomain(1000, 2000, 0)
	require.NoError(t, err)
	require.NoError(t, plat.SetPowerPolynomial(domainID, platform.PowerPolynomial{A0: 100}))
	powerID, err := plat.AddPowerDomain([]platform.CStateLevel{
		{Level: 1, Scope: platform.PerProcessor, WakeLatency: 0, Power: 10},
	})
	require.NoError(t, err)
	procID, err := plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	plat.Finalize()

	return plat, tracker, procID
}

func TestProcessorEnergyAccumulatesOverRunningInterval(t *testing.T) {
	eng := engine.New()
	plat, tracker, procID := newTrackedPlatform(t, eng)
	proc := plat.Processor(procID)

	job := &fakeJob{remaining: 1.0, deadline: simtime.Epoch.Add(simtime.FromSeconds(10))}
	require.NoError(t, proc.Assign(eng.Now(), job))

	// The platform's polynomial is flat (A0 only): P(f) = 100mW at any
	// frequency, so one second of Running accumulates 100mJ.
	now := simtime.Epoch.Add(simtime.FromSeconds(1.0))
	e := tracker.ProcessorEnergy(now, procID)
	require.InDelta(t, 100.0*1.0, float64(e), 1e-6)
}

func TestProcessorEnergyAccountsForSleepPower(t *testing.T) {
	eng := engine.New()
	plat, tracker, procID := newTrackedPlatform(t, eng)
	proc := plat.Processor(procID)

	require.NoError(t, proc.RequestCState(eng.Now(), 1))

	now := simtime.Epoch.Add(simtime.FromSeconds(2.0))
	e := tracker.ProcessorEnergy(now, procID)
	require.InDelta(t, 10.0*2.0, float64(e), 1e-6)
}

func TestProcessorEnergyZeroWhenNoPowerPolynomialSet(t *testing.T) {
	eng := engine.New()
	plat := platform.New(eng, false)
	tracker := New(plat)
	plat.SetEnergyListener(tracker)

	typeID, err := plat.AddProcessorType("cluster0", 1.0, 0)
	require.NoError(t, err)
	domainID, err := plat.AddClockDomain(1000, 2000, 0)
	require.NoError(t, err)
	powerID, err := plat.AddPowerDomain(nil)
	require.NoError(t, err)
	procID, err := plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	plat.Finalize()

	proc := plat.Processor(procID)
	job := &fakeJob{remaining: 1.0, deadline: simtime.Epoch.Add(simtime.FromSeconds(10))}
	require.NoError(t, proc.Assign(eng.Now(), job))

	now := simtime.Epoch.Add(simtime.FromSeconds(1.0))
	require.Equal(t, simtime.Energy(0), tracker.ProcessorEnergy(now, procID))
}

func TestClockDomainAndTotalEnergySumAcrossProcessors(t *testing.T) {
	eng := engine.New()
	plat := platform.New(eng, false)
	tracker := New(plat)
	plat.SetEnergyListener(tracker)

	typeID, err := plat.AddProcessorType("cluster0", 1.0, 0)
	require.NoError(t, err)
	domainID, err := plat.AddClockDomain(1000, 2000, 0)
	require.NoError(t, err)
	require.NoError(t, plat.SetPowerPolynomial(domainID, platform.PowerPolynomial{A0: 50}))
	powerID, err := plat.AddPowerDomain(nil)
	require.NoError(t, err)
	p0, err := plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	p1, err := plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	plat.Finalize()

	job0 := &fakeJob{remaining: 1.0, deadline: simtime.Epoch.Add(simtime.FromSeconds(10))}
	job1 := &fakeJob{remaining: 1.0, deadline: simtime.Epoch.Add(simtime.FromSeconds(10))}
	require.NoError(t, plat.Processor(p0).Assign(eng.Now(), job0))
	require.NoError(t, plat.Processor(p1).Assign(eng.Now(), job1))

	now := simtime.Epoch.Add(simtime.FromSeconds(1.0))
	total := tracker.Total(now)
	require.InDelta(t, 100.0, float64(total), 1e-6)

	domainTotal := tracker.ClockDomainEnergy(now, domainID)
	require.InDelta(t, 100.0, float64(domainTotal), 1e-6)
}

func TestFrequencyChangeClosesOutEnergyAtOldFrequency(t *testing.T) {
	eng := engine.New()
	plat := platform.New(eng, false)
	tracker := New(plat)
	plat.SetEnergyListener(tracker)

	typeID, err := plat.AddProcessorType("cluster0", 1.0, 0)
	require.NoError(t, err)
	domainID, err := plat.AddClockDomain(1000, 2000, 0)
	require.NoError(t, err)
	require.NoError(t, plat.SetPowerPolynomial(domainID, platform.PowerPolynomial{A0: 0, A1: 100}))
	powerID, err := plat.AddPowerDomain(nil)
	require.NoError(t, err)
	procID, err := plat.AddProcessor(typeID, domainID, powerID)
	require.NoError(t, err)
	plat.Finalize()

	proc := plat.Processor(procID)
	job := &fakeJob{remaining: 10.0, deadline: simtime.Epoch.Add(simtime.FromSeconds(100))}
	require.NoError(t, proc.Assign(eng.Now(), job))

	cd := plat.ClockDomain(domainID)
	// P(2.0GHz) = 200mW for 1s, then P(1.0GHz) = 100mW for 1s.
	require.NoError(t, cd.SetFrequency(simtime.Epoch.Add(simtime.FromSeconds(1.0)), 1000))

	now := simtime.Epoch.Add(simtime.FromSeconds(2.0))
	e := tracker.ProcessorEnergy(now, procID)
	require.InDelta(t, 200.0+100.0, float64(e), 1e-6)
}

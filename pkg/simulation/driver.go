// Package simulation wires the engine, platform, energy tracker, scheduler
// cluster set, and allocator into one runnable simulation (spec.md's driver,
// C11): it owns the construct-finalize-run lifecycle that cmd/schedsim
// otherwise would have to reimplement, and returns a google/uuid run ID
// alongside the result for callers to correlate a trace file with the run
// that produced it (out-of-band: the trace stream itself only ever carries
// the fixed record schema spec.md §6 names).
package simulation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fillien/schedsim/pkg/energy"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/scenario"
	"github.com/fillien/schedsim/pkg/sched"
	"github.com/fillien/schedsim/pkg/simtime"
)

// ReclaimKind selects a CBS bandwidth-reclamation policy (spec.md §4.7/§6).
type ReclaimKind string

// Reclaim policy names accepted on the CLI.
const (
	ReclaimNone ReclaimKind = "none"
	ReclaimGrub ReclaimKind = "grub"
	ReclaimCash ReclaimKind = "cash"
)

// DVFSKind selects a DVFS/DPM policy family (spec.md §4.10/§6).
type DVFSKind string

// DVFS policy names. cmd/schedsim accepts only DVFSNone and DVFSPowerAware;
// the others are reachable through Config.DVFS.
const (
	DVFSNone       DVFSKind = "none"
	DVFSPowerAware DVFSKind = "power-aware"
	DVFSFfa        DVFSKind = "ffa"
	DVFSCsf        DVFSKind = "csf"
	DVFSFfaTimer   DVFSKind = "ffa-timer"
	DVFSCsfTimer   DVFSKind = "csf-timer"
)

// Config holds every knob cmd/schedsim exposes (spec.md §6's flag table).
type Config struct {
	Reclaim ReclaimKind
	DVFS    DVFSKind

	DVFSCooldown       simtime.Duration
	DPMCState          int // 0 disables DPM sleep requests on excess idle cores
	TransitionDelay    simtime.Duration
	ContextSwitchDelay simtime.Duration
	CStates            []platform.CStateLevel

	Duration     simtime.Duration // run horizon; zero means run to queue exhaustion
	EnergyEnabled bool

	Selector sched.ClusterSelector // nil means sched.FirstFit
}

// Result is everything a caller needs after Run completes: a UUID
// identifying this run (for log/storage correlation only -- it never
// enters the trace stream, so spec.md §8 property 2's byte-identical-trace
// guarantee across runs of identical inputs is unaffected), the final
// deadline-miss/preemption counts, and the energy tracker for post-run
// queries.
type Result struct {
	RunID          string
	DeadlineMisses int
	Preemptions    int
	Energy         *energy.Tracker
}

func newReclaimPolicy(kind ReclaimKind, eng *engine.Engine, processorCount int) (sched.ReclaimPolicy, error) {
	switch kind {
	case ReclaimNone, "":
		return sched.NewNoReclaim(), nil
	case ReclaimGrub:
		return sched.NewGrubPolicy(eng, processorCount), nil
	case ReclaimCash:
		return sched.NewCashPolicy(), nil
	default:
		return nil, fmt.Errorf("simulation: unknown reclaim policy %q", kind)
	}
}

func newDVFSPolicy(kind DVFSKind, eng *engine.Engine, plat *platform.Platform, domainID simtime.ClockDomainID, util sched.UtilizationSource, cstateLevel int, cooldown simtime.Duration) (sched.DVFSPolicy, error) {
	switch kind {
	case DVFSNone, "":
		return nil, nil
	case DVFSPowerAware:
		return sched.NewPowerAwarePolicy(eng, plat, domainID, util, cooldown), nil
	case DVFSFfa:
		return sched.NewFfaPolicy(eng, plat, domainID, util, cstateLevel, cooldown, false), nil
	case DVFSFfaTimer:
		return sched.NewFfaPolicy(eng, plat, domainID, util, cstateLevel, cooldown, true), nil
	case DVFSCsf:
		return sched.NewCsfPolicy(eng, plat, domainID, util, cstateLevel, cooldown, false), nil
	case DVFSCsfTimer:
		return sched.NewCsfPolicy(eng, plat, domainID, util, cstateLevel, cooldown, true), nil
	default:
		return nil, fmt.Errorf("simulation: unknown dvfs policy %q", kind)
	}
}

// Run builds one platform from platSpec, one global-EDF scheduler per
// cluster sharing cfg's reclaim/DVFS policies, binds every task of sc to a
// cluster via a MultiClusterAllocator, releases sc's pre-scripted jobs, and
// drains eng. eng must be fresh (no prior Run); callers create a new
// engine per run to keep engine state from leaking across runs (spec.md
// §8 property 2: identical inputs, byte-identical outputs).
func Run(eng *engine.Engine, platSpec *scenario.PlatformSpec, sc *scenario.Scenario, cfg Config) (*Result, error) {
	plat, handles, err := scenario.BuildPlatform(platSpec, eng, cfg.TransitionDelay, cfg.ContextSwitchDelay, cfg.CStates)
	if err != nil {
		return nil, err
	}

	var tracker *energy.Tracker
	if cfg.EnergyEnabled {
		tracker = energy.New(plat)
		plat.SetEnergyListener(tracker)
	}

	clusters := make([]sched.Cluster, len(handles))
	scheds := make([]*sched.EdfScheduler, len(handles))
	for i, h := range handles {
		policy, err := newReclaimPolicy(cfg.Reclaim, eng, len(h.Processors))
		if err != nil {
			return nil, err
		}
		edf := sched.NewEdfScheduler(eng, plat, h.Processors, policy)
		scheds[i] = edf
		clusters[i] = sched.Cluster{
			ID:               simtime.ClusterID(i),
			Domain:           h.Domain,
			Sched:            edf,
			PerfScore:        h.PerfScore,
			ReferenceFreqMax: h.FreqMax,
		}
		dvfs, err := newDVFSPolicy(cfg.DVFS, eng, plat, h.Domain, edf, cfg.DPMCState, cfg.DVFSCooldown)
		if err != nil {
			return nil, err
		}
		if dvfs != nil {
			edf.SetDVFSPolicy(dvfs)
		}
	}

	selector := cfg.Selector
	if selector == nil {
		selector = sched.FirstFit
	}
	allocator := sched.NewMultiClusterAllocator(plat, clusters, selector)

	if err := eng.SetJobArrivalHandler(); err != nil {
		return nil, err
	}
	releaser := newJobReleaser(eng, plat, allocator.Handler())
	for _, t := range sc.Tasks {
		if err := releaser.addTask(t); err != nil {
			return nil, err
		}
	}
	if err := releaser.requireHorizonForPeriodicTasks(cfg.Duration); err != nil {
		return nil, err
	}
	releaser.armAll(cfg.Duration)

	if cfg.Duration > 0 {
		eng.RunUntil(simtime.Epoch.Add(cfg.Duration))
	} else {
		eng.Run()
	}

	var totalMisses, totalPreemptions int
	for _, s := range scheds {
		totalMisses += s.DeadlineMisses()
		totalPreemptions += s.Preemptions()
	}

	if tracker != nil {
		for _, p := range plat.Processors {
			e := tracker.ProcessorEnergy(eng.Now(), p.ID)
			eng.Trace("energy", func(r engine.Record) {
				r.Field("proc", uint64(p.ID)).Field("energy_mj", float64(e))
			})
		}
	}

	return &Result{
		RunID:          uuid.NewString(),
		DeadlineMisses: totalMisses,
		Preemptions:    totalPreemptions,
		Energy:         tracker,
	}, nil
}

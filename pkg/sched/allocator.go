package sched

import (
	"sort"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

// ArrivalHandler is the engine-facing job-arrival entry point an allocator
// registers once per engine (spec.md §4.11).
type ArrivalHandler func(task platform.Task, job *Job) error

// SingleSchedulerAllocator forwards every arrival to one EdfScheduler.
// Grounded on the teacher's filter-and-select query style generalized to a
// trivial one-cluster case (DESIGN.md's C10 entry).
type SingleSchedulerAllocator struct {
	sched *EdfScheduler
}

// NewSingleSchedulerAllocator returns an allocator forwarding every arrival
// to sched.
func NewSingleSchedulerAllocator(sched *EdfScheduler) *SingleSchedulerAllocator {
	return &SingleSchedulerAllocator{sched: sched}
}

// Handler returns the ArrivalHandler to register on the engine's single
// job-arrival slot.
func (a *SingleSchedulerAllocator) Handler() ArrivalHandler {
	return a.sched.OnJobArrival
}

// Cluster is one MultiClusterAllocator partition: a clock domain's
// processors dispatched by their own EdfScheduler, with the parameters
// needed to scale a task's utilization onto this cluster's speed (spec.md
// §4.11).
type Cluster struct {
	ID              simtime.ClusterID
	Domain          simtime.ClockDomainID
	Sched           *EdfScheduler
	PerfScore       float64
	ReferenceFreqMax simtime.Frequency
	UTarget         float64 // admission headroom target, informational
}

// scaleSpeed returns reference_freq_max / cluster_freq_max.
func (c Cluster) scaleSpeed(plat *platform.Platform) float64 {
	freqMax := plat.ClockDomain(c.Domain).FreqMax
	if freqMax == 0 {
		return 1.0
	}
	return float64(c.ReferenceFreqMax) / float64(freqMax)
}

// scaledUtilization returns task_util * scale_speed / perf_score for this
// cluster (spec.md §4.11).
func (c Cluster) scaledUtilization(plat *platform.Platform, taskUtil float64) float64 {
	if c.PerfScore == 0 {
		return taskUtil
	}
	return taskUtil * c.scaleSpeed(plat) / c.PerfScore
}

// remainingCapacity returns processor_count - raw_utilization for the
// cluster's own scheduler (BestFit/WorstFit selection metric).
func (c Cluster) remainingCapacity(procCount int) float64 {
	return float64(procCount) - c.Sched.SchedulerUtilization()
}

// canAdmit reports whether adding a task of the given (wcet, period) to
// this cluster, scaled to its speed, would still pass its scheduler's
// admission test.
func (c Cluster) canAdmit(plat *platform.Platform, wcet, period simtime.Duration) bool {
	scaled := c.scaledUtilization(plat, wcet.Ratio(period))
	scaledWCET := simtime.Duration(scaled * float64(period))
	return c.Sched.admit(scaledWCET, period) == nil
}

// ClusterSelector picks a cluster for a task's first arrival (spec.md
// §4.11's FirstFit/BestFit/WorstFit strategies).
type ClusterSelector func(clusters []Cluster, plat *platform.Platform, task platform.Task) (simtime.ClusterID, bool)

// FirstFit scans clusters in construction order and returns the first
// whose can_admit succeeds.
func FirstFit(clusters []Cluster, plat *platform.Platform, task platform.Task) (simtime.ClusterID, bool) {
	for _, c := range clusters {
		if c.canAdmit(plat, task.WCET, task.Period) {
			return c.ID, true
		}
	}
	return 0, false
}

// BestFit picks, among admitting clusters, the one with the smallest
// remaining capacity.
func BestFit(clusters []Cluster, plat *platform.Platform, task platform.Task) (simtime.ClusterID, bool) {
	return pickByCapacity(clusters, plat, task, func(a, b float64) bool { return a < b })
}

// WorstFit picks, among admitting clusters, the one with the largest
// remaining capacity.
func WorstFit(clusters []Cluster, plat *platform.Platform, task platform.Task) (simtime.ClusterID, bool) {
	return pickByCapacity(clusters, plat, task, func(a, b float64) bool { return a > b })
}

func pickByCapacity(clusters []Cluster, plat *platform.Platform, task platform.Task, better func(a, b float64) bool) (simtime.ClusterID, bool) {
	best := -1
	var bestCap float64
	for i, c := range clusters {
		if !c.canAdmit(plat, task.WCET, task.Period) {
			continue
		}
		remaining := c.remainingCapacity(len(plat.ClockDomain(c.Domain).Processors))
		if best == -1 || better(remaining, bestCap) {
			best, bestCap = i, remaining
		}
	}
	if best == -1 {
		return 0, false
	}
	return clusters[best].ID, true
}

// Optimal is a supplemented brute-force baseline: it admits the task to
// whichever admitting cluster would end up with the lowest resulting
// scheduler utilization, breaking ties by construction order. Grounded on
// original_source/schedlib/include/simulator/allocators/optimal.hpp's
// exhaustive-placement search (see SPEC_FULL's Supplemented features).
func Optimal(clusters []Cluster, plat *platform.Platform, task platform.Task) (simtime.ClusterID, bool) {
	type candidate struct {
		id     simtime.ClusterID
		result float64
	}
	var candidates []candidate
	for _, c := range clusters {
		if !c.canAdmit(plat, task.WCET, task.Period) {
			continue
		}
		scaled := c.scaledUtilization(plat, task.WCET.Ratio(task.Period))
		candidates = append(candidates, candidate{id: c.ID, result: c.Sched.SchedulerUtilization() + scaled})
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].result < candidates[j].result })
	return candidates[0].id, true
}

// MultiClusterAllocator holds N clusters and permanently binds each task to
// the cluster chosen by its selector on the task's first arrival; later
// arrivals of the same task forward directly, without re-selecting (spec.md
// §4.11).
type MultiClusterAllocator struct {
	plat     *platform.Platform
	clusters []Cluster
	selector ClusterSelector
	binding  map[simtime.TaskID]simtime.ClusterID
}

// NewMultiClusterAllocator returns a MultiClusterAllocator over clusters
// (in construction/scan order), selecting with selector.
func NewMultiClusterAllocator(plat *platform.Platform, clusters []Cluster, selector ClusterSelector) *MultiClusterAllocator {
	return &MultiClusterAllocator{
		plat:     plat,
		clusters: clusters,
		selector: selector,
		binding:  map[simtime.TaskID]simtime.ClusterID{},
	}
}

func (a *MultiClusterAllocator) clusterByID(id simtime.ClusterID) *Cluster {
	for i := range a.clusters {
		if a.clusters[i].ID == id {
			return &a.clusters[i]
		}
	}
	return nil
}

// Handler returns the ArrivalHandler to register on the engine's single
// job-arrival slot.
func (a *MultiClusterAllocator) Handler() ArrivalHandler {
	return a.onJobArrival
}

func (a *MultiClusterAllocator) onJobArrival(task platform.Task, job *Job) error {
	clusterID, ok := a.binding[task.ID]
	if !ok {
		id, selected := a.selector(a.clusters, a.plat, task)
		if !selected {
			return simerrors.AdmissionFailure("task %d: no cluster could admit wcet=%v period=%v", task.ID, task.WCET, task.Period)
		}
		a.binding[task.ID] = id
		clusterID = id
		if c := a.clusterByID(id); c != nil {
			c.Sched.eng.Trace("task_placed", func(r engine.Record) {
				r.Field("task_id", uint64(task.ID)).Field("cluster_id", uint64(id))
			})
		}
	}
	c := a.clusterByID(clusterID)
	if c == nil {
		return simerrors.InvalidState("task %d: bound cluster %d no longer exists", task.ID, clusterID)
	}
	return c.Sched.OnJobArrival(task, job)
}

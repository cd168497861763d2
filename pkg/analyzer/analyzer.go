// Package analyzer computes post-hoc summaries over a recorded trace
// (spec.md §6's Analyzer CLI): per-task response-time percentiles,
// deadline-miss and preemption counts, per-processor utilization (summed
// busy-span length over the horizon; an interval tree over each
// processor's busy spans checks that they never overlap, grounded on the
// teacher's analysis/sched_cpu_span_set.go use of
// github.com/Workiva/go-datastructures/augmentedtree for
// sleepingSpansByCPU/waitingSpansByCPU), and energy per processor/total.
package analyzer

import (
	"math"
	"sort"

	"github.com/Workiva/go-datastructures/augmentedtree"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/trace"
)

// busySpan is one processor_active interval, implementing
// augmentedtree.Interval the same way the teacher's threadSpan does.
type busySpan struct {
	id         uint64
	start, end int64 // nanoseconds
}

func (s *busySpan) LowAtDimension(d uint64) int64  { return s.start }
func (s *busySpan) HighAtDimension(d uint64) int64 { return s.end }
func (s *busySpan) OverlapsAtDimension(o augmentedtree.Interval, d uint64) bool {
	return s.HighAtDimension(d) >= o.LowAtDimension(d) && o.HighAtDimension(d) >= s.LowAtDimension(d)
}
func (s *busySpan) ID() uint64 { return s.id }

// ResponseTimeStats summarizes a distribution of job response times
// (seconds), per spec.md §6's Analyzer CLI fields.
type ResponseTimeStats struct {
	Count               int
	Min, Max, Mean       float64
	Median, StdDev       float64
	P95, P99             float64
}

func computeResponseTimeStats(values []float64) ResponseTimeStats {
	if len(values) == 0 {
		return ResponseTimeStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var variance float64
	for _, v := range sorted {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	return ResponseTimeStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean,
		Median: percentile(sorted, 0.50),
		StdDev: math.Sqrt(variance),
		P95:    percentile(sorted, 0.95),
		P99:    percentile(sorted, 0.99),
	}
}

// percentile uses the nearest-rank method over an already-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// TaskStats is one task's response-time summary.
type TaskStats struct {
	TaskID       uint64
	ResponseTime ResponseTimeStats
}

// ProcessorStats is one processor's busy-time, utilization, and energy
// summary.
type ProcessorStats struct {
	Proc        uint64
	BusyTime    float64 // seconds
	Utilization float64 // BusyTime / Horizon
	EnergyMJ    float64
}

// Summary is the full analysis over one trace.
type Summary struct {
	Horizon        float64
	DeadlineMisses int
	Preemptions    int
	Tasks          []TaskStats
	Processors     []ProcessorStats
	TotalEnergyMJ  float64
}

type jobKey struct {
	task, job uint64
}

// Analyze computes a Summary over records, a chronologically ordered trace
// as produced by pkg/trace.Load.
func Analyze(records []trace.Record) (*Summary, error) {
	arrivals := map[jobKey]float64{}
	var responseTimesByTask = map[uint64][]float64{}
	var deadlineMisses, preemptions int
	busyByProc := map[uint64][]*busySpan{}
	energyByProc := map[uint64]float64{}
	var horizon float64
	var nextSpanID uint64

	for _, r := range records {
		tSeconds := secondsOf(r)
		if tSeconds > horizon {
			horizon = tSeconds
		}
		switch r.Type {
		case "job_arrival":
			taskID, _ := r.Uint("task_id")
			jobID, _ := r.Uint("job_id")
			arrivals[jobKey{taskID, jobID}] = tSeconds
		case "job_completion":
			taskID, _ := r.Uint("task_id")
			jobID, _ := r.Uint("job_id")
			if arrival, ok := arrivals[jobKey{taskID, jobID}]; ok {
				responseTimesByTask[taskID] = append(responseTimesByTask[taskID], tSeconds-arrival)
			}
		case "deadline_miss":
			deadlineMisses++
		case "preemption":
			preemptions++
		case "processor_active":
			proc, _ := r.Uint("proc")
			duration, _ := r.Float("duration")
			nextSpanID++
			busyByProc[proc] = append(busyByProc[proc], &busySpan{
				id:    nextSpanID,
				start: int64((tSeconds - duration) * 1e9),
				end:   int64(tSeconds * 1e9),
			})
		case "energy":
			proc, _ := r.Uint("proc")
			energy, _ := r.Float("energy_mj")
			energyByProc[proc] = energy // cumulative snapshot, not a delta
		}
	}

	summary := &Summary{Horizon: horizon, DeadlineMisses: deadlineMisses, Preemptions: preemptions}

	taskIDs := make([]uint64, 0, len(responseTimesByTask))
	for id := range responseTimesByTask {
		taskIDs = append(taskIDs, id)
	}
	sort.Slice(taskIDs, func(i, j int) bool { return taskIDs[i] < taskIDs[j] })
	for _, id := range taskIDs {
		summary.Tasks = append(summary.Tasks, TaskStats{
			TaskID:       id,
			ResponseTime: computeResponseTimeStats(responseTimesByTask[id]),
		})
	}

	procIDs := make([]uint64, 0, len(busyByProc))
	for id := range busyByProc {
		procIDs = append(procIDs, id)
	}
	sort.Slice(procIDs, func(i, j int) bool { return procIDs[i] < procIDs[j] })
	for _, id := range procIDs {
		spans := busyByProc[id]
		if err := checkNonOverlapping(spans); err != nil {
			return nil, err
		}
		var busy float64
		for _, s := range spans {
			busy += float64(s.end-s.start) / 1e9
		}
		util := 0.0
		if horizon > 0 {
			util = busy / horizon
		}
		summary.Processors = append(summary.Processors, ProcessorStats{
			Proc:        id,
			BusyTime:    busy,
			Utilization: util,
			EnergyMJ:    energyByProc[id],
		})
		summary.TotalEnergyMJ += energyByProc[id]
	}

	return summary, nil
}

func secondsOf(r trace.Record) float64 {
	return float64(r.Time) / 1e9
}

// checkNonOverlapping builds an interval tree over spans and confirms no
// two Running intervals on the same processor overlap (spec.md §5's "each
// processor is mutated by exactly one scheduler" invariant should make
// overlapping impossible; a violation here indicates a scheduler bug, not
// a malformed trace).
func checkNonOverlapping(spans []*busySpan) error {
	tree := augmentedtree.New(1)
	for _, s := range spans {
		overlapping := tree.Query(s)
		for _, o := range overlapping {
			if o.ID() != s.ID() {
				return simerrors.InvalidState("analyzer: overlapping busy spans on one processor")
			}
		}
		tree.Add(s)
	}
	return nil
}

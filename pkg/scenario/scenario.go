// Package scenario implements the scenario and platform JSON interchange
// formats (spec.md §6): load/validate, and write back in canonical form so
// write∘load is the identity at the value level (spec.md §8 property 12).
package scenario

import (
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/fillien/schedsim/internal/simerrors"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// JobSpec is one pre-scripted job release in a TaskSpec.
type JobSpec struct {
	Arrival  float64 // seconds
	Duration float64 // seconds
}

// TaskSpec is one task entry of a Scenario, fully resolved: RelativeDeadline
// and WCET are always present after Load, even if the source JSON supplied
// only a period default or a utilization.
type TaskSpec struct {
	ID               uint64
	Period           float64 // seconds
	RelativeDeadline float64 // seconds
	WCET             float64 // seconds
	Jobs             []JobSpec
}

// Scenario is a fully resolved, validated task set.
type Scenario struct {
	Tasks []TaskSpec
}

type rawJob struct {
	Arrival  float64 `json:"arrival"`
	Duration float64 `json:"duration"`
}

type rawTask struct {
	ID               uint64   `json:"id"`
	Period           float64  `json:"period"`
	RelativeDeadline *float64 `json:"relative_deadline"`
	WCET             *float64 `json:"wcet"`
	Utilization      *float64 `json:"utilization"`
	Jobs             []rawJob `json:"jobs"`
}

type rawScenario struct {
	Tasks []rawTask `json:"tasks"`
}

// Load decodes and validates a scenario from r (spec.md §6's validation
// rules): period > 0, relative_deadline >= wcet, job.duration > 0; jobs are
// sorted by arrival. A task missing both wcet and utilization is an error.
func Load(r io.Reader) (*Scenario, error) {
	var raw rawScenario
	if err := api.NewDecoder(r).Decode(&raw); err != nil {
		return nil, simerrors.LoaderError("scenario: %v", err)
	}
	sc := &Scenario{Tasks: make([]TaskSpec, 0, len(raw.Tasks))}
	for _, t := range raw.Tasks {
		if t.Period <= 0 {
			return nil, simerrors.LoaderError("scenario: task %d: period must be > 0", t.ID)
		}
		var wcet float64
		switch {
		case t.WCET != nil:
			wcet = *t.WCET
		case t.Utilization != nil:
			if *t.Utilization <= 0 || *t.Utilization > 1 {
				return nil, simerrors.LoaderError("scenario: task %d: utilization %v outside (0, 1]", t.ID, *t.Utilization)
			}
			wcet = t.Period * *t.Utilization
		default:
			return nil, simerrors.LoaderError("scenario: task %d: must set wcet or utilization", t.ID)
		}
		deadline := t.Period
		if t.RelativeDeadline != nil {
			deadline = *t.RelativeDeadline
		}
		if deadline < wcet {
			return nil, simerrors.LoaderError("scenario: task %d: relative_deadline %v < wcet %v", t.ID, deadline, wcet)
		}
		var jobs []JobSpec
		for _, j := range t.Jobs {
			if j.Duration <= 0 {
				return nil, simerrors.LoaderError("scenario: task %d: job duration must be > 0", t.ID)
			}
			jobs = append(jobs, JobSpec{Arrival: j.Arrival, Duration: j.Duration})
		}
		sort.Slice(jobs, func(i, k int) bool { return jobs[i].Arrival < jobs[k].Arrival })
		sc.Tasks = append(sc.Tasks, TaskSpec{
			ID:               t.ID,
			Period:           t.Period,
			RelativeDeadline: deadline,
			WCET:             wcet,
			Jobs:             jobs,
		})
	}
	return sc, nil
}

// Write serializes sc in canonical form: wcet and relative_deadline are
// always emitted explicitly (never utilization or an omitted deadline), and
// jobs stay in sorted-arrival order, so Write(Load(x)) is a value-level
// identity regardless of which optional fields x used.
func Write(w io.Writer, sc *Scenario) error {
	stream := api.BorrowStream(w)
	defer api.ReturnStream(stream)
	stream.WriteObjectStart()
	stream.WriteObjectField("tasks")
	stream.WriteArrayStart()
	for i, t := range sc.Tasks {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		stream.WriteObjectField("id")
		stream.WriteUint64(t.ID)
		stream.WriteMore()
		stream.WriteObjectField("period")
		stream.WriteFloat64(t.Period)
		stream.WriteMore()
		stream.WriteObjectField("relative_deadline")
		stream.WriteFloat64(t.RelativeDeadline)
		stream.WriteMore()
		stream.WriteObjectField("wcet")
		stream.WriteFloat64(t.WCET)
		if len(t.Jobs) > 0 {
			stream.WriteMore()
			stream.WriteObjectField("jobs")
			stream.WriteArrayStart()
			for j, job := range t.Jobs {
				if j > 0 {
					stream.WriteMore()
				}
				stream.WriteObjectStart()
				stream.WriteObjectField("arrival")
				stream.WriteFloat64(job.Arrival)
				stream.WriteMore()
				stream.WriteObjectField("duration")
				stream.WriteFloat64(job.Duration)
				stream.WriteObjectEnd()
			}
			stream.WriteArrayEnd()
		}
		stream.WriteObjectEnd()
	}
	stream.WriteArrayEnd()
	stream.WriteObjectEnd()
	return stream.Flush()
}

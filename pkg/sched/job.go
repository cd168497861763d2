// Package sched implements spec.md's C6 CBS server, C7 reclamation
// policies, C8 global-EDF scheduler, C9 DVFS/DPM policies, and C10
// allocator. Schedulers and allocators refer to processors and clock
// domains by ID and resolve them through the *platform.Platform they hold;
// the ISRs installed on each processor at registration time are closures
// over the owning scheduler (spec.md §9's "pass scheduler-owned mutable
// references into the ISR closures" note).
package sched

import "github.com/fillien/schedsim/pkg/simtime"

// Job is one unit of real-time work released by a Task. It implements
// platform.RunningJob so a Processor can execute it directly.
type Job struct {
	TaskID   simtime.TaskID
	ID       simtime.JobID
	Arrival  simtime.TimePoint
	Deadline simtime.TimePoint // task arrival + relative_deadline: the hard real-time deadline

	remaining float64 // reference-unit seconds
	total     float64
}

// NewJob returns a Job releasing workSeconds reference-unit seconds of
// work, due no later than deadline.
func NewJob(taskID simtime.TaskID, id simtime.JobID, arrival, deadline simtime.TimePoint, workSeconds float64) *Job {
	return &Job{TaskID: taskID, ID: id, Arrival: arrival, Deadline: deadline, remaining: workSeconds, total: workSeconds}
}

// RemainingWork returns the job's remaining reference-unit work, in seconds.
func (j *Job) RemainingWork() float64 { return j.remaining }

// ConsumeWork subtracts amount from the job's remaining work, never going
// below zero.
func (j *Job) ConsumeWork(amount float64) {
	j.remaining -= amount
	if j.remaining < 0 {
		j.remaining = 0
	}
}

// IsComplete reports whether remaining work is at or below simtime.Tolerance.
func (j *Job) IsComplete() bool { return j.remaining <= simtime.Tolerance }

// AbsoluteDeadline returns the job's hard real-time deadline.
func (j *Job) AbsoluteDeadline() simtime.TimePoint { return j.Deadline }

// TotalWork returns the job's original reference-unit work demand.
func (j *Job) TotalWork() float64 { return j.total }

package simulation

import (
	"sort"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/scenario"
	"github.com/fillien/schedsim/pkg/sched"
	"github.com/fillien/schedsim/pkg/simtime"
)

// jobReleaser turns a scenario.Scenario's tasks into platform.Task
// registrations and a schedule of Job arrivals dispatched through an
// allocator's single ArrivalHandler (spec.md §4.11's one-handler
// invariant). A task with an explicit Jobs list releases exactly those
// pre-scripted jobs; a task with none is periodic and releases one job of
// the task's WCET every period, for as many periods as fit in the run
// horizon.
type jobReleaser struct {
	eng     *engine.Engine
	plat    *platform.Platform
	handler sched.ArrivalHandler

	taskID  map[uint64]simtime.TaskID
	spec    map[uint64]scenario.TaskSpec
	nextJob map[simtime.TaskID]int
}

func newJobReleaser(eng *engine.Engine, plat *platform.Platform, handler sched.ArrivalHandler) *jobReleaser {
	return &jobReleaser{
		eng:     eng,
		plat:    plat,
		handler: handler,
		taskID:  map[uint64]simtime.TaskID{},
		spec:    map[uint64]scenario.TaskSpec{},
		nextJob: map[simtime.TaskID]int{},
	}
}

// addTask registers t's platform.Task. Scheduling its releases happens in
// armAll, once every task is registered and the platform can be finalized.
func (r *jobReleaser) addTask(t scenario.TaskSpec) error {
	id, err := r.plat.AddTask(simtime.FromSeconds(t.Period), simtime.FromSeconds(t.RelativeDeadline), simtime.FromSeconds(t.WCET))
	if err != nil {
		return err
	}
	r.taskID[t.ID] = id
	r.spec[t.ID] = t
	return nil
}

// requireHorizonForPeriodicTasks rejects a zero run horizon when any
// registered task has no pre-scripted jobs (a periodic task would never
// stop releasing).
func (r *jobReleaser) requireHorizonForPeriodicTasks(horizon simtime.Duration) error {
	if horizon > 0 {
		return nil
	}
	for _, t := range r.spec {
		if len(t.Jobs) == 0 {
			return simerrors.LoaderError("task %d: periodic task (no pre-scripted jobs) requires a nonzero duration", t.ID)
		}
	}
	return nil
}

// armAll finalizes the platform (no more tasks/hardware may be added) and
// schedules every task's release timers up to horizon (zero means
// unbounded, legal only once requireHorizonForPeriodicTasks has passed).
func (r *jobReleaser) armAll(horizon simtime.Duration) {
	r.plat.Finalize()
	ids := make([]uint64, 0, len(r.spec))
	for id := range r.spec {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		t := r.spec[id]
		taskID := r.taskID[id]
		if len(t.Jobs) > 0 {
			for _, j := range t.Jobs {
				r.armOneShot(taskID, simtime.FromSeconds(j.Arrival), j.Duration)
			}
			continue
		}
		r.armPeriodic(taskID, t, horizon)
	}
}

func (r *jobReleaser) armOneShot(taskID simtime.TaskID, arrival simtime.Duration, workSeconds float64) {
	fire := simtime.Epoch.Add(arrival)
	if fire < r.eng.Now() {
		fire = r.eng.Now()
	}
	_, _ = r.eng.AddTimer(fire, engine.PriorityJobArrival, func(now simtime.TimePoint) {
		r.release(now, taskID, workSeconds)
	})
}

func (r *jobReleaser) armPeriodic(taskID simtime.TaskID, t scenario.TaskSpec, horizon simtime.Duration) {
	period := simtime.FromSeconds(t.Period)
	var fire func(now simtime.TimePoint)
	fire = func(now simtime.TimePoint) {
		r.release(now, taskID, t.WCET)
		next := now.Add(period)
		if horizon > 0 && next.Sub(simtime.Epoch) > horizon {
			return
		}
		if _, err := r.eng.AddTimer(next, engine.PriorityJobArrival, fire); err != nil {
			return
		}
	}
	_, _ = r.eng.AddTimer(r.eng.Now(), engine.PriorityJobArrival, fire)
}

// release builds and forwards one Job, assigning it the next monotonic
// job ID local to taskID.
func (r *jobReleaser) release(now simtime.TimePoint, taskID simtime.TaskID, workSeconds float64) {
	task := r.plat.Task(taskID)
	jobID := simtime.JobID(r.nextJob[taskID])
	r.nextJob[taskID] = int(jobID) + 1
	deadline := now.Add(task.RelativeDeadline)
	job := sched.NewJob(taskID, jobID, now, deadline, workSeconds)
	if err := r.handler(task, job); err != nil {
		r.eng.Trace("task_rejected", func(rec engine.Record) {
			rec.Field("task_id", uint64(taskID)).Field("job_id", uint64(jobID)).Field("error", err.Error())
		})
	}
}

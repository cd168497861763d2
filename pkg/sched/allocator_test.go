package sched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

// newAllocatorClusters builds a platform with n single-processor clock
// domains, each at 1000MHz, and one EdfScheduler per domain, wrapped as
// Clusters with PerfScore 1 and ReferenceFreqMax equal to the domain's
// FreqMax so scaleSpeed is 1 and utilization is unscaled.
func newAllocatorClusters(t *testing.T, eng *engine.Engine, n int) (*platform.Platform, []Cluster) {
	t.Helper()
	plat := platform.New(eng, false)
	typeID, err := plat.AddProcessorType("cluster", 1.0, 0)
	require.NoError(t, err)
	powerID, err := plat.AddPowerDomain(nil)
	require.NoError(t, err)

	clusters := make([]Cluster, n)
	for i := 0; i < n; i++ {
		domainID, err := plat.AddClockDomain(1000, 1000, 0)
		require.NoError(t, err)
		procID, err := plat.AddProcessor(typeID, domainID, powerID)
		require.NoError(t, err)
		sched := NewEdfScheduler(eng, plat, []simtime.ProcessorID{procID}, NewNoReclaim())
		clusters[i] = Cluster{
			ID:               simtime.ClusterID(i),
			Domain:           domainID,
			Sched:            sched,
			PerfScore:        1.0,
			ReferenceFreqMax: 1000,
		}
	}
	plat.Finalize()
	return plat, clusters
}

func preAdmit(t *testing.T, c Cluster, taskID simtime.TaskID, wcet, period simtime.Duration) {
	t.Helper()
	task := platform.Task{ID: taskID, Period: period, RelativeDeadline: period, WCET: wcet}
	job := NewJob(taskID, 0, simtime.Epoch, simtime.Epoch.Add(period), wcet.Ratio(simtime.Second))
	require.NoError(t, c.Sched.OnJobArrival(task, job))
}

func TestFirstFitReturnsFirstAdmittingClusterInOrder(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)

	task := platform.Task{ID: 5, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.2)}
	id, ok := FirstFit(clusters, plat, task)
	require.True(t, ok)
	require.Equal(t, simtime.ClusterID(0), id)
}

func TestFirstFitSkipsFullClusterAndPicksNextThatAdmits(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.9), simtime.FromSeconds(1.0))

	task := platform.Task{ID: 1, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.2)}
	id, ok := FirstFit(clusters, plat, task)
	require.True(t, ok)
	require.Equal(t, simtime.ClusterID(1), id)
}

func TestFirstFitReportsFailureWhenNoClusterAdmits(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.95), simtime.FromSeconds(1.0))
	preAdmit(t, clusters[1], 1, simtime.FromSeconds(0.95), simtime.FromSeconds(1.0))

	task := platform.Task{ID: 2, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.2)}
	_, ok := FirstFit(clusters, plat, task)
	require.False(t, ok)
}

func TestBestFitPicksAdmittingClusterWithSmallestRemainingCapacity(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.3), simtime.FromSeconds(1.0))
	preAdmit(t, clusters[1], 1, simtime.FromSeconds(0.6), simtime.FromSeconds(1.0))

	task := platform.Task{ID: 2, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.1)}
	id, ok := BestFit(clusters, plat, task)
	require.True(t, ok)
	require.Equal(t, simtime.ClusterID(1), id)
}

func TestWorstFitPicksAdmittingClusterWithLargestRemainingCapacity(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.3), simtime.FromSeconds(1.0))
	preAdmit(t, clusters[1], 1, simtime.FromSeconds(0.6), simtime.FromSeconds(1.0))

	task := platform.Task{ID: 2, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.1)}
	id, ok := WorstFit(clusters, plat, task)
	require.True(t, ok)
	require.Equal(t, simtime.ClusterID(0), id)
}

func TestOptimalPicksClusterWithLowestResultingUtilization(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.3), simtime.FromSeconds(1.0))
	preAdmit(t, clusters[1], 1, simtime.FromSeconds(0.6), simtime.FromSeconds(1.0))

	task := platform.Task{ID: 2, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.1)}
	id, ok := Optimal(clusters, plat, task)
	require.True(t, ok)
	require.Equal(t, simtime.ClusterID(0), id)
}

func TestMultiClusterAllocatorBindsTaskPermanentlyOnFirstArrival(t *testing.T) {
	eng := engine.New()
	w := &fakeWriter{}
	eng.SetTraceWriter(w)
	plat, clusters := newAllocatorClusters(t, eng, 2)
	// Cluster 0 starts full so only cluster 1 can admit the first arrival.
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.95), simtime.FromSeconds(1.0))

	alloc := NewMultiClusterAllocator(plat, clusters, FirstFit)
	task := platform.Task{ID: 1, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.1)}

	job1 := NewJob(task.ID, 0, simtime.Epoch, simtime.Epoch.Add(task.RelativeDeadline), 0.1)
	require.NoError(t, alloc.Handler()(task, job1))
	require.Equal(t, 1, w.count("task_placed"))
	require.Greater(t, clusters[1].Sched.SchedulerUtilization(), 0.0)

	// A later arrival of the same task must forward to the already-bound
	// cluster without re-selecting; a re-selection would emit a second
	// task_placed record.
	job2 := NewJob(task.ID, 1, simtime.Epoch, simtime.Epoch.Add(task.RelativeDeadline), 0.1)
	require.NoError(t, alloc.Handler()(task, job2))
	require.Equal(t, 1, w.count("task_placed"), "second arrival must not re-select a cluster")
}

func TestMultiClusterAllocatorReturnsErrorWhenNoClusterAdmits(t *testing.T) {
	eng := engine.New()
	plat, clusters := newAllocatorClusters(t, eng, 2)
	preAdmit(t, clusters[0], 0, simtime.FromSeconds(0.95), simtime.FromSeconds(1.0))
	preAdmit(t, clusters[1], 1, simtime.FromSeconds(0.95), simtime.FromSeconds(1.0))

	alloc := NewMultiClusterAllocator(plat, clusters, FirstFit)
	task := platform.Task{ID: 2, Period: simtime.FromSeconds(1.0), RelativeDeadline: simtime.FromSeconds(1.0), WCET: simtime.FromSeconds(0.2)}
	job := NewJob(task.ID, 0, simtime.Epoch, simtime.Epoch.Add(task.RelativeDeadline), 0.2)
	require.Error(t, alloc.Handler()(task, job))
}

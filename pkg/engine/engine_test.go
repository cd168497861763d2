package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fillien/schedsim/pkg/simtime"
)

func TestDispatchOrderByTimeThenPriority(t *testing.T) {
	eng := New()
	var order []string

	_, err := eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(1)), PriorityTimerDefault, func(now simtime.TimePoint) {
		order = append(order, "t1-low")
	})
	require.NoError(t, err)
	_, err = eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(1)), PriorityJobCompletion, func(now simtime.TimePoint) {
		order = append(order, "t1-high")
	})
	require.NoError(t, err)
	_, err = eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(0)), PriorityTimerDefault, func(now simtime.TimePoint) {
		order = append(order, "t0")
	})
	require.NoError(t, err)

	eng.Run()
	require.Equal(t, []string{"t0", "t1-high", "t1-low"}, order)
}

func TestCancelRemovesEvent(t *testing.T) {
	eng := New()
	fired := false
	id, err := eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(1)), PriorityTimerDefault, func(now simtime.TimePoint) {
		fired = true
	})
	require.NoError(t, err)
	eng.Cancel(&id)
	require.False(t, id.Valid())
	eng.Run()
	require.False(t, fired)
}

func TestScheduleRejectsPastTime(t *testing.T) {
	eng := New()
	_, err := eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(1)), PriorityTimerDefault, func(now simtime.TimePoint) {})
	require.NoError(t, err)
	eng.Run()
	_, err = eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(0)), PriorityTimerDefault, func(now simtime.TimePoint) {})
	require.Error(t, err)
}

func TestDeferredCallbacksCoalesceWithinTimestep(t *testing.T) {
	eng := New()
	calls := 0
	id, err := eng.RegisterDeferred(func() { calls++ })
	require.NoError(t, err)

	_, err = eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(1)), PriorityTimerDefault, func(now simtime.TimePoint) {
		eng.RequestDeferred(id)
		eng.RequestDeferred(id)
	})
	require.NoError(t, err)

	eng.Run()
	require.Equal(t, 1, calls)
}

func TestDeferredFiresOncePerTimestepEvenIfReRequestedDuringItsOwnRun(t *testing.T) {
	eng := New()
	calls := 0
	var id DeferredID
	var err error
	id, err = eng.RegisterDeferred(func() {
		calls++
		eng.RequestDeferred(id)
	})
	require.NoError(t, err)

	_, err = eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(1)), PriorityTimerDefault, func(now simtime.TimePoint) {
		eng.RequestDeferred(id)
	})
	require.NoError(t, err)

	eng.Run()
	require.Equal(t, 1, calls)
}

func TestRunUntilStopsAtHorizonInclusive(t *testing.T) {
	eng := New()
	var fired []int64
	for _, s := range []float64{0.5, 1.0, 1.5} {
		s := s
		_, err := eng.AddTimer(simtime.Epoch.Add(simtime.FromSeconds(s)), PriorityTimerDefault, func(now simtime.TimePoint) {
			fired = append(fired, int64(now))
		})
		require.NoError(t, err)
	}
	eng.RunUntil(simtime.Epoch.Add(simtime.FromSeconds(1.0)))
	require.Len(t, fired, 2)
}

func TestSetJobArrivalHandlerSingleClaim(t *testing.T) {
	eng := New()
	require.NoError(t, eng.SetJobArrivalHandler())
	require.Error(t, eng.SetJobArrivalHandler())
}

type fakeWriter struct {
	records []fakeRecord
}

type fakeRecord struct {
	typ    string
	fields map[string]interface{}
}

func (w *fakeWriter) Begin(time simtime.TimePoint, recordType string) Record {
	return &fakeRecordBuilder{w: w, r: fakeRecord{typ: recordType, fields: map[string]interface{}{}}}
}

type fakeRecordBuilder struct {
	w *fakeWriter
	r fakeRecord
}

func (b *fakeRecordBuilder) Field(key string, value interface{}) Record {
	b.r.fields[key] = value
	return b
}

func (b *fakeRecordBuilder) End() {
	b.w.records = append(b.w.records, b.r)
}

func TestTraceNoOpWithoutWriter(t *testing.T) {
	eng := New()
	called := false
	eng.Trace("whatever", func(r Record) { called = true })
	require.False(t, called)
}

func TestTraceEmitsToInstalledWriter(t *testing.T) {
	eng := New()
	w := &fakeWriter{}
	eng.SetTraceWriter(w)
	eng.Trace("job_arrival", func(r Record) {
		r.Field("task_id", uint64(3))
	})
	require.Len(t, w.records, 1)
	require.Equal(t, "job_arrival", w.records[0].typ)
	require.Equal(t, uint64(3), w.records[0].fields["task_id"])
}

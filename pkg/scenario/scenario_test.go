package scenario

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsDeadlineAndUtilization(t *testing.T) {
	input := `{"tasks":[{"id":1,"period":10,"utilization":0.2}]}`
	sc, err := Load(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, sc.Tasks, 1)
	task := sc.Tasks[0]
	require.Equal(t, 10.0, task.RelativeDeadline)
	require.InDelta(t, 2.0, task.WCET, 1e-9)
}

func TestLoadRejectsMissingWCETAndUtilization(t *testing.T) {
	_, err := Load(strings.NewReader(`{"tasks":[{"id":1,"period":10}]}`))
	require.Error(t, err)
}

func TestLoadRejectsDeadlineBelowWCET(t *testing.T) {
	_, err := Load(strings.NewReader(`{"tasks":[{"id":1,"period":10,"wcet":5,"relative_deadline":4}]}`))
	require.Error(t, err)
}

func TestLoadSortsJobsByArrival(t *testing.T) {
	input := `{"tasks":[{"id":1,"period":10,"wcet":2,"jobs":[{"arrival":5,"duration":1},{"arrival":1,"duration":1}]}]}`
	sc, err := Load(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 1.0, sc.Tasks[0].Jobs[0].Arrival)
	require.Equal(t, 5.0, sc.Tasks[0].Jobs[1].Arrival)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	sc := &Scenario{Tasks: []TaskSpec{
		{ID: 3, Period: 10, RelativeDeadline: 8, WCET: 2, Jobs: []JobSpec{{Arrival: 0, Duration: 2}, {Arrival: 10, Duration: 2}}},
		{ID: 1, Period: 5, RelativeDeadline: 5, WCET: 1},
	}}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sc))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, sc.Tasks, loaded.Tasks)
}

package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertExternal_SameNameUpdatesInPlace(t *testing.T) {
	tr := New(10, time.Minute)
	total := 100.0

	first := tr.UpsertExternal("epoch_1", 10, &total, nil)
	second := tr.UpsertExternal("epoch_1", 20, &total, nil)

	assert.Equal(t, first.TaskID, second.TaskID)
	view := tr.GetTasks()
	require.Len(t, view.Active, 1)
	assert.Equal(t, 20.0, view.Active[0].Current)
}

func TestUpsertExternal_PercentAndStatus(t *testing.T) {
	tr := New(10, time.Minute)
	total := 100.0

	task := tr.UpsertExternal("job", 50, &total, nil)
	require.NotNil(t, task.Percent)
	assert.InDelta(t, 50.0, *task.Percent, 0.01)
	assert.Equal(t, "running", string(task.Status))
}

func TestUpsertExternal_CompletesWhenCurrentReachesTotal(t *testing.T) {
	tr := New(10, time.Minute)
	total := 100.0

	tr.UpsertExternal("job", 100, &total, nil)
	view := tr.GetTasks()
	require.Len(t, view.Completed, 1)
	assert.Equal(t, "completed", string(view.Completed[0].Status))
	assert.Empty(t, view.Active)
}

func TestGetTasks_StallsAfterTimeout(t *testing.T) {
	tr := New(10, 10*time.Millisecond)
	total := 100.0
	tr.UpsertExternal("slow_job", 1, &total, nil)

	time.Sleep(30 * time.Millisecond)
	view := tr.GetTasks()

	require.Len(t, view.Stalled, 1)
	assert.Empty(t, view.Active)
	assert.Equal(t, "stalled", string(view.Stalled[0].Status))
}

func TestEviction_PrefersCompletedThenStalledOverRunning(t *testing.T) {
	tr := New(2, time.Hour)
	total := 100.0

	tr.UpsertExternal("done_job", 100, &total, nil)
	tr.UpsertExternal("running_job", 1, &total, nil)
	tr.UpsertExternal("new_job", 1, &total, nil)

	view := tr.GetTasks()
	assert.Equal(t, 2, view.Total)

	seen := map[string]bool{}
	for _, tsk := range view.Active {
		seen[tsk.Name] = true
	}
	for _, tsk := range view.Completed {
		seen[tsk.Name] = true
	}
	assert.False(t, seen["done_job"], "completed task should be evicted first")
	assert.True(t, seen["running_job"], "running task must never be evicted")
}

func TestGetTaskPID_ReturnsStoredPID(t *testing.T) {
	tr := New(10, time.Minute)
	total := 100.0
	pid := 4321
	created := tr.UpsertExternal("training_run", 1, &total, &pid)

	got, ok := tr.GetTaskPID(created.TaskID)
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, pid, *got)
}

func TestGetTaskPID_UnknownID(t *testing.T) {
	tr := New(10, time.Minute)
	_, ok := tr.GetTaskPID("does-not-exist")
	assert.False(t, ok)
}

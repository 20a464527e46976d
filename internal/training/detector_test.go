package training

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/collector"
)

func TestUpdateFromScan_DetectsTrainingScriptByName(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 100, Name: "python3", CmdLine: []string{"python3", "train.py", "--epochs", "3"}, CPUPercent: 12.5, MemoryPercent: 4.2},
	})

	tasks := d.GetDetectedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 100, tasks[0].PID)
	assert.Equal(t, "running", tasks[0].Status)
	assert.Contains(t, tasks[0].DisplayName, "train.py")
}

func TestUpdateFromScan_DetectsByArgKeyword(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 200, Name: "python", CmdLine: []string{"python", "run.py", "--num_train_epochs", "3"}},
	})
	tasks := d.GetDetectedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 200, tasks[0].PID)
}

func TestUpdateFromScan_DetectsByFrameworkModule(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 300, Name: "python3", CmdLine: []string{"python3", "-m", "torch.distributed.launch"}},
	})
	tasks := d.GetDetectedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 300, tasks[0].PID)
}

func TestUpdateFromScan_IgnoresNonPythonProcesses(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 400, Name: "node", CmdLine: []string{"node", "train.py"}},
	})
	assert.Empty(t, d.GetDetectedTasks())
}

func TestUpdateFromScan_IgnoresOrdinaryPythonProcess(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 500, Name: "python3", CmdLine: []string{"python3", "-m", "http.server"}},
	})
	assert.Empty(t, d.GetDetectedTasks())
}

func TestUpdateFromScan_TransitionsToFinishedWhenPIDDisappears(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 600, Name: "python3", CmdLine: []string{"python3", "train.py"}},
	})
	d.UpdateFromScan(nil)

	tasks := d.GetDetectedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "finished", tasks[0].Status)
	assert.NotZero(t, tasks[0].FinishedEpoch)
}

func TestUpdateFromScan_RemovesFinishedEntriesPastTTL(t *testing.T) {
	d := New(10, 10*time.Millisecond)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 700, Name: "python3", CmdLine: []string{"python3", "train.py"}},
	})
	d.UpdateFromScan(nil) // marks finished

	time.Sleep(30 * time.Millisecond)
	d.UpdateFromScan(nil) // should evict past TTL

	assert.Empty(t, d.GetDetectedTasks())
}

func TestMarkFinished_TransitionsTrackedPID(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 800, Name: "python3", CmdLine: []string{"python3", "train.py"}},
	})

	assert.True(t, d.MarkFinished(800))
	tasks := d.GetDetectedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "finished", tasks[0].Status)
}

func TestMarkFinished_UnknownPIDReturnsFalse(t *testing.T) {
	d := New(10, time.Minute)
	assert.False(t, d.MarkFinished(999))
}

func TestUpdateFromScan_RunningEntryUpdatesInPlace(t *testing.T) {
	d := New(10, time.Minute)
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 900, Name: "python3", CmdLine: []string{"python3", "train.py"}, CPUPercent: 10},
	})
	d.UpdateFromScan([]collector.RawProcess{
		{PID: 900, Name: "python3", CmdLine: []string{"python3", "train.py"}, CPUPercent: 55},
	})

	tasks := d.GetDetectedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 55.0, tasks[0].CPUPercent)
	assert.Equal(t, "running", tasks[0].Status)
}

package relay

import (
	"log/slog"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return cmd
}

func TestProcessController_ForceKillIsImmediate(t *testing.T) {
	cmd := spawnSleeper(t)
	c := NewProcessController(nil, slog.Default())

	start := time.Now()
	err := c.StopTask(taskIDForPID(cmd.Process.Pid), true)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, killGracePeriod)
	assert.Eventually(t, func() bool { return !processAlive(cmd.Process.Pid) }, time.Second, 10*time.Millisecond)
}

func TestProcessController_GracefulStopSendsSigtermThenWaits(t *testing.T) {
	cmd := spawnSleeper(t)
	c := NewProcessController(nil, slog.Default())

	err := c.StopTask(taskIDForPID(cmd.Process.Pid), false)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return !processAlive(cmd.Process.Pid) }, killGracePeriod+time.Second, 10*time.Millisecond)
}

func TestProcessController_UnresolvableTaskID(t *testing.T) {
	c := NewProcessController(nil, slog.Default())
	err := c.StopTask("not-a-pid-task", false)
	assert.Error(t, err)
}

func taskIDForPID(pid int) string {
	return "pid_" + strconv.Itoa(pid)
}

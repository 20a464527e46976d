package relay

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

const killGracePeriod = 3 * time.Second

// ProcessController is the default TaskController: it resolves a task
// id to a PID and signals the process directly. A graceful stop sends
// SIGTERM and escalates to SIGKILL if the process ignores it within
// killGracePeriod; a forced kill sends SIGKILL immediately, no grace
// period. Task ids shaped "pid_<N>" (training-detector-sourced tasks,
// see ParseDetectedPID) resolve without help; anything else is looked
// up through Resolver first.
type ProcessController struct {
	resolver ProcessResolver
	logger   *slog.Logger
}

// ProcessResolver maps a progress-tracker task id to its owning PID,
// for tasks that were not detected by PID in the first place.
type ProcessResolver interface {
	ResolvePID(taskID string) (int, bool)
}

func NewProcessController(resolver ProcessResolver, logger *slog.Logger) *ProcessController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessController{resolver: resolver, logger: logger}
}

// StopTask implements the two relay commands: force=false is a
// graceful "training_stop" (SIGTERM, wait up to killGracePeriod,
// escalate to SIGKILL if still alive); force=true is a "training_kill"
// (SIGKILL immediately, no grace period).
func (c *ProcessController) StopTask(taskID string, force bool) error {
	pid, ok := ParseDetectedPID(taskID)
	if !ok && c.resolver != nil {
		pid, ok = c.resolver.ResolvePID(taskID)
	}
	if !ok {
		return fmt.Errorf("relay: cannot resolve pid for task %q", taskID)
	}

	if force {
		c.logger.Warn("sending SIGKILL to training process", "pid", pid, "task_id", taskID)
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			return fmt.Errorf("relay: sigkill pid %d: %w", pid, err)
		}
		return nil
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("relay: sigterm pid %d: %w", pid, err)
	}
	c.logger.Info("sent SIGTERM to training process", "pid", pid, "task_id", taskID)

	time.Sleep(killGracePeriod)
	if !processAlive(pid) {
		return nil
	}

	c.logger.Warn("process survived SIGTERM grace period, escalating", "pid", pid, "task_id", taskID)
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("relay: sigkill pid %d: %w", pid, err)
	}
	return nil
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

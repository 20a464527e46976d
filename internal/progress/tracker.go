// Package progress tracks units of work — training epochs, data
// pipelines, any external process reporting current/total — and
// computes ETA, stall detection, and completion state. Per SPEC_FULL's
// replacement note for the original's tqdm/stdout monkey-patching, the
// core exposes a single upsert entry point; the stdout/tqdm adapter in
// this package is an optional in-process caller of that entry point,
// not a runtime substitution.
package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bannin-agent/bannin/internal/model"
)

const (
	defaultCapacity     = 500
	defaultStallTimeout = 300 * time.Second
)

// Tracker owns the set of in-flight tasks.
//
// Concurrency note: spec.md requires the external-upsert
// check-insert-update sequence to run under a reentrant lock so that
// eviction cannot interleave between creation and first update. Go's
// sync.Mutex is not reentrant; this is achieved instead by making the
// entire upsert a single critical section (one Lock/Unlock pair) that
// calls only unexported, already-locked helper methods — no method
// called while holding mu ever attempts to reacquire it. This gives
// the same atomicity the spec asks for without a recursive-lock
// primitive.
type Tracker struct {
	capacity     int
	stallTimeout time.Duration

	mu        sync.Mutex
	tasks     map[string]*model.Task // by task_id
	nameIndex map[string]string      // name -> task_id
}

// New constructs a Tracker. capacity <= 0 defaults to 500, stallTimeout
// <= 0 defaults to 300s, matching spec.md's stated defaults.
func New(capacity int, stallTimeout time.Duration) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if stallTimeout <= 0 {
		stallTimeout = defaultStallTimeout
	}
	return &Tracker{
		capacity:     capacity,
		stallTimeout: stallTimeout,
		tasks:        make(map[string]*model.Task),
		nameIndex:    make(map[string]string),
	}
}

// UpsertExternal creates or updates a task keyed by name. Matches
// spec.md scenario 3: a second upsert for the same name updates the
// same task_id in place.
func (t *Tracker) UpsertExternal(name string, current float64, total *float64, pid *int) model.Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := nowEpoch()

	taskID, exists := t.nameIndex[name]
	var task *model.Task
	if exists {
		task = t.tasks[taskID]
	} else {
		t.evictIfNeededLocked()
		taskID = uuid.NewString()
		task = &model.Task{
			TaskID:     taskID,
			Name:       name,
			Source:     "external",
			StartedAt:  time.Now().UTC(),
			StartEpoch: now,
		}
		t.tasks[taskID] = task
		t.nameIndex[name] = taskID
	}

	if current < 0 {
		current = 0
	}
	task.Current = current
	task.Total = total
	task.LastUpdateEpoch = now
	if pid != nil {
		task.PID = pid
	}

	t.recomputeLocked(task, now)
	return stripInternal(*task)
}

// GetTask returns one task by id, with stalls re-checked first.
func (t *Tracker) GetTask(id string) (model.Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyStallsLocked()
	task, ok := t.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return stripInternal(*task), true
}

// GetTaskPID returns the PID associated with a task, if any.
func (t *Tracker) GetTaskPID(id string) (*int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok || task.PID == nil {
		return nil, false
	}
	pid := *task.PID
	return &pid, true
}

// TasksView is the progress tracker's own {active, completed, stalled,
// total} contribution to the /tasks endpoint payload; "detected"
// (background training-process detections) is a separate singleton
// (internal/training) the HTTP layer merges in.
type TasksView struct {
	Active    []model.Task `json:"active"`
	Completed []model.Task `json:"completed"`
	Stalled   []model.Task `json:"stalled"`
	Total     int          `json:"total"`
}

// GetTasks re-checks stalls (spec.md: "called on every get_tasks
// read") then returns tasks grouped by status.
func (t *Tracker) GetTasks() TasksView {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyStallsLocked()

	view := TasksView{}
	ids := make([]string, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		task := stripInternal(*t.tasks[id])
		switch task.Status {
		case model.TaskCompleted:
			view.Completed = append(view.Completed, task)
		case model.TaskStalled:
			view.Stalled = append(view.Stalled, task)
		default:
			view.Active = append(view.Active, task)
		}
	}
	view.Total = len(t.tasks)
	return view
}

// applyStallsLocked marks any running task stale past stallTimeout as
// stalled. Caller must hold mu.
func (t *Tracker) applyStallsLocked() {
	now := nowEpoch()
	for _, task := range t.tasks {
		if task.Status == model.TaskRunning && now-task.LastUpdateEpoch > t.stallTimeout.Seconds() {
			task.Status = model.TaskStalled
		}
	}
}

// recomputeLocked derives percent, ETA, and status from current/total
// and the elapsed time since start. Caller must hold mu.
func (t *Tracker) recomputeLocked(task *model.Task, now float64) {
	task.ElapsedSec = now - task.StartEpoch

	if task.Total != nil && *task.Total > 0 {
		percent := round1(100 * task.Current / *task.Total)
		task.Percent = &percent
	} else {
		task.Percent = nil
	}

	if task.Total != nil && task.Current >= *task.Total {
		task.Status = model.TaskCompleted
		done := 100.0
		task.Percent = &done
		zero := 0.0
		task.ETASeconds = &zero
		task.ETAHuman = "done"
		now := time.Now().UTC()
		task.ETAAt = &now
		return
	}

	task.Status = model.TaskRunning

	if task.Total != nil && task.ElapsedSec > 0 && task.Current > 0 {
		rate := task.Current / task.ElapsedSec
		if rate > 0 {
			remaining := *task.Total - task.Current
			eta := remaining / rate
			task.ETASeconds = &eta
			task.ETAHuman = humanDuration(eta)
			at := time.Now().UTC().Add(time.Duration(eta * float64(time.Second)))
			task.ETAAt = &at
			return
		}
	}
	task.ETASeconds = nil
	task.ETAHuman = ""
	task.ETAAt = nil
}

// evictIfNeededLocked enforces the capacity cap: when full, evict the
// oldest completed task, then the oldest stalled task; running tasks
// are never evicted. Caller must hold mu.
func (t *Tracker) evictIfNeededLocked() {
	if len(t.tasks) < t.capacity {
		return
	}
	if t.evictOldestByStatusLocked(model.TaskCompleted) {
		return
	}
	t.evictOldestByStatusLocked(model.TaskStalled)
}

func (t *Tracker) evictOldestByStatusLocked(status model.TaskStatus) bool {
	var oldestID string
	var oldestStart float64 = -1
	for id, task := range t.tasks {
		if task.Status != status {
			continue
		}
		if oldestStart < 0 || task.StartEpoch < oldestStart {
			oldestStart = task.StartEpoch
			oldestID = id
		}
	}
	if oldestID == "" {
		return false
	}
	delete(t.nameIndex, t.tasks[oldestID].Name)
	delete(t.tasks, oldestID)
	return true
}

func stripInternal(task model.Task) model.Task {
	task.StartEpoch = 0
	task.LastUpdateEpoch = 0
	return task
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func humanDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func nowEpoch() float64 {
	return float64(time.Now().UTC().UnixNano()) / 1e9
}

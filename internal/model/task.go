package model

import "time"

// TaskStatus is the lifecycle state of a tracked progress task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskStalled   TaskStatus = "stalled"
)

// Task is a tracked unit of progress (training epoch, data pipeline,
// etc.), created either by the stdout/tqdm adapter or by an external
// push via upsert_external (§4.4).
type Task struct {
	TaskID     string     `json:"task_id"`
	Name       string     `json:"name"`
	Source     string     `json:"source"`
	Current    float64    `json:"current"`
	Total      *float64   `json:"total,omitempty"`
	Percent    *float64   `json:"percent,omitempty"`
	ElapsedSec float64    `json:"elapsed_seconds"`
	ETASeconds *float64   `json:"eta_seconds,omitempty"`
	ETAHuman   string     `json:"eta_human,omitempty"`
	ETAAt      *time.Time `json:"eta_timestamp,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	Status     TaskStatus `json:"status"`
	PID        *int       `json:"pid,omitempty"`

	// StartEpoch and LastUpdateEpoch back ETA/stall computation. They are
	// stripped from the JSON view (§4.4: "stripped on read").
	StartEpoch      float64 `json:"-"`
	LastUpdateEpoch float64 `json:"-"`
}

// TrainingProcess is a background-detected ML training process (§4.4's
// training detector), keyed by PID.
type TrainingProcess struct {
	PID            int       `json:"pid"`
	DisplayName    string    `json:"display_name"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	ElapsedSec     float64   `json:"elapsed_seconds"`
	ElapsedHuman   string    `json:"elapsed_human"`
	Status         string    `json:"status"` // running | finished
	FirstSeenEpoch float64   `json:"first_seen_epoch"`
	FinishedEpoch  float64   `json:"finished_at_epoch,omitempty"`
}

// Package httpapi is the agent's HTTP surface: a gin router exposing
// the live snapshot, history, alerts, tasks, LLM/MCP/Ollama health,
// analytics queries, and the two-step destructive-action endpoints
// over the singletons the composition root builds at startup.
package httpapi

import (
	"context"
	"log/slog"

	"github.com/bannin-agent/bannin/internal/analytics"
	"github.com/bannin-agent/bannin/internal/collector"
	"github.com/bannin-agent/bannin/internal/health"
	"github.com/bannin-agent/bannin/internal/llmtrack"
	"github.com/bannin-agent/bannin/internal/model"
	"github.com/bannin-agent/bannin/internal/oom"
	"github.com/bannin-agent/bannin/internal/ollama"
	"github.com/bannin-agent/bannin/internal/platform"
	"github.com/bannin-agent/bannin/internal/progress"
)

// HistoryProvider is the metric-history singleton's read surface.
type HistoryProvider interface {
	GetLatest() (model.Snapshot, bool)
	GetFullHistory(minutes float64) []model.Snapshot
	ReadingCount() int
}

// AlertsProvider is the threshold engine's read surface.
type AlertsProvider interface {
	GetAlerts(limit int) []model.FiredAlert
	GetActiveAlerts(current model.Snapshot) []model.FiredAlert
}

// OOMPredictor is the OOM-prediction singleton's read surface.
type OOMPredictor interface {
	Predict() oom.Result
}

// TasksProvider is the progress tracker's read/write surface.
type TasksProvider interface {
	UpsertExternal(name string, current float64, total *float64, pid *int) model.Task
	GetTask(id string) (model.Task, bool)
	GetTaskPID(id string) (*int, bool)
	GetTasks() progress.TasksView
}

// TrainingProvider is the training-process detector's read surface.
type TrainingProvider interface {
	GetDetectedTasks() []model.TrainingProcess
	MarkFinished(pid int) bool
}

// ProcessesProvider is the process scanner's read surface.
type ProcessesProvider interface {
	Grouped(ctx context.Context, limit int) ([]collector.GroupedProcess, error)
	Breakdown(ctx context.Context) (collector.ResourceBreakdown, error)
	Children(ctx context.Context, pid int32) ([]int32, error)
}

// TaskKiller signals a PID-or-task-id-addressed process. Satisfied by
// internal/relay.ProcessController.
type TaskKiller interface {
	StopTask(taskID string, force bool) error
}

// TokenStore issues and redeems confirmation tokens for destructive
// actions.
type TokenStore interface {
	Issue(action string) (string, error)
	Redeem(token string) (string, error)
}

// EventStream is the pipeline's live-tap surface, for /stream.
type EventStream interface {
	Subscribe(buffer int) (<-chan model.Event, func())
	Dropped() uint64
}

// AnalyticsProvider is the analytics store's query surface.
type AnalyticsProvider interface {
	Query(ctx context.Context, f analytics.QueryFilter) ([]model.Event, error)
	Search(ctx context.Context, query string, limit int) ([]model.Event, error)
	GetStats(ctx context.Context) (analytics.Stats, error)
	GetTimeline(ctx context.Context, since *float64, limit int, types []string) ([]model.Event, error)
}

// OllamaProvider is the Ollama poller's read surface.
type OllamaProvider interface {
	Status() ollama.Status
}

// Handlers bundles every singleton the HTTP surface reads from or
// writes to. All fields are required except Relay, which is nil when
// no outbound relay is configured.
type Handlers struct {
	History    HistoryProvider
	Alerts     AlertsProvider
	OOM        OOMPredictor
	Tasks      TasksProvider
	Training   TrainingProvider
	Processes  ProcessesProvider
	LLM        *llmtrack.Tracker
	Analytics  AnalyticsProvider
	Pipeline   EventStream
	Tokens     TokenStore
	Killer     TaskKiller
	Platform   platform.Detector
	Ollama     OllamaProvider
	MCP        *MCPSessionStore
	Logger     *slog.Logger

	// DestructiveRatePerSec and DestructiveBurst size the per-client
	// rate limiter guarding kill endpoints. Zero means "use the
	// package default".
	DestructiveRatePerSec float64
	DestructiveBurst      int
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// combinedHealthSources gathers the available conversation-health
// signals — MCP sessions, then (absent those) Ollama, then the API
// tracker — and folds them through health.Aggregate per §4.6.
func (h *Handlers) combinedHealthSources() []health.Source {
	var sources []health.Source

	if h.MCP != nil {
		for _, s := range h.MCP.List() {
			fatigue := &health.SessionFatigue{
				SessionFatigue:      s.SessionFatigue,
				ToolCallBurden:      s.ToolCallBurden,
				EstimatedContextPct: s.EstimatedContextPct,
				ClientLabel:         s.ClientLabel,
			}
			score := health.Calculate(health.Inputs{
				ContextPercent: s.EstimatedContextPct,
				SessionFatigue: fatigue,
				ClientLabel:    s.ClientLabel,
			})
			sources = append(sources, health.Source{Label: "MCP Session (" + s.ClientLabel + ")", Score: score})
		}
	}

	if len(sources) == 0 && h.Ollama != nil {
		st := h.Ollama.Status()
		if st.Available && st.VRAMPressure != nil {
			score := health.Calculate(health.Inputs{VRAMPressure: st.VRAMPressure})
			sources = append(sources, health.Source{Label: "Ollama (Local LLM)", Score: score})
		}
	}

	if h.LLM != nil && h.Alerts != nil {
		summary := h.LLM.GetSummary(h.Alerts)
		if summary.TotalCalls > 0 {
			score := h.LLM.GetHealth(nil, nil, nil, "")
			sources = append(sources, health.Source{Label: "API Tracker", Score: score})
		}
	}

	return sources
}

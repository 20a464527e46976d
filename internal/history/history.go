// Package history maintains a bounded ring of metric snapshots and runs
// the collection loop that is the agent's heartbeat: each tick samples
// resource state, appends to the ring, emits a snapshot event to the
// pipeline, and periodically drives the threshold engine.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bannin-agent/bannin/internal/model"
)

// Sampler is the subset of internal/collector.Collector the history
// loop needs: split into a cheap CPU/memory sample and an expensive
// disk/GPU sample so the loop can re-sample the latter only every few
// ticks.
type Sampler interface {
	SampleCPUMemory(ctx context.Context) (cpuPct float64, perCore []float64, ram model.Snapshot, err error)
	SampleDiskGPU(ctx context.Context) (disk model.Snapshot, gpus []model.GPUSnapshot, err error)
}

// EventEmitter is the pipeline's emit entry point, kept as a minimal
// interface so history does not import internal/pipeline directly.
type EventEmitter interface {
	Emit(evt model.Event)
}

// AlertEvaluator is the threshold engine's evaluate entry point.
type AlertEvaluator interface {
	Evaluate(snap model.Snapshot) []model.FiredAlert
}

const (
	// slowResamplePeriod is how many ticks elapse between disk/GPU
	// re-samples (§4.1 step 2): both are expensive and change slowly.
	slowResamplePeriod = 8
)

// Config tunes the collection loop.
type Config struct {
	Interval   time.Duration // default 2s
	MaxReadings int           // ring capacity, default 900
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{Interval: 2 * time.Second, MaxReadings: 900}
}

// History owns the snapshot ring and runs the collection loop. All
// mutable state sits behind mu.
type History struct {
	cfg      Config
	sampler  Sampler
	emitter  EventEmitter
	alerts   AlertEvaluator

	mu      sync.Mutex
	ring    []model.Snapshot
	head    int // index of oldest element when ring is full
	count   int
	lastDisk model.Snapshot
	lastGPUs []model.GPUSnapshot

	tick     uint64
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a History. alerts may be nil if no threshold engine is
// wired yet (e.g. in tests exercising the ring alone).
func New(cfg Config, sampler Sampler, emitter EventEmitter, alerts AlertEvaluator) *History {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxReadings <= 0 {
		cfg.MaxReadings = DefaultConfig().MaxReadings
	}
	return &History{
		cfg:     cfg,
		sampler: sampler,
		emitter: emitter,
		alerts:  alerts,
		ring:    make([]model.Snapshot, 0, cfg.MaxReadings),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the single background collection loop. It blocks
// until ctx is cancelled or Stop is called, then closes doneCh.
func (h *History) Start(ctx context.Context) {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.runTick(ctx)
		}
	}
}

// Stop halts the loop and waits for it to return.
func (h *History) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

func (h *History) runTick(ctx context.Context) {
	h.tick++
	tick := h.tick

	cpuPct, perCore, ramSnap, err := h.sampler.SampleCPUMemory(ctx)
	if err != nil {
		// Transient collection failure (§7): swallow, keep the previous
		// reading, the loop continues on the next tick.
		slog.Debug("history: cpu/memory sample failed", slog.Any("error", err))
		return
	}

	var diskSnap model.Snapshot
	var gpus []model.GPUSnapshot
	if tick == 1 || tick%slowResamplePeriod == 0 {
		d, g, derr := h.sampler.SampleDiskGPU(ctx)
		if derr != nil {
			slog.Debug("history: disk/gpu sample failed", slog.Any("error", derr))
			h.mu.Lock()
			diskSnap, gpus = h.lastDisk, h.lastGPUs
			h.mu.Unlock()
		} else {
			diskSnap, gpus = d, g
			h.mu.Lock()
			h.lastDisk, h.lastGPUs = d, g
			h.mu.Unlock()
		}
	} else {
		h.mu.Lock()
		diskSnap, gpus = h.lastDisk, h.lastGPUs
		h.mu.Unlock()
	}

	now := time.Now().UTC()
	snap := model.Snapshot{
		Timestamp:   now,
		Epoch:       float64(now.UnixNano()) / 1e9,
		CPUPercent:  cpuPct,
		CPUPerCore:  perCore,
		RAMPercent:  ramSnap.RAMPercent,
		RAMUsedMB:   ramSnap.RAMUsedMB,
		RAMAvailMB:  ramSnap.RAMAvailMB,
		RAMTotalMB:  ramSnap.RAMTotalMB,
		DiskPercent: diskSnap.DiskPercent,
		DiskUsedGB:  diskSnap.DiskUsedGB,
		DiskFreeGB:  diskSnap.DiskFreeGB,
		GPUs:        gpus,
	}

	h.append(snap)

	if h.emitter != nil {
		h.emitter.Emit(model.Event{
			Epoch:     snap.Epoch,
			Timestamp: snap.Timestamp,
			Source:    model.SourceSystem,
			Type:      "metric_snapshot",
			Message:   "metric snapshot",
			Data:      snapshotToData(snap),
		})
	}

	// Every even-numbered tick, drive the threshold engine with the
	// snapshot already in hand — no re-sampling (§4.1 step 5).
	if h.alerts != nil && tick%2 == 0 {
		fired := h.alerts.Evaluate(snap)
		for _, a := range fired {
			if h.emitter != nil {
				h.emitter.Emit(model.Event{
					Epoch:     a.FiredEpoch,
					Timestamp: a.FiredAt,
					Source:    model.SourceAlerts,
					Type:      "alert",
					Severity:  a.Severity,
					Message:   a.Message,
					Data: map[string]any{
						"rule_id":   a.RuleID,
						"value":     a.Value,
						"threshold": a.Threshold,
					},
				})
			}
		}
	}
}

func (h *History) append(snap model.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) < h.cfg.MaxReadings {
		h.ring = append(h.ring, snap)
		return
	}
	// Ring is full: overwrite the oldest slot and advance head.
	h.ring[h.head] = snap
	h.head = (h.head + 1) % h.cfg.MaxReadings
}

// orderedSnapshot returns the ring contents oldest-first regardless of
// internal wraparound position. Caller must hold h.mu.
func (h *History) orderedLocked() []model.Snapshot {
	if len(h.ring) < h.cfg.MaxReadings {
		out := make([]model.Snapshot, len(h.ring))
		copy(out, h.ring)
		return out
	}
	out := make([]model.Snapshot, 0, len(h.ring))
	out = append(out, h.ring[h.head:]...)
	out = append(out, h.ring[:h.head]...)
	return out
}

// GetLatest returns the most recent snapshot, or false if none taken yet.
func (h *History) GetLatest() (model.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) == 0 {
		return model.Snapshot{}, false
	}
	ordered := h.orderedLocked()
	return ordered[len(ordered)-1], true
}

// GetFullHistory returns every snapshot whose epoch is within the last
// minutes minutes, newest last.
func (h *History) GetFullHistory(minutes float64) []model.Snapshot {
	h.mu.Lock()
	ordered := h.orderedLocked()
	h.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(minutes * float64(time.Minute))).Unix()
	out := make([]model.Snapshot, 0, len(ordered))
	for _, s := range ordered {
		if int64(s.Epoch) >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// GetMemoryHistory is GetFullHistory restricted to the fields the
// memory-focused endpoint needs; the Go port keeps the same full
// Snapshot shape since there is no marshalling cost difference and
// callers can project whatever subset they need.
func (h *History) GetMemoryHistory(minutes float64) []model.Snapshot {
	return h.GetFullHistory(minutes)
}

// ReadingCount returns the current ring length.
func (h *History) ReadingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ring)
}

func snapshotToData(s model.Snapshot) map[string]any {
	data := map[string]any{
		"cpu_percent":  s.CPUPercent,
		"ram_percent":  s.RAMPercent,
		"disk_percent": s.DiskPercent,
	}
	if len(s.GPUs) > 0 {
		gpus := make([]map[string]any, 0, len(s.GPUs))
		for _, g := range s.GPUs {
			gpus = append(gpus, map[string]any{
				"index":              g.Index,
				"memory_percent":     g.MemoryPercent,
				"utilization_percent": g.UtilPercent,
			})
		}
		data["gpus"] = gpus
	}
	return data
}

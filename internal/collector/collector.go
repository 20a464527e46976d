// Package collector implements the one-shot samplers that produce a
// model.Snapshot: CPU, memory, disk, network, GPU, and process listing.
// Collectors are stateless; any sampling error is returned to the
// caller, who (per §4.1's failure mode) swallows it for that tick and
// keeps the previous cached reading.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/bannin-agent/bannin/internal/model"
)

// Collector samples host resource state using gopsutil. It holds no
// mutable state of its own beyond the disk path to watch.
type Collector struct {
	diskPath string
	gpu      GPUSampler
}

// GPUSampler abstracts GPU telemetry so hosts without a GPU vendor
// toolkit installed still build and run cleanly; NoGPU is the default.
type GPUSampler interface {
	Sample(ctx context.Context) ([]model.GPUSnapshot, error)
}

// New creates a Collector that watches diskPath (e.g. "/") for disk
// usage and uses gpu for GPU telemetry. Pass NoGPU{} when no GPU vendor
// library is available.
func New(diskPath string, gpu GPUSampler) *Collector {
	if gpu == nil {
		gpu = NoGPU{}
	}
	return &Collector{diskPath: diskPath, gpu: gpu}
}

// SampleCPUMemory samples CPU and memory only — the two fast-changing
// metrics the history loop re-samples on every tick (§4.1 step 1).
func (c *Collector) SampleCPUMemory(ctx context.Context) (cpuPct float64, perCore []float64, ram model.Snapshot, err error) {
	overall, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, nil, model.Snapshot{}, fmt.Errorf("collector: cpu percent: %w", err)
	}
	perCoreVals, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return 0, nil, model.Snapshot{}, fmt.Errorf("collector: cpu per-core: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, nil, model.Snapshot{}, fmt.Errorf("collector: virtual memory: %w", err)
	}
	var c0 float64
	if len(overall) > 0 {
		c0 = overall[0]
	}
	snap := model.Snapshot{
		RAMPercent: vm.UsedPercent,
		RAMUsedMB:  float64(vm.Used) / (1024 * 1024),
		RAMAvailMB: float64(vm.Available) / (1024 * 1024),
		RAMTotalMB: float64(vm.Total) / (1024 * 1024),
	}
	return c0, perCoreVals, snap, nil
}

// SampleDiskGPU samples disk and GPU — the two expensive, slow-changing
// metrics re-sampled only every 8th tick (§4.1 step 2).
func (c *Collector) SampleDiskGPU(ctx context.Context) (diskSnap model.Snapshot, gpus []model.GPUSnapshot, err error) {
	du, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return model.Snapshot{}, nil, fmt.Errorf("collector: disk usage %q: %w", c.diskPath, err)
	}
	diskSnap = model.Snapshot{
		DiskPercent: du.UsedPercent,
		DiskUsedGB:  float64(du.Used) / (1024 * 1024 * 1024),
		DiskFreeGB:  float64(du.Free) / (1024 * 1024 * 1024),
	}
	gpus, gerr := c.gpu.Sample(ctx)
	if gerr != nil {
		// GPU sampling failure is non-fatal: report empty GPU list, log
		// at debug, and still return the disk reading (§4.1 failure mode).
		slog.Debug("collector: gpu sample failed", slog.Any("error", gerr))
		return diskSnap, nil, nil
	}
	return diskSnap, gpus, nil
}

// Sample takes a full snapshot unconditionally (used for one-shot reads
// outside the ring-driven loop, e.g. /metrics served before the history
// loop has produced its first tick).
func (c *Collector) Sample(ctx context.Context) (model.Snapshot, error) {
	cpuPct, perCore, ramSnap, err := c.SampleCPUMemory(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	diskSnap, gpus, err := c.SampleDiskGPU(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	now := time.Now().UTC()
	return model.Snapshot{
		Timestamp:  now,
		Epoch:      float64(now.UnixNano()) / 1e9,
		CPUPercent: cpuPct,
		CPUPerCore: perCore,
		RAMPercent: ramSnap.RAMPercent,
		RAMUsedMB:  ramSnap.RAMUsedMB,
		RAMAvailMB: ramSnap.RAMAvailMB,
		RAMTotalMB: ramSnap.RAMTotalMB,
		DiskPercent: diskSnap.DiskPercent,
		DiskUsedGB:  diskSnap.DiskUsedGB,
		DiskFreeGB:  diskSnap.DiskFreeGB,
		GPUs: gpus,
	}, nil
}

// NoGPU is the zero-value GPUSampler for hosts with no GPU telemetry
// available; it always returns an empty list.
type NoGPU struct{}

func (NoGPU) Sample(context.Context) ([]model.GPUSnapshot, error) { return nil, nil }

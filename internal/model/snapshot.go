// Package model holds the data types shared across bannin-agent's
// subsystems: the immutable metric snapshot, the persisted analytics
// event, and the small derived records (alerts, tasks, LLM calls, MCP
// sessions) that the collectors, engines, and HTTP surface all pass
// around by value or pointer.
package model

import "time"

// GPUSnapshot is a single GPU's reading at sample time.
type GPUSnapshot struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   float64 `json:"memory_used_mb"`
	MemoryTotalMB  float64 `json:"memory_total_mb"`
	UtilPercent    float64 `json:"utilization_percent"`
	TemperatureC   float64 `json:"temperature_c"`
}

// Snapshot is an immutable resource reading taken at one instant. It is
// created by the collectors, appended to the history ring, and never
// mutated afterward.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Epoch     float64   `json:"epoch"`

	CPUPercent     float64   `json:"cpu_percent"`
	CPUPerCore     []float64 `json:"cpu_per_core"`

	RAMPercent   float64 `json:"ram_percent"`
	RAMUsedMB    float64 `json:"ram_used_mb"`
	RAMAvailMB   float64 `json:"ram_available_mb"`
	RAMTotalMB   float64 `json:"ram_total_mb"`

	DiskPercent float64 `json:"disk_percent"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskFreeGB  float64 `json:"disk_free_gb"`

	GPUs []GPUSnapshot `json:"gpus"`
}

// Get resolves a dot-separated path against the snapshot, returning the
// resolved float and whether the path was recognized. This is the
// generic lookup the threshold engine and OOM predictor both use instead
// of hand-coded per-field switches, per SPEC_FULL's note on dynamic
// dot-path resolution.
func (s Snapshot) Get(path string) (float64, bool) {
	switch path {
	case "cpu.percent":
		return s.CPUPercent, true
	case "memory.percent", "ram.percent":
		return s.RAMPercent, true
	case "memory.used_mb", "ram.used_mb":
		return s.RAMUsedMB, true
	case "memory.available_mb", "ram.available_mb":
		return s.RAMAvailMB, true
	case "disk.percent":
		return s.DiskPercent, true
	case "disk.free_gb":
		return s.DiskFreeGB, true
	}
	if gpu, field, ok := parseGPUPath(path); ok {
		if gpu < 0 || gpu >= len(s.GPUs) {
			return 0, false
		}
		g := s.GPUs[gpu]
		switch field {
		case "memory_percent":
			return g.MemoryPercent, true
		case "utilization_percent":
			return g.UtilPercent, true
		case "temperature_c":
			return g.TemperatureC, true
		}
	}
	return 0, false
}

// parseGPUPath recognizes paths of the form "gpu.<index>.<field>", e.g.
// "gpu.0.memory_percent".
func parseGPUPath(path string) (index int, field string, ok bool) {
	const prefix = "gpu."
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return 0, "", false
	}
	rest := path[len(prefix):]
	dot := -1
	for i, c := range rest {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot <= 0 {
		return 0, "", false
	}
	idxStr, fieldStr := rest[:dot], rest[dot+1:]
	n := 0
	for _, c := range idxStr {
		if c < '0' || c > '9' {
			return 0, "", false
		}
		n = n*10 + int(c-'0')
	}
	return n, fieldStr, true
}

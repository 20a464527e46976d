package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// NameMapper resolves a raw executable name to a friendly display name
// and category. spec.md §1 places the real mapping table out of scope
// ("process-name friendly-name mapping -- pure lookups and string
// handling"); DefaultNameMapper is the trivial seam the core needs.
type NameMapper interface {
	// Friendly returns a display name and category for an executable name.
	Friendly(execName string) (name, category string)
	// ShouldSplit reports whether instances of this executable should be
	// kept as separate rows (dev runtimes like python/node) rather than
	// grouped into one (browsers, editors).
	ShouldSplit(execName string) bool
	// Hidden reports whether this process should be excluded entirely
	// (kernel threads, helper daemons).
	Hidden(execName string) bool
}

// DefaultNameMapper groups nothing specially: every executable is its
// own group, nothing is split, nothing is hidden. Real deployments
// inject a richer NameMapper built from the excluded process_names
// table.
type DefaultNameMapper struct{}

func (DefaultNameMapper) Friendly(execName string) (string, string) {
	return execName, "other"
}
func (DefaultNameMapper) ShouldSplit(execName string) bool {
	switch strings.ToLower(execName) {
	case "python", "python3", "node", "java":
		return true
	default:
		return false
	}
}
func (DefaultNameMapper) Hidden(execName string) bool { return false }

// GroupedProcess is one row of the grouped-by-application process view.
type GroupedProcess struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	InstanceCount  int     `json:"instance_count"`
	PIDs           []int32 `json:"pids"`
}

// ResourceConsumer is one entry of a top-3 CPU/RAM breakdown.
type ResourceConsumer struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
}

// ResourceBreakdown is the top-3 CPU and RAM consumers (§6 /processes).
type ResourceBreakdown struct {
	TopCPU []ResourceConsumer `json:"top_cpu"`
	TopRAM []ResourceConsumer `json:"top_ram"`
}

// RawProcess is an unfiltered process reading, used by the training
// detector (§4.4) which needs cmdline access the grouped view discards.
type RawProcess struct {
	PID           int32
	Name          string
	CmdLine       []string
	CPUPercent    float64
	MemoryPercent float64
	CreateTime    int64
}

// ProcessScanner scans the process table and caches the grouped result
// for cacheTTL to absorb a burst of requests within one poll cycle
// (§5's "process scanner result is cached with a 2s TTL").
type ProcessScanner struct {
	mapper   NameMapper
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    []GroupedProcess
	cachedAt  time.Time
}

// NewProcessScanner creates a scanner using mapper for friendly names.
func NewProcessScanner(mapper NameMapper) *ProcessScanner {
	if mapper == nil {
		mapper = DefaultNameMapper{}
	}
	return &ProcessScanner{mapper: mapper, cacheTTL: 2 * time.Second}
}

// ScanRaw returns the unfiltered, ungrouped process list with cmdlines,
// for callers (the training detector) that need more than the grouped
// view provides. Never cached; always a fresh scan.
func (s *ProcessScanner) ScanRaw(ctx context.Context) ([]RawProcess, error) {
	pids, err := gopsproc.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("process: list pids: %w", err)
	}
	out := make([]RawProcess, 0, len(pids))
	for _, pid := range pids {
		p, err := gopsproc.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		cmdline, _ := p.CmdlineSliceWithContext(ctx)
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		createTime, _ := p.CreateTimeWithContext(ctx)
		out = append(out, RawProcess{
			PID: pid, Name: name, CmdLine: cmdline,
			CPUPercent: float64(cpuPct), MemoryPercent: float64(memPct),
			CreateTime: createTime,
		})
	}
	return out, nil
}

// Grouped returns up to limit processes grouped by application,
// refreshing the cache if it has gone stale.
func (s *ProcessScanner) Grouped(ctx context.Context, limit int) ([]GroupedProcess, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < s.cacheTTL {
		defer s.mu.Unlock()
		return limitGrouped(s.cached, limit), nil
	}
	s.mu.Unlock()

	raw, err := s.ScanRaw(ctx)
	if err != nil {
		return nil, err
	}

	type groupKey string
	groups := map[groupKey]*GroupedProcess{}
	order := map[groupKey]int{}

	for _, p := range raw {
		if s.mapper.Hidden(p.Name) {
			continue
		}
		friendly, category := s.mapper.Friendly(p.Name)
		var key groupKey
		if s.mapper.ShouldSplit(p.Name) {
			key = groupKey(fmt.Sprintf("%s::%d", friendly, p.PID))
		} else {
			key = groupKey(friendly)
		}
		g, ok := groups[key]
		if !ok {
			g = &GroupedProcess{Name: friendly, Category: category}
			groups[key] = g
			order[key] = len(order)
		}
		g.CPUPercent += p.CPUPercent
		g.MemoryPercent += p.MemoryPercent
		g.InstanceCount++
		g.PIDs = append(g.PIDs, p.PID)
	}

	result := make([]GroupedProcess, 0, len(groups))
	for _, g := range groups {
		g.CPUPercent = round1(g.CPUPercent)
		g.MemoryPercent = round1(g.MemoryPercent)
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		return (result[i].CPUPercent + result[i].MemoryPercent) > (result[j].CPUPercent + result[j].MemoryPercent)
	})

	s.mu.Lock()
	s.cached = result
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return limitGrouped(result, limit), nil
}

// Breakdown returns the top-3 CPU and RAM consumers.
func (s *ProcessScanner) Breakdown(ctx context.Context) (ResourceBreakdown, error) {
	grouped, err := s.Grouped(ctx, 50)
	if err != nil {
		return ResourceBreakdown{}, err
	}
	byCPU := append([]GroupedProcess(nil), grouped...)
	sort.Slice(byCPU, func(i, j int) bool { return byCPU[i].CPUPercent > byCPU[j].CPUPercent })
	byRAM := append([]GroupedProcess(nil), grouped...)
	sort.Slice(byRAM, func(i, j int) bool { return byRAM[i].MemoryMB > byRAM[j].MemoryMB })

	var bd ResourceBreakdown
	for _, p := range byCPU {
		if len(bd.TopCPU) == 3 {
			break
		}
		if p.CPUPercent > 0 {
			bd.TopCPU = append(bd.TopCPU, ResourceConsumer{Name: p.Name, Value: p.CPUPercent, Display: fmt.Sprintf("%.1f%%", p.CPUPercent)})
		}
	}
	for _, p := range byRAM {
		if len(bd.TopRAM) == 3 {
			break
		}
		if p.MemoryMB > 0 {
			bd.TopRAM = append(bd.TopRAM, ResourceConsumer{Name: p.Name, Value: p.MemoryMB, Display: humanMB(p.MemoryMB)})
		}
	}
	return bd, nil
}

// Children returns the PIDs of direct children of pid.
func (s *ProcessScanner) Children(ctx context.Context, pid int32) ([]int32, error) {
	p, err := gopsproc.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("process: pid %d not found: %w", pid, err)
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil, nil // no children is not an error condition worth propagating
	}
	out := make([]int32, 0, len(children))
	for _, c := range children {
		out = append(out, c.Pid)
	}
	return out, nil
}

func limitGrouped(in []GroupedProcess, limit int) []GroupedProcess {
	if limit <= 0 || limit >= len(in) {
		return in
	}
	return in[:limit]
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func humanMB(mb float64) string {
	if mb >= 1024 {
		return fmt.Sprintf("%.1f GB", mb/1024)
	}
	return fmt.Sprintf("%.0f MB", mb)
}

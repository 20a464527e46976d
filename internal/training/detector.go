// Package training detects ML training processes from periodic raw
// process scans: it never walks the process table itself (that is
// internal/collector's job); it is fed snapshots and keeps its own
// insertion-ordered tracking map.
package training

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bannin-agent/bannin/internal/collector"
	"github.com/bannin-agent/bannin/internal/model"
)

var defaultScripts = []string{
	`train\.py`, `train_\w+`, `finetune\w*`, `fine_tune\w*`,
	`run_clm\.py`, `run_mlm\.py`, `run_glue\.py`, `trainer\.py`,
	`run_training\.py`, `run_train\.py`,
}

var defaultArgKeywords = []string{
	"train", "training", "fit", "finetune", "fine_tune",
	"--do_train", "--num_train_epochs", "epochs",
}

var defaultFrameworks = []string{
	"transformers", "pytorch_lightning", "keras", "tensorflow",
	"accelerate", "deepspeed", "fairseq", "torch.distributed",
	"lightning", "detectron2",
}

const (
	defaultMaxTracked  = 100
	defaultFinishedTTL = 300 * time.Second
)

type trackedEntry struct {
	proc        model.TrainingProcess
	firstSeen   time.Time
	finishedAt  time.Time
	insertOrder int
}

// Detector inspects process scan results for ML training activity and
// keeps a bounded, insertion-ordered table of detections.
type Detector struct {
	maxTracked  int
	finishedTTL time.Duration
	scriptRe    *regexp.Regexp
	argKeywords []string
	frameworks  []string

	mu      sync.Mutex
	tracked map[int]*trackedEntry
	seq     int
}

// New constructs a Detector with the spec's default patterns; pass 0
// values for maxTracked/finishedTTL to use the stated defaults
// (100 entries, 300s TTL).
func New(maxTracked int, finishedTTL time.Duration) *Detector {
	if maxTracked <= 0 {
		maxTracked = defaultMaxTracked
	}
	if finishedTTL <= 0 {
		finishedTTL = defaultFinishedTTL
	}
	parts := make([]string, 0, len(defaultScripts))
	for _, p := range defaultScripts {
		parts = append(parts, "(?:"+p+")")
	}
	return &Detector{
		maxTracked:  maxTracked,
		finishedTTL: finishedTTL,
		scriptRe:    regexp.MustCompile("(?i)" + strings.Join(parts, "|")),
		argKeywords: defaultArgKeywords,
		frameworks:  defaultFrameworks,
		tracked:     make(map[int]*trackedEntry),
	}
}

// UpdateFromScan inspects raw process data for training activity,
// upserts matches, and transitions PIDs missing from this scan from
// running to finished. Called once per scan cycle by whatever scanner
// owns the raw process listing.
func (d *Detector) UpdateFromScan(raw []collector.RawProcess) {
	now := time.Now().UTC()
	seen := make(map[int]bool, len(raw))

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range raw {
		name := strings.ToLower(p.Name)
		if !strings.HasPrefix(name, "python") {
			continue
		}
		if len(p.CmdLine) == 0 {
			continue
		}
		if !d.isTraining(p.CmdLine) {
			continue
		}

		pid := int(p.PID)
		seen[pid] = true
		scriptName := extractScriptName(p.CmdLine)

		if entry, ok := d.tracked[pid]; ok {
			entry.proc.CPUPercent = round1(p.CPUPercent)
			entry.proc.MemoryPercent = round1(p.MemoryPercent)
			entry.proc.ElapsedSec = round1(now.Sub(entry.firstSeen).Seconds())
			entry.proc.ElapsedHuman = humanDuration(entry.proc.ElapsedSec)
			entry.proc.Status = "running"
		} else {
			d.evictIfNeededLocked()
			d.seq++
			d.tracked[pid] = &trackedEntry{
				proc: model.TrainingProcess{
					PID:            pid,
					DisplayName:    fmt.Sprintf("Python training (%s)", scriptName),
					CPUPercent:     round1(p.CPUPercent),
					MemoryPercent:  round1(p.MemoryPercent),
					ElapsedSec:     0,
					ElapsedHuman:   "0s",
					Status:         "running",
					FirstSeenEpoch: float64(now.Unix()),
				},
				firstSeen:   now,
				insertOrder: d.seq,
			}
		}
	}

	var toRemove []int
	for pid, entry := range d.tracked {
		switch {
		case entry.proc.Status == "running" && !seen[pid]:
			entry.proc.Status = "finished"
			entry.finishedAt = now
			entry.proc.FinishedEpoch = float64(now.Unix())
		case entry.proc.Status == "finished":
			finishedAt := entry.finishedAt
			if finishedAt.IsZero() {
				finishedAt = now
			}
			if now.Sub(finishedAt) > d.finishedTTL {
				toRemove = append(toRemove, pid)
			}
		}
	}
	for _, pid := range toRemove {
		delete(d.tracked, pid)
	}
}

// GetDetectedTasks returns every currently tracked detection.
func (d *Detector) GetDetectedTasks() []model.TrainingProcess {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.TrainingProcess, 0, len(d.tracked))
	for _, e := range d.tracked {
		out = append(out, e.proc)
	}
	return out
}

// MarkFinished marks pid as finished without waiting for the next
// scan. Returns false if pid is not tracked.
func (d *Detector) MarkFinished(pid int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.tracked[pid]
	if !ok {
		return false
	}
	entry.proc.Status = "finished"
	entry.finishedAt = time.Now().UTC()
	entry.proc.FinishedEpoch = float64(entry.finishedAt.Unix())
	return true
}

// evictIfNeededLocked evicts finished entries first, then the oldest
// by insertion order, until under capacity. Caller must hold d.mu.
func (d *Detector) evictIfNeededLocked() {
	for len(d.tracked) >= d.maxTracked {
		var finishedPID int
		found := false
		for pid, e := range d.tracked {
			if e.proc.Status == "finished" {
				finishedPID = pid
				found = true
				break
			}
		}
		if found {
			delete(d.tracked, finishedPID)
			continue
		}
		var oldestPID int
		oldestSeq := -1
		for pid, e := range d.tracked {
			if oldestSeq < 0 || e.insertOrder < oldestSeq {
				oldestSeq = e.insertOrder
				oldestPID = pid
			}
		}
		delete(d.tracked, oldestPID)
	}
}

func (d *Detector) isTraining(cmdline []string) bool {
	for _, arg := range cmdline {
		basename := baseName(strings.ToLower(arg))
		if d.scriptRe.MatchString(basename) {
			return true
		}
	}

	cmdLower := strings.ToLower(strings.Join(cmdline, " "))
	for _, kw := range d.argKeywords {
		if strings.HasPrefix(kw, "--") {
			if strings.Contains(cmdLower, kw) {
				return true
			}
			continue
		}
		if matchesWholeWord(cmdLower, kw) {
			return true
		}
	}

	for i, arg := range cmdline {
		if arg == "-m" && i+1 < len(cmdline) {
			module := strings.ToLower(cmdline[i+1])
			for _, fw := range d.frameworks {
				if module == fw || strings.HasPrefix(module, fw+".") {
					return true
				}
			}
			break
		}
	}

	return false
}

func extractScriptName(cmdline []string) string {
	for _, arg := range cmdline {
		if strings.HasSuffix(arg, ".py") {
			return baseName(arg)
		}
	}
	for i, arg := range cmdline {
		if arg == "-m" && i+1 < len(cmdline) {
			return cmdline[i+1]
		}
	}
	return "unknown"
}

func baseName(s string) string {
	if i := strings.LastIndexAny(s, "/\\"); i >= 0 {
		return s[i+1:]
	}
	return s
}

var wordBoundaryChars = " /\\-."

func matchesWholeWord(haystack, word string) bool {
	idx := strings.Index(haystack, word)
	for idx >= 0 {
		before := byte(' ')
		if idx > 0 {
			before = haystack[idx-1]
		}
		after := byte(' ')
		end := idx + len(word)
		if end < len(haystack) {
			after = haystack[end]
		}
		beforeOK := idx == 0 || strings.IndexByte(wordBoundaryChars, before) >= 0
		afterOK := end == len(haystack) || strings.IndexByte(wordBoundaryChars, after) >= 0
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(haystack[idx+1:], word)
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}
	return false
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func humanDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(seconds)
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	m := s / 60
	s = s % 60
	if m < 60 {
		if s > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%dm", m)
	}
	h := m / 60
	m = m % 60
	if m > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}

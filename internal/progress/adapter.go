package progress

import (
	"regexp"
	"strconv"

	"github.com/bannin-agent/bannin/internal/model"
)

// maxScanLen bounds regex work on pathological lines (§4.4).
const maxScanLen = 4096

// Sink is the upsert entry point an adapter drives; *Tracker satisfies
// it. Kept as an interface so adapters can be tested against a fake.
type Sink interface {
	UpsertExternal(name string, current float64, total *float64, pid *int) model.Task
}

// Bar is the explicit replacement for monkey-patching a tqdm bar's
// init/update/close per SPEC_FULL's redesign note: callers that used
// to rely on a runtime-patched progress-bar class instead construct a
// Bar and call Update/Close directly. Everything downstream (tracking,
// ETA, stalls) flows through the same Sink.UpsertExternal the rest of
// the tracker uses.
type Bar struct {
	sink  Sink
	name  string
	total *float64
	pid   *int
}

// NewBar creates a task named name (via an initial zero-progress
// upsert) and returns a handle for subsequent updates.
func NewBar(sink Sink, name string, total *float64, pid *int) *Bar {
	b := &Bar{sink: sink, name: name, total: total, pid: pid}
	sink.UpsertExternal(name, 0, total, pid)
	return b
}

// Update advances the bar to current.
func (b *Bar) Update(current float64) {
	b.sink.UpsertExternal(b.name, current, b.total, b.pid)
}

// Close finalizes the bar. If a total was set, current is forced to
// total so the task transitions to completed; otherwise the task is
// left at its last reported value (a bar without a known total cannot
// be assumed complete on close).
func (b *Bar) Close() {
	if b.total != nil {
		b.sink.UpsertExternal(b.name, *b.total, b.total, b.pid)
	}
}

// LinePattern is one configured regex for stdout scanning. The regex
// must use named capture groups "current" and, optionally, "total";
// a pattern whose only group is "percent" implicitly sets total = 100.
type LinePattern struct {
	Name  string // task name this pattern feeds
	Regex *regexp.Regexp
}

// StdoutScanner scans arbitrary text lines against a configured set of
// patterns and upserts matching tasks. This is the non-monkey-patching
// stand-in for stdout write interception: a caller routes captured
// output (e.g. a subprocess's stdout pipe) through Scan line by line.
type StdoutScanner struct {
	sink     Sink
	patterns []LinePattern
}

// NewStdoutScanner constructs a scanner using patterns, evaluated in
// order; the first match wins per call.
func NewStdoutScanner(sink Sink, patterns []LinePattern) *StdoutScanner {
	return &StdoutScanner{sink: sink, patterns: patterns}
}

// Scan truncates text to maxScanLen, matches against each configured
// pattern, and upserts the first match found (if any).
func (s *StdoutScanner) Scan(text string) {
	if len(text) > maxScanLen {
		text = text[:maxScanLen]
	}
	for _, p := range s.patterns {
		m := p.Regex.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		names := p.Regex.SubexpNames()
		var current, total float64
		var haveCurrent, haveTotal, havePercent bool
		for i, name := range names {
			if i == 0 || i >= len(m) {
				continue
			}
			switch name {
			case "current":
				if v, err := strconv.ParseFloat(m[i], 64); err == nil {
					current, haveCurrent = v, true
				}
			case "total":
				if v, err := strconv.ParseFloat(m[i], 64); err == nil {
					total, haveTotal = v, true
				}
			case "percent":
				if v, err := strconv.ParseFloat(m[i], 64); err == nil {
					current, haveCurrent = v, true
					havePercent = true
				}
			}
		}
		if !haveCurrent {
			continue
		}
		var totalPtr *float64
		if havePercent {
			hundred := 100.0
			totalPtr = &hundred
		} else if haveTotal {
			totalPtr = &total
		}
		s.sink.UpsertExternal(p.Name, current, totalPtr, nil)
		return
	}
}

// Package alertengine evaluates static threshold rules against metric
// snapshots, firing deduplicated alerts with per-rule cooldowns.
package alertengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bannin-agent/bannin/internal/model"
)

// PlatformProvider supplies the current platform tag for rule
// filtering; internal/platform.Detector satisfies this.
type PlatformProvider interface {
	Platform() string
}

// staticPlatform is the trivial PlatformProvider used when no detector
// is wired (always eligible).
type staticPlatform struct{ name string }

func (s staticPlatform) Platform() string { return s.name }

// Engine evaluates AlertRules against snapshots. All mutable state
// (last-fired map, fired history) sits behind mu.
type Engine struct {
	rules    []model.AlertRule
	platform PlatformProvider

	historyCap int

	mu        sync.Mutex
	lastFired map[string]float64
	history   []model.FiredAlert // newest last
}

// New constructs an Engine for rules, evaluated against the given
// platform provider (nil defaults to always-eligible "all").
func New(rules []model.AlertRule, platform PlatformProvider) *Engine {
	if platform == nil {
		platform = staticPlatform{name: "all"}
	}
	return &Engine{
		rules:      rules,
		platform:   platform,
		historyCap: 1000,
		lastFired:  make(map[string]float64, len(rules)),
	}
}

// Evaluate runs every rule against snap in declaration order and
// returns those that newly fired in this call.
func (e *Engine) Evaluate(snap model.Snapshot) []model.FiredAlert {
	now := snap.Epoch
	if now == 0 {
		now = float64(time.Now().UTC().UnixNano()) / 1e9
	}

	var fired []model.FiredAlert
	for _, rule := range e.rules {
		alert, ok := e.evaluateRule(rule, snap, now)
		if !ok {
			continue
		}
		fired = append(fired, alert)
	}
	return fired
}

// evaluateRule implements the six-step per-rule evaluation order from
// §4.2, stopping at the first failure.
func (e *Engine) evaluateRule(rule model.AlertRule, snap model.Snapshot, now float64) (model.FiredAlert, bool) {
	// Step 1: platform filter.
	if len(rule.Platforms) > 0 && !platformAllowed(rule.Platforms, e.platform.Platform()) {
		return model.FiredAlert{}, false
	}

	// Step 2: cooldown.
	e.mu.Lock()
	last, seen := e.lastFired[rule.ID]
	e.mu.Unlock()
	if seen && now-last < rule.CooldownSeconds {
		return model.FiredAlert{}, false
	}

	// Step 3: resolve metric.
	value, ok := snap.Get(rule.MetricPath)
	if !ok {
		return model.FiredAlert{}, false
	}

	// Step 4: compare to threshold or compare_to path.
	var rhs float64
	if rule.CompareTo != "" {
		other, ok := snap.Get(rule.CompareTo)
		if !ok {
			return model.FiredAlert{}, false
		}
		rhs = other
	} else if rule.Threshold != nil {
		rhs = *rule.Threshold
	} else {
		return model.FiredAlert{}, false
	}
	if !rule.Operator.Apply(value, rhs) {
		return model.FiredAlert{}, false
	}

	// Step 5: optional additional condition, "path OP number". Unparseable
	// or referencing an unknown metric is fail-safe: do not fire.
	if rule.Condition != "" {
		ok, err := evalCondition(rule.Condition, snap)
		if err != nil || !ok {
			return model.FiredAlert{}, false
		}
	}

	// Step 6: fire.
	message := formatMessage(rule.Message, value)
	firedAt := time.Unix(int64(now), 0).UTC()
	alert := model.FiredAlert{
		RuleID:     rule.ID,
		Severity:   rule.Severity,
		Message:    message,
		Value:      value,
		Threshold:  rhs,
		FiredAt:    firedAt,
		FiredEpoch: now,
	}

	e.mu.Lock()
	e.lastFired[rule.ID] = now
	e.history = append(e.history, alert)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
	e.mu.Unlock()

	return alert, true
}

// GetAlerts returns the fired-alert history, newest-first, capped at
// limit (0 means no cap).
func (e *Engine) GetAlerts(limit int) []model.FiredAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.FiredAlert, len(e.history))
	for i, a := range e.history {
		out[len(out)-1-i] = a
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// GetActiveAlerts returns alerts that fired within their cooldown AND
// whose triggering condition, re-evaluated against a freshly collected
// snapshot, is still true. Recovered conditions drop off immediately.
func (e *Engine) GetActiveAlerts(current model.Snapshot) []model.FiredAlert {
	now := current.Epoch
	if now == 0 {
		now = float64(time.Now().UTC().UnixNano()) / 1e9
	}

	rulesByID := make(map[string]model.AlertRule, len(e.rules))
	for _, r := range e.rules {
		rulesByID[r.ID] = r
	}

	e.mu.Lock()
	candidates := make([]model.FiredAlert, len(e.history))
	copy(candidates, e.history)
	lastFired := make(map[string]float64, len(e.lastFired))
	for k, v := range e.lastFired {
		lastFired[k] = v
	}
	e.mu.Unlock()

	seen := make(map[string]bool)
	var active []model.FiredAlert
	for i := len(candidates) - 1; i >= 0; i-- {
		a := candidates[i]
		if seen[a.RuleID] {
			continue
		}
		seen[a.RuleID] = true

		rule, ok := rulesByID[a.RuleID]
		if !ok {
			continue
		}
		last := lastFired[a.RuleID]
		if now-last >= rule.CooldownSeconds {
			continue
		}
		if !conditionStillTrue(rule, current) {
			continue
		}
		active = append(active, a)
	}
	return active
}

func conditionStillTrue(rule model.AlertRule, snap model.Snapshot) bool {
	value, ok := snap.Get(rule.MetricPath)
	if !ok {
		return false
	}
	var rhs float64
	if rule.CompareTo != "" {
		other, ok := snap.Get(rule.CompareTo)
		if !ok {
			return false
		}
		rhs = other
	} else if rule.Threshold != nil {
		rhs = *rule.Threshold
	} else {
		return false
	}
	return rule.Operator.Apply(value, rhs)
}

func platformAllowed(allowed []string, current string) bool {
	for _, p := range allowed {
		if p == "all" || strings.EqualFold(p, current) {
			return true
		}
	}
	return false
}

var conditionPattern = regexp.MustCompile(`^\s*([a-zA-Z0-9_.]+)\s*(>=|<=|==|!=|>|<)\s*(-?[0-9]+(?:\.[0-9]+)?)\s*$`)

// evalCondition parses "path OP number" and applies it against snap.
// An unparseable string or unknown metric returns a non-nil error,
// which the caller treats as fail-safe (do not fire).
func evalCondition(condition string, snap model.Snapshot) (bool, error) {
	m := conditionPattern.FindStringSubmatch(condition)
	if m == nil {
		return false, fmt.Errorf("alertengine: unparseable condition %q", condition)
	}
	path, opStr, numStr := m[1], m[2], m[3]
	value, ok := snap.Get(path)
	if !ok {
		return false, fmt.Errorf("alertengine: unknown metric %q in condition", path)
	}
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return false, fmt.Errorf("alertengine: bad number in condition: %w", err)
	}
	return model.Operator(opStr).Apply(value, num), nil
}

// formatMessage substitutes {value} (literal) and {value_human}
// (duration-formatted, for metrics expressed in seconds) into the
// rule's message template.
func formatMessage(template string, value float64) string {
	out := strings.ReplaceAll(template, "{value}", trimFloat(value))
	out = strings.ReplaceAll(out, "{value_human}", humanDuration(value))
	return out
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return s
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

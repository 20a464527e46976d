// Package mcpsession estimates MCP client conversation fatigue from
// observed tool-call patterns. It never sees the actual conversation;
// it infers activity from tool names, response sizes, and the gaps
// between calls.
package mcpsession

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bannin-agent/bannin/internal/model"
)

// toolTokenCosts are estimated tokens per tool response, measured from
// typical JSON payload sizes, used when the actual response size isn't
// reported.
var toolTokenCosts = map[string]int{
	"get_system_metrics":    800,
	"get_running_processes": 1200,
	"predict_oom":           600,
	"get_training_status":   500,
	"get_active_alerts":     400,
	"check_context_health":  1000,
	"get_recommendations":   1500,
	"query_history":         2000,
	"search_events":         1500,
}

const (
	defaultToolCost         = 800
	defaultContextWindow    = 200000
	estimatorFloorPerMinute = 400
)

// EventEmitter is the pipeline sink each tool call is mirrored to.
type EventEmitter interface {
	Emit(evt model.Event)
}

// Tracker records MCP tool calls for one session and computes fatigue
// on demand.
type Tracker struct {
	emitter EventEmitter

	mu           sync.Mutex
	sessionID    string
	clientLabel  string
	sessionStart time.Time
	calls        []model.ToolCallRecord
	perTool      map[string]int
}

// New constructs a Tracker for a fresh session.
func New(emitter EventEmitter) *Tracker {
	return &Tracker{
		emitter:      emitter,
		sessionID:    uuid.NewString(),
		clientLabel:  "Unknown MCP Client",
		sessionStart: time.Now().UTC(),
		perTool:      make(map[string]int),
	}
}

// SetClientLabel records the detected parent client (e.g. "Claude Desktop").
func (t *Tracker) SetClientLabel(label string) {
	t.mu.Lock()
	t.clientLabel = label
	t.mu.Unlock()
}

// RecordToolCall logs one MCP tool invocation.
func (t *Tracker) RecordToolCall(tool string, responseBytes int) {
	now := time.Now().UTC()
	t.mu.Lock()
	t.calls = append(t.calls, model.ToolCallRecord{Tool: tool, Timestamp: now, ResponseBytes: responseBytes})
	t.perTool[tool]++
	t.mu.Unlock()

	if t.emitter != nil {
		t.emitter.Emit(model.Event{
			Epoch:     float64(now.Unix()),
			Timestamp: now,
			Source:    model.SourceMCP,
			Type:      "mcp_tool_call",
			Message:   "MCP tool call: " + tool,
			Data:      map[string]any{"tool": tool},
		})
	}
}

type tokenBreakdown struct {
	ToolResponses int
	Prompting     int
	AIOutput      int
	Thinking      int
}

type healthInternals struct {
	totalCalls    int
	maxRepeat     int
	mostRepeated  string
	burdenScore   float64
	repeatScore   float64
	durationScore float64
}

// GetSessionHealth computes the session_fatigue / tool_call_burden / ...
// bundle that feeds internal/health.SessionFatigue, plus a free-text
// Detail summary for display.
func (t *Tracker) GetSessionHealth() (model.MCPSession, string) {
	t.mu.Lock()
	calls := make([]model.ToolCallRecord, len(t.calls))
	copy(calls, t.calls)
	perTool := make(map[string]int, len(t.perTool))
	for k, v := range t.perTool {
		perTool[k] = v
	}
	sessionID := t.sessionID
	clientLabel := t.clientLabel
	start := t.sessionStart
	t.mu.Unlock()

	now := time.Now().UTC()
	sessionMinutes := now.Sub(start).Minutes()

	internals := healthInternals{totalCalls: len(calls)}
	internals.burdenScore = scoreBurden(internals.totalCalls)

	recentCutoff := now.Add(-60 * time.Second)
	recentByTool := map[string]int{}
	for _, c := range calls {
		if !c.Timestamp.Before(recentCutoff) {
			recentByTool[c.Tool]++
		}
	}
	for tool, n := range recentByTool {
		if n > internals.maxRepeat {
			internals.maxRepeat = n
			internals.mostRepeated = tool
		}
	}
	internals.repeatScore = scoreRepeat(internals.maxRepeat)
	internals.durationScore = scoreDuration(sessionMinutes)
	frequencyScore := scoreFrequency(calls, start, now)

	breakdown := estimateTokens(calls, start, now, sessionMinutes)
	estimatedTokens := breakdown.ToolResponses + breakdown.Prompting + breakdown.AIOutput + breakdown.Thinking
	estimatedContextPercent := minF(100.0, round1(float64(estimatedTokens)/float64(defaultContextWindow)*100))

	contextPressure := scoreContextPressure(estimatedContextPercent)

	fatigue := contextPressure*0.35 + internals.durationScore*0.30 + internals.burdenScore*0.15 +
		internals.repeatScore*0.10 + frequencyScore*0.10
	fatigue = round1(clamp(fatigue, 0, 100))

	session := model.MCPSession{
		SessionID:              sessionID,
		ClientLabel:            clientLabel,
		SessionFatigue:         fatigue,
		ToolCallBurden:         round1(internals.burdenScore),
		EstimatedContextPct:    estimatedContextPercent,
		SessionDurationMinutes: round1(sessionMinutes),
		TotalToolCalls:         internals.totalCalls,
		PerToolCounts:          perTool,
		DataSource:             "estimated",
		LastSeenEpoch:          float64(now.Unix()),
	}

	detail := buildDetail(session, estimatedTokens, internals, frequencyScore)
	return session, detail
}

func buildDetail(h model.MCPSession, estimatedTokens int, internals healthInternals, frequencyScore float64) string {
	var details []string
	switch {
	case estimatedTokens >= 100000:
		details = append(details, fmt.Sprintf("~%dk tokens estimated (%.0f%% context)", estimatedTokens/1000, h.EstimatedContextPct))
	case estimatedTokens >= 1000:
		details = append(details, fmt.Sprintf("~%dk tokens estimated", estimatedTokens/1000))
	}
	if internals.burdenScore >= 50 {
		details = append(details, fmt.Sprintf("%d tool calls (high burden)", h.TotalToolCalls))
	}
	if internals.repeatScore >= 50 {
		details = append(details, fmt.Sprintf("'%s' called %dx in last 60s", internals.mostRepeated, internals.maxRepeat))
	}
	if internals.durationScore >= 40 {
		details = append(details, fmt.Sprintf("session running %.0f minutes", h.SessionDurationMinutes))
	}
	if frequencyScore >= 30 {
		details = append(details, "tool call frequency accelerating")
	}
	if len(details) == 0 {
		return "Session is fresh"
	}
	return strings.Join(details, "; ")
}

func scoreBurden(totalCalls int) float64 {
	var score float64
	switch {
	case totalCalls <= 5:
		score = 0
	case totalCalls <= 10:
		score = float64(totalCalls-5) * 4
	case totalCalls <= 25:
		score = 20 + float64(totalCalls-10)*3.3
	case totalCalls <= 50:
		score = 70 + float64(totalCalls-25)*1.2
	default:
		score = 100
	}
	return clamp(score, 0, 100)
}

func scoreRepeat(maxRepeat int) float64 {
	switch {
	case maxRepeat <= 2:
		return 0
	case maxRepeat <= 4:
		return float64(maxRepeat-2) * 25
	case maxRepeat <= 6:
		return 50 + float64(maxRepeat-4)*15
	default:
		return clamp(80+float64(maxRepeat-6)*10, 0, 100)
	}
}

func scoreDuration(sessionMinutes float64) float64 {
	var score float64
	switch {
	case sessionMinutes <= 15:
		score = 0
	case sessionMinutes <= 30:
		score = (sessionMinutes - 15) * 1.33
	case sessionMinutes <= 60:
		score = 20 + (sessionMinutes-30)*1.33
	case sessionMinutes <= 120:
		score = 60 + (sessionMinutes-60)*0.67
	default:
		score = 100
	}
	return clamp(score, 0, 100)
}

func scoreFrequency(calls []model.ToolCallRecord, start, now time.Time) float64 {
	if len(calls) < 6 {
		return 0
	}
	mid := start.Add(now.Sub(start) / 2)
	var firstHalf, secondHalf int
	for _, c := range calls {
		if c.Timestamp.Before(mid) {
			firstHalf++
		} else {
			secondHalf++
		}
	}
	halfDuration := now.Sub(start).Minutes() / 2
	if halfDuration <= 0 {
		return 0
	}
	firstRate := float64(firstHalf) / halfDuration
	secondRate := float64(secondHalf) / halfDuration
	if firstRate <= 0 {
		return 0
	}
	accel := secondRate / firstRate
	switch {
	case accel > 2.0:
		return clamp((accel-1)*50, 0, 100)
	case accel > 1.5:
		return (accel - 1) * 40
	default:
		return 0
	}
}

func scoreContextPressure(percent float64) float64 {
	var score float64
	switch {
	case percent <= 15:
		score = 0
	case percent <= 30:
		score = (percent - 15) * 2.0
	case percent <= 50:
		score = 30 + (percent-30)*2.0
	case percent <= 75:
		score = 70 + (percent-50)*1.2
	default:
		score = 100
	}
	return clamp(score, 0, 100)
}

// estimateTokens infers token consumption from tool response sizes and
// the conversational gaps between calls; see the package doc for the
// signal model this mirrors.
func estimateTokens(calls []model.ToolCallRecord, start, now time.Time, sessionMinutes float64) tokenBreakdown {
	toolTokens := 0
	for _, c := range calls {
		if c.ResponseBytes > 0 {
			tok := c.ResponseBytes / 4
			if tok < 100 {
				tok = 100
			}
			toolTokens += tok
		} else if cost, ok := toolTokenCosts[c.Tool]; ok {
			toolTokens += cost
		} else {
			toolTokens += defaultToolCost
		}
	}
	toolRequestTokens := len(calls) * 300

	var prompting, aiOutput, thinking int
	timestamps := make([]time.Time, 0, len(calls)+2)
	timestamps = append(timestamps, start)
	for _, c := range calls {
		timestamps = append(timestamps, c.Timestamp)
	}
	timestamps = append(timestamps, now)

	for i := 0; i < len(timestamps)-1; i++ {
		gap := timestamps[i+1].Sub(timestamps[i])
		gapSeconds := gap.Seconds()
		gapMinutes := gap.Minutes()
		switch {
		case gapSeconds < 10:
			prompting += 50
			aiOutput += 100
			thinking += 50
		case gapSeconds < 60:
			prompting += 200
			aiOutput += 400
			thinking += 150
		case gapMinutes < 5:
			intensity := minF(1.5, gapMinutes/3)
			prompting += int(800 * intensity)
			aiOutput += int(1500 * intensity)
			thinking += int(500 * intensity)
		case gapMinutes < 15:
			prompting += int(1500 + gapMinutes*100)
			aiOutput += int(3000 + gapMinutes*200)
			thinking += int(800 + gapMinutes*80)
		default:
			active := gapMinutes * 0.5
			prompting += int(active * 400)
			aiOutput += int(active * 800)
			thinking += int(active * 200)
		}
	}

	uniqueTools := map[string]bool{}
	for _, c := range calls {
		uniqueTools[c.Tool] = true
	}
	complexityMult := 1.0
	switch {
	case len(uniqueTools) >= 5:
		complexityMult = 1.3
	case len(uniqueTools) >= 3:
		complexityMult = 1.15
	}
	prompting = int(float64(prompting) * complexityMult)
	aiOutput = int(float64(aiOutput) * complexityMult)

	minTokens := int(sessionMinutes * estimatorFloorPerMinute)
	currentTotal := toolTokens + toolRequestTokens + prompting + aiOutput + thinking
	if currentTotal < minTokens && sessionMinutes > 1 {
		gap := minTokens - currentTotal
		prompting += int(float64(gap) * 0.35)
		aiOutput += int(float64(gap) * 0.45)
		thinking += int(float64(gap) * 0.20)
	}

	return tokenBreakdown{
		ToolResponses: toolTokens + toolRequestTokens,
		Prompting:     prompting,
		AIOutput:      aiOutput,
		Thinking:      thinking,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func round1(v float64) float64 { return float64(int64(v*10+0.5)) / 10 }

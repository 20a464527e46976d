// Package llmtrack records LLM API calls observed by the wrap layer and
// derives summaries, context-window predictions, latency trends, and
// the conversation health score from the accumulated history.
package llmtrack

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bannin-agent/bannin/internal/health"
	"github.com/bannin-agent/bannin/internal/model"
)

// maxCalls retains roughly 72h of history at one call/minute.
const maxCalls = 5000

// AlertSource supplies the LLM-related active alert messages folded
// into summary warnings; *alertengine.Engine satisfies it.
type AlertSource interface {
	GetActiveAlerts(current model.Snapshot) []model.FiredAlert
}

// EventEmitter is the pipeline sink every recorded call is mirrored to.
type EventEmitter interface {
	Emit(evt model.Event)
}

// Tracker is the central store for LLM call data, a bounded ring of the
// most recent maxCalls entries plus session-duration bookkeeping.
type Tracker struct {
	prices  *PriceTable
	emitter EventEmitter

	mu           sync.Mutex
	calls        []model.LLMCall // oldest first, capped at maxCalls
	sessionStart time.Time
}

// New constructs a Tracker backed by prices for cost lookups. emitter
// may be nil if call events should not be mirrored to the pipeline.
func New(prices *PriceTable, emitter EventEmitter) *Tracker {
	return &Tracker{
		prices:       prices,
		emitter:      emitter,
		sessionStart: time.Now().UTC(),
	}
}

// Record stores one completed LLM call. Negative token counts and
// latencies are clamped to zero rather than rejected.
func (t *Tracker) Record(provider, model_ string, inputTokens, outputTokens int, latencySeconds float64, cachedTokens int, conversationID string, metadata map[string]any) model.LLMCall {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	if latencySeconds < 0 {
		latencySeconds = 0
	}

	cost := 0.0
	if t.prices != nil {
		cost = t.prices.CalculateCost(model_, inputTokens, outputTokens, cachedTokens)
	}

	call := model.LLMCall{
		Timestamp:      time.Now().UTC(),
		Provider:       provider,
		Model:          model_,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		TotalTokens:    inputTokens + outputTokens,
		CachedTokens:   cachedTokens,
		CostUSD:        cost,
		LatencySeconds: round3(latencySeconds),
		ConversationID: conversationID,
		Metadata:       metadata,
	}

	t.mu.Lock()
	t.calls = append(t.calls, call)
	if len(t.calls) > maxCalls {
		t.calls = t.calls[len(t.calls)-maxCalls:]
	}
	t.mu.Unlock()

	if t.emitter != nil {
		t.emitter.Emit(model.Event{
			Epoch:     float64(call.Timestamp.Unix()),
			Timestamp: call.Timestamp,
			Source:    model.SourceLLM,
			Type:      "llm_call",
			Message:   formatCallMessage(call),
			Data: map[string]any{
				"provider":        provider,
				"model":           model_,
				"input_tokens":    inputTokens,
				"output_tokens":   outputTokens,
				"cost_usd":        cost,
				"latency_seconds": call.LatencySeconds,
			},
		})
	}

	return call
}

// ProviderSummary and ModelSummary are the grouped breakdowns within Summary.
type ProviderSummary struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Summary is the GetSummary payload.
type Summary struct {
	TotalCalls             int                        `json:"total_calls"`
	TotalInputTokens       int                        `json:"total_input_tokens"`
	TotalOutputTokens      int                        `json:"total_output_tokens"`
	TotalTokens            int                        `json:"total_tokens"`
	TotalCostUSD           float64                    `json:"total_cost_usd"`
	AvgLatencySeconds      float64                    `json:"avg_latency_seconds"`
	ByProvider             map[string]*ProviderSummary `json:"by_provider"`
	ByModel                map[string]*ProviderSummary `json:"by_model"`
	SessionDurationSeconds int64                      `json:"session_duration_seconds"`
	Warnings               []string                   `json:"warnings"`
}

// GetSummary aggregates all tracked calls.
func (t *Tracker) GetSummary(alerts AlertSource) Summary {
	calls := t.snapshot()

	duration := int64(time.Since(t.sessionStart).Seconds())
	if len(calls) == 0 {
		return Summary{
			ByProvider:             map[string]*ProviderSummary{},
			ByModel:                map[string]*ProviderSummary{},
			SessionDurationSeconds: duration,
			Warnings:               []string{},
		}
	}

	var totalInput, totalOutput int
	var totalCost, totalLatency float64
	byProvider := map[string]*ProviderSummary{}
	byModel := map[string]*ProviderSummary{}

	for _, c := range calls {
		totalInput += c.InputTokens
		totalOutput += c.OutputTokens
		totalCost += c.CostUSD
		totalLatency += c.LatencySeconds

		addTo(byProvider, c.Provider, c)
		addTo(byModel, c.Model, c)
	}

	return Summary{
		TotalCalls:             len(calls),
		TotalInputTokens:       totalInput,
		TotalOutputTokens:      totalOutput,
		TotalTokens:            totalInput + totalOutput,
		TotalCostUSD:           round4(totalCost),
		AvgLatencySeconds:      round3(totalLatency / float64(len(calls))),
		ByProvider:             byProvider,
		ByModel:                byModel,
		SessionDurationSeconds: duration,
		Warnings:               t.generateWarnings(calls, totalCost, alerts),
	}
}

func addTo(m map[string]*ProviderSummary, key string, c model.LLMCall) {
	s, ok := m[key]
	if !ok {
		s = &ProviderSummary{}
		m[key] = s
	}
	s.Calls++
	s.InputTokens += c.InputTokens
	s.OutputTokens += c.OutputTokens
	s.TotalTokens += c.InputTokens + c.OutputTokens
	s.CostUSD = round6(s.CostUSD + c.CostUSD)
}

// GetCalls returns recent calls, newest first, capped to limit (<=0 means unbounded).
func (t *Tracker) GetCalls(limit int) []model.LLMCall {
	calls := t.snapshot()
	out := make([]model.LLMCall, len(calls))
	for i, c := range calls {
		out[len(calls)-1-i] = c
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// ContextUsage is the GetContextUsage payload.
type ContextUsage struct {
	Model                      string   `json:"model"`
	ContextWindow              *int     `json:"context_window"`
	PromptTokens               int      `json:"prompt_tokens"`
	TokensRemaining            int      `json:"tokens_remaining,omitempty"`
	PercentUsed                *float64 `json:"percent_used"`
	EstimatedMessagesRemaining int      `json:"estimated_messages_remaining,omitempty"`
	Warning                    string   `json:"warning,omitempty"`
	Note                       string   `json:"note,omitempty"`
}

// GetContextUsage predicts context window exhaustion for model given
// the current prompt size.
func (t *Tracker) GetContextUsage(modelName string, currentPromptTokens int) ContextUsage {
	window := 0
	if t.prices != nil {
		window = t.prices.ContextWindow(modelName)
	}
	if window <= 0 {
		return ContextUsage{
			Model:         modelName,
			ContextWindow: nil,
			PromptTokens:  currentPromptTokens,
			PercentUsed:   nil,
			Note:          "Unknown model '" + modelName + "' -- cannot predict context exhaustion.",
		}
	}

	percentUsed := round1(float64(currentPromptTokens) / float64(window) * 100)

	calls := t.snapshot()
	var modelCalls []model.LLMCall
	for _, c := range calls {
		if c.Model == modelName {
			modelCalls = append(modelCalls, c)
		}
	}
	avgTokensPerTurn := 1000.0
	if len(modelCalls) > 0 {
		var sum int
		for _, c := range modelCalls {
			sum += c.TotalTokens
		}
		avgTokensPerTurn = float64(sum) / float64(len(modelCalls))
	}

	tokensRemaining := window - currentPromptTokens
	if tokensRemaining < 0 {
		tokensRemaining = 0
	}
	estimatedMessagesLeft := 0
	if avgTokensPerTurn > 0 {
		estimatedMessagesLeft = int(float64(tokensRemaining) / avgTokensPerTurn)
		if estimatedMessagesLeft < 0 {
			estimatedMessagesLeft = 0
		}
	}

	windowCopy := window
	result := ContextUsage{
		Model:                      modelName,
		ContextWindow:              &windowCopy,
		PromptTokens:               currentPromptTokens,
		TokensRemaining:            tokensRemaining,
		PercentUsed:                &percentUsed,
		EstimatedMessagesRemaining: estimatedMessagesLeft,
	}

	switch {
	case percentUsed >= 90:
		result.Warning = fmt.Sprintf("CONTEXT CRITICAL: %g%% used. ~%d messages left before context is full.", percentUsed, estimatedMessagesLeft)
	case percentUsed >= 75:
		result.Warning = fmt.Sprintf("CONTEXT HIGH: %g%% used. Consider starting a new conversation.", percentUsed)
	case percentUsed >= 50:
		result.Note = fmt.Sprintf("Context is %g%% full. ~%d messages estimated remaining.", percentUsed, estimatedMessagesLeft)
	}
	return result
}

// LatencyTrend is the GetLatencyTrend payload.
type LatencyTrend struct {
	Trend          string  `json:"trend"`
	Note           string  `json:"note,omitempty"`
	LatestLatency  float64 `json:"latest_latency,omitempty"`
	AvgLatency     float64 `json:"avg_latency,omitempty"`
	DataPoints     int     `json:"data_points"`
}

// GetLatencyTrend compares the first half vs second half of the last
// lastN calls (optionally filtered by model) to flag degradation.
func (t *Tracker) GetLatencyTrend(modelFilter string, lastN int) LatencyTrend {
	calls := t.snapshot()
	if modelFilter != "" {
		filtered := calls[:0:0]
		for _, c := range calls {
			if c.Model == modelFilter {
				filtered = append(filtered, c)
			}
		}
		calls = filtered
	}
	if len(calls) < 2 {
		return LatencyTrend{Trend: "insufficient_data", DataPoints: len(calls)}
	}

	if lastN <= 0 {
		lastN = 10
	}
	recent := calls
	if len(calls) > lastN {
		recent = calls[len(calls)-lastN:]
	}

	latencies := make([]float64, len(recent))
	for i, c := range recent {
		latencies[i] = c.LatencySeconds
	}

	mid := len(latencies) / 2
	firstAvg := avg(latencies[:mid])
	secondAvg := avg(latencies[mid:])

	var trend, note string
	switch {
	case secondAvg > firstAvg*1.5 && secondAvg > 2.0:
		trend = "degrading"
		note = fmt.Sprintf("Latency increasing: %.1fs -> %.1fs. Provider may be overloaded.", firstAvg, secondAvg)
	case secondAvg < firstAvg*0.7:
		trend = "improving"
		note = fmt.Sprintf("Latency improving: %.1fs -> %.1fs.", firstAvg, secondAvg)
	default:
		trend = "stable"
		note = fmt.Sprintf("Latency stable at ~%.1fs.", avg(latencies))
	}

	return LatencyTrend{
		Trend:         trend,
		Note:          note,
		LatestLatency: round3(latencies[len(latencies)-1]),
		AvgLatency:    round3(avg(latencies)),
		DataPoints:    len(latencies),
	}
}

// GetHealth derives context/latency/cost-efficiency signals from call
// history and combines them with the optional session-fatigue, VRAM
// pressure, and inference-trend inputs into a single health score.
func (t *Tracker) GetHealth(sessionFatigue *health.SessionFatigue, vramPressure *float64, inferenceTrend *float64, clientLabel string) health.Score {
	calls := t.snapshot()

	contextPercent := 0.0
	var modelName string
	if len(calls) > 0 {
		latest := calls[len(calls)-1]
		modelName = latest.Model
		if t.prices != nil {
			if window := t.prices.ContextWindow(modelName); window > 0 {
				contextPercent = minF(100.0, float64(latest.InputTokens)/float64(window)*100)
			}
		}
	}
	if contextPercent == 0.0 && sessionFatigue != nil && sessionFatigue.EstimatedContextPct > 0 {
		contextPercent = sessionFatigue.EstimatedContextPct
	}

	var latencyRatio *float64
	if len(calls) >= 4 {
		latencies := make([]float64, len(calls))
		for i, c := range calls {
			latencies[i] = c.LatencySeconds
		}
		mid := len(latencies) / 2
		firstAvg := avg(latencies[:mid])
		secondAvg := avg(latencies[mid:])
		if firstAvg > 0 {
			r := round2(secondAvg / firstAvg)
			latencyRatio = &r
		}
	}

	var costTrend *float64
	if len(calls) >= 4 {
		mid := len(calls) / 2
		firstCPO := avgCostPerOutput(calls[:mid])
		secondCPO := avgCostPerOutput(calls[mid:])
		if firstCPO > 0 {
			r := round2(secondCPO / firstCPO)
			costTrend = &r
		}
	}

	dangerZone := 0.0
	if t.prices != nil && modelName != "" {
		dangerZone = t.prices.DangerZone(modelName)
	}

	return health.Calculate(health.Inputs{
		ContextPercent:      contextPercent,
		LatencyRatio:        latencyRatio,
		CostEfficiencyTrend: costTrend,
		SessionFatigue:      sessionFatigue,
		VRAMPressure:        vramPressure,
		InferenceTrend:      inferenceTrend,
		Model:               modelName,
		ClientLabel:         clientLabel,
		DangerZonePercent:   dangerZone,
	})
}

func avgCostPerOutput(calls []model.LLMCall) float64 {
	var totalCost float64
	var totalOutput int
	for _, c := range calls {
		totalCost += c.CostUSD
		totalOutput += c.OutputTokens
	}
	if totalOutput == 0 {
		return 0
	}
	return totalCost / float64(totalOutput)
}

func (t *Tracker) generateWarnings(calls []model.LLMCall, totalCost float64, alerts AlertSource) []string {
	_ = totalCost
	warnings := []string{}

	unpriced := map[string]bool{}
	for _, c := range calls {
		if c.CostUSD == 0 && c.TotalTokens > 0 {
			unpriced[c.Model] = true
		}
	}
	if len(unpriced) > 0 {
		names := make([]string, 0, len(unpriced))
		for m := range unpriced {
			names = append(names, m)
		}
		sort.Strings(names)
		warnings = append(warnings, fmt.Sprintf("PRICING UNKNOWN: Cost could not be calculated for: %s. Tokens are still tracked.", strings.Join(names, ", ")))
	}

	if alerts != nil {
		for _, a := range alerts.GetActiveAlerts(model.Snapshot{}) {
			if strings.HasPrefix(a.RuleID, "llm_") || strings.HasPrefix(a.RuleID, "context_") || strings.HasPrefix(a.RuleID, "latency_") {
				warnings = append(warnings, a.Message)
			}
		}
	}

	return warnings
}

func (t *Tracker) snapshot() []model.LLMCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.LLMCall, len(t.calls))
	copy(out, t.calls)
	return out
}

func formatCallMessage(c model.LLMCall) string {
	return fmt.Sprintf("LLM call: %s (%din/%dout, $%.4f)", c.Model, c.InputTokens, c.OutputTokens, c.CostUSD)
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func round1(v float64) float64 { return float64(int64(v*10+0.5)) / 10 }
func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }
func round3(v float64) float64 { return float64(int64(v*1000+0.5)) / 1000 }
func round4(v float64) float64 { return float64(int64(v*10000+0.5)) / 10000 }
func round6(v float64) float64 { return float64(int64(v*1000000+0.5)) / 1000000 }

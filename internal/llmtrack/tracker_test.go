package llmtrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/model"
)

type fakeEmitter struct {
	events []model.Event
}

func (f *fakeEmitter) Emit(evt model.Event) {
	f.events = append(f.events, evt)
}

func TestRecord_CalculatesCostFromPriceTable(t *testing.T) {
	prices := NewPriceTable()
	tr := New(prices, nil)

	call := tr.Record("openai", "gpt-4o-mini", 1000, 500, 1.2, 0, "conv-1", nil)

	assert.Equal(t, 1500, call.TotalTokens)
	assert.Greater(t, call.CostUSD, 0.0)
}

func TestRecord_ClampsNegativeInputs(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	call := tr.Record("openai", "gpt-4o-mini", -5, -5, -1, 0, "", nil)

	assert.Equal(t, 0, call.InputTokens)
	assert.Equal(t, 0, call.OutputTokens)
	assert.Equal(t, 0.0, call.LatencySeconds)
}

func TestRecord_EmitsPipelineEvent(t *testing.T) {
	emitter := &fakeEmitter{}
	tr := New(NewPriceTable(), emitter)

	tr.Record("anthropic", "claude-sonnet-4-20250514", 100, 50, 0.5, 0, "", nil)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, model.SourceLLM, emitter.events[0].Source)
	assert.Equal(t, "llm_call", emitter.events[0].Type)
}

func TestGetSummary_AggregatesByProviderAndModel(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	tr.Record("openai", "gpt-4o-mini", 100, 50, 0.1, 0, "", nil)
	tr.Record("openai", "gpt-4o-mini", 200, 100, 0.2, 0, "", nil)
	tr.Record("anthropic", "claude-sonnet-4-20250514", 500, 250, 0.3, 0, "", nil)

	summary := tr.GetSummary(nil)
	assert.Equal(t, 3, summary.TotalCalls)
	require.Contains(t, summary.ByProvider, "openai")
	assert.Equal(t, 2, summary.ByProvider["openai"].Calls)
	assert.Equal(t, 300, summary.ByProvider["openai"].InputTokens)
	require.Contains(t, summary.ByModel, "claude-sonnet-4-20250514")
}

func TestGetSummary_EmptyHistory(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	summary := tr.GetSummary(nil)
	assert.Equal(t, 0, summary.TotalCalls)
	assert.Empty(t, summary.Warnings)
}

func TestGetSummary_WarnsOnUnpricedModel(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	tr.Record("openai", "some-unknown-model-xyz", 1000, 500, 0.1, 0, "", nil)

	summary := tr.GetSummary(nil)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "PRICING UNKNOWN")
}

func TestGetCalls_NewestFirstAndLimited(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	tr.Record("openai", "gpt-4o-mini", 1, 1, 0, 0, "first", nil)
	tr.Record("openai", "gpt-4o-mini", 2, 2, 0, 0, "second", nil)

	calls := tr.GetCalls(0)
	require.Len(t, calls, 2)
	assert.Equal(t, "second", calls[0].ConversationID)
	assert.Equal(t, "first", calls[1].ConversationID)

	limited := tr.GetCalls(1)
	require.Len(t, limited, 1)
	assert.Equal(t, "second", limited[0].ConversationID)
}

func TestGetContextUsage_UnknownModel(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	usage := tr.GetContextUsage("totally-unknown-model", 1000)

	assert.Nil(t, usage.ContextWindow)
	assert.Nil(t, usage.PercentUsed)
	assert.Contains(t, usage.Note, "Unknown model")
}

func TestGetContextUsage_WarnsWhenCritical(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	usage := tr.GetContextUsage("gpt-4o-mini", 120000) // 128000 window -> ~93.75%

	require.NotNil(t, usage.PercentUsed)
	assert.GreaterOrEqual(t, *usage.PercentUsed, 90.0)
	assert.Contains(t, usage.Warning, "CONTEXT CRITICAL")
}

func TestGetLatencyTrend_InsufficientData(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	tr.Record("openai", "gpt-4o-mini", 1, 1, 1.0, 0, "", nil)

	trend := tr.GetLatencyTrend("", 10)
	assert.Equal(t, "insufficient_data", trend.Trend)
}

func TestGetLatencyTrend_DetectsDegradation(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	for i := 0; i < 4; i++ {
		tr.Record("openai", "gpt-4o-mini", 1, 1, 0.5, 0, "", nil)
	}
	for i := 0; i < 4; i++ {
		tr.Record("openai", "gpt-4o-mini", 1, 1, 5.0, 0, "", nil)
	}

	trend := tr.GetLatencyTrend("", 8)
	assert.Equal(t, "degrading", trend.Trend)
}

func TestGetHealth_UsesLatestCallModelForDangerZone(t *testing.T) {
	tr := New(NewPriceTable(), nil)
	tr.Record("openai", "gpt-4o-mini", 100000, 500, 0.1, 0, "", nil)

	score := tr.GetHealth(nil, nil, nil, "test-client")
	assert.NotEmpty(t, score.Rating)
}

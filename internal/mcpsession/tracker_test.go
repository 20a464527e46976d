package mcpsession

import (
	"testing"
	"time"

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

func TestNew_AssignsFreshSessionIDAndDefaultLabel(t *testing.T) {
	tr := New(nil)
	session, detail := tr.GetSessionHealth()

	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, "Unknown MCP Client", session.ClientLabel)
	assert.Equal(t, "Session is fresh", detail)
	assert.Equal(t, 0, session.TotalToolCalls)
}

func TestSetClientLabel_Updates(t *testing.T) {
	tr := New(nil)
	tr.SetClientLabel("Claude Desktop")
	session, _ := tr.GetSessionHealth()
	assert.Equal(t, "Claude Desktop", session.ClientLabel)
}

func TestRecordToolCall_TracksPerToolCounts(t *testing.T) {
	tr := New(nil)
	tr.RecordToolCall("get_system_metrics", 0)
	tr.RecordToolCall("get_system_metrics", 0)
	tr.RecordToolCall("get_active_alerts", 0)

	session, _ := tr.GetSessionHealth()
	assert.Equal(t, 3, session.TotalToolCalls)
	assert.Equal(t, 2, session.PerToolCounts["get_system_metrics"])
	assert.Equal(t, 1, session.PerToolCounts["get_active_alerts"])
}

func TestRecordToolCall_EmitsPipelineEvent(t *testing.T) {
	emitter := &fakeEmitter{}
	tr := New(emitter)
	tr.RecordToolCall("get_training_status", 0)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, model.SourceMCP, emitter.events[0].Source)
	assert.Equal(t, "mcp_tool_call", emitter.events[0].Type)
}

func TestGetSessionHealth_FatigueRisesWithRepeatedToolCallsInWindow(t *testing.T) {
	tr := New(nil)
	for i := 0; i < 6; i++ {
		tr.RecordToolCall("query_history", 0)
	}

	session, detail := tr.GetSessionHealth()
	assert.Greater(t, session.SessionFatigue, 0.0)
	assert.Contains(t, detail, "query_history")
}

func TestGetSessionHealth_ResponseBytesFeedsTokenEstimate(t *testing.T) {
	tr := New(nil)
	tr.RecordToolCall("search_events", 40000) // ~10000 estimated tokens

	session, _ := tr.GetSessionHealth()
	assert.Greater(t, session.EstimatedContextPct, 0.0)
}

func TestGetSessionHealth_LongSessionRaisesDurationScore(t *testing.T) {
	tr := New(nil)
	tr.mu.Lock()
	tr.sessionStart = time.Now().UTC().Add(-2 * time.Hour)
	tr.mu.Unlock()
	tr.RecordToolCall("get_recommendations", 0)

	session, detail := tr.GetSessionHealth()
	assert.GreaterOrEqual(t, session.SessionDurationMinutes, 119.0)
	assert.Contains(t, detail, "session running")
}

func TestScoreBurden_Thresholds(t *testing.T) {
	assert.Equal(t, 0.0, scoreBurden(3))
	assert.Greater(t, scoreBurden(8), 0.0)
	assert.Equal(t, 100.0, scoreBurden(100))
}

func TestScoreRepeat_Thresholds(t *testing.T) {
	assert.Equal(t, 0.0, scoreRepeat(1))
	assert.Greater(t, scoreRepeat(5), 0.0)
}

func TestScoreContextPressure_Thresholds(t *testing.T) {
	assert.Equal(t, 0.0, scoreContextPressure(10))
	assert.Equal(t, 100.0, scoreContextPressure(90))
}

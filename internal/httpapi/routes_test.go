package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/alertengine"
	"github.com/bannin-agent/bannin/internal/analytics"
	"github.com/bannin-agent/bannin/internal/collector"
	"github.com/bannin-agent/bannin/internal/llmtrack"
	"github.com/bannin-agent/bannin/internal/model"
	"github.com/bannin-agent/bannin/internal/oom"
	"github.com/bannin-agent/bannin/internal/pipeline"
	"github.com/bannin-agent/bannin/internal/platform"
	"github.com/bannin-agent/bannin/internal/progress"
	"github.com/bannin-agent/bannin/internal/tokens"
)

type fakeHistory struct {
	snap model.Snapshot
	has  bool
}

func (f fakeHistory) GetLatest() (model.Snapshot, bool)         { return f.snap, f.has }
func (f fakeHistory) GetFullHistory(minutes float64) []model.Snapshot { return []model.Snapshot{f.snap} }
func (f fakeHistory) ReadingCount() int                          { return 1 }

type fakeOOM struct{}

func (fakeOOM) Predict() oom.Result {
	return oom.Result{MinDataPointsRequired: 12}
}

type fakeTraining struct{}

func (fakeTraining) GetDetectedTasks() []model.TrainingProcess { return nil }
func (fakeTraining) MarkFinished(pid int) bool                { return pid == 42 }

type fakeProcesses struct{}

func (fakeProcesses) Grouped(ctx context.Context, limit int) ([]collector.GroupedProcess, error) {
	return []collector.GroupedProcess{{Name: "python", PIDs: []int32{1, 2}}}, nil
}
func (fakeProcesses) Breakdown(ctx context.Context) (collector.ResourceBreakdown, error) {
	return collector.ResourceBreakdown{}, nil
}
func (fakeProcesses) Children(ctx context.Context, pid int32) ([]int32, error) {
	return []int32{}, nil
}

type fakeKiller struct{ lastStopped string }

func (f *fakeKiller) StopTask(taskID string, force bool) error {
	f.lastStopped = taskID
	return nil
}

type fakeAnalytics struct{}

func (fakeAnalytics) Query(ctx context.Context, f analytics.QueryFilter) ([]model.Event, error) {
	return nil, nil
}
func (fakeAnalytics) Search(ctx context.Context, q string, limit int) ([]model.Event, error) {
	return nil, nil
}
func (fakeAnalytics) GetStats(ctx context.Context) (analytics.Stats, error) {
	return analytics.Stats{ByType: map[string]int{}, BySeverity: map[string]int{}}, nil
}
func (fakeAnalytics) GetTimeline(ctx context.Context, since *float64, limit int, types []string) ([]model.Event, error) {
	return nil, nil
}

func newTestHandlers(t *testing.T) (*Handlers, *gin.Engine) {
	t.Helper()
	tokenStore, err := tokens.Open()
	require.NoError(t, err)
	t.Cleanup(func() { tokenStore.Close() })

	p := pipeline.New(pipeline.DefaultConfig(), nil)

	h := &Handlers{
		History:   fakeHistory{snap: model.Snapshot{CPUPercent: 10}, has: true},
		Alerts:    alertengine.New(nil, nil),
		OOM:       fakeOOM{},
		Tasks:     progress.New(0, 0),
		Training:  fakeTraining{},
		Processes: fakeProcesses{},
		LLM:       llmtrack.New(nil, noopEmitter{}),
		Analytics: fakeAnalytics{},
		Pipeline:  p,
		Tokens:    tokenStore,
		Killer:    &fakeKiller{},
		Platform:  platform.BareMetal{},
		MCP:       NewMCPSessionStore(),
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/"), h)
	return h, r
}

type noopEmitter struct{}

func (noopEmitter) Emit(model.Event) {}

func TestHealth(t *testing.T) {
	_, r := newTestHandlers(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestKillProcess_TwoStepConfirmation(t *testing.T) {
	h, r := newTestHandlers(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/processes/1234/kill/prepare", nil))
	require.Equal(t, 200, w.Code)

	var prep struct {
		ConfirmationToken string `json:"confirmation_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prep))
	require.NotEmpty(t, prep.ConfirmationToken)

	w2 := httptest.NewRecorder()
	body := `{"token":"` + prep.ConfirmationToken + `"}`
	req := httptest.NewRequest(http.MethodPost, "/processes/1234/kill", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w2, req)
	assert.Equal(t, 200, w2.Code)
	assert.Equal(t, "pid_1234", h.Killer.(*fakeKiller).lastStopped)
}

func TestKillProcess_RejectsMismatchedToken(t *testing.T) {
	_, r := newTestHandlers(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/processes/1234/kill/prepare", nil))
	var prep struct {
		ConfirmationToken string `json:"confirmation_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prep))

	w2 := httptest.NewRecorder()
	body := `{"token":"` + prep.ConfirmationToken + `"}`
	req := httptest.NewRequest(http.MethodPost, "/processes/9999/kill", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w2, req)
	assert.Equal(t, 403, w2.Code)
}

func TestDismissDetectedTask(t *testing.T) {
	_, r := newTestHandlers(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tasks/detected/42/dismiss", nil))
	assert.Equal(t, 200, w.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/tasks/detected/7/dismiss", nil))
	assert.Equal(t, 404, w2.Code)
}

func TestMCPSessionPushAndList(t *testing.T) {
	_, r := newTestHandlers(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/session", strings.NewReader(`{"session_id":"abc","client_label":"claude-code"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/mcp/sessions", nil))
	assert.Equal(t, 200, w2.Code)
	assert.Contains(t, w2.Body.String(), "claude-code")
}

func TestDiskCleanupListsRecognizedTargets(t *testing.T) {
	_, r := newTestHandlers(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/disk/cleanup", nil))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "targets")
}

func TestMCPSessionStore_ExpiresAfterTTL(t *testing.T) {
	s := NewMCPSessionStore()
	s.Push(model.MCPSession{SessionID: "x"})
	require.Len(t, s.List(), 1)
}


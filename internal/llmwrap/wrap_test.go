package llmwrap

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/model"
)

func newScannerFromString(s string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(s))
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
	done  chan struct{}
}

type recordedCall struct {
	provider, model string
	input, output   int
	cached          int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{done: make(chan struct{}, 10)}
}

func (f *fakeRecorder) Record(provider, model_ string, inputTokens, outputTokens int, latencySeconds float64, cachedTokens int, conversationID string, metadata map[string]any) model.LLMCall {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{provider, model_, inputTokens, outputTokens, cachedTokens})
	f.mu.Unlock()
	f.done <- struct{}{}
	return model.LLMCall{Provider: provider, Model: model_}
}

func (f *fakeRecorder) waitOne(t *testing.T) recordedCall {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for usage extraction")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func TestWrap_OpenAINonStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"prompt_tokens_details":{"cached_tokens":2}}}`))
	}))
	defer srv.Close()

	rec := newFakeRecorder()
	client := Wrap(&http.Client{}, FamilyOpenAI, rec, "conv-1")

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	call := rec.waitOne(t)
	assert.Equal(t, "openai", call.provider)
	assert.Equal(t, "gpt-4o-mini", call.model)
	assert.Equal(t, 10, call.input)
	assert.Equal(t, 5, call.output)
	assert.Equal(t, 2, call.cached)
}

func TestWrap_IdempotentOnSameClient(t *testing.T) {
	client := &http.Client{}
	rec := newFakeRecorder()
	w1 := Wrap(client, FamilyOpenAI, rec, "conv-1")
	w2 := Wrap(client, FamilyAnthropic, rec, "conv-2")
	assert.Same(t, w1, w2)
}

func TestDetectOpenAICompatibleProvider(t *testing.T) {
	cases := map[string]string{
		"https://api.openai.com/v1/chat/completions":      "openai",
		"http://localhost:11434/v1/chat/completions":      "local",
		"http://127.0.0.1:11434/v1/chat/completions":       "local",
		"https://my-resource.azure.com/openai/deployments": "azure",
		"https://api.x.ai/v1/chat/completions":             "xai",
		"https://api.groq.com/openai/v1/chat/completions":  "groq",
	}
	for url, want := range cases {
		assert.Equal(t, want, DetectOpenAICompatibleProvider(url))
	}
}

func TestParseOpenAIStream_DropsPartialData(t *testing.T) {
	body := "data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"
	usage, ok := parseOpenAIStream(newScannerFromString(body))
	assert.False(t, ok)
	assert.Equal(t, extractedUsage{}, usage)
}

func TestParseAnthropicStream_FlushesOnMessageStop(t *testing.T) {
	body := `data: {"type":"message_start","message":{"model":"claude-sonnet-4-20250514","usage":{"input_tokens":100}}}

data: {"type":"message_delta","usage":{"output_tokens":42}}

data: {"type":"message_stop"}

`
	usage, ok := parseAnthropicStream(newScannerFromString(body))
	require.True(t, ok)
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, 42, usage.OutputTokens)
}

func TestParseGemini_NonStream(t *testing.T) {
	body := []byte(`{"modelVersion":"gemini-2.0-flash","usageMetadata":{"promptTokenCount":20,"candidatesTokenCount":8}}`)
	usage, ok := parseGemini(body, false)
	require.True(t, ok)
	assert.Equal(t, 20, usage.InputTokens)
	assert.Equal(t, 8, usage.OutputTokens)
}

func TestRecorderSatisfiedByNoopContext(t *testing.T) {
	// Documents the intended call shape; exercises nothing beyond compile-time interface satisfaction.
	var _ Recorder = (*fakeRecorder)(nil)
	_ = context.Background()
}

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_PollPopulatesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/ps":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []Model{{Name: "llama3:8b", SizeVRAM: 8 * 1024 * 1024 * 1024}},
			})
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []Model{{Name: "llama3:8b"}, {Name: "mistral:7b"}},
			})
		}
	}))
	defer srv.Close()

	p := New(srv.URL)
	p.poll(context.Background())

	st := p.Status()
	assert.True(t, st.Available)
	require.Len(t, st.RunningModels, 1)
	assert.Len(t, st.LocalModels, 2)
	require.NotNil(t, st.VRAMPressure)
	assert.InDelta(t, 50.0, *st.VRAMPressure, 0.1)
}

func TestPoller_UnreachableHostMarksUnavailable(t *testing.T) {
	p := New("http://127.0.0.1:1")
	p.httpClient.Timeout = 200 * time.Millisecond
	p.poll(context.Background())

	st := p.Status()
	assert.False(t, st.Available)
	assert.NotEmpty(t, st.Error)
}

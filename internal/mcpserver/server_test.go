package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFraming_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, map[string]string{"hello": "world"}))

	raw, err := readMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(raw))
}

func TestServer_ToolsListAndCall(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/predictions/oom", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"min_data_points_required":12}`))
	})
	mux.HandleFunc("/mcp/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	agent := httptest.NewServer(mux)
	defer agent.Close()

	s := New(agent.URL, nil)

	listReq := rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"}
	resp := s.handle(context.Background(), listReq)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	callParams, err := json.Marshal(toolCallParams{Name: "predict_oom"})
	require.NoError(t, err)
	callReq := rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/call", Params: callParams}
	callResp := s.handle(context.Background(), callReq)
	require.NotNil(t, callResp)
	require.Nil(t, callResp.Error)

	result, ok := callResp.Result.(map[string]any)
	require.True(t, ok)
	content, ok := result["content"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	assert.Contains(t, content[0]["text"], "min_data_points_required")
}

func TestServer_UnknownTool(t *testing.T) {
	s := New("http://127.0.0.1:1", nil)
	callParams, _ := json.Marshal(toolCallParams{Name: "not_a_tool"})
	resp := s.handle(context.Background(), rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: callParams})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
}

func TestServer_PushSessionHealthDoesNotBlock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	agent := httptest.NewServer(mux)
	defer agent.Close()

	s := New(agent.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.pushSessionHealth(ctx)
}

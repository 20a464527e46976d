package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bannin-agent/bannin/internal/mcpsession"
)

const pushInterval = 30 * time.Second

// toolEndpoint maps an MCP tool name to the bannin HTTP endpoint (and
// query-string arguments accepted) that answers it. Every tool here is
// read-only, matching the default toolTokenCosts table in
// internal/mcpsession.
var toolEndpoints = map[string]struct {
	path string
	args []string
}{
	"get_system_metrics":    {"/metrics", nil},
	"get_running_processes": {"/processes", []string{"limit"}},
	"predict_oom":           {"/predictions/oom", nil},
	"get_training_status":   {"/tasks", nil},
	"get_active_alerts":     {"/alerts/active", nil},
	"check_context_health":  {"/llm/health", []string{"source"}},
	"get_recommendations":   {"/recommendations", nil},
	"query_history":         {"/history/memory", []string{"minutes"}},
	"search_events":         {"/search", []string{"q", "limit"}},
}

// Server is one MCP stdio session. It proxies tool calls to a running
// bannin agent's HTTP API and reports its own session health back to
// that same agent via POST /mcp/session.
type Server struct {
	baseURL string
	client  *http.Client
	tracker *mcpsession.Tracker
	logger  *slog.Logger
}

// New constructs a Server that talks to the bannin agent at baseURL
// (e.g. "http://127.0.0.1:8642").
func New(baseURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		tracker: mcpsession.New(nil),
		logger:  logger,
	}
}

// Run serves JSON-RPC requests from r and writes responses to w until
// r is exhausted or ctx is cancelled. It also starts the background
// session-health push loop.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	go s.pushLoop(ctx)

	reader := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := readMessage(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("mcpserver: read: %w", err)
		}

		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.logger.Warn("mcpserver: malformed request", "error", err)
			continue
		}

		resp := s.handle(ctx, req)
		if resp == nil {
			continue // notification, no response expected
		}
		if err := writeMessage(w, resp); err != nil {
			return fmt.Errorf("mcpserver: write: %w", err)
		}
	}
}

func (s *Server) handle(ctx context.Context, req rpcRequest) *rpcResponse {
	if req.ID == nil {
		return nil
	}
	switch req.Method {
	case "initialize":
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "bannin", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}}
	case "tools/list":
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": toolDescriptions()}}
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found: " + req.Method}}
	}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req rpcRequest) *rpcResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params"}}
	}

	endpoint, ok := toolEndpoints[params.Name]
	if !ok {
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "unknown tool: " + params.Name}}
	}

	body, err := s.callEndpoint(ctx, endpoint.path, endpoint.args, params.Arguments)
	if err != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32000, Message: err.Error()}}
	}

	s.tracker.RecordToolCall(params.Name, len(body))

	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(body)}},
	}}
}

func (s *Server) callEndpoint(ctx context.Context, path string, allowedArgs []string, args map[string]any) ([]byte, error) {
	u, err := url.Parse(s.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("bad base url: %w", err)
	}
	q := u.Query()
	for _, name := range allowedArgs {
		if v, ok := args[name]; ok {
			q.Set(name, fmt.Sprint(v))
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent unreachable: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pushSessionHealth(ctx)
		}
	}
}

func (s *Server) pushSessionHealth(ctx context.Context) {
	session, _ := s.tracker.GetSessionHealth()
	body, err := json.Marshal(session)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mcp/session", jsonReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("mcpserver: session push failed", "error", err)
		return
	}
	resp.Body.Close()
}

func toolDescriptions() []map[string]any {
	out := make([]map[string]any, 0, len(toolEndpoints))
	for name := range toolEndpoints {
		out = append(out, map[string]any{
			"name":        name,
			"description": "Read-only bannin agent query: " + name,
			"inputSchema": map[string]any{"type": "object"},
		})
	}
	return out
}

func jsonReader(body []byte) *bytes.Reader {
	return bytes.NewReader(body)
}

// Package relay pushes agent data to a remote relay server over a
// persistent WebSocket connection, and accepts training stop/kill
// commands pushed back. Reconnects with exponential backoff; never
// blocks local monitoring on the remote link being down.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxReconnectDelay = 60 * time.Second
	baseReconnectDelay = 2 * time.Second
	pushInterval       = 5 * time.Second
	heartbeatInterval  = 25 * time.Second
	maxMessageBytes    = 2 * 1024 * 1024
)

// Collectors gathers the data the relay pushes each cycle. Every
// method returns (nil, false) when that data source is unavailable —
// the push loop simply skips it rather than failing the connection.
type Collectors interface {
	CollectMetrics() (any, bool)
	CollectProcesses() (any, bool)
	CollectNewAlerts(lastCount int) (alerts []any, total int)
	CollectOOM() (any, bool)
	CollectTraining() (any, bool)
	CollectHealth() (any, bool)
}

// TaskController executes relay-issued stop/kill commands against
// local tracked or detected processes.
type TaskController interface {
	StopTask(taskID string, force bool) error
}

// Client is a WebSocket relay client for one (url, api key) pair.
type Client struct {
	relayURL   string
	apiKey     string
	collectors Collectors
	controller TaskController
	logger     *slog.Logger

	startedAt time.Time
}

// New constructs a Client. relayURL is the http(s) base URL of the
// relay server; it is translated to ws(s) internally.
func New(relayURL, apiKey string, collectors Collectors, controller TaskController, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		relayURL:   strings.TrimRight(relayURL, "/"),
		apiKey:     apiKey,
		collectors: collectors,
		controller: controller,
		logger:     logger,
	}
}

// Run blocks, reconnecting with exponential backoff until ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.startedAt = time.Now()
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.connect(ctx)
		if err == nil || ctx.Err() != nil {
			attempt = 0
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		attempt++
		delay := time.Duration(math.Min(
			float64(baseReconnectDelay)*math.Pow(2, math.Min(float64(attempt), 8)),
			float64(maxReconnectDelay),
		))
		c.logger.Warn("relay connection failed, retrying", "attempt", attempt, "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	wsURL := strings.Replace(strings.Replace(c.relayURL, "http://", "ws://", 1), "https://", "wss://", 1)
	endpoint := fmt.Sprintf("%s/ws/agent?key=%s", wsURL, url.QueryEscape(c.apiKey))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("relay: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)
	defer conn.Close()

	c.logger.Info("connected to relay server")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	cmdCh := make(chan map[string]any, 32)
	go c.pushLoop(connCtx, conn, errCh)
	go c.heartbeatLoop(connCtx, conn, errCh)
	go c.commandWorker(connCtx, cmdCh)
	go c.listen(connCtx, conn, errCh, cmdCh)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (c *Client) pushLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	lastAlertCount := 0
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()
	for {
		if err := c.pushAll(conn, &lastAlertCount); err != nil {
			errCh <- err
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) pushAll(conn *websocket.Conn, lastAlertCount *int) error {
	if c.collectors == nil {
		return nil
	}
	if metrics, ok := c.collectors.CollectMetrics(); ok {
		if err := c.send(conn, "metrics", metrics); err != nil {
			return err
		}
	}
	if processes, ok := c.collectors.CollectProcesses(); ok {
		if err := c.send(conn, "processes", processes); err != nil {
			return err
		}
	}
	alerts, total := c.collectors.CollectNewAlerts(*lastAlertCount)
	for _, a := range alerts {
		if err := c.send(conn, "alert", a); err != nil {
			return err
		}
	}
	*lastAlertCount = total

	if oom, ok := c.collectors.CollectOOM(); ok {
		if err := c.send(conn, "oom_prediction", oom); err != nil {
			return err
		}
	}
	if training, ok := c.collectors.CollectTraining(); ok {
		if err := c.send(conn, "training", training); err != nil {
			return err
		}
	}
	if health, ok := c.collectors.CollectHealth(); ok {
		if err := c.send(conn, "health", health); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, errCh chan<- error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uptime := time.Since(c.startedAt).Seconds()
			if err := c.send(conn, "heartbeat", map[string]float64{"uptime_seconds": round1(uptime)}); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn, errCh chan<- error, cmdCh chan<- map[string]any) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("relay: read: %w", err)
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("relay sent invalid JSON")
			continue
		}
		select {
		case cmdCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// commandWorker drains cmdCh one message at a time, off the read loop
// but in strict receipt order, so training_stop/training_kill against
// the same task never race or reorder.
func (c *Client) commandWorker(ctx context.Context, cmdCh <-chan map[string]any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-cmdCh:
			c.handleRelayMessage(msg)
		}
	}
}

func (c *Client) send(conn *websocket.Conn, msgType string, data any) error {
	payload := map[string]any{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"data":      data,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return fmt.Errorf("relay: write %s: %w", msgType, err)
	}
	return nil
}

func (c *Client) handleRelayMessage(msg map[string]any) {
	msgType, _ := msg["type"].(string)
	switch msgType {
	case "training_stop":
		if taskID, ok := msg["taskId"].(string); ok && taskID != "" {
			c.logger.Info("received training stop request", "task_id", taskID)
			c.stopTask(taskID, false)
		}
	case "training_kill":
		if taskID, ok := msg["taskId"].(string); ok && taskID != "" {
			c.logger.Warn("received training kill request", "task_id", taskID)
			c.stopTask(taskID, true)
		}
	default:
		c.logger.Debug("unknown relay message type", "type", msgType)
	}
}

func (c *Client) stopTask(taskID string, force bool) {
	if c.controller == nil {
		return
	}
	if err := c.controller.StopTask(taskID, force); err != nil {
		c.logger.Warn("training stop/kill failed", "task_id", taskID, "force", force, "error", err)
	}
}

// ParseDetectedPID extracts the PID embedded in a "pid_<N>" detected
// task ID, as used by TrainingDetector-sourced tasks.
func ParseDetectedPID(taskID string) (int, bool) {
	if !strings.HasPrefix(taskID, "pid_") {
		return 0, false
	}
	pid, err := strconv.Atoi(taskID[4:])
	if err != nil {
		return 0, false
	}
	return pid, true
}

func round1(v float64) float64 { return float64(int64(v*10+0.5)) / 10 }

package llmwrap

import (
	"bufio"
	"encoding/json"
	"strings"
)

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicNonStreamResponse struct {
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

func parseAnthropicNonStream(body []byte) (extractedUsage, bool) {
	var resp anthropicNonStreamResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return extractedUsage{}, false
	}
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		return extractedUsage{}, false
	}
	return extractedUsage{
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CachedTokens: resp.Usage.CacheReadInputTokens,
	}, true
}

// anthropicEvent covers the fields used across message_start,
// message_delta, and message_stop SSE events.
type anthropicEvent struct {
	Type    string `json:"type"`
	Message struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
}

// parseAnthropicStream accumulates input tokens + model from
// message_start, output/cache tokens from message_delta, and flushes
// on message_stop. An iterator that stops before message_stop (client
// exited early) still yields a best-effort flush of whatever was
// accumulated, matching the original's early-exit behavior.
func parseAnthropicStream(scanner *bufio.Scanner) (extractedUsage, bool) {
	var acc extractedUsage
	seenStart := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var evt anthropicEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "message_start":
			acc.Model = evt.Message.Model
			acc.InputTokens = evt.Message.Usage.InputTokens
			acc.CachedTokens = evt.Message.Usage.CacheReadInputTokens
			seenStart = true
		case "message_delta":
			if evt.Usage.OutputTokens > 0 {
				acc.OutputTokens = evt.Usage.OutputTokens
			}
			if evt.Usage.CacheReadInputTokens > 0 {
				acc.CachedTokens = evt.Usage.CacheReadInputTokens
			}
		case "message_stop":
			return acc, seenStart
		}
	}
	return acc, seenStart
}

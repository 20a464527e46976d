package llmwrap

import (
	"bufio"
	"encoding/json"
	"strings"
)

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type openaiChunk struct {
	Model   string        `json:"model"`
	Choices []any         `json:"choices"`
	Usage   *openaiUsage  `json:"usage"`
}

// parseOpenAINonStream reads the whole chat-completion JSON body.
func parseOpenAINonStream(body []byte) (extractedUsage, bool) {
	var resp openaiChunk
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return extractedUsage{}, false
	}
	return extractedUsage{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CachedTokens: resp.Usage.PromptTokensDetails.CachedTokens,
	}, true
}

// parseOpenAIStream scans an SSE body for the final chunk carrying
// usage with empty choices — the chunk emitted because the caller's
// request set stream_options.include_usage. Earlier content-bearing
// chunks are skipped; a stream that ends before that chunk (client
// disconnect, caller stopped iterating) yields no record, matching
// the original's "partial data dropped" behavior.
func parseOpenAIStream(scanner *bufio.Scanner) (extractedUsage, bool) {
	var last openaiChunk
	found := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" || payload == "" {
			continue
		}
		var chunk openaiChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil && len(chunk.Choices) == 0 {
			last = chunk
			found = true
		}
	}
	if !found {
		return extractedUsage{}, false
	}
	return extractedUsage{
		Model:        last.Model,
		InputTokens:  last.Usage.PromptTokens,
		OutputTokens: last.Usage.CompletionTokens,
		CachedTokens: last.Usage.PromptTokensDetails.CachedTokens,
	}, true
}

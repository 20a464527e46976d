package llmwrap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
)

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
}

type geminiChunk struct {
	ModelVersion  string       `json:"modelVersion"`
	UsageMetadata *geminiUsage `json:"usageMetadata"`
}

// parseGemini handles both the single-object non-streaming response
// and the streamGenerateContent SSE/NDJSON body: it keeps only the
// last chunk carrying usageMetadata, mirroring the original's
// "remember the last chunk, record on exhaustion" rule.
func parseGemini(body []byte, isStream bool) (extractedUsage, bool) {
	if !isStream {
		var chunk geminiChunk
		if err := json.Unmarshal(body, &chunk); err != nil || chunk.UsageMetadata == nil {
			return extractedUsage{}, false
		}
		return fromGeminiChunk(chunk), true
	}

	var last *geminiChunk
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "data:")
		line = strings.TrimSpace(line)
		line = strings.TrimSuffix(line, ",")
		line = strings.Trim(line, "[]")
		if line == "" {
			continue
		}
		var chunk geminiChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.UsageMetadata != nil {
			c := chunk
			last = &c
		}
	}
	if last == nil {
		return extractedUsage{}, false
	}
	return fromGeminiChunk(*last), true
}

func fromGeminiChunk(c geminiChunk) extractedUsage {
	return extractedUsage{
		Model:        c.ModelVersion,
		InputTokens:  c.UsageMetadata.PromptTokenCount,
		OutputTokens: c.UsageMetadata.CandidatesTokenCount,
		CachedTokens: c.UsageMetadata.CachedContentTokenCount,
	}
}

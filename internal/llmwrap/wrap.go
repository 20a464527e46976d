// Package llmwrap instruments outbound HTTP calls to LLM providers so
// every completion is recorded by internal/llmtrack without the
// caller's code changing. Where the original intercepts a Python SDK
// object by inspecting its module/class name and monkey-patching its
// completion method, the idiomatic Go shape is an http.RoundTripper
// decorator: Wrap installs one on the *http.Client the caller already
// uses for provider calls, and every request that client sends is
// transparently measured.
package llmwrap

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bannin-agent/bannin/internal/model"
)

// Recorder is the subset of internal/llmtrack.Tracker the wrappers
// need, matching Tracker.Record's exact signature so *llmtrack.Tracker
// satisfies it directly.
type Recorder interface {
	Record(provider, model_ string, inputTokens, outputTokens int, latencySeconds float64, cachedTokens int, conversationID string, metadata map[string]any) model.LLMCall
}

// Family identifies which wire-format parser handles a response.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
)

// wrapped tracks which *http.Client values already carry a tracking
// transport, guarded by a package-level mutex — the Go equivalent of
// the original's per-instance "already wrapped" marker flag.
var (
	wrapMu  sync.Mutex
	wrapped = make(map[*http.Client]bool)
)

// Wrap installs a tracking RoundTripper on client for the given
// family and conversation id, if it is not already wrapped. Safe for
// concurrent callers racing to wrap the same client — only the first
// caller's wrap takes effect.
func Wrap(client *http.Client, family Family, recorder Recorder, conversationID string) *http.Client {
	wrapMu.Lock()
	defer wrapMu.Unlock()

	if wrapped[client] {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = &trackingTransport{
		base:           base,
		family:         family,
		recorder:       recorder,
		conversationID: conversationID,
	}
	wrapped[client] = true
	return client
}

// DetectOpenAICompatibleProvider infers the provider label from an
// OpenAI-compatible base URL's host, mirroring the original's
// azure/xai/together/fireworks/groq/local heuristics.
func DetectOpenAICompatibleProvider(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "openai"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "local"
	case strings.Contains(host, "azure"):
		return "azure"
	case strings.Contains(host, "x.ai") || strings.Contains(host, "xai"):
		return "xai"
	case strings.Contains(host, "together"):
		return "together"
	case strings.Contains(host, "fireworks"):
		return "fireworks"
	case strings.Contains(host, "groq"):
		return "groq"
	default:
		return "openai"
	}
}

// Package secrets holds the relay API key and any LLM provider keys
// the wrapped clients recognize, locked and zeroed-on-exit via
// memguard rather than kept as plain Go strings the runtime can page
// out or a crash dump can leak. It also carries the log-redaction
// patterns so caller-supplied text never reaches a log line with a
// live key in it.
package secrets

import (
	"regexp"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// Vault holds named secrets in locked memory. Zero value is usable;
// call Close when the process is shutting down to wipe everything.
type Vault struct {
	mu      sync.RWMutex
	secrets map[string]*memguard.LockedBuffer
}

func NewVault() *Vault {
	return &Vault{secrets: make(map[string]*memguard.LockedBuffer)}
}

// Set stores value under name in locked memory, replacing and
// destroying any previous value under the same name.
func (v *Vault) Set(name, value string) {
	buf := memguard.NewBufferFromBytes([]byte(value))
	v.mu.Lock()
	defer v.mu.Unlock()
	if old, ok := v.secrets[name]; ok {
		old.Destroy()
	}
	v.secrets[name] = buf
}

// Get returns the secret's current value and whether it is set. The
// returned string is a copy — callers must not log it; use
// SafeLogString on any free text derived from it.
func (v *Vault) Get(name string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	buf, ok := v.secrets[name]
	if !ok || buf.IsDestroyed() {
		return "", false
	}
	return string(buf.Bytes()), true
}

// Has reports whether name is set, without exposing the value.
func (v *Vault) Has(name string) bool {
	_, ok := v.Get(name)
	return ok
}

// Close destroys every stored secret. Safe to call multiple times.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for name, buf := range v.secrets {
		buf.Destroy()
		delete(v.secrets, name)
	}
}

// Well-known secret names used across the agent.
const (
	RelayAPIKey      = "relay.api_key"
	OpenAIAPIKey     = "llm.openai_api_key"
	AnthropicAPIKey  = "llm.anthropic_api_key"
	GeminiAPIKey     = "llm.gemini_api_key"
)

// redactionPattern pairs a compiled regex with a replacement label.
// Order matters: more specific patterns (sk-ant-api03-) must precede
// less specific ones (sk-) so a key isn't partially redacted by the
// wrong family's pattern.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

var redactionPatterns = []redactionPattern{
	{
		Pattern:     regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:anthropic_key]",
	},
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	{
		Pattern:     regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
		Replacement: "[REDACTED:gemini_key]",
	},
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
	{
		Pattern:     regexp.MustCompile(`password=[^\s&]{3,}`),
		Replacement: "password=[REDACTED]",
	},
	{
		Pattern:     regexp.MustCompile(`(postgres|mysql|mongodb)://[^\s]+@`),
		Replacement: "${1}://[REDACTED]@",
	},
}

// SafeLogString redacts known secret patterns from s before it
// reaches a log line. Pattern-based only — it catches common key
// shapes, not arbitrary secrets.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// ProviderFromKey guesses the LLM provider family from a key's shape,
// for client construction/logging only — never used to validate the
// key, just to route it to the right wrapper.
func ProviderFromKey(key string) string {
	switch {
	case strings.HasPrefix(key, "sk-ant-api03-"):
		return "anthropic"
	case strings.HasPrefix(key, "sk-"):
		return "openai"
	case strings.HasPrefix(key, "AIza"):
		return "gemini"
	default:
		return "unknown"
	}
}

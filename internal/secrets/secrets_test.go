package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVaultSetGet(t *testing.T) {
	v := NewVault()
	defer v.Close()

	assert.False(t, v.Has(RelayAPIKey))
	v.Set(RelayAPIKey, "topsecret")
	val, ok := v.Get(RelayAPIKey)
	assert.True(t, ok)
	assert.Equal(t, "topsecret", val)
}

func TestVaultSetOverwritesPrevious(t *testing.T) {
	v := NewVault()
	defer v.Close()

	v.Set(RelayAPIKey, "first")
	v.Set(RelayAPIKey, "second")
	val, _ := v.Get(RelayAPIKey)
	assert.Equal(t, "second", val)
}

func TestVaultClose(t *testing.T) {
	v := NewVault()
	v.Set(RelayAPIKey, "topsecret")
	v.Close()
	_, ok := v.Get(RelayAPIKey)
	assert.False(t, ok)
}

func TestSafeLogString(t *testing.T) {
	cases := map[string]string{
		"error: sk-ant-REDACTED returned 401": "error: [REDACTED:anthropic_key] returned 401",
		"normal log message with no secrets":                        "normal log message with no secrets",
		"key=AIzaSyAbcDefGhiJklMnoPqrStUvWxYz01234567 in URL":        "key=[REDACTED] in URL",
		"":                                                           "",
	}
	for input, want := range cases {
		assert.Equal(t, want, SafeLogString(input))
	}
}

func TestProviderFromKey(t *testing.T) {
	assert.Equal(t, "anthropic", ProviderFromKey("sk-ant-REDACTED"))
	assert.Equal(t, "openai", ProviderFromKey("sk-abcdefghijklmnopqrstuv"))
	assert.Equal(t, "gemini", ProviderFromKey("AIzaSyAbcDefGhiJklMnoPqrStUvWxYz01234567"))
	assert.Equal(t, "unknown", ProviderFromKey("totally-custom-key"))
}

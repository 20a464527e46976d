package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/llmtrack"
)

func TestPriceTableRefresher_RefreshMergesOverCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]remoteModel{
			"gpt-5": {Provider: "openai", InputPerM: 1, OutputPerM: 2, ContextWindow: 400000},
		})
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	cachePath := filepath.Join(cacheDir, "platform_config.json")
	seed, err := json.Marshal(map[string]remoteModel{
		"claude-old": {Provider: "anthropic", InputPerM: 5, OutputPerM: 10, ContextWindow: 100000},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cachePath, seed, 0o644))
	// Backdate the cache so it reads as stale.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(cachePath, old, old))

	table := llmtrack.NewPriceTable()
	r := NewPriceTableRefresher(LLMConfig{
		PriceTableURL:   srv.URL,
		FetchTimeout:    2 * time.Second,
		CacheStaleAfter: 24 * time.Hour,
	}, cachePath, table)

	r.Refresh(context.Background())

	_, ok := table.Lookup("gpt-5")
	assert.True(t, ok, "freshly fetched model should be loaded")
	_, ok = table.Lookup("claude-old")
	assert.True(t, ok, "previously cached model should survive the merge")
}

func TestPriceTableRefresher_FetchFailureLeavesTableUntouched(t *testing.T) {
	table := llmtrack.NewPriceTable()
	before, _ := table.Lookup("gpt-4o")

	r := NewPriceTableRefresher(LLMConfig{
		PriceTableURL:   "http://127.0.0.1:1/unreachable",
		FetchTimeout:    100 * time.Millisecond,
		CacheStaleAfter: 24 * time.Hour,
	}, filepath.Join(t.TempDir(), "platform_config.json"), table)

	r.Refresh(context.Background())

	after, ok := table.Lookup("gpt-4o")
	assert.True(t, ok)
	assert.Equal(t, before, after)
}

func TestCacheIsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	r := &PriceTableRefresher{cfg: LLMConfig{CacheStaleAfter: time.Hour}, cache: path}
	assert.True(t, r.cacheIsStale(), "missing file counts as stale")

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	assert.False(t, r.cacheIsStale())
}

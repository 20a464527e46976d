package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(dir, "store.db")
	cfg.Storage.PlatformCachePath = filepath.Join(dir, "platform_config.json")
	cfg.Storage.LogPath = filepath.Join(dir, "bannin.log")
	cfg.Agent.CollectionInterval = 50 * time.Millisecond
	cfg.Agent.TrainingScanInterval = 50 * time.Millisecond
	return &cfg
}

func TestNew_WiresHandlers(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Handlers)
	require.NotNil(t, a.Handlers.History)
	require.NotNil(t, a.Handlers.Alerts)
	require.NotNil(t, a.Handlers.OOM)
	require.NotNil(t, a.Handlers.Tasks)
	require.NotNil(t, a.Handlers.Training)
	require.NotNil(t, a.Handlers.Processes)
	require.NotNil(t, a.Handlers.LLM)
	require.NotNil(t, a.Handlers.Analytics)
	require.NotNil(t, a.Handlers.Pipeline)
	require.NotNil(t, a.Handlers.Tokens)
	require.NotNil(t, a.Handlers.Killer)
	require.NotNil(t, a.Handlers.Ollama)
	require.NotNil(t, a.Handlers.MCP)
	require.Nil(t, a.relayCli, "relay disabled by default")
}

func TestRun_StopsCleanlyOnContextCancel(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

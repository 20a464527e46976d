package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// destructiveFields are config.yaml top-level keys that only take
// effect on restart. The watcher still reloads and validates on a
// write to one of these, but logs a warning instead of silently
// pretending the change applied.
var destructiveFields = []string{"http.bind_addr", "relay.url", "relay.api_key", "storage.db_path", "storage.log_path"}

// Watcher hot-reloads config.yaml and the cached price-table file,
// handing each validated reload to OnReload. An invalid reload is
// logged and the previously active Config is left untouched — the
// agent never crashes on a bad config edit.
type Watcher struct {
	path      string
	priceCache string
	logger    *slog.Logger

	mu      sync.RWMutex
	current *Config

	onReload func(prev, next *Config)
	refresh  *PriceTableRefresher
}

func NewWatcher(initial *Config, path, priceCachePath string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:       path,
		priceCache: priceCachePath,
		logger:     logger,
		current:    initial,
	}
}

// OnReload registers a callback invoked after each successful
// config.yaml reload, with the previous and new Config.
func (w *Watcher) OnReload(fn func(prev, next *Config)) {
	w.onReload = fn
}

// SetPriceTableRefresher wires the refresher invoked when the cached
// price-table file changes on disk (written by a sibling refresh, or
// by an operator dropping a new file in manually).
func (w *Watcher) SetPriceTableRefresher(r *PriceTableRefresher) {
	w.refresh = r
}

// Current returns the active config, safe for concurrent reads.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches path's directory (watching the directory rather than
// the file survives editors that replace the file via rename-on-save)
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := map[string]bool{
		filepath.Dir(w.path):       true,
		filepath.Dir(w.priceCache): true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			w.logger.Warn("config watcher: cannot watch directory", "dir", dir, "error", err)
		}
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			target := w.classify(ev.Name)
			if target == targetNone {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				w.handleChange(target)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

type changeTarget int

const (
	targetNone changeTarget = iota
	targetConfig
	targetPriceCache
)

func (w *Watcher) classify(name string) changeTarget {
	switch filepath.Clean(name) {
	case filepath.Clean(w.path):
		return targetConfig
	case filepath.Clean(w.priceCache):
		return targetPriceCache
	default:
		return targetNone
	}
}

func (w *Watcher) handleChange(target changeTarget) {
	switch target {
	case targetConfig:
		w.reloadConfig()
	case targetPriceCache:
		if w.refresh != nil {
			if cached, ok := w.refresh.loadCache(); ok {
				w.refresh.table.SetModels(toModelPricing(cached))
				w.logger.Info("price table reloaded from cache file")
			}
		}
	}
}

func (w *Watcher) reloadConfig() {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	for _, field := range destructiveFields {
		if destructiveFieldChanged(prev, next, field) {
			w.logger.Warn("destructive config field changed, restart required to apply", "field", field)
		}
	}

	w.logger.Info("config reloaded")
	if w.onReload != nil {
		w.onReload(prev, next)
	}
}

func destructiveFieldChanged(prev, next *Config, field string) bool {
	if prev == nil || next == nil {
		return false
	}
	switch field {
	case "http.bind_addr":
		return prev.HTTP.BindAddr != next.HTTP.BindAddr
	case "relay.url":
		return prev.Relay.URL != next.Relay.URL
	case "relay.api_key":
		return prev.Relay.APIKey != next.Relay.APIKey
	case "storage.db_path":
		return prev.Storage.DBPath != next.Storage.DBPath
	case "storage.log_path":
		return prev.Storage.LogPath != next.Storage.LogPath
	default:
		return false
	}
}

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bannin-agent/bannin/internal/llmtrack"
)

// remoteModel is the wire shape of one entry in the remote/cached
// price table JSON, keyed by model name.
type remoteModel struct {
	Provider          string  `json:"provider"`
	InputPerM         float64 `json:"input_per_m"`
	OutputPerM        float64 `json:"output_per_m"`
	CachedInputPerM   float64 `json:"cached_input_per_m"`
	ContextWindow     int     `json:"context_window"`
	DangerZonePercent float64 `json:"danger_zone_percent"`
}

// PriceTableRefresher keeps an llmtrack.PriceTable current using the
// same defaults -> cache -> fetch-if-stale -> merge shape as the
// original platform-config loader, retargeted at LLM pricing instead
// of Colab/Kaggle quotas. A fetch failure is invisible to the caller:
// the cached file (or whatever table is already loaded) stays active.
type PriceTableRefresher struct {
	cfg   LLMConfig
	cache string // path to the cached JSON file
	table *llmtrack.PriceTable

	httpClient *http.Client
}

func NewPriceTableRefresher(cfg LLMConfig, cachePath string, table *llmtrack.PriceTable) *PriceTableRefresher {
	return &PriceTableRefresher{
		cfg:        cfg,
		cache:      cachePath,
		table:      table,
		httpClient: &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// LoadInitial applies the cached table (if any) synchronously, then
// triggers a background refresh if the cache is stale or absent. It
// never blocks on the network.
func (r *PriceTableRefresher) LoadInitial(ctx context.Context) {
	if cached, ok := r.loadCache(); ok {
		r.table.SetModels(cached)
	}
	if r.cacheIsStale() {
		go r.Refresh(ctx)
	}
}

// Refresh fetches the remote price table, merges it over whatever is
// cached, writes the merged result back to the cache file, and loads
// it into the live PriceTable. Any failure along the way is a no-op:
// the previously active table is left untouched.
func (r *PriceTableRefresher) Refresh(ctx context.Context) {
	if r.cfg.PriceTableURL == "" {
		return
	}
	remote, err := r.fetchRemote(ctx)
	if err != nil || len(remote) == 0 {
		return
	}
	merged := remote
	if cached, ok := r.loadCache(); ok {
		merged = mergePriceTables(cached, remote)
	}
	r.saveCache(merged)
	r.table.SetModels(toModelPricing(merged))
}

func (r *PriceTableRefresher) fetchRemote(ctx context.Context) (map[string]remoteModel, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, r.cfg.PriceTableURL, nil)
	if err != nil {
		return nil, fmt.Errorf("config: build price table request: %w", err)
	}
	req.Header.Set("User-Agent", "bannin-agent/0.1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config: fetch price table: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config: fetch price table: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("config: read price table response: %w", err)
	}
	var out map[string]remoteModel
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("config: parse price table: %w", err)
	}
	return out, nil
}

func (r *PriceTableRefresher) loadCache() (map[string]remoteModel, bool) {
	data, err := os.ReadFile(r.cache)
	if err != nil {
		return nil, false
	}
	var out map[string]remoteModel
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (r *PriceTableRefresher) saveCache(data map[string]remoteModel) {
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(r.cache), 0o755)
	_ = os.WriteFile(r.cache, buf, 0o644)
}

// cacheIsStale mirrors the original's mtime-based staleness check: no
// cache file at all counts as stale.
func (r *PriceTableRefresher) cacheIsStale() bool {
	info, err := os.Stat(r.cache)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > r.cfg.CacheStaleAfter
}

// mergePriceTables deep-merges override onto base, override wins per
// model entry, matching the original's "override values win" semantics.
func mergePriceTables(base, override map[string]remoteModel) map[string]remoteModel {
	merged := make(map[string]remoteModel, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func toModelPricing(remote map[string]remoteModel) map[string]llmtrack.ModelPricing {
	out := make(map[string]llmtrack.ModelPricing, len(remote))
	for name, m := range remote {
		out[name] = llmtrack.ModelPricing{
			Provider:          m.Provider,
			InputPerM:         m.InputPerM,
			OutputPerM:        m.OutputPerM,
			CachedInputPerM:   m.CachedInputPerM,
			ContextWindow:     m.ContextWindow,
			DangerZonePercent: m.DangerZonePercent,
		}
	}
	return out
}


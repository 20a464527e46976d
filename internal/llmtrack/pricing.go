package llmtrack

import (
	"strings"
	"sync"
)

// ModelPricing is per-1M-token pricing plus the model's context window,
// sourced from a remote price table with local cache (§9 open question:
// prefer cached data on fetch failure, never block startup; fall back
// to the embedded defaults below if both the remote fetch and cache
// are unavailable).
type ModelPricing struct {
	Provider         string
	InputPerM        float64
	OutputPerM       float64
	CachedInputPerM  float64
	ContextWindow    int
	DangerZonePercent float64 // fraction of context window where health scoring starts decaying; default 65
}

// defaultModels is the small embedded fallback table: only the most
// common model per provider family, used when no remote/cached price
// table is available.
var defaultModels = map[string]ModelPricing{
	"gpt-4o": {
		Provider: "openai", InputPerM: 2.50, OutputPerM: 10.00, CachedInputPerM: 1.25,
		ContextWindow: 128000, DangerZonePercent: 65,
	},
	"gpt-4o-mini": {
		Provider: "openai", InputPerM: 0.15, OutputPerM: 0.60, CachedInputPerM: 0.075,
		ContextWindow: 128000, DangerZonePercent: 65,
	},
	"claude-sonnet-4-20250514": {
		Provider: "anthropic", InputPerM: 3.00, OutputPerM: 15.00, CachedInputPerM: 0.30,
		ContextWindow: 200000, DangerZonePercent: 65,
	},
	"claude-haiku-3-5-20241022": {
		Provider: "anthropic", InputPerM: 0.80, OutputPerM: 4.00, CachedInputPerM: 0.08,
		ContextWindow: 200000, DangerZonePercent: 65,
	},
	"gemini-2.0-flash": {
		Provider: "google", InputPerM: 0.10, OutputPerM: 0.40, CachedInputPerM: 0.025,
		ContextWindow: 1048576, DangerZonePercent: 65,
	},
}

// PriceTable holds the active model database, swappable at runtime by
// a remote-config refresh (internal/config's fsnotify watch feeds
// updates in via SetModels).
type PriceTable struct {
	mu     sync.RWMutex
	models map[string]ModelPricing
}

// NewPriceTable constructs a PriceTable seeded with the embedded
// defaults; callers load a richer table via SetModels once the cached
// or remote price file is available.
func NewPriceTable() *PriceTable {
	models := make(map[string]ModelPricing, len(defaultModels))
	for k, v := range defaultModels {
		models[k] = v
	}
	return &PriceTable{models: models}
}

// SetModels replaces the active model database, e.g. after a
// successful remote fetch or cache load. Passing an empty map is a
// no-op — per the §9 staleness policy, a fetch failure with no cache
// keeps whatever table is already active (the embedded defaults if
// nothing else has loaded yet) rather than blanking it out.
func (p *PriceTable) SetModels(models map[string]ModelPricing) {
	if len(models) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = models
}

// Lookup finds pricing info for model, trying an exact match, then a
// prefix match in either direction (handles dated model suffixes like
// "gpt-4o-2024-08-06"), then a substring match.
func (p *PriceTable) Lookup(model string) (ModelPricing, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if info, ok := p.models[model]; ok {
		return info, true
	}
	for known, info := range p.models {
		if strings.HasPrefix(model, known) || strings.HasPrefix(known, model) {
			return info, true
		}
	}
	modelLower := strings.ToLower(model)
	for known, info := range p.models {
		knownLower := strings.ToLower(known)
		if strings.Contains(modelLower, knownLower) || strings.Contains(knownLower, modelLower) {
			return info, true
		}
	}
	return ModelPricing{}, false
}

// CalculateCost returns the USD cost of a call, 0 if the model is
// unknown (tokens are still tracked; pricing is just unavailable).
func (p *PriceTable) CalculateCost(model string, inputTokens, outputTokens, cachedTokens int) float64 {
	info, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	regularInput := inputTokens - cachedTokens
	if regularInput < 0 {
		regularInput = 0
	}
	cost := float64(regularInput)/1_000_000*info.InputPerM +
		float64(cachedTokens)/1_000_000*info.CachedInputPerM +
		float64(outputTokens)/1_000_000*info.OutputPerM
	return round6(cost)
}

// ContextWindow returns the model's context window, 0 if unknown.
func (p *PriceTable) ContextWindow(model string) int {
	info, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return info.ContextWindow
}

// DangerZone returns the model's context danger-zone fraction,
// defaulting to 65 (percent) when the model is unknown.
func (p *PriceTable) DangerZone(model string) float64 {
	info, ok := p.Lookup(model)
	if !ok || info.DangerZonePercent == 0 {
		return 65
	}
	return info.DangerZonePercent
}

func round6(v float64) float64 {
	const scale = 1_000_000
	return float64(int64(v*scale+0.5)) / scale
}

// Package config loads, validates, and hot-reloads the agent's YAML
// configuration file, following the split the pack's config loaders
// document: most fields apply live on reload, a small destructive set
// only takes effect on restart.
//
// Config file: ~/.bannin/config.yaml (default)
//
// Hot-reload: fsnotify watches the config file and the cached remote
// platform/price-table file (~/.bannin/platform_config.json). On a
// config.yaml write, the file is re-read and re-validated; an invalid
// reload is logged and the previous config stays active (the agent
// never crashes on a bad hot-reload). Non-destructive fields (alert
// rules, intervals, log level) apply immediately; destructive fields
// (relay URL, HTTP bind address, storage paths) are flagged in the
// change log but require a restart to take effect.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bannin-agent/bannin/internal/model"
)

// Config is the root configuration structure for the agent.
type Config struct {
	Agent     AgentConfig       `yaml:"agent" validate:"required"`
	HTTP      HTTPConfig        `yaml:"http" validate:"required"`
	Relay     RelayConfig       `yaml:"relay" validate:"required"`
	Pipeline  PipelineConfig    `yaml:"pipeline" validate:"required"`
	Storage   StorageConfig     `yaml:"storage" validate:"required"`
	Alerts    []model.AlertRule `yaml:"alerts" validate:"dive"`
	LLM       LLMConfig         `yaml:"llm" validate:"required"`
	Logging   LoggingConfig     `yaml:"logging" validate:"required"`
}

// AgentConfig holds the collection loop's cadence. Destructive: none
// of these require a restart, the history loop simply picks up the
// new interval on its next tick.
type AgentConfig struct {
	// CollectionInterval is the sampling period, default 2s.
	CollectionInterval time.Duration `yaml:"collection_interval"`
	// RingSize is the metric-history ring capacity, default 900.
	RingSize int `yaml:"ring_size" validate:"min=1"`
	// TrainingScanInterval is the training-detector's process-scan
	// period, default 10s.
	TrainingScanInterval time.Duration `yaml:"training_scan_interval"`
	// StallTimeout marks a progress task stalled after this much time
	// without an update, default 120s.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// HTTPConfig configures the local HTTP surface. Destructive: changing
// BindAddr requires a restart (the listener is created once at
// startup); rate limits apply live.
type HTTPConfig struct {
	BindAddr              string  `yaml:"bind_addr"`
	DestructiveRatePerSec float64 `yaml:"destructive_rate_per_sec" validate:"min=0"`
	DestructiveBurst      int     `yaml:"destructive_burst" validate:"min=0"`
}

// RelayConfig configures the outbound relay WebSocket client.
// Destructive: URL and APIKey require a restart (the client dials
// once at startup and owns its own reconnect loop thereafter).
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key"`
}

// PipelineConfig tunes the analytics event queue.
type PipelineConfig struct {
	MaxQueueSize  int           `yaml:"max_queue_size" validate:"min=1"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushBatch    int           `yaml:"flush_batch" validate:"min=1"`
}

// StorageConfig holds on-disk paths. All destructive: the SQLite
// handle and log file are opened once at startup.
type StorageConfig struct {
	DBPath            string `yaml:"db_path"`
	PlatformCachePath string `yaml:"platform_cache_path"`
	LogPath           string `yaml:"log_path"`
	RetentionDays     int    `yaml:"retention_days" validate:"min=1"`
}

// LLMConfig configures the price-table remote refresh (adapted from
// the original's platform/price-table fetcher: defaults, then cache,
// then a best-effort remote refresh that never blocks startup).
type LLMConfig struct {
	PriceTableURL     string        `yaml:"price_table_url" validate:"omitempty,url"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	CacheStaleAfter   time.Duration `yaml:"cache_stale_after"`
}

// LoggingConfig controls the slog handler. Applies live.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text auto"`
}

// DefaultPath is where the config file lives unless overridden.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bannin/config.yaml"
	}
	return filepath.Join(home, ".bannin", "config.yaml")
}

// defaultStorageDir mirrors DefaultPath's directory, used to derive
// the default db/cache/log paths.
func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bannin"
	}
	return filepath.Join(home, ".bannin")
}

// Defaults returns a Config populated with every field's default
// value, mirroring spec.md's stated defaults (2s collection interval,
// 900-entry ring, 10000-entry pipeline queue, 2s/100-item flush).
func Defaults() Config {
	dir := defaultStorageDir()
	return Config{
		Agent: AgentConfig{
			CollectionInterval:   2 * time.Second,
			RingSize:             900,
			TrainingScanInterval: 10 * time.Second,
			StallTimeout:         120 * time.Second,
		},
		HTTP: HTTPConfig{
			BindAddr:              "127.0.0.1:8642",
			DestructiveRatePerSec: 1,
			DestructiveBurst:      3,
		},
		Relay: RelayConfig{
			Enabled: false,
		},
		Pipeline: PipelineConfig{
			MaxQueueSize:  10000,
			FlushInterval: 2 * time.Second,
			FlushBatch:    100,
		},
		Storage: StorageConfig{
			DBPath:            filepath.Join(dir, "store.db"),
			PlatformCachePath: filepath.Join(dir, "platform_config.json"),
			LogPath:           filepath.Join(dir, "bannin.log"),
			RetentionDays:     30,
		},
		LLM: LLMConfig{
			PriceTableURL:   "https://raw.githubusercontent.com/bannin-agent/price-table/main/prices.json",
			RefreshInterval: 24 * time.Hour,
			FetchTimeout:    5 * time.Second,
			CacheStaleAfter: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

var validate = validator.New()

// Load reads path (or DefaultPath if empty), merges it over Defaults,
// and validates the result. A missing file is not an error: the
// agent starts on defaults, matching the "never block startup on
// config" posture shared with the price-table fetch.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate runs struct-tag validation plus the cross-field checks
// validator tags can't express (alert rule operator/threshold shape,
// cooldown bounds already covered by model.AlertRule's own tags).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return describeValidationError(err)
	}
	for i, rule := range cfg.Alerts {
		if rule.Threshold == nil && rule.CompareTo == "" {
			return fmt.Errorf("config: alerts[%d] (%s): must set either threshold or compare_to", i, rule.ID)
		}
	}
	return nil
}

func describeValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
}

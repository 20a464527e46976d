// Package agent is the composition root: it builds every singleton
// from a loaded config, wires them to the pipeline, and runs the
// fixed set of always-on background loops the history collector,
// pipeline consumer, Ollama poller, training scanner, and optional
// relay client.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bannin-agent/bannin/internal/alertengine"
	"github.com/bannin-agent/bannin/internal/analytics"
	"github.com/bannin-agent/bannin/internal/collector"
	"github.com/bannin-agent/bannin/internal/config"
	"github.com/bannin-agent/bannin/internal/history"
	"github.com/bannin-agent/bannin/internal/httpapi"
	"github.com/bannin-agent/bannin/internal/llmtrack"
	"github.com/bannin-agent/bannin/internal/ollama"
	"github.com/bannin-agent/bannin/internal/oom"
	"github.com/bannin-agent/bannin/internal/pipeline"
	"github.com/bannin-agent/bannin/internal/platform"
	"github.com/bannin-agent/bannin/internal/progress"
	"github.com/bannin-agent/bannin/internal/relay"
	"github.com/bannin-agent/bannin/internal/secrets"
	"github.com/bannin-agent/bannin/internal/tokens"
	"github.com/bannin-agent/bannin/internal/training"
)

const trainingScanInterval = 10 * time.Second

// Agent owns every long-lived singleton and the background loops that
// drive them.
type Agent struct {
	cfg *config.Config
	log *slog.Logger

	store          *analytics.Store
	pipeline       *pipeline.Pipeline
	hist           *history.History
	alerts         *alertengine.Engine
	oomPred        *oom.Predictor
	tasks          *progress.Tracker
	trainDet       *training.Detector
	procScan       *collector.ProcessScanner
	llm            *llmtrack.Tracker
	tokens         *tokens.Store
	vault          *secrets.Vault
	relayCli       *relay.Client
	ollama         *ollama.Poller
	platform       platform.Detector
	prices         *config.PriceTableRefresher
	priceCachePath string

	Handlers *httpapi.Handlers
}

// New builds every singleton from cfg but does not start any
// background loop; call Run to do that.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := analytics.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("agent: open analytics store: %w", err)
	}

	pipe := pipeline.New(pipeline.Config{
		MaxQueueSize:  cfg.Pipeline.MaxQueueSize,
		FlushInterval: cfg.Pipeline.FlushInterval,
		FlushBatch:    cfg.Pipeline.FlushBatch,
	}, store)

	plat := platform.BareMetal{}
	alerts := alertengine.New(cfg.Alerts, platformLabelAdapter{det: plat})

	histCfg := history.DefaultConfig()
	if cfg.Agent.CollectionInterval > 0 {
		histCfg.Interval = cfg.Agent.CollectionInterval
	}
	if cfg.Agent.RingSize > 0 {
		histCfg.MaxReadings = cfg.Agent.RingSize
	}
	coll := collector.New(cfg.Storage.DBPath, collector.NoGPU{})
	hist := history.New(histCfg, coll, pipe, alerts)

	oomPred := oom.New(hist, 12)
	tasksTracker := progress.New(0, cfg.Agent.StallTimeout)
	trainDet := training.New(100, 5*time.Minute)
	procScan := collector.NewProcessScanner(collector.DefaultNameMapper{})

	prices := llmtrack.NewPriceTable()
	llmTracker := llmtrack.New(prices, pipe)
	priceCachePath := filepath.Join(filepath.Dir(cfg.Storage.DBPath), "price_table_cache.json")
	priceRefresher := config.NewPriceTableRefresher(cfg.LLM, priceCachePath, prices)
	priceRefresher.LoadInitial(context.Background())

	tokenStore, err := tokens.Open()
	if err != nil {
		return nil, fmt.Errorf("agent: open token store: %w", err)
	}

	resolver := &taskResolver{tasks: tasksTracker}
	controller := relay.NewProcessController(resolver, logger)

	ollamaPoller := ollama.New("")

	mcpStore := httpapi.NewMCPSessionStore()

	vault := secrets.NewVault()
	if cfg.Relay.APIKey != "" {
		vault.Set("relay_api_key", cfg.Relay.APIKey)
	}

	a := &Agent{
		cfg:            cfg,
		log:            logger,
		store:          store,
		pipeline:       pipe,
		hist:           hist,
		alerts:         alerts,
		oomPred:        oomPred,
		tasks:          tasksTracker,
		trainDet:       trainDet,
		procScan:       procScan,
		llm:            llmTracker,
		tokens:         tokenStore,
		vault:          vault,
		ollama:         ollamaPoller,
		platform:       plat,
		prices:         priceRefresher,
		priceCachePath: priceCachePath,
	}

	if cfg.Relay.Enabled {
		apiKey, _ := vault.Get("relay_api_key")
		a.relayCli = relay.New(cfg.Relay.URL, apiKey, &collectorAdapter{a: a}, controller, logger)
	}

	a.Handlers = &httpapi.Handlers{
		History:   hist,
		Alerts:    alerts,
		OOM:       oomPred,
		Tasks:     tasksTracker,
		Training:  trainDet,
		Processes: procScan,
		LLM:       llmTracker,
		Analytics: store,
		Pipeline:  pipe,
		Tokens:    tokenStore,
		Killer:    controller,
		Platform:  plat,
		Ollama:    ollamaPoller,
		MCP:       mcpStore,
		Logger:    logger,

		DestructiveRatePerSec: cfg.HTTP.DestructiveRatePerSec,
		DestructiveBurst:      cfg.HTTP.DestructiveBurst,
	}

	return a, nil
}

// platformLabelAdapter adapts a platform.Detector to the alertengine's
// PlatformProvider, which only wants the label half of Detect.
type platformLabelAdapter struct {
	det platform.Detector
}

func (p platformLabelAdapter) Platform() string {
	label, _ := p.det.Detect()
	return label
}

// taskResolver resolves a progress-tracker task id to the PID it was
// pushed with, for relay-issued stop/kill commands against tasks that
// were not training-detector-sourced (and so don't carry a "pid_<N>"
// task id already).
type taskResolver struct {
	tasks *progress.Tracker
}

func (r *taskResolver) ResolvePID(taskID string) (int, bool) {
	pid, ok := r.tasks.GetTaskPID(taskID)
	if !ok || pid == nil {
		return 0, false
	}
	return *pid, true
}

// Run starts every background loop and blocks until ctx is cancelled
// or one of them returns a fatal error.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.pipeline.Start(gctx)

	g.Go(func() error {
		a.hist.Start(gctx)
		return nil
	})

	g.Go(func() error {
		a.ollama.Run(gctx, 15*time.Second)
		return nil
	})

	g.Go(func() error {
		return a.runTrainingScanner(gctx)
	})

	g.Go(func() error {
		return a.runPriceTableRefresh(gctx)
	})

	if a.relayCli != nil {
		g.Go(func() error {
			return a.relayCli.Run(gctx)
		})
	}

	err := g.Wait()
	a.hist.Stop()
	a.pipeline.Stop()
	return err
}

// Close releases every singleton that owns a file handle or OS
// resource. Call after Run returns.
func (a *Agent) Close() error {
	a.tokens.Close()
	a.vault.Close()
	return a.store.Close()
}

// PriceTableRefresher exposes the price-table refresher so a config
// watcher can be told about it (its cache file location is one of the
// restart-required fields the watcher tracks).
func (a *Agent) PriceTableRefresher() *config.PriceTableRefresher {
	return a.prices
}

// PriceCachePath returns the on-disk location of the cached price
// table, for wiring into a config.Watcher.
func (a *Agent) PriceCachePath() string {
	return a.priceCachePath
}

func (a *Agent) runPriceTableRefresh(ctx context.Context) error {
	interval := a.cfg.LLM.RefreshInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.prices.Refresh(ctx)
		}
	}
}

func (a *Agent) runTrainingScanner(ctx context.Context) error {
	interval := trainingScanInterval
	if a.cfg.Agent.TrainingScanInterval > 0 {
		interval = a.cfg.Agent.TrainingScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			raw, err := a.procScan.ScanRaw(ctx)
			if err != nil {
				a.log.Debug("training scan failed", "error", err)
				continue
			}
			a.trainDet.UpdateFromScan(raw)
			for _, t := range a.trainDet.GetDetectedTasks() {
				pid := t.PID
				a.tasks.UpsertExternal(t.DisplayName, 0, nil, &pid)
			}
		}
	}
}

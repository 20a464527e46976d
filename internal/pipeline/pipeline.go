// Package pipeline provides non-blocking event ingestion with batched
// writes: every subsystem emits through one Pipeline, which buffers in
// a bounded channel and flushes to the analytics store on a timer. The
// agent never blocks on analytics — an overflowing queue drops the
// oldest event to make room for the newest.
package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/bannin-agent/bannin/internal/model"
)

const (
	defaultQueueSize     = 10000
	defaultFlushInterval = 2 * time.Second
	defaultFlushBatch    = 100
	metricSnapshotPeriod = 5 * time.Minute
)

// Store is the analytics sink a Pipeline flushes batches to.
type Store interface {
	WriteEvents(events []model.Event) error
}

// Config tunes queue size and flush cadence; zero values take the
// package defaults.
type Config struct {
	MaxQueueSize  int
	FlushInterval time.Duration
	FlushBatch    int
}

func DefaultConfig() Config {
	return Config{MaxQueueSize: defaultQueueSize, FlushInterval: defaultFlushInterval, FlushBatch: defaultFlushBatch}
}

// Pipeline is a bounded, non-blocking event queue with a background
// consumer that drains it into Store in batches.
type Pipeline struct {
	cfg     Config
	store   Store
	machine string

	queueCh chan model.Event

	mu             sync.Mutex
	downsampleLast map[string]time.Time
	dropped        uint64

	subMu sync.Mutex
	subs  map[chan model.Event]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Pipeline. store may be nil during early startup;
// flushes against a nil store are silently dropped (matching the
// original's "write failures never interrupt ingestion" behavior).
func New(cfg Config, store Store) *Pipeline {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaultQueueSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = defaultFlushBatch
	}
	machine, _ := os.Hostname()
	return &Pipeline{
		cfg:            cfg,
		store:          store,
		machine:        machine,
		queueCh:        make(chan model.Event, cfg.MaxQueueSize),
		downsampleLast: make(map[string]time.Time),
		subs:           make(map[chan model.Event]struct{}),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Subscribe registers a live tap for every event Emit accepts, for
// streaming consumers like the SSE handler. Delivery is best-effort:
// a subscriber that isn't keeping up has events dropped for it rather
// than blocking Emit. Call the returned func to unsubscribe.
func (p *Pipeline) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan model.Event, buffer)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()
	cancel := func() {
		p.subMu.Lock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
		p.subMu.Unlock()
	}
	return ch, cancel
}

func (p *Pipeline) broadcast(evt model.Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// SetStore attaches the analytics store once it becomes available,
// e.g. after the SQLite file has been opened during startup.
func (p *Pipeline) SetStore(store Store) {
	p.mu.Lock()
	p.store = store
	p.mu.Unlock()
}

// Emit enriches and enqueues an event, non-blocking. metric_snapshot
// events are downsampled to one per 5 minutes; an overflowing queue
// drops the single oldest queued event to make room.
func (p *Pipeline) Emit(evt model.Event) {
	if evt.Type == "metric_snapshot" {
		now := time.Now()
		p.mu.Lock()
		last, ok := p.downsampleLast["metric_snapshot"]
		if ok && now.Sub(last) < metricSnapshotPeriod {
			p.mu.Unlock()
			return
		}
		p.downsampleLast["metric_snapshot"] = now
		p.mu.Unlock()
	}

	now := time.Now().UTC()
	evt.Epoch = float64(now.UnixNano()) / 1e9
	evt.Timestamp = now
	evt.Machine = p.machine
	if evt.Source == "" {
		evt.Source = "unknown"
	}
	if evt.Data == nil {
		evt.Data = map[string]any{}
	}

	select {
	case p.queueCh <- evt:
	default:
		select {
		case <-p.queueCh:
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		default:
		}
		select {
		case p.queueCh <- evt:
		default:
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		}
	}

	p.broadcast(evt)
}

// Dropped returns the total number of events discarded because the
// queue was full, either an evicted oldest event or a failed re-enqueue.
func (p *Pipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Start launches the background flush loop. Safe to call once; a
// second call is a no-op until Stop has completed.
func (p *Pipeline) Start(ctx context.Context) {
	go p.consumerLoop(ctx)
}

// Stop halts the consumer loop and performs a final flush.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.doneCh
		p.flush()
	})
}

func (p *Pipeline) consumerLoop(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.flush()
		}
	}
}

// flush drains up to FlushBatch events and writes them to the store.
// A missing store or a write error is swallowed — analytics delivery
// is best-effort and must never propagate back into the hot path.
func (p *Pipeline) flush() {
	batch := make([]model.Event, 0, p.cfg.FlushBatch)
drain:
	for i := 0; i < p.cfg.FlushBatch; i++ {
		select {
		case evt := <-p.queueCh:
			batch = append(batch, evt)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return
	}

	p.mu.Lock()
	store := p.store
	p.mu.Unlock()
	if store == nil {
		return
	}
	_ = store.WriteEvents(batch)
}

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bannin-agent/bannin/internal/model"
)

type fakeStore struct {
	mu     sync.Mutex
	writes [][]model.Event
}

func (f *fakeStore) WriteEvents(events []model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]model.Event, len(events))
	copy(batch, events)
	f.writes = append(f.writes, batch)
	return nil
}

func (f *fakeStore) all() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, b := range f.writes {
		out = append(out, b...)
	}
	return out
}

func TestEmit_EnrichesEventAndBroadcasts(t *testing.T) {
	p := New(DefaultConfig(), nil)
	ch, cancel := p.Subscribe(4)
	defer cancel()

	p.Emit(model.Event{Type: "alert_fired", Message: "ram high"})

	select {
	case evt := <-ch:
		assert.Equal(t, "alert_fired", evt.Type)
		assert.Equal(t, "unknown", evt.Source)
		assert.NotZero(t, evt.Epoch)
		assert.NotNil(t, evt.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestEmit_DownsamplesMetricSnapshot(t *testing.T) {
	p := New(DefaultConfig(), nil)

	p.Emit(model.Event{Type: "metric_snapshot"})
	p.Emit(model.Event{Type: "metric_snapshot"})

	assert.Equal(t, uint64(0), p.Dropped(), "a downsampled emit is suppressed, not dropped")

	var n int
drain:
	for {
		select {
		case <-p.queueCh:
			n++
		default:
			break drain
		}
	}
	assert.Equal(t, 1, n, "second metric_snapshot within the downsample window should never have been enqueued")
}

func TestEmit_OverflowDropsOldest(t *testing.T) {
	cfg := Config{MaxQueueSize: 2, FlushInterval: time.Hour, FlushBatch: 10}
	p := New(cfg, nil)

	p.Emit(model.Event{Type: "a"})
	p.Emit(model.Event{Type: "b"})
	p.Emit(model.Event{Type: "c"})

	assert.Equal(t, uint64(1), p.Dropped())

	var types []string
	for i := 0; i < 2; i++ {
		evt := <-p.queueCh
		types = append(types, evt.Type)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, types)
}

func TestSubscribe_SlowSubscriberNeverBlocksEmit(t *testing.T) {
	p := New(DefaultConfig(), nil)
	ch, cancel := p.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Emit(model.Event{Type: "first"})
		p.Emit(model.Event{Type: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
	<-ch
}

func TestStop_FlushesRemainingEventsToStore(t *testing.T) {
	store := &fakeStore{}
	cfg := Config{MaxQueueSize: 100, FlushInterval: time.Hour, FlushBatch: 10}
	p := New(cfg, store)
	p.Start(context.Background())

	p.Emit(model.Event{Type: "shutdown_flush"})
	p.Stop()

	events := store.all()
	require.Len(t, events, 1)
	assert.Equal(t, "shutdown_flush", events[0].Type)
}

func TestSetStore_AttachesAfterConstruction(t *testing.T) {
	p := New(Config{MaxQueueSize: 10, FlushInterval: time.Hour, FlushBatch: 10}, nil)
	store := &fakeStore{}
	p.SetStore(store)

	p.Emit(model.Event{Type: "late_bound"})
	p.flush()

	require.Len(t, store.all(), 1)
}

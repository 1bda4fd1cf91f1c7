package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alloybilling/ingestion-gateway/event"
	"github.com/alloybilling/ingestion-gateway/handoff"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimed: make(map[string]bool)}
}

func (s *fakeStore) ProbeAndClaim(_ context.Context, keys []string) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := make([]bool, len(keys))
	for i, k := range keys {
		present[i] = s.claimed[k]
		s.claimed[k] = true
	}
	return present, nil
}

type fakeSink struct {
	mu    sync.Mutex
	batch []event.UsageEvent
}

func (s *fakeSink) InsertBatch(_ context.Context, batch []event.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, batch...)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) written() []event.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.UsageEvent, len(s.batch))
	copy(out, s.batch)
	return out
}

func TestPoolFlushesBatchOnSizeTrigger(t *testing.T) {
	queue := handoff.New(100)
	store := newFakeStore()
	snk := &fakeSink{}

	cfg := Config{
		Workers:          1,
		BatchSize:        2,
		FlushInterval:    time.Hour, // never ticks — force size trigger
		MaxRetries:       1,
		FlushConcurrency: 2,
		SharedDedupeTTL:  time.Minute,
	}

	p := New(zerolog.Nop(), cfg, queue, store, snk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	queue.TryEnqueue(event.NewUsageEvent("c1", "api_call", 1, "k1"))
	queue.TryEnqueue(event.NewUsageEvent("c1", "api_call", 2, "k2"))

	assert.Eventually(t, func() bool {
		return len(snk.written()) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	p.Stop()
}

func TestPoolFlushesOnShutdownDrain(t *testing.T) {
	queue := handoff.New(100)
	store := newFakeStore()
	snk := &fakeSink{}

	cfg := Config{
		Workers:          1,
		BatchSize:        100,
		FlushInterval:    time.Hour,
		MaxRetries:       1,
		FlushConcurrency: 2,
		SharedDedupeTTL:  time.Minute,
	}

	p := New(zerolog.Nop(), cfg, queue, store, snk, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	queue.TryEnqueue(event.NewUsageEvent("c1", "api_call", 1, "k1"))
	time.Sleep(20 * time.Millisecond) // let the worker pick it up into its batch

	cancel()
	p.Stop()

	assert.Len(t, snk.written(), 1)
}

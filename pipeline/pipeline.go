// Package pipeline runs the worker pool that drains the hand-off queue,
// batches events, deduplicates them against the shared store, and flushes
// durable batches to the sink.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/alloybilling/ingestion-gateway/dedupe"
	"github.com/alloybilling/ingestion-gateway/event"
	"github.com/alloybilling/ingestion-gateway/flushctl"
	"github.com/alloybilling/ingestion-gateway/handoff"
	"github.com/alloybilling/ingestion-gateway/observability"
	"github.com/alloybilling/ingestion-gateway/sink"
	"github.com/rs/zerolog"
)

// Config controls batching and flush behavior for every worker in the pool.
type Config struct {
	Workers          int
	BatchSize        int
	FlushInterval    time.Duration
	MaxRetries       int
	FlushConcurrency int
	SharedDedupeTTL  time.Duration
}

// Pool owns the worker goroutines that drain the hand-off queue.
type Pool struct {
	logger  zerolog.Logger
	cfg     Config
	queue   *handoff.Queue
	store   dedupe.SharedStore
	sink    sink.Sink
	permit  *flushctl.Permit
	metrics *observability.Metrics

	wg       sync.WaitGroup
	flushWG  sync.WaitGroup
	cancelFn context.CancelFunc
}

// New builds a worker pool. Workers are not started until Start is called.
func New(
	logger zerolog.Logger,
	cfg Config,
	queue *handoff.Queue,
	store dedupe.SharedStore,
	s sink.Sink,
	metrics *observability.Metrics,
) *Pool {
	return &Pool{
		logger:  logger.With().Str("component", "pipeline").Logger(),
		cfg:     cfg,
		queue:   queue,
		store:   store,
		sink:    s,
		permit:  flushctl.New(cfg.FlushConcurrency),
		metrics: metrics,
	}
}

// Start launches cfg.Workers goroutines, each independently draining the
// shared hand-off queue.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancelFn = context.WithCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info().
		Int("workers", p.cfg.Workers).
		Int("batch_size", p.cfg.BatchSize).
		Dur("flush_interval", p.cfg.FlushInterval).
		Int("flush_concurrency", p.cfg.FlushConcurrency).
		Msg("pipeline started")
}

// Stop cancels all workers, waits for their final batch flush, waits for
// any in-flight detached flushes, and closes the sink.
func (p *Pool) Stop() {
	if p.cancelFn != nil {
		p.cancelFn()
	}
	p.wg.Wait()
	p.flushWG.Wait()

	if p.sink != nil {
		_ = p.sink.Close()
	}

	p.logger.Info().Msg("pipeline stopped")
}

// worker is the three-way select loop: drain on cancellation, batch on
// dequeue, flush on tick.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]event.UsageEvent, 0, p.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			batch = p.drain(batch)
			if len(batch) > 0 {
				p.flushSync(batch)
			}
			return

		case e, ok := <-p.queue.Dequeue():
			if !ok {
				if len(batch) > 0 {
					p.flushSync(batch)
				}
				return
			}
			batch = append(batch, e)
			if len(batch) >= p.cfg.BatchSize {
				p.flushDetached(batch)
				batch = make([]event.UsageEvent, 0, p.cfg.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				p.flushDetached(batch)
				batch = make([]event.UsageEvent, 0, p.cfg.BatchSize)
			}
		}
	}
}

// drain non-blockingly empties whatever remains in the queue once the
// pipeline is shutting down, so no buffered event is silently lost.
func (p *Pool) drain(batch []event.UsageEvent) []event.UsageEvent {
	for {
		select {
		case e, ok := <-p.queue.Dequeue():
			if !ok {
				return batch
			}
			batch = append(batch, e)
			if len(batch) >= p.cfg.BatchSize {
				p.flushSync(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

// flushDetached acquires a flush permit on the calling worker, waiting
// while every permit is held, then runs the dedupe+sink pipeline on its
// own goroutine so the worker can keep batching the next window without
// waiting on ClickHouse.
func (p *Pool) flushDetached(batch []event.UsageEvent) {
	// Background is never cancelled, so Acquire returns only once a slot is free.
	_ = p.permit.Acquire(context.Background())

	p.flushWG.Add(1)
	go func() {
		defer p.flushWG.Done()
		defer p.permit.Release()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		p.processAndFlush(ctx, batch)
	}()
}

// flushSync runs the same pipeline inline, used only on shutdown where we
// must block until the final batch is durably written (or exhausted). It
// still acquires a flush permit like flushDetached so the shutdown path
// never exceeds flush_concurrency alongside any still-in-flight detached
// flushes.
func (p *Pool) flushSync(batch []event.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.permit.Acquire(ctx); err != nil {
		p.logger.Error().Err(err).Msg("flush permit acquisition failed")
		return
	}
	defer p.permit.Release()

	p.processAndFlush(ctx, batch)
}

// processAndFlush runs the mandated dedupe order — intra-batch first-wins,
// then the shared-store probe-and-claim — before handing unique events to
// the sink with retry.
func (p *Pool) processAndFlush(ctx context.Context, batch []event.UsageEvent) {
	if p.metrics != nil {
		p.metrics.WorkerBatchSize.Observe(float64(len(batch)))
	}

	unique := dedupe.Phase1(batch)

	keys := make([]string, len(unique))
	for i, e := range unique {
		keys[i] = e.DedupeKey()
	}

	present, err := p.store.ProbeAndClaim(ctx, keys)
	if err != nil {
		p.logger.Warn().Err(err).Msg("shared dedupe probe failed — proceeding without it")
		present = make([]bool, len(unique))
	}

	toFlush := make([]event.UsageEvent, 0, len(unique))
	for i, e := range unique {
		if present[i] {
			if p.metrics != nil {
				p.metrics.APIDuplicateRequestTotal.WithLabelValues("redis").Inc()
			}
			continue
		}
		toFlush = append(toFlush, e)
	}

	if len(toFlush) == 0 {
		return
	}

	var onFailure func()
	if p.metrics != nil {
		onFailure = p.metrics.IncFlushFailure
	}

	start := time.Now()
	flushErr := sink.FlushWithRetry(ctx, p.sink, toFlush, p.cfg.MaxRetries, p.logger, onFailure)
	if flushErr == nil && p.metrics != nil {
		p.metrics.ObserveFlushSuccess(time.Since(start), len(toFlush))
	}
	if flushErr != nil {
		p.logger.Error().Err(flushErr).Int("batch_size", len(toFlush)).Msg("batch dropped after exhausting retries")
	}
}

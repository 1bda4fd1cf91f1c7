// Command ingestion-gateway runs the usage-event ingestion HTTP service:
// accepts billing events, deduplicates them locally and against Redis,
// batches them, and durably writes them to ClickHouse.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/alloybilling/ingestion-gateway/config"
	"github.com/alloybilling/ingestion-gateway/dedupe"
	"github.com/alloybilling/ingestion-gateway/handoff"
	"github.com/alloybilling/ingestion-gateway/ingest"
	"github.com/alloybilling/ingestion-gateway/localdedupe"
	"github.com/alloybilling/ingestion-gateway/logger"
	"github.com/alloybilling/ingestion-gateway/observability"
	"github.com/alloybilling/ingestion-gateway/pipeline"
	"github.com/alloybilling/ingestion-gateway/redisclient"
	"github.com/alloybilling/ingestion-gateway/sink"
)

func main() {
	os.Exit(run())
}

// run wires every dependency in startup order (config, sink, shared
// store, metrics, queue, local cache, worker pool, HTTP listener) and
// blocks until a shutdown signal is received. A non-zero return signals
// a dependency the process could not start without, or a graceful HTTP
// shutdown that did not complete.
func run() int {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("ingestion gateway starting")

	var chSink *sink.ClickHouseSink
	var s sink.Sink
	chSink, err := sink.NewClickHouseSink(cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("clickhouse sink init failed — falling back to log sink")
		s = sink.NewLogSink(log)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		schemaErr := chSink.EnsureSchema(ctx)
		cancel()
		if schemaErr != nil {
			log.Error().Err(schemaErr).Msg("clickhouse schema bootstrap failed")
			return 1
		}
		s = chSink
		log.Info().Msg("clickhouse sink connected")
	}

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("redis client construction failed")
		return 1
	}
	if err := rc.Ping(); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — shared dedupe will fail open until it recovers")
	}
	store := dedupe.NewRedisStore(rc.Raw, cfg.SharedDedupeTTL, log)

	metrics := observability.New()

	queue := handoff.New(cfg.HandoffQueueCapacity)
	defer queue.Close()

	localCache := localdedupe.New(cfg.LocalDedupeCapacity, cfg.LocalDedupeTTL)
	defer localCache.Close()

	poolCfg := pipeline.Config{
		Workers:          numCPU(),
		BatchSize:        cfg.WorkerBatchSize,
		FlushInterval:    cfg.WorkerFlushInterval,
		MaxRetries:       cfg.SinkMaxRetries,
		FlushConcurrency: cfg.FlushConcurrency,
		SharedDedupeTTL:  cfg.SharedDedupeTTL,
	}
	pool := pipeline.New(log, poolCfg, queue, store, s, metrics)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	pool.Start(rootCtx)

	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	go func() {
		if err := observability.Serve(metricsCtx, cfg.MetricsAddr, metrics, log); err != nil {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	handler := ingest.NewHandler(queue, localCache, metrics, log)
	router := ingest.NewRouter(handler, cfg.MaxBodyBytes, log)

	srv := &http.Server{
		Addr:         cfg.GatewayAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.GatewayAddr).Msg("ingestion gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
			done <- syscall.SIGTERM
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	// Stop accepting new connections first, so the queue can only shrink
	// from here on — draining the pool before this would let late-arriving
	// requests enqueue into a pool that has already exited and stop.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)
	if shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("graceful HTTP shutdown failed")
	}

	cancelRoot()
	pool.Stop()
	cancelMetrics()

	if shutdownErr != nil {
		return 1
	}

	log.Info().Msg("ingestion gateway stopped gracefully")
	return 0
}

func numCPU() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

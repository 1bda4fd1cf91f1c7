// Package observability exposes ingestion-gateway metrics in real
// Prometheus format via a dedicated /metrics listener.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics is the central registry of every counter, gauge, and histogram
// the ingestion pipeline reports. Field names mirror spec-mandated metric
// names; the suffix-less Go fields are registered under the
// snake_case names in the constructor.
type Metrics struct {
	registry *prometheus.Registry

	APIRequestTotal          prometheus.Counter
	APIRequestProcessed      *prometheus.CounterVec
	APIDuplicateRequestTotal *prometheus.CounterVec
	MPSCBufferUsage          prometheus.Gauge
	LocalCacheSize           prometheus.Gauge
	WorkerBatchSize          prometheus.Histogram
	ClickHouseFlushDuration  prometheus.Histogram
	EventsFlushedToCH        prometheus.Counter
	ClickHouseFlushFailures  prometheus.Counter
}

// New builds and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		APIRequestTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_request_total",
			Help: "Total number of ingest requests received.",
		}),
		APIRequestProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_request_processed",
			Help: "Ingest requests processed, labeled by outcome status.",
		}, []string{"status"}),
		APIDuplicateRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_duplicate_request_total",
			Help: "Requests rejected as duplicates, labeled by the dedupe tier that caught them.",
		}, []string{"source"}),
		MPSCBufferUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mpsc_buffer_usage",
			Help: "Current depth of the hand-off queue.",
		}),
		LocalCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "local_cache_size",
			Help: "Current number of keys held in the local dedupe cache.",
		}),
		WorkerBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_batch_size",
			Help:    "Size of batches flushed by pipeline workers.",
			Buckets: []float64{10, 100, 500, 1000, 2500, 5000, 10000},
		}),
		ClickHouseFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clickhouse_flush_duration_seconds",
			Help:    "Duration of successful ClickHouse batch flushes.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsFlushedToCH: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_flushed_to_clickhouse",
			Help: "Total number of events durably written to ClickHouse.",
		}),
		ClickHouseFlushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clickhouse_flush_failures",
			Help: "Total number of failed flush attempts (including ones that later succeed on retry).",
		}),
	}

	reg.MustRegister(
		m.APIRequestTotal,
		m.APIRequestProcessed,
		m.APIDuplicateRequestTotal,
		m.MPSCBufferUsage,
		m.LocalCacheSize,
		m.WorkerBatchSize,
		m.ClickHouseFlushDuration,
		m.EventsFlushedToCH,
		m.ClickHouseFlushFailures,
	)

	return m
}

// ObserveFlushSuccess records a successful batch flush.
func (m *Metrics) ObserveFlushSuccess(duration time.Duration, eventCount int) {
	m.ClickHouseFlushDuration.Observe(duration.Seconds())
	m.EventsFlushedToCH.Add(float64(eventCount))
}

// IncFlushFailure records one failed flush attempt.
func (m *Metrics) IncFlushFailure() {
	m.ClickHouseFlushFailures.Inc()
}

// Handler returns the promhttp handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a dedicated HTTP server exposing /metrics on addr and
// blocks until ctx is cancelled or the server fails.
func Serve(ctx context.Context, addr string, m *Metrics, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

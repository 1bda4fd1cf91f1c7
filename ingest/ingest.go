// Package ingest implements the HTTP ingress surface: request validation,
// local dedupe short-circuit, and non-blocking hand-off into the worker
// pool's queue.
package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/alloybilling/ingestion-gateway/event"
	"github.com/alloybilling/ingestion-gateway/handoff"
	"github.com/alloybilling/ingestion-gateway/localdedupe"
	"github.com/alloybilling/ingestion-gateway/observability"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Handler holds every dependency the ingest endpoint needs to accept,
// dedupe, and hand off an event.
type Handler struct {
	queue      *handoff.Queue
	localCache *localdedupe.Cache
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewHandler(queue *handoff.Queue, localCache *localdedupe.Cache, metrics *observability.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:      queue,
		localCache: localCache,
		metrics:    metrics,
		logger:     logger.With().Str("component", "ingest").Logger(),
	}
}

// NewRouter builds the chi router for the ingestion gateway: a liveness
// root and the single POST /ingest endpoint.
func NewRouter(h *Handler, maxBodyBytes int64, appLogger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(appLogger))
	r.Use(maxBodySize(maxBodyBytes))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Post("/ingest", h.Ingest)

	return r
}

// Ingest implements the mandated 5-step ingress algorithm: decode, assign
// a server timestamp, check the local dedupe cache, insert into it, and
// hand off to the worker pool — all without blocking on the shared store
// or ClickHouse.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.metrics != nil {
		h.metrics.APIRequestTotal.Inc()
	}

	var payload event.UsageEvent
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.recordOutcome("bad_request")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := payload.Validate(); err != nil {
		h.recordOutcome("bad_request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Timestamp is always server-assigned; never trust the client's value.
	fresh := event.NewUsageEvent(payload.CustomerID, payload.EventType, payload.Amount, payload.IdempotencyKey)
	payload.EventID = fresh.EventID
	payload.Timestamp = fresh.Timestamp

	if h.metrics != nil {
		h.metrics.MPSCBufferUsage.Set(float64(h.queue.Len()))
		h.metrics.LocalCacheSize.Set(float64(h.localCache.Len()))
	}

	key := payload.DedupeKey()
	if h.localCache.Contains(key) {
		h.recordOutcome("duplicate")
		if h.metrics != nil {
			h.metrics.APIDuplicateRequestTotal.WithLabelValues("local").Inc()
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Duplicate"))
		return
	}
	h.localCache.Insert(key)

	if !h.queue.TryEnqueue(payload) {
		h.recordOutcome("buffer_full")
		h.logger.Warn().Str("customer_id", payload.CustomerID).Msg("hand-off queue full — rejecting event")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Buffer Full"))
		return
	}

	h.recordOutcome("accepted")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("transaction accepted"))
}

func (h *Handler) recordOutcome(status string) {
	if h.metrics != nil {
		h.metrics.APIRequestProcessed.WithLabelValues(status).Inc()
	}
}

func maxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Msg("request completed")
		})
	}
}

// Package sink persists flushed batches of usage events to ClickHouse,
// with a log-only fallback for local development and linear-backoff retry
// on insert failure.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/alloybilling/ingestion-gateway/config"
	"github.com/alloybilling/ingestion-gateway/event"
	"github.com/rs/zerolog"
)

const usageEventsTable = "usage_events"

// Sink is the durable destination for a flushed batch of events.
type Sink interface {
	InsertBatch(ctx context.Context, batch []event.UsageEvent) error
	Close() error
}

// ClickHouseSink writes batches via clickhouse-go/v2's native batch protocol.
type ClickHouseSink struct {
	conn   clickhouse.Conn
	logger zerolog.Logger
}

// NewClickHouseSink opens a connection from the configured DSN and
// credentials, with the async-insert settings the billing pipeline relies
// on for high-throughput ingestion. It does not create the destination
// table; EnsureSchema does that.
func NewClickHouseSink(cfg *config.Config, logger zerolog.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(cfg.ClickHouseDSN)
	if err != nil {
		return nil, fmt.Errorf("invalid CLICKHOUSE_DSN: %w", err)
	}
	if cfg.ClickHouseUser != "" {
		opts.Auth.Username = cfg.ClickHouseUser
	}
	if cfg.ClickHousePassword != "" {
		opts.Auth.Password = cfg.ClickHousePassword
	}
	opts.Settings = clickhouse.Settings{
		"async_insert":          1,
		"wait_for_async_insert": 0,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	s := &ClickHouseSink{
		conn:   conn,
		logger: logger.With().Str("component", "sink.clickhouse").Logger(),
	}
	return s, nil
}

// EnsureSchema creates the usage_events table if it does not already
// exist. Called once at startup, before the worker pool begins flushing.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	event_id        UUID,
	customer_id     String,
	event_type      String,
	amount          UInt64,
	idempotency_key String,
	timestamp       Int64
)
ENGINE = MergeTree()
PRIMARY KEY (customer_id, timestamp)
ORDER BY (customer_id, timestamp)`, usageEventsTable)

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("clickhouse: ensure schema: %w", err)
	}
	return nil
}

// InsertBatch appends every event in the batch and sends it as a single
// native insert.
func (s *ClickHouseSink) InsertBatch(ctx context.Context, batch []event.UsageEvent) error {
	if len(batch) == 0 {
		return nil
	}

	b, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", usageEventsTable))
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for _, e := range batch {
		if err := b.Append(e.EventID, e.CustomerID, e.EventType, e.Amount, e.IdempotencyKey, e.Timestamp); err != nil {
			return fmt.Errorf("clickhouse: append row: %w", err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

// LogSink is a development fallback that writes batches as JSON debug
// logs instead of requiring a live ClickHouse instance.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "sink.log").Logger()}
}

func (s *LogSink) InsertBatch(_ context.Context, batch []event.UsageEvent) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("log sink: marshal batch: %w", err)
	}
	s.logger.Debug().RawJSON("batch", raw).Int("size", len(batch)).Msg("flushed batch")
	return nil
}

func (s *LogSink) Close() error { return nil }

// FlushWithRetry sends batch to sink, making at most maxRetries attempts
// with a linear 100ms*attempt backoff between them. onAttemptFailure, if
// non-nil, is invoked once per failed attempt (including ones later
// succeeded on retry) so callers can track a per-attempt failure metric.
func FlushWithRetry(ctx context.Context, s Sink, batch []event.UsageEvent, maxRetries int, logger zerolog.Logger, onAttemptFailure func()) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := s.InsertBatch(ctx, batch); err == nil {
			return nil
		} else {
			lastErr = err
			if onAttemptFailure != nil {
				onAttemptFailure()
			}
			logger.Warn().Err(err).Int("attempt", attempt).Int("max_retries", maxRetries).
				Msg("flush attempt failed")
		}

		if attempt == maxRetries {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("flush: exhausted %d retries: %w", maxRetries, lastErr)
}

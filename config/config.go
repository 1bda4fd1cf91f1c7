// Package config loads ingestion-gateway settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all ingestion-gateway configuration values.
type Config struct {
	Env string

	// HTTP ingress
	GatewayAddr     string
	GracefulTimeout time.Duration
	MaxBodyBytes    int64

	// Metrics
	MetricsAddr string

	// ClickHouse
	ClickHouseDSN      string
	ClickHouseUser     string
	ClickHousePassword string

	// Redis (shared dedupe store)
	RedisURL string

	// Local dedupe cache
	LocalDedupeCapacity int
	LocalDedupeTTL      time.Duration

	// Hand-off queue
	HandoffQueueCapacity int

	// Worker batching
	WorkerBatchSize    int
	WorkerFlushInterval time.Duration

	// Flush concurrency
	FlushConcurrency int
	SinkMaxRetries   int

	// Shared dedupe TTL
	SharedDedupeTTL time.Duration

	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:             getEnv("ENV", "development"),
		GatewayAddr:     getEnv("GATEWAY_ADDR", "0.0.0.0:3000"),
		GracefulTimeout: time.Duration(getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)) * time.Second,
		MaxBodyBytes:    int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),

		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:8000"),

		ClickHouseDSN:      getEnv("CLICKHOUSE_DSN", "clickhouse://localhost:9000/alloy_billing"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// Required: no default, so an unset REDIS_URL fails client construction at startup.
		RedisURL: getEnv("REDIS_URL", ""),

		LocalDedupeCapacity: getEnvInt("LOCAL_DEDUPE_CAPACITY", 100_000),
		LocalDedupeTTL:      time.Duration(getEnvInt("LOCAL_DEDUPE_TTL_SEC", 600)) * time.Second,

		HandoffQueueCapacity: getEnvInt("HANDOFF_QUEUE_CAPACITY", 100_000),

		WorkerBatchSize:     getEnvInt("WORKER_BATCH_SIZE", 5000),
		WorkerFlushInterval: time.Duration(getEnvInt("WORKER_FLUSH_INTERVAL_MS", 500)) * time.Millisecond,

		FlushConcurrency: getEnvInt("FLUSH_CONCURRENCY", 50),
		SinkMaxRetries:   getEnvInt("SINK_MAX_RETRIES", 5),

		SharedDedupeTTL: time.Duration(getEnvInt("SHARED_DEDUPE_TTL_SEC", 86400)) * time.Second,

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

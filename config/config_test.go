package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"GATEWAY_ADDR", "METRICS_ADDR", "CLICKHOUSE_DSN", "REDIS_URL",
		"LOCAL_DEDUPE_CAPACITY", "WORKER_BATCH_SIZE", "FLUSH_CONCURRENCY",
	} {
		os.Unsetenv(key)
	}

	cfg := Load()

	assert.Equal(t, "0.0.0.0:3000", cfg.GatewayAddr)
	assert.Equal(t, "0.0.0.0:8000", cfg.MetricsAddr)
	assert.Equal(t, "clickhouse://localhost:9000/alloy_billing", cfg.ClickHouseDSN)
	assert.Equal(t, 100_000, cfg.LocalDedupeCapacity)
	assert.Equal(t, 5000, cfg.WorkerBatchSize)
	assert.Equal(t, 50, cfg.FlushConcurrency)
	assert.Equal(t, 15*time.Second, cfg.GracefulTimeout)
}

func TestLoadRespectsEnvOverride(t *testing.T) {
	os.Setenv("WORKER_BATCH_SIZE", "42")
	defer os.Unsetenv("WORKER_BATCH_SIZE")

	cfg := Load()
	assert.Equal(t, 42, cfg.WorkerBatchSize)
}

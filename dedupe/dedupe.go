// Package dedupe implements the pipeline's second-tier, cross-process
// deduplication: an intra-batch first-wins pass followed by a batched
// probe-and-claim against a shared Redis store.
package dedupe

import (
	"context"
	"time"

	"github.com/alloybilling/ingestion-gateway/event"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SharedStore probes a batch of dedupe keys and claims the ones that are
// absent, atomically, so that two workers racing on the same key cannot
// both win.
type SharedStore interface {
	// ProbeAndClaim returns, for each key in keys (same order), whether it
	// was already present. Keys absent on entry are claimed (written) as a
	// side effect so a subsequent call sees them as duplicates.
	ProbeAndClaim(ctx context.Context, keys []string) (alreadyPresent []bool, err error)
}

// RedisStore is the production SharedStore backed by Redis. Presence is
// modeled as SETNX + TTL: "is_duplicate" means the SETNX failed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "dedupe.redis").Logger(),
	}
}

// ProbeAndClaim fails open: if Redis is unreachable, every key is reported
// as not-present so the batch proceeds to the sink rather than being
// dropped. Losing a duplicate check is preferable to losing the event.
func (s *RedisStore) ProbeAndClaim(ctx context.Context, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.SetNX(ctx, k, 1, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Int("batch_size", len(keys)).
			Msg("shared dedupe store unreachable — failing open")
		present := make([]bool, len(keys))
		return present, nil
	}

	present := make([]bool, len(keys))
	for i, cmd := range cmds {
		claimed, cmdErr := cmd.Result()
		if cmdErr != nil {
			present[i] = false
			continue
		}
		// SetNX returns true when the key was newly set — i.e. it was
		// NOT already present.
		present[i] = !claimed
	}
	return present, nil
}

// Phase1 performs the mandated intra-batch first-wins pass: within a
// single flushed batch, only the first occurrence of a dedupe key
// survives, before the batch is ever probed against the shared store.
func Phase1(batch []event.UsageEvent) []event.UsageEvent {
	seen := make(map[string]struct{}, len(batch))
	unique := make([]event.UsageEvent, 0, len(batch))
	for _, e := range batch {
		key := e.DedupeKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, e)
	}
	return unique
}

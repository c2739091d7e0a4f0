package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stats is a point-in-time snapshot of the tracker's counters.
type Stats struct {
	Hits       int64
	Misses     int64
	StaleReads int64
}

// ConsistencyTracker records cache hit/miss/stale counters for one process and
// decides when a cached entry is stale enough to warrant a refresh-ahead. It
// is constructed at startup and injected wherever needed; tests reset it
// between cases.
type ConsistencyTracker struct {
	service   *Service
	logger    zerolog.Logger
	threshold time.Duration

	refreshTimeout time.Duration

	hits       atomic.Int64
	misses     atomic.Int64
	staleReads atomic.Int64
}

// NewConsistencyTracker creates a tracker. threshold is the age at which an
// entry is considered stale; it must be shorter than the TTLs it is checked
// against, otherwise no entry would ever be stale while still cached.
func NewConsistencyTracker(service *Service, threshold time.Duration, logger zerolog.Logger) (*ConsistencyTracker, error) {
	if service == nil {
		return nil, fmt.Errorf("cache service cannot be nil")
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("staleness threshold must be positive")
	}
	return &ConsistencyTracker{
		service:        service,
		logger:         logger.With().Str("component", "ConsistencyTracker").Logger(),
		threshold:      threshold,
		refreshTimeout: 10 * time.Second,
	}, nil
}

// RecordHit increments the hit counter.
func (t *ConsistencyTracker) RecordHit() { t.hits.Add(1) }

// RecordMiss increments the miss counter.
func (t *ConsistencyTracker) RecordMiss() { t.misses.Add(1) }

// RecordStale increments the stale-read counter.
func (t *ConsistencyTracker) RecordStale() { t.staleReads.Add(1) }

// Snapshot returns the current counter values.
func (t *ConsistencyTracker) Snapshot() Stats {
	return Stats{
		Hits:       t.hits.Load(),
		Misses:     t.misses.Load(),
		StaleReads: t.staleReads.Load(),
	}
}

// Reset zeroes all counters.
func (t *ConsistencyTracker) Reset() {
	t.hits.Store(0)
	t.misses.Store(0)
	t.staleReads.Store(0)
}

// CheckStaleData reports whether the entry at key is older than the staleness
// threshold. Age is derived from the store's remaining TTL against the entry's
// original ttl, so no per-entry metadata is written. An entry can be stale yet
// still valid: fresh enough to serve immediately, old enough to refresh in the
// background. Absent entries and entries without a TTL are never stale.
func (t *ConsistencyTracker) CheckStaleData(ctx context.Context, key string, ttl time.Duration) bool {
	res := t.service.TTL(ctx, key)
	if !res.Exists || !res.HasTTL {
		return false
	}

	age := ttl - res.Remaining
	if age <= t.threshold {
		return false
	}

	t.RecordStale()
	t.logger.Debug().Str("key", key).Dur("age", age).Msg("Cached entry is stale.")
	return true
}

// RefreshAhead re-runs producer and overwrites key with the fresh result. It
// is fire-and-forget: the caller has already returned the stale value, so the
// refresh runs on its own timeout context and failures are logged, not
// retried, and never affect the in-flight response.
func (t *ConsistencyTracker) RefreshAhead(key string, ttl time.Duration, producer func(ctx context.Context) ([]byte, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.refreshTimeout)
		defer cancel()

		value, err := producer(ctx)
		if err != nil {
			t.logger.Error().Err(err).Str("key", key).Msg("Background refresh failed.")
			return
		}
		t.service.Set(ctx, key, value, ttl)
		t.logger.Debug().Str("key", key).Msg("Background refresh completed.")
	}()
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// Service is a cache-aside facade over the shared store. Every store failure
// is degraded locally: a failed read is a miss, a failed write or delete is a
// no-op. Callers never receive an infrastructure error from this service; the
// only errors it returns come from caller-supplied producers.
type Service struct {
	store      keyvalue.Store
	logger     zerolog.Logger
	defaultTTL time.Duration
}

// NewService creates a cache service over the given store. defaultTTL applies
// when callers pass a non-positive TTL.
func NewService(store keyvalue.Store, defaultTTL time.Duration, logger zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("defaultTTL must be positive")
	}
	return &Service{
		store:      store,
		logger:     logger.With().Str("component", "CacheService").Logger(),
		defaultTTL: defaultTTL,
	}, nil
}

// Get retrieves the raw cached bytes for key. Store failures are logged and
// reported as a miss.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool) {
	res, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Cache read failed, treating as miss.")
		return nil, false
	}
	if !res.Found {
		return nil, false
	}
	return res.Value, true
}

// Set stores value under key. A non-positive ttl falls back to the default.
// Failures are logged and swallowed.
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if err := s.store.Set(ctx, key, value, ttl); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Cache write failed, continuing without caching.")
	}
}

// Delete removes key from the cache. Failures are logged and swallowed.
func (s *Service) Delete(ctx context.Context, key string) {
	if _, err := s.store.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Cache delete failed.")
	}
}

// DeleteByPattern enumerates keys matching the glob pattern and deletes them.
// The enumerate-then-delete pair is not atomic: a concurrent writer may
// re-populate a key in between, which is acceptable for an eventually
// consistent cache. Returns the number of keys deleted.
func (s *Service) DeleteByPattern(ctx context.Context, pattern string) int64 {
	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		s.logger.Error().Err(err).Str("pattern", pattern).Msg("Cache pattern scan failed.")
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	var deleted int64
	for _, key := range keys {
		n, err := s.store.Delete(ctx, key)
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Str("pattern", pattern).Msg("Cache delete failed during pattern eviction.")
			continue
		}
		deleted += n
	}
	s.logger.Debug().Str("pattern", pattern).Int64("deleted", deleted).Msg("Pattern eviction completed.")
	return deleted
}

// GetOrSet returns the cached value for key, or invokes producer on a miss,
// stores its result best-effort, and returns it. A producer error propagates
// unchanged; a failed cache write does not.
func (s *Service) GetOrSet(ctx context.Context, key string, ttl time.Duration, producer func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := s.Get(ctx, key); ok {
		return value, nil
	}

	value, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	s.Set(ctx, key, value, ttl)
	return value, nil
}

// TTL exposes the store's TTL query for key. Failures degrade to "absent".
func (s *Service) TTL(ctx context.Context, key string) keyvalue.TTLResult {
	res, err := s.store.TTL(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Cache TTL query failed.")
		return keyvalue.TTLResult{}
	}
	return res
}

// DefaultTTL returns the TTL applied when callers do not specify one.
func (s *Service) DefaultTTL() time.Duration { return s.defaultTTL }

// GetJSON retrieves and unmarshals a typed value. A malformed payload is
// logged and treated as a miss, never surfaced as an error.
func GetJSON[V any](ctx context.Context, s *Service, key string) (V, bool) {
	var zero V
	raw, ok := s.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached data, treating as miss.")
		return zero, false
	}
	return value, true
}

// SetJSON marshals and stores a typed value. Marshal failures are logged and
// swallowed, matching the facade's degrade-to-no-op policy.
func SetJSON[V any](ctx context.Context, s *Service, key string, value V, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal value for caching.")
		return
	}
	s.Set(ctx, key, raw, ttl)
}

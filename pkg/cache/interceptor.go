package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// Operation is any business operation the interceptor can wrap: one argument
// in, one result out. Multi-argument operations close over a struct.
type Operation[A, R any] func(ctx context.Context, arg A) (R, error)

// InterceptConfig controls the behavior of a Cached wrap.
type InterceptConfig struct {
	// TTL for entries written by this wrap. Zero falls back to the cache
	// service's default.
	TTL time.Duration
	// KeyPrefix namespaces the derived keys, e.g. "products".
	KeyPrefix string
	// CheckConsistency enables staleness detection on cache hits.
	CheckConsistency bool
	// BackgroundRefresh re-populates stale entries asynchronously. Only
	// meaningful with CheckConsistency.
	BackgroundRefresh bool
	// StampedeProtection serializes concurrent fills of the same key behind
	// a distributed lock.
	StampedeProtection bool
	// LockTTL bounds how long a crashed holder can block other fills.
	LockTTL time.Duration
	// LockRetries and LockRetryDelay shape the wait-and-recheck loop when
	// the lock is already held by another worker.
	LockRetries    int
	LockRetryDelay time.Duration
}

// InterceptDeps carries the interceptor's collaborators. They are passed
// explicitly at wrap time, never resolved from ambient state.
type InterceptDeps struct {
	Store   keyvalue.Store
	Cache   *Service
	Tracker *ConsistencyTracker
	Logger  zerolog.Logger
}

func (d InterceptDeps) validate() error {
	if d.Store == nil {
		return fmt.Errorf("store cannot be nil")
	}
	if d.Cache == nil {
		return fmt.Errorf("cache service cannot be nil")
	}
	if d.Tracker == nil {
		return fmt.Errorf("consistency tracker cannot be nil")
	}
	return nil
}

const (
	defaultLockTTL        = 10 * time.Second
	defaultLockRetries    = 3
	defaultLockRetryDelay = 50 * time.Millisecond
)

// Cached wraps op with cache-aside semantics: hits are served from the cache
// (optionally with staleness detection and background refresh), misses run op
// and populate the cache, and concurrent misses on the same key are collapsed
// to a single execution when stampede protection is enabled. Business errors
// from op propagate unchanged; every store failure degrades to uncached
// execution. name identifies the operation in derived keys and must be unique
// per wrapped operation.
func Cached[A, R any](cfg InterceptConfig, deps InterceptDeps, name string, op Operation[A, R]) (Operation[A, R], error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("operation name cannot be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = deps.Cache.DefaultTTL()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = defaultLockRetries
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = defaultLockRetryDelay
	}

	logger := deps.Logger.With().Str("component", "CachedOperation").Str("operation", name).Logger()

	return func(ctx context.Context, arg A) (R, error) {
		key := Key(cfg.KeyPrefix, name, arg)

		if cached, ok := GetJSON[R](ctx, deps.Cache, key); ok {
			deps.Tracker.RecordHit()
			if cfg.CheckConsistency && deps.Tracker.CheckStaleData(ctx, key, cfg.TTL) && cfg.BackgroundRefresh {
				// Serve the stale value immediately; the refresh never
				// blocks the caller.
				deps.Tracker.RefreshAhead(key, cfg.TTL, producerFor(op, arg))
			}
			return cached, nil
		}
		deps.Tracker.RecordMiss()

		if !cfg.StampedeProtection {
			return runAndFill(ctx, deps.Cache, key, cfg.TTL, op, arg, logger)
		}

		lockKey := LockKey(key)
		acquired, err := deps.Store.AcquireLock(ctx, lockKey, cfg.LockTTL)
		if err != nil {
			// Lock machinery unavailable: degrade to an unprotected fill
			// rather than failing the read.
			logger.Error().Err(err).Str("key", key).Msg("Lock acquisition errored, filling without protection.")
			return runAndFill(ctx, deps.Cache, key, cfg.TTL, op, arg, logger)
		}

		if acquired {
			return fillUnderLock(ctx, deps, lockKey, key, cfg.TTL, op, arg, logger)
		}

		// Another worker holds the lock and is presumably filling the key.
		// Wait a bounded number of intervals, re-checking the cache each
		// time, then fall back to direct uncached execution.
		for i := 0; i < cfg.LockRetries; i++ {
			select {
			case <-ctx.Done():
				var zero R
				return zero, ctx.Err()
			case <-time.After(cfg.LockRetryDelay):
			}
			if cached, ok := GetJSON[R](ctx, deps.Cache, key); ok {
				deps.Tracker.RecordHit()
				return cached, nil
			}
		}
		logger.Warn().Str("key", key).Msg("Lock never released within wait budget, executing uncached.")
		return op(ctx, arg)
	}, nil
}

// fillUnderLock runs the fill while holding the per-key lock. The lock is
// released on every exit path, including producer errors; its TTL is the
// backstop for a crashed holder.
func fillUnderLock[A, R any](
	ctx context.Context,
	deps InterceptDeps,
	lockKey, key string,
	ttl time.Duration,
	op Operation[A, R],
	arg A,
	logger zerolog.Logger,
) (R, error) {
	defer func() {
		// Release on a fresh context: the fill may have died because the
		// caller's ctx was cancelled, and the lock must be freed regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Store.ReleaseLock(releaseCtx, lockKey); err != nil {
			logger.Error().Err(err).Str("lock_key", lockKey).Msg("Failed to release lock, TTL will expire it.")
		}
	}()

	// A previous holder may have filled the key while we raced for the lock.
	if cached, ok := GetJSON[R](ctx, deps.Cache, key); ok {
		return cached, nil
	}
	return runAndFill(ctx, deps.Cache, key, ttl, op, arg, logger)
}

// runAndFill executes op and caches a successful result best-effort.
func runAndFill[A, R any](
	ctx context.Context,
	cache *Service,
	key string,
	ttl time.Duration,
	op Operation[A, R],
	arg A,
	logger zerolog.Logger,
) (R, error) {
	result, err := op(ctx, arg)
	if err != nil {
		var zero R
		return zero, err
	}
	SetJSON(ctx, cache, key, result, ttl)
	logger.Debug().Str("key", key).Msg("Cache filled from operation result.")
	return result, nil
}

// producerFor adapts a wrapped operation to the byte-producing shape the
// consistency tracker refreshes with.
func producerFor[A, R any](op Operation[A, R], arg A) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		result, err := op(ctx, arg)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
}

// PatternFunc derives the eviction pattern for a completed write from its
// argument and result. Returning an empty string skips eviction.
type PatternFunc[A, R any] func(arg A, result R) string

// StaticPattern returns a PatternFunc that always evicts the same glob.
func StaticPattern[A, R any](pattern string) PatternFunc[A, R] {
	return func(A, R) string { return pattern }
}

// Evicting wraps a write operation so that, after it succeeds, cache entries
// matching the derived pattern are deleted in the background. Eviction
// failures only risk temporary staleness, so they are logged inside the cache
// service and never surfaced; the write's result is returned untouched.
func Evicting[A, R any](deps InterceptDeps, op Operation[A, R], pattern PatternFunc[A, R]) (Operation[A, R], error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if pattern == nil {
		return nil, fmt.Errorf("pattern func cannot be nil")
	}

	logger := deps.Logger.With().Str("component", "EvictingOperation").Logger()

	return func(ctx context.Context, arg A) (R, error) {
		result, err := op(ctx, arg)
		if err != nil {
			return result, err
		}

		glob := pattern(arg, result)
		if glob == "" {
			return result, nil
		}

		// The write has committed; eviction is not awaited by the caller.
		go func() {
			evictCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			deleted := deps.Cache.DeleteByPattern(evictCtx, glob)
			logger.Debug().Str("pattern", glob).Int64("deleted", deleted).Msg("Post-write eviction completed.")
		}()
		return result, nil
	}, nil
}

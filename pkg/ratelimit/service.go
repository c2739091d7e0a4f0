package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// UnknownClient is the sentinel identity used when a client cannot be
// identified. The gate never fails just because identity is missing; anonymous
// traffic shares one window instead.
const UnknownClient = "unknown"

// WindowConfig is one admission window: at most Limit requests per WindowSize.
type WindowConfig struct {
	Limit      int
	WindowSize time.Duration
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed       bool
	Remaining     int
	ResetAt       time.Time
	TotalRequests int64
}

// Service is a fixed-window rate limiter over the shared store's atomic
// counters. Each check increments the window counter; the increment that
// creates the key also arms the window's TTL, so windows reset purely by
// expiry. On store failure the gate fails open: availability takes precedence
// over strict enforcement.
type Service struct {
	store    keyvalue.Store
	logger   zerolog.Logger
	defaults WindowConfig
	prefix   string

	// now is replaceable in tests.
	now func() time.Time
}

// NewService creates a rate limiter with the given default window.
func NewService(store keyvalue.Store, defaults WindowConfig, logger zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if defaults.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if defaults.WindowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	return &Service{
		store:    store,
		logger:   logger.With().Str("component", "RateLimiter").Logger(),
		defaults: defaults,
		prefix:   "ratelimit",
		now:      time.Now,
	}, nil
}

// Check admits or rejects one request for the given client identity using the
// service's default window.
func (s *Service) Check(ctx context.Context, key string) Result {
	return s.CheckWithConfig(ctx, key, s.defaults)
}

// CheckWithConfig admits or rejects one request using a per-call window, for
// gates that need a scope-specific ceiling.
func (s *Service) CheckWithConfig(ctx context.Context, key string, cfg WindowConfig) Result {
	if key == "" {
		key = UnknownClient
	}
	if cfg.Limit <= 0 {
		cfg.Limit = s.defaults.Limit
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = s.defaults.WindowSize
	}
	windowKey := s.prefix + ":" + key

	total, err := s.store.Incr(ctx, windowKey)
	if err != nil {
		s.logger.Error().Err(err).Str("key", windowKey).Msg("Rate limit counter unavailable, failing open.")
		return s.failOpen(cfg)
	}

	// The increment that created the key arms the window.
	if total == 1 {
		if _, err := s.store.Expire(ctx, windowKey, cfg.WindowSize); err != nil {
			s.logger.Error().Err(err).Str("key", windowKey).Msg("Failed to arm rate limit window TTL.")
		}
	}

	resetAt := s.now().Add(cfg.WindowSize)
	if ttl, err := s.store.TTL(ctx, windowKey); err != nil {
		s.logger.Error().Err(err).Str("key", windowKey).Msg("Rate limit TTL query failed, reporting best-effort reset.")
	} else if ttl.HasTTL {
		resetAt = s.now().Add(ttl.Remaining)
	}

	remaining := cfg.Limit - int(total)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:       total <= int64(cfg.Limit),
		Remaining:     remaining,
		ResetAt:       resetAt,
		TotalRequests: total,
	}
}

// failOpen builds the permissive result returned when the store is down: the
// request is admitted and the headers carry best-effort defaults.
func (s *Service) failOpen(cfg WindowConfig) Result {
	return Result{
		Allowed:       true,
		Remaining:     cfg.Limit,
		ResetAt:       s.now().Add(cfg.WindowSize),
		TotalRequests: 0,
	}
}

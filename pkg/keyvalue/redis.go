package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store on top of a single Redis instance.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates and connects a new RedisStore. It pings the server to
// ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore{
		client: rdb,
		logger: logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// Get retrieves the raw value for key. redis.Nil is translated into a normal
// not-found result so callers never see it.
func (s *RedisStore) Get(ctx context.Context, key string) (GetResult, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return GetResult{}, nil
	}
	if err != nil {
		return GetResult{}, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return GetResult{Value: val, Found: true}, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis DEL: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("redis KEYS %q: %w", pattern, err)
	}
	return keys, nil
}

// TTL reports the remaining lifetime of key. Redis signals "no TTL" as -1 and
// "no such key" as -2.
func (s *RedisStore) TTL(ctx context.Context, key string) (TTLResult, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return TTLResult{}, fmt.Errorf("redis TTL %q: %w", key, err)
	}
	switch {
	case d == -2:
		return TTLResult{}, nil
	case d < 0:
		return TTLResult{Exists: true}, nil
	default:
		return TTLResult{Remaining: d, HasTTL: true, Exists: true}, nil
	}
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis INCR %q: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXPIRE %q: %w", key, err)
	}
	return ok, nil
}

// AcquireLock creates key with SET NX. The value is irrelevant; existence is
// the lock.
func (s *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING: %w", err)
	}
	return nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Redis pub/sub subscription and adapts its message stream
// to the Subscription contract.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so messages published
	// immediately after Subscribe returns are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis SUBSCRIBE %q: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan ChannelMessage, 64),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan ChannelMessage
}

func (r *redisSubscription) pump() {
	defer close(r.out)
	for msg := range r.pubsub.Channel() {
		r.out <- ChannelMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (r *redisSubscription) Messages() <-chan ChannelMessage { return r.out }

func (r *redisSubscription) Close() error { return r.pubsub.Close() }

// Close closes the underlying Redis client connection.
func (s *RedisStore) Close() error {
	s.logger.Info().Msg("Closing Redis client connection...")
	return s.client.Close()
}

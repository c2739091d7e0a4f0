package keyvalue

import (
	"context"
	"io"
	"time"
)

// GetResult is the outcome of a key lookup. A missing key is a normal result,
// not an error, so callers branch on Found rather than comparing sentinel errors.
type GetResult struct {
	Value []byte
	Found bool
}

// TTLResult is the outcome of a TTL query. Exists reports whether the key is
// present at all; HasTTL reports whether a TTL is set on it.
type TTLResult struct {
	Remaining time.Duration
	HasTTL    bool
	Exists    bool
}

// ChannelMessage is a single message received on a subscribed channel.
type ChannelMessage struct {
	Channel string
	Payload []byte
}

// Subscription is a live subscription to a single channel. Messages is closed
// when the subscription is closed or the underlying connection drops.
type Subscription interface {
	Messages() <-chan ChannelMessage
	io.Closer
}

// Store is the surface of the shared key-value store. One store instance
// simultaneously serves as cache, distributed-lock manager, atomic counter
// store, and message channel; all cross-worker coordination goes through it.
type Store interface {
	// Get retrieves the raw value for key. A missing key is Found=false, nil error.
	Get(ctx context.Context, key string) (GetResult, error)
	// Set stores value under key. A non-positive ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL reports the remaining lifetime of key.
	TTL(ctx context.Context, key string) (TTLResult, error)
	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on an existing key. Returns false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// AcquireLock atomically creates key if absent, with the given TTL.
	// Returns true only for the caller that created it.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ReleaseLock removes a previously acquired lock key.
	ReleaseLock(ctx context.Context, key string) error
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Publish sends payload to all current subscribers of channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe opens a subscription to channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	io.Closer
}

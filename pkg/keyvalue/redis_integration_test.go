//go:build integration

package keyvalue_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// Requires a running Redis; point REDIS_ADDR at it (default localhost:6379).
func newIntegrationStore(t *testing.T, ctx context.Context) *keyvalue.RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := keyvalue.NewRedisStore(ctx, &keyvalue.RedisConfig{Addr: addr}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	store := newIntegrationStore(t, ctx)

	t.Run("Set and Get round-trip", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "itest:k", []byte("v"), time.Minute))
		res, err := store.Get(ctx, "itest:k")
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, []byte("v"), res.Value)
	})

	t.Run("Get miss is not an error", func(t *testing.T) {
		res, err := store.Get(ctx, "itest:absent")
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("TTL expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "itest:short", []byte("v"), time.Second))
		time.Sleep(1100 * time.Millisecond)
		res, err := store.Get(ctx, "itest:short")
		require.NoError(t, err)
		assert.False(t, res.Found)
	})

	t.Run("Keys and Delete by pattern", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "itest:products:1", []byte("a"), time.Minute))
		require.NoError(t, store.Set(ctx, "itest:products:2", []byte("b"), time.Minute))
		require.NoError(t, store.Set(ctx, "itest:orders:1", []byte("c"), time.Minute))

		keys, err := store.Keys(ctx, "itest:products:*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"itest:products:1", "itest:products:2"}, keys)

		n, err := store.Delete(ctx, keys...)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("Lock mutual exclusion", func(t *testing.T) {
		acquired, err := store.AcquireLock(ctx, "itest:lock", 5*time.Second)
		require.NoError(t, err)
		require.True(t, acquired)

		acquired, err = store.AcquireLock(ctx, "itest:lock", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, acquired)

		require.NoError(t, store.ReleaseLock(ctx, "itest:lock"))
		acquired, err = store.AcquireLock(ctx, "itest:lock", 5*time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
		require.NoError(t, store.ReleaseLock(ctx, "itest:lock"))
	})

	t.Run("Incr and window TTL", func(t *testing.T) {
		defer func() { _, _ = store.Delete(ctx, "itest:counter") }()

		n, err := store.Incr(ctx, "itest:counter")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ok, err := store.Expire(ctx, "itest:counter", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ttl, err := store.TTL(ctx, "itest:counter")
		require.NoError(t, err)
		assert.True(t, ttl.HasTTL)
		assert.Greater(t, ttl.Remaining, 50*time.Second)
	})

	t.Run("Publish reaches a subscriber", func(t *testing.T) {
		sub, err := store.Subscribe(ctx, "itest:channel")
		require.NoError(t, err)
		t.Cleanup(func() { _ = sub.Close() })

		require.NoError(t, store.Publish(ctx, "itest:channel", []byte("hello")))

		select {
		case msg := <-sub.Messages():
			assert.Equal(t, []byte("hello"), msg.Payload)
		case <-time.After(5 * time.Second):
			t.Fatal("message was not delivered")
		}
	})
}

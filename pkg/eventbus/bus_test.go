package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-catalog-infra/pkg/eventbus"
	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// eventRecorder collects every event a handler receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (r *eventRecorder) handle(_ context.Context, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) last() eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newBus(t *testing.T) (*eventbus.Publisher, *eventbus.Subscriber) {
	t.Helper()
	store := keyvalue.NewMemoryStore()
	publisher, err := eventbus.NewPublisher(store, zerolog.Nop())
	require.NoError(t, err)
	subscriber, err := eventbus.NewSubscriber(store, zerolog.Nop())
	require.NoError(t, err)
	return publisher, subscriber
}

func TestPublishSubscribe_DeliversToBoundChannelOnly(t *testing.T) {
	ctx := context.Background()
	publisher, subscriber := newBus(t)
	require.NoError(t, subscriber.Initialize(ctx))
	t.Cleanup(func() { _ = subscriber.DisconnectTimeout(time.Second) })

	productRec := &eventRecorder{}
	router := eventbus.NewRouter(zerolog.Nop())
	router.On(eventbus.EventTypeProductCreated, productRec.handle)
	require.NoError(t, router.Bind(ctx, subscriber, "product"))

	event, err := eventbus.NewEvent(eventbus.EventTypeProductCreated,
		eventbus.ProductCreated{ProductID: "p1", Name: "Widget"}, "req-1")
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "product", event))

	require.Eventually(t, func() bool { return productRec.count() == 1 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, event, productRec.last(), "the delivered event deep-equals the published one")

	t.Run("an event on an unsubscribed channel invokes no handler", func(t *testing.T) {
		other, err := eventbus.NewEvent(eventbus.EventTypeProductDeleted,
			eventbus.ProductDeleted{ProductID: "p2"}, "")
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(ctx, "orders", other))

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, productRec.count())
	})
}

func TestSubscriber_OneDispatchPerChannel(t *testing.T) {
	ctx := context.Background()
	_, subscriber := newBus(t)
	t.Cleanup(func() { _ = subscriber.DisconnectTimeout(time.Second) })

	noop := func(context.Context, eventbus.Event) {}
	require.NoError(t, subscriber.Subscribe(ctx, "product", noop))

	err := subscriber.Subscribe(ctx, "product", noop)
	assert.Error(t, err, "a channel holds at most one dispatch function")

	t.Run("unsubscribe frees the channel for rebinding", func(t *testing.T) {
		subscriber.Unsubscribe("product")
		assert.NoError(t, subscriber.Subscribe(ctx, "product", noop))
	})
}

func TestSubscriber_LifecycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, subscriber := newBus(t)

	require.NoError(t, subscriber.Initialize(ctx))
	require.NoError(t, subscriber.Initialize(ctx), "repeated Initialize is a no-op")

	require.NoError(t, subscriber.Subscribe(ctx, "product", func(context.Context, eventbus.Event) {}))

	require.NoError(t, subscriber.Disconnect(ctx))
	require.NoError(t, subscriber.Disconnect(ctx), "repeated Disconnect is a no-op")

	select {
	case <-subscriber.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel should close after Disconnect")
	}

	assert.Error(t, subscriber.Subscribe(ctx, "product", func(context.Context, eventbus.Event) {}),
		"a disconnected subscriber accepts no new channels")
}

func TestRouter_HandlerFailureDoesNotBlockSubsequentMessages(t *testing.T) {
	ctx := context.Background()
	publisher, subscriber := newBus(t)
	t.Cleanup(func() { _ = subscriber.DisconnectTimeout(time.Second) })

	rec := &eventRecorder{err: errors.New("handler failed")}
	router := eventbus.NewRouter(zerolog.Nop())
	router.On(eventbus.EventTypeProductUpdated, rec.handle)
	require.NoError(t, router.Bind(ctx, subscriber, "product"))

	for _, id := range []string{"p1", "p2", "p3"} {
		event, err := eventbus.NewEvent(eventbus.EventTypeProductUpdated,
			eventbus.ProductUpdated{ProductID: id}, "")
		require.NoError(t, err)
		require.NoError(t, publisher.Publish(ctx, "product", event))
	}

	require.Eventually(t, func() bool { return rec.count() == 3 },
		time.Second, 10*time.Millisecond,
		"every message is delivered even though the handler errors each time")
}

func TestRouter_PanickingHandlerIsIsolated(t *testing.T) {
	ctx := context.Background()
	router := eventbus.NewRouter(zerolog.Nop())

	rec := &eventRecorder{}
	router.On(eventbus.EventTypeProductCreated, func(context.Context, eventbus.Event) error {
		panic("handler bug")
	})
	router.On(eventbus.EventTypeProductDeleted, rec.handle)

	boom, err := eventbus.NewEvent(eventbus.EventTypeProductCreated, eventbus.ProductCreated{ProductID: "p1"}, "")
	require.NoError(t, err)
	ok, err := eventbus.NewEvent(eventbus.EventTypeProductDeleted, eventbus.ProductDeleted{ProductID: "p2"}, "")
	require.NoError(t, err)

	assert.NotPanics(t, func() { router.Dispatch(ctx, boom) })
	router.Dispatch(ctx, ok)
	assert.Equal(t, 1, rec.count(), "the panic never reaches the dispatcher or other handlers")
}

func TestRouter_UnknownEventTypeIsDropped(t *testing.T) {
	ctx := context.Background()
	router := eventbus.NewRouter(zerolog.Nop())

	rec := &eventRecorder{}
	router.On(eventbus.EventTypeProductCreated, rec.handle)

	unknown, err := eventbus.NewEvent("PRODUCT_EXPLODED", eventbus.ProductDeleted{ProductID: "p1"}, "")
	require.NoError(t, err)

	assert.NotPanics(t, func() { router.Dispatch(ctx, unknown) })
	assert.Equal(t, 0, rec.count())
}

func TestRouter_OnTypedDecodesPayloadVariant(t *testing.T) {
	ctx := context.Background()
	router := eventbus.NewRouter(zerolog.Nop())

	var got eventbus.ProductActivity
	done := make(chan struct{})
	eventbus.OnTyped(router, eventbus.EventTypeProductActivity,
		func(_ context.Context, _ eventbus.Event, payload eventbus.ProductActivity) error {
			got = payload
			close(done)
			return nil
		})

	want := eventbus.ProductActivity{ProductID: "p1", Action: "viewed", ActorID: "u7"}
	event, err := eventbus.NewEvent(eventbus.EventTypeProductActivity, want, "")
	require.NoError(t, err)

	router.Dispatch(ctx, event)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("typed handler was not invoked")
	}
	assert.Equal(t, want, got)
}

func TestSubscriber_MalformedPayloadIsDropped(t *testing.T) {
	ctx := context.Background()
	store := keyvalue.NewMemoryStore()
	publisher, err := eventbus.NewPublisher(store, zerolog.Nop())
	require.NoError(t, err)
	subscriber, err := eventbus.NewSubscriber(store, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscriber.DisconnectTimeout(time.Second) })

	rec := &eventRecorder{}
	router := eventbus.NewRouter(zerolog.Nop())
	router.On(eventbus.EventTypeProductCreated, rec.handle)
	require.NoError(t, router.Bind(ctx, subscriber, "product"))

	// Raw garbage straight to the store, bypassing the publisher.
	require.NoError(t, store.Publish(ctx, "product", []byte("{not an envelope")))

	// A valid event after it still gets through.
	event, err := eventbus.NewEvent(eventbus.EventTypeProductCreated, eventbus.ProductCreated{ProductID: "p1"}, "")
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, "product", event))

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 10*time.Millisecond)
}

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// DispatchFunc receives every event delivered on one channel. At most one
// dispatch function is bound per channel in a process; fanning out to typed
// handlers is the Router's job.
type DispatchFunc func(ctx context.Context, event Event)

// Subscriber manages channel subscriptions on the shared store. Each
// subscribed channel runs one receive loop that decodes envelopes and hands
// them to the channel's dispatch function. Initialize and Disconnect are
// idempotent.
type Subscriber struct {
	store  keyvalue.Store
	logger zerolog.Logger

	mu           sync.Mutex
	initialized  bool
	disconnected bool
	channels     map[string]*channelBinding

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneChan chan struct{}
}

type channelBinding struct {
	subscription keyvalue.Subscription
	cancel       context.CancelFunc
}

// NewSubscriber creates a subscriber over the given store.
func NewSubscriber(store keyvalue.Store, logger zerolog.Logger) (*Subscriber, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	return &Subscriber{
		store:    store,
		logger:   logger.With().Str("component", "Subscriber").Logger(),
		channels: make(map[string]*channelBinding),
		doneChan: make(chan struct{}),
	}, nil
}

// Initialize verifies the store connection. Calling it more than once is a
// no-op.
func (s *Subscriber) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("subscriber failed to reach store: %w", err)
	}
	s.initialized = true
	s.logger.Info().Msg("Subscriber initialized.")
	return nil
}

// Subscribe binds dispatch as the single dispatch function for channel and
// starts its receive loop. A second registration for the same channel is an
// error; Unsubscribe first to rebind.
func (s *Subscriber) Subscribe(ctx context.Context, channel string, dispatch DispatchFunc) error {
	if channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	if dispatch == nil {
		return fmt.Errorf("dispatch function cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected {
		return fmt.Errorf("subscriber is disconnected")
	}
	if _, exists := s.channels[channel]; exists {
		return fmt.Errorf("channel %q already has a dispatch function", channel)
	}

	sub, err := s.store.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to channel %q: %w", channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.channels[channel] = &channelBinding{subscription: sub, cancel: cancel}

	s.wg.Add(1)
	go s.receiveLoop(loopCtx, channel, sub, dispatch)

	s.logger.Info().Str("channel", channel).Msg("Subscribed to channel.")
	return nil
}

// receiveLoop decodes and dispatches messages for one channel until the
// subscription closes. A message that is not a valid envelope is logged and
// dropped; it never stops the loop.
func (s *Subscriber) receiveLoop(ctx context.Context, channel string, sub keyvalue.Subscription, dispatch DispatchFunc) {
	defer s.wg.Done()
	logger := s.logger.With().Str("channel", channel).Logger()
	logger.Debug().Msg("Receive loop started.")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Receive loop stopping.")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				logger.Debug().Msg("Subscription closed, receive loop exiting.")
				return
			}
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Error().Err(err).Msg("Dropping malformed event payload.")
				continue
			}
			dispatch(ctx, event)
		}
	}
}

// Unsubscribe removes the channel's dispatch function and stops its receive
// loop. Unknown channels are a no-op.
func (s *Subscriber) Unsubscribe(channel string) {
	s.mu.Lock()
	binding, ok := s.channels[channel]
	if ok {
		delete(s.channels, channel)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	binding.cancel()
	if err := binding.subscription.Close(); err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("Error closing channel subscription.")
	}
	s.logger.Info().Str("channel", channel).Msg("Unsubscribed from channel.")
}

// Disconnect closes every subscription and waits for the receive loops to
// drain, bounded by ctx. Calling it more than once is a no-op.
func (s *Subscriber) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil
	}
	s.disconnected = true
	channels := make([]string, 0, len(s.channels))
	for channel := range s.channels {
		channels = append(channels, channel)
	}
	s.mu.Unlock()

	for _, channel := range channels {
		s.Unsubscribe(channel)
	}

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()

	defer s.doneOnce.Do(func() { close(s.doneChan) })

	select {
	case <-waitDone:
		s.logger.Info().Msg("Subscriber disconnected.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for receive loops to stop.")
		return ctx.Err()
	}
}

// Done returns a channel closed once Disconnect has completed.
func (s *Subscriber) Done() <-chan struct{} { return s.doneChan }

// DisconnectTimeout is a convenience for shutdown paths without a deadline.
func (s *Subscriber) DisconnectTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Disconnect(ctx)
}

package eventbus

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Handler processes one event of a specific type.
type Handler func(ctx context.Context, event Event) error

// Router demultiplexes events by their type discriminator to registered
// handlers. Handler failures are isolated: an error or panic in one handler is
// logged with the originating event type and never prevents subsequent events
// from being dispatched. Unrecognized event types are logged as warnings and
// dropped.
type Router struct {
	logger   zerolog.Logger
	handlers map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		logger:   logger.With().Str("component", "EventRouter").Logger(),
		handlers: make(map[string]Handler),
	}
}

// On registers handler for eventType, replacing any previous registration.
// Registration happens during startup wiring, before dispatching begins, so
// the handler map is not guarded by a lock.
func (r *Router) On(eventType string, handler Handler) *Router {
	r.handlers[eventType] = handler
	return r
}

// OnTyped registers a handler that receives the decoded payload variant for
// eventType. A payload that fails to decode is reported as a handler error.
func OnTyped[T any](r *Router, eventType string, handler func(ctx context.Context, event Event, payload T) error) *Router {
	return r.On(eventType, func(ctx context.Context, event Event) error {
		payload, err := DecodePayload[T](event)
		if err != nil {
			return err
		}
		return handler(ctx, event, payload)
	})
}

// Dispatch routes one event to its handler.
func (r *Router) Dispatch(ctx context.Context, event Event) {
	handler, ok := r.handlers[event.EventType]
	if !ok {
		r.logger.Warn().
			Str("event_type", event.EventType).
			Str("event_id", event.EventID).
			Msg("No handler for event type, dropping event.")
		return
	}

	if err := r.invoke(ctx, handler, event); err != nil {
		r.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("event_id", event.EventID).
			Msg("Event handler failed.")
	}
}

// invoke runs one handler with panic isolation.
func (r *Router) invoke(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler(ctx, event)
}

// Bind subscribes the router's Dispatch as the dispatch function for channel.
func (r *Router) Bind(ctx context.Context, subscriber *Subscriber, channel string) error {
	return subscriber.Subscribe(ctx, channel, r.Dispatch)
}

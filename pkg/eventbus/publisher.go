package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-catalog-infra/pkg/keyvalue"
)

// Publisher serializes events and writes them to named channels on the shared
// store. Unlike the cache and rate-limit paths, publish failures are NOT
// swallowed: silently losing a business event is worse than a loud failure
// upstream, so the caller always learns when its event was not emitted.
type Publisher struct {
	store  keyvalue.Store
	logger zerolog.Logger
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(store keyvalue.Store, logger zerolog.Logger) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	return &Publisher{
		store:  store,
		logger: logger.With().Str("component", "Publisher").Logger(),
	}, nil
}

// Publish sends event to channel. Serialization and store failures propagate
// to the caller.
func (p *Publisher) Publish(ctx context.Context, channel string, event Event) error {
	if channel == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", event.EventID, err)
	}
	if err := p.store.Publish(ctx, channel, raw); err != nil {
		return fmt.Errorf("failed to publish event %s to channel %q: %w", event.EventID, channel, err)
	}
	p.logger.Debug().
		Str("channel", channel).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Msg("Event published.")
	return nil
}

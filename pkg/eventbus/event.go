package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types for the product catalog. The type tag determines the payload shape.
const (
	EventTypeProductCreated  = "PRODUCT_CREATED"
	EventTypeProductUpdated  = "PRODUCT_UPDATED"
	EventTypeProductDeleted  = "PRODUCT_DELETED"
	EventTypeProductActivity = "PRODUCT_ACTIVITY"
)

// Event is the immutable envelope for everything published on the bus.
// EventID is a UUIDv7, so IDs sort by creation time and remain readable in
// logs. CorrelationID carries the originating request's trace identity when
// one exists.
type Event struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ProductCreated is the payload for EventTypeProductCreated.
type ProductCreated struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Price     float64 `json:"price"`
}

// ProductUpdated is the payload for EventTypeProductUpdated. Changes holds the
// fields that were modified, keyed by field name.
type ProductUpdated struct {
	ProductID string         `json:"productId"`
	Changes   map[string]any `json:"changes,omitempty"`
}

// ProductDeleted is the payload for EventTypeProductDeleted.
type ProductDeleted struct {
	ProductID string `json:"productId"`
}

// ProductActivity is the payload for EventTypeProductActivity, emitted for
// reads and other non-mutating actions worth auditing.
type ProductActivity struct {
	ProductID string `json:"productId"`
	Action    string `json:"action"`
	ActorID   string `json:"actorId,omitempty"`
}

// NewEvent builds an envelope around payload. The payload is serialized
// immediately so the event is immutable from the moment it exists.
func NewEvent(eventType string, payload any, correlationID string) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("event type cannot be empty")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal payload for %s event: %w", eventType, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, fmt.Errorf("failed to generate event id: %w", err)
	}
	return Event{
		EventID:       id.String(),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the envelope's payload into the variant type for
// its event type.
func DecodePayload[T any](e Event) (T, error) {
	var payload T
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode %s payload: %w", e.EventType, err)
	}
	return payload, nil
}

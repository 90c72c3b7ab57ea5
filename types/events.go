package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
)

type EventType string

const (
	EventTypeLegAdded              EventType = "leg-added"
	EventTypeExpenseAdded          EventType = "expense-added"
	EventTypeExpenseRemoved        EventType = "expense-removed"
	EventTypeBorderCrossingAdded   EventType = "border-crossing-added"
	EventTypeBorderCrossingRemoved EventType = "border-crossing-removed"
	EventTypeRoadTaxSet            EventType = "road-tax-set"
	EventTypeTripCompleted         EventType = "trip-completed"
	EventTypeTripCancelled         EventType = "trip-cancelled"
)

// Event is one confirmed trip mutation broadcast on the trip's channel.
//
// Sequence is assigned by the authoritative store, atomically with the
// mutation it describes, and increases by exactly one per confirmed mutation
// of a trip. Delivery is at-least-once: consumers deduplicate by sequence
// number, not payload content, since content may legitimately repeat.
type Event struct {
	ID        string          `json:"id"`
	Sequence  int64           `json:"sequence"`
	Type      EventType       `json:"type"`
	TripID    string          `json:"tripId"`
	ActorID   string          `json:"actorId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the event carries everything a subscriber needs to apply
// or deduplicate it.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if e.TripID == "" {
		return errors.ValidationFailed("invalid event", "trip ID is required")
	}
	if e.Sequence <= 0 {
		return errors.ValidationFailed("invalid event", "sequence must be positive")
	}
	if e.Timestamp.IsZero() {
		return errors.ValidationFailed("invalid event", "timestamp is required")
	}
	return nil
}

// EventPublisher broadcasts confirmed mutations to all subscribers of a
// trip's channel.
type EventPublisher interface {
	Publish(ctx context.Context, tripID string, event Event) error
	Subscribe(ctx context.Context, tripID string, subscriberID string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, tripID string, subscriberID string) error
}

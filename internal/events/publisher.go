// Package events broadcasts confirmed trip mutations to every subscriber of
// the trip's channel. Sequence numbers come from the authoritative store;
// this package only carries them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/google/uuid"
)

// PublishConfirmed builds the broadcast event for a confirmed mutation and
// publishes it on the trip's channel. The payload is the sub-entity the
// mutation produced (or the trip itself for lifecycle transitions).
func PublishConfirmed(ctx context.Context, publisher types.EventPublisher, eventType types.EventType, tripID, actorID string, sequence int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ServerError, "failed to marshal event payload")
	}

	event := types.Event{
		ID:        uuid.New().String(),
		Sequence:  sequence,
		Type:      eventType,
		TripID:    tripID,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}

	if err := publisher.Publish(ctx, tripID, event); err != nil {
		return errors.Wrap(err, errors.ServerError, "failed to publish event")
	}
	return nil
}

// ChannelName returns the pub/sub channel for a trip.
func ChannelName(tripID string) string {
	return "trip:" + tripID
}

package client

import (
	"encoding/json"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/models/trip/validation"
	"github.com/FleetLedger/fleet-ledger-backend/types"
)

// kindForEvent maps a broadcast event type back to the mutation kind that
// produced it.
func kindForEvent(t types.EventType) string {
	switch t {
	case types.EventTypeLegAdded:
		return validation.OpAppendLeg
	case types.EventTypeExpenseAdded:
		return validation.OpAddExpense
	case types.EventTypeExpenseRemoved:
		return validation.OpRemoveExpense
	case types.EventTypeBorderCrossingAdded:
		return validation.OpAddBorderCrossing
	case types.EventTypeBorderCrossingRemoved:
		return validation.OpRemoveBorderCrossing
	case types.EventTypeRoadTaxSet:
		return validation.OpSetRoadTax
	case types.EventTypeTripCompleted:
		return validation.OpComplete
	case types.EventTypeTripCancelled:
		return validation.OpCancel
	default:
		return string(t)
	}
}

// applyEventPatch folds one confirmed-mutation event into a trip snapshot.
// Every branch is an upsert or a remove keyed by entity id, so redelivering
// the same event leaves the trip unchanged.
func applyEventPatch(trip *types.Trip, ev types.Event) error {
	switch ev.Type {
	case types.EventTypeLegAdded:
		var leg types.Leg
		if err := json.Unmarshal(ev.Payload, &leg); err != nil {
			return errors.ValidationFailed("invalid event payload", err.Error())
		}
		upsertLeg(trip, leg)

	case types.EventTypeExpenseAdded:
		var e types.Expense
		if err := json.Unmarshal(ev.Payload, &e); err != nil {
			return errors.ValidationFailed("invalid event payload", err.Error())
		}
		upsertExpense(trip, e)

	case types.EventTypeExpenseRemoved:
		id, err := removedID(ev.Payload)
		if err != nil {
			return err
		}
		for i, e := range trip.Expenses {
			if e.ID == id {
				trip.Expenses = append(trip.Expenses[:i], trip.Expenses[i+1:]...)
				break
			}
		}

	case types.EventTypeBorderCrossingAdded:
		var bc types.BorderCrossing
		if err := json.Unmarshal(ev.Payload, &bc); err != nil {
			return errors.ValidationFailed("invalid event payload", err.Error())
		}
		upsertBorderCrossing(trip, bc)

	case types.EventTypeBorderCrossingRemoved:
		id, err := removedID(ev.Payload)
		if err != nil {
			return err
		}
		for i, bc := range trip.BorderCrossings {
			if bc.ID == id {
				trip.BorderCrossings = append(trip.BorderCrossings[:i], trip.BorderCrossings[i+1:]...)
				break
			}
		}

	case types.EventTypeRoadTaxSet:
		var rt types.RoadTaxEntry
		if err := json.Unmarshal(ev.Payload, &rt); err != nil {
			return errors.ValidationFailed("invalid event payload", err.Error())
		}
		if existing := trip.RoadTaxFor(rt.Jurisdiction); existing != nil {
			*existing = rt
		} else {
			trip.RoadTaxEntries = append(trip.RoadTaxEntries, rt)
		}

	case types.EventTypeTripCompleted, types.EventTypeTripCancelled:
		// Terminal transitions carry the full final trip.
		var final types.Trip
		if err := json.Unmarshal(ev.Payload, &final); err != nil {
			return errors.ValidationFailed("invalid event payload", err.Error())
		}
		*trip = *final.Clone()

	default:
		return errors.ValidationFailed("unknown event type", string(ev.Type))
	}
	return nil
}

func upsertLeg(trip *types.Trip, leg types.Leg) {
	for i := range trip.Legs {
		if trip.Legs[i].ID == leg.ID {
			trip.Legs[i] = leg
			return
		}
	}
	// Appending a leg also completes the one before it.
	if prev := trip.LastLeg(); prev != nil {
		prev.Status = types.LegStatusCompleted
	}
	trip.Legs = append(trip.Legs, leg)
}

func upsertExpense(trip *types.Trip, e types.Expense) {
	for i := range trip.Expenses {
		if trip.Expenses[i].ID == e.ID {
			trip.Expenses[i] = e
			return
		}
	}
	trip.Expenses = append(trip.Expenses, e)
}

func upsertBorderCrossing(trip *types.Trip, bc types.BorderCrossing) {
	for i := range trip.BorderCrossings {
		if trip.BorderCrossings[i].ID == bc.ID {
			trip.BorderCrossings[i] = bc
			return
		}
	}
	trip.BorderCrossings = append(trip.BorderCrossings, bc)
}

func removedID(payload json.RawMessage) (string, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.ID == "" {
		return "", errors.ValidationFailed("invalid event payload", "removal event requires an id")
	}
	return body.ID, nil
}

package client

import (
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/ledger"
	"github.com/FleetLedger/fleet-ledger-backend/models/trip/validation"
	"github.com/FleetLedger/fleet-ledger-backend/types"
)

// Mutation is one user-initiated change to a trip. Validate runs against the
// visible local state before anything is sent or applied; an error here
// rejects the mutation outright, with nothing to roll back. ApplyOptimistic
// patches a local snapshot in place, using tempID for any entity the server
// has not yet named.
type Mutation interface {
	Kind() string
	Validate(trip *types.Trip) error
	ApplyOptimistic(trip *types.Trip, tempID string)
}

// AppendLeg adds a leg after the trip's current last leg.
type AppendLeg struct {
	Leg types.Leg
}

func (m AppendLeg) Kind() string { return validation.OpAppendLeg }

func (m AppendLeg) Validate(trip *types.Trip) error {
	if err := validation.EnsureMutable(trip, m.Kind()); err != nil {
		return err
	}
	return validation.ValidateLeg(m.Leg)
}

func (m AppendLeg) ApplyOptimistic(trip *types.Trip, tempID string) {
	leg := m.Leg
	leg.ID = tempID
	leg.TripID = trip.ID
	leg.Status = types.LegStatusInProgress
	if leg.CreatedAt.IsZero() {
		leg.CreatedAt = time.Now().UTC()
	}

	prev := trip.LastLeg()
	if prev != nil {
		if leg.FromCity == "" {
			leg.FromCity = prev.ToCity
		}
		prev.Status = types.LegStatusCompleted
	}
	carried, err := ledger.CarriedBalanceFor(trip, prev)
	if err == nil {
		leg.CarriedBalance = carried
	}
	trip.Legs = append(trip.Legs, leg)
}

// AddExpense records a cost entry on the trip.
type AddExpense struct {
	Expense types.Expense
}

func (m AddExpense) Kind() string { return validation.OpAddExpense }

func (m AddExpense) Validate(trip *types.Trip) error {
	if err := validation.EnsureMutable(trip, m.Kind()); err != nil {
		return err
	}
	return validation.ValidateExpense(m.Expense)
}

func (m AddExpense) ApplyOptimistic(trip *types.Trip, tempID string) {
	e := m.Expense
	e.ID = tempID
	e.TripID = trip.ID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	trip.Expenses = append(trip.Expenses, e)
}

// RemoveExpense deletes an expense by id.
type RemoveExpense struct {
	ExpenseID string
}

func (m RemoveExpense) Kind() string { return validation.OpRemoveExpense }

func (m RemoveExpense) Validate(trip *types.Trip) error {
	return validation.EnsureMutable(trip, m.Kind())
}

func (m RemoveExpense) ApplyOptimistic(trip *types.Trip, tempID string) {
	for i, e := range trip.Expenses {
		if e.ID == m.ExpenseID {
			trip.Expenses = append(trip.Expenses[:i], trip.Expenses[i+1:]...)
			return
		}
	}
}

// AddBorderCrossing records a border crossing with its captured rate.
type AddBorderCrossing struct {
	Crossing types.BorderCrossing
}

func (m AddBorderCrossing) Kind() string { return validation.OpAddBorderCrossing }

func (m AddBorderCrossing) Validate(trip *types.Trip) error {
	if err := validation.EnsureMutable(trip, m.Kind()); err != nil {
		return err
	}
	return validation.ValidateBorderCrossing(trip, m.Crossing)
}

func (m AddBorderCrossing) ApplyOptimistic(trip *types.Trip, tempID string) {
	bc := m.Crossing
	bc.ID = tempID
	bc.TripID = trip.ID
	if bc.CreatedAt.IsZero() {
		bc.CreatedAt = time.Now().UTC()
	}
	trip.BorderCrossings = append(trip.BorderCrossings, bc)
}

// RemoveBorderCrossing deletes a border crossing by id.
type RemoveBorderCrossing struct {
	CrossingID string
}

func (m RemoveBorderCrossing) Kind() string { return validation.OpRemoveBorderCrossing }

func (m RemoveBorderCrossing) Validate(trip *types.Trip) error {
	return validation.EnsureMutable(trip, m.Kind())
}

func (m RemoveBorderCrossing) ApplyOptimistic(trip *types.Trip, tempID string) {
	for i, bc := range trip.BorderCrossings {
		if bc.ID == m.CrossingID {
			trip.BorderCrossings = append(trip.BorderCrossings[:i], trip.BorderCrossings[i+1:]...)
			return
		}
	}
}

// SetRoadTax creates or replaces the trip's road tax entry for one
// jurisdiction.
type SetRoadTax struct {
	Entry types.RoadTaxEntry
}

func (m SetRoadTax) Kind() string { return validation.OpSetRoadTax }

func (m SetRoadTax) Validate(trip *types.Trip) error {
	if err := validation.EnsureMutable(trip, m.Kind()); err != nil {
		return err
	}
	return validation.ValidateRoadTax(m.Entry)
}

func (m SetRoadTax) ApplyOptimistic(trip *types.Trip, tempID string) {
	rt := m.Entry
	rt.TripID = trip.ID
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now().UTC()
	}
	if existing := trip.RoadTaxFor(rt.Jurisdiction); existing != nil {
		rt.ID = existing.ID
		rt.CreatedAt = existing.CreatedAt
		*existing = rt
		return
	}
	rt.ID = tempID
	trip.RoadTaxEntries = append(trip.RoadTaxEntries, rt)
}

// CompleteTrip closes the trip and records the final odometer and fuel
// readings. The authoritative final balance is frozen server-side; the
// optimistic patch only flips the status so further edits are rejected
// locally.
type CompleteTrip struct {
	EndOdometer float64
	EndFuel     float64
}

func (m CompleteTrip) Kind() string { return validation.OpComplete }

func (m CompleteTrip) Validate(trip *types.Trip) error {
	return validation.ValidateCompletion(trip, m.EndOdometer, m.EndFuel)
}

func (m CompleteTrip) ApplyOptimistic(trip *types.Trip, tempID string) {
	trip.Status = types.TripStatusCompleted
	odo, fuel := m.EndOdometer, m.EndFuel
	trip.EndOdometer = &odo
	trip.EndFuel = &fuel
	if last := trip.LastLeg(); last != nil {
		last.Status = types.LegStatusCompleted
	}
}

// CancelTrip abandons the trip.
type CancelTrip struct{}

func (m CancelTrip) Kind() string { return validation.OpCancel }

func (m CancelTrip) Validate(trip *types.Trip) error {
	return validation.ValidateStatusTransition(trip, types.TripStatusCancelled)
}

func (m CancelTrip) ApplyOptimistic(trip *types.Trip, tempID string) {
	trip.Status = types.TripStatusCancelled
}

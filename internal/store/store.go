// Package store defines the authoritative persistence interface for trips.
//
// The store is the unit of mutual exclusion for the sync protocol: mutations
// on the same trip id are serialized and each confirmed mutation is assigned
// the trip's next sequence number atomically with the write. Mutations on
// different trips proceed fully in parallel.
package store

import (
	"context"
	"errors"

	"github.com/FleetLedger/fleet-ledger-backend/types"
)

// ErrNotFound indicates that a requested resource was not found.
var ErrNotFound = errors.New("resource not found")

// MutationResult carries the post-mutation authoritative state: the full
// updated trip and the sequence number assigned to the mutation.
type MutationResult struct {
	Trip     *types.Trip
	Sequence int64
}

// TripStore handles trip-related data operations.
type TripStore interface {
	CreateTrip(ctx context.Context, trip *types.Trip, firstLeg types.Leg) (*types.Trip, error)
	GetTrip(ctx context.Context, id string) (*types.Trip, error)
	ListTripsByDriver(ctx context.Context, driverID string) ([]*types.Trip, error)

	AppendLeg(ctx context.Context, tripID string, leg types.Leg) (*MutationResult, *types.Leg, error)
	AddExpense(ctx context.Context, tripID string, expense types.Expense) (*MutationResult, *types.Expense, error)
	RemoveExpense(ctx context.Context, tripID, expenseID string) (*MutationResult, error)
	AddBorderCrossing(ctx context.Context, tripID string, bc types.BorderCrossing) (*MutationResult, *types.BorderCrossing, error)
	RemoveBorderCrossing(ctx context.Context, tripID, crossingID string) (*MutationResult, error)
	SetRoadTax(ctx context.Context, tripID string, entry types.RoadTaxEntry) (*MutationResult, *types.RoadTaxEntry, error)
	CompleteTrip(ctx context.Context, tripID string, endOdometer, endFuel float64) (*MutationResult, error)
	CancelTrip(ctx context.Context, tripID string) (*MutationResult, error)
}

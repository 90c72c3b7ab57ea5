package service

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/internal/store"
	"github.com/FleetLedger/fleet-ledger-backend/ledger"
	"github.com/FleetLedger/fleet-ledger-backend/models/trip/validation"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/google/uuid"
)

// memStore is an in-memory store.TripStore with the same per-trip
// serialization and sequence semantics as the postgres implementation.
type memStore struct {
	mu    sync.Mutex
	locks *store.KeyedMutex
	trips map[string]*types.Trip
}

var _ store.TripStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		locks: store.NewKeyedMutex(),
		trips: make(map[string]*types.Trip),
	}
}

func (s *memStore) get(id string) (*types.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trip, ok := s.trips[id]
	if !ok {
		return nil, apperrors.TripNotFound(id)
	}
	return trip.Clone(), nil
}

func (s *memStore) put(trip *types.Trip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[trip.ID] = trip
}

func (s *memStore) CreateTrip(ctx context.Context, trip *types.Trip, firstLeg types.Leg) (*types.Trip, error) {
	if err := validation.ValidateLeg(firstLeg); err != nil {
		return nil, err
	}
	created := trip.Clone()
	created.ID = uuid.New().String()
	created.Status = types.TripStatusActive
	created.Sequence = 0
	created.CreatedAt = time.Now().UTC()
	created.UpdatedAt = created.CreatedAt

	firstLeg.ID = uuid.New().String()
	firstLeg.TripID = created.ID
	firstLeg.Status = types.LegStatusInProgress
	firstLeg.CreatedAt = created.CreatedAt
	created.Legs = []types.Leg{firstLeg}

	s.put(created)
	return created.Clone(), nil
}

func (s *memStore) GetTrip(ctx context.Context, id string) (*types.Trip, error) {
	return s.get(id)
}

func (s *memStore) ListTripsByDriver(ctx context.Context, driverID string) ([]*types.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Trip
	for _, trip := range s.trips {
		if trip.DriverID == driverID {
			out = append(out, trip.Clone())
		}
	}
	return out, nil
}

func (s *memStore) mutate(tripID, operation string, fn func(trip *types.Trip) error) (*store.MutationResult, error) {
	unlock := s.locks.Lock(tripID)
	defer unlock()

	trip, err := s.get(tripID)
	if err != nil {
		return nil, err
	}
	if err := validation.EnsureMutable(trip, operation); err != nil {
		return nil, err
	}
	if err := fn(trip); err != nil {
		return nil, err
	}
	trip.Sequence++
	trip.UpdatedAt = time.Now().UTC()
	s.put(trip)
	return &store.MutationResult{Trip: trip.Clone(), Sequence: trip.Sequence}, nil
}

func (s *memStore) AppendLeg(ctx context.Context, tripID string, leg types.Leg) (*store.MutationResult, *types.Leg, error) {
	if err := validation.ValidateLeg(leg); err != nil {
		return nil, nil, err
	}
	var createdID string
	result, err := s.mutate(tripID, validation.OpAppendLeg, func(trip *types.Trip) error {
		previous := trip.LastLeg()
		carried, err := ledger.CarriedBalanceFor(trip, previous)
		if err != nil {
			return err
		}
		if previous != nil {
			if previous.Status == types.LegStatusInProgress {
				previous.Status = types.LegStatusCompleted
			}
			if leg.FromCity == "" {
				leg.FromCity = previous.ToCity
			}
		}
		leg.ID = uuid.New().String()
		leg.TripID = tripID
		leg.CarriedBalance = carried
		leg.Status = types.LegStatusInProgress
		leg.CreatedAt = time.Now().UTC()
		createdID = leg.ID
		trip.Legs = append(trip.Legs, leg)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, findLeg(result.Trip, createdID), nil
}

func (s *memStore) AddExpense(ctx context.Context, tripID string, expense types.Expense) (*store.MutationResult, *types.Expense, error) {
	if err := validation.ValidateExpense(expense); err != nil {
		return nil, nil, err
	}
	var createdID string
	result, err := s.mutate(tripID, validation.OpAddExpense, func(trip *types.Trip) error {
		expense.ID = uuid.New().String()
		expense.TripID = tripID
		if expense.CreatedAt.IsZero() {
			expense.CreatedAt = time.Now().UTC()
		}
		createdID = expense.ID
		trip.Expenses = append(trip.Expenses, expense)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, findExpense(result.Trip, createdID), nil
}

func (s *memStore) RemoveExpense(ctx context.Context, tripID, expenseID string) (*store.MutationResult, error) {
	return s.mutate(tripID, validation.OpRemoveExpense, func(trip *types.Trip) error {
		for i := range trip.Expenses {
			if trip.Expenses[i].ID == expenseID {
				trip.Expenses = append(trip.Expenses[:i], trip.Expenses[i+1:]...)
				return nil
			}
		}
		return apperrors.NotFound("Expense", expenseID)
	})
}

func (s *memStore) AddBorderCrossing(ctx context.Context, tripID string, bc types.BorderCrossing) (*store.MutationResult, *types.BorderCrossing, error) {
	var createdID string
	result, err := s.mutate(tripID, validation.OpAddBorderCrossing, func(trip *types.Trip) error {
		if err := validation.ValidateBorderCrossing(trip, bc); err != nil {
			return err
		}
		bc.ID = uuid.New().String()
		bc.TripID = tripID
		bc.CreatedAt = time.Now().UTC()
		createdID = bc.ID
		trip.BorderCrossings = append(trip.BorderCrossings, bc)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	for i := range result.Trip.BorderCrossings {
		if result.Trip.BorderCrossings[i].ID == createdID {
			return result, &result.Trip.BorderCrossings[i], nil
		}
	}
	return result, nil, nil
}

func (s *memStore) RemoveBorderCrossing(ctx context.Context, tripID, crossingID string) (*store.MutationResult, error) {
	return s.mutate(tripID, validation.OpRemoveBorderCrossing, func(trip *types.Trip) error {
		for i := range trip.BorderCrossings {
			if trip.BorderCrossings[i].ID == crossingID {
				trip.BorderCrossings = append(trip.BorderCrossings[:i], trip.BorderCrossings[i+1:]...)
				return nil
			}
		}
		return apperrors.NotFound("BorderCrossing", crossingID)
	})
}

func (s *memStore) SetRoadTax(ctx context.Context, tripID string, entry types.RoadTaxEntry) (*store.MutationResult, *types.RoadTaxEntry, error) {
	if err := validation.ValidateRoadTax(entry); err != nil {
		return nil, nil, err
	}
	result, err := s.mutate(tripID, validation.OpSetRoadTax, func(trip *types.Trip) error {
		if existing := trip.RoadTaxFor(entry.Jurisdiction); existing != nil {
			existing.Amount = entry.Amount
			existing.Currency = entry.Currency
			existing.RateSnapshot = entry.RateSnapshot
			return nil
		}
		entry.ID = uuid.New().String()
		entry.TripID = tripID
		entry.CreatedAt = time.Now().UTC()
		trip.RoadTaxEntries = append(trip.RoadTaxEntries, entry)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, result.Trip.RoadTaxFor(entry.Jurisdiction), nil
}

func (s *memStore) CompleteTrip(ctx context.Context, tripID string, endOdometer, endFuel float64) (*store.MutationResult, error) {
	return s.mutate(tripID, validation.OpComplete, func(trip *types.Trip) error {
		if err := validation.ValidateCompletion(trip, endOdometer, endFuel); err != nil {
			return err
		}
		totals, err := ledger.Recompute(trip)
		if err != nil {
			return err
		}
		trip.Status = types.TripStatusCompleted
		trip.EndOdometer = &endOdometer
		trip.EndFuel = &endFuel
		final := totals.FinalBalance
		trip.FinalBalance = &final
		if last := trip.LastLeg(); last != nil {
			last.Status = types.LegStatusCompleted
		}
		return nil
	})
}

func (s *memStore) CancelTrip(ctx context.Context, tripID string) (*store.MutationResult, error) {
	return s.mutate(tripID, validation.OpCancel, func(trip *types.Trip) error {
		trip.Status = types.TripStatusCancelled
		return nil
	})
}

func findLeg(trip *types.Trip, id string) *types.Leg {
	for i := range trip.Legs {
		if trip.Legs[i].ID == id {
			return &trip.Legs[i]
		}
	}
	return nil
}

func findExpense(trip *types.Trip, id string) *types.Expense {
	for i := range trip.Expenses {
		if trip.Expenses[i].ID == id {
			return &trip.Expenses[i]
		}
	}
	return nil
}

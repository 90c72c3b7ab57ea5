// Package service orchestrates trip mutations: it validates input, hands the
// mutation to the authoritative store (which serializes per trip and assigns
// the sequence number), and broadcasts the confirmed event to subscribers.
package service

import (
	"context"

	"github.com/FleetLedger/fleet-ledger-backend/internal/events"
	"github.com/FleetLedger/fleet-ledger-backend/internal/store"
	"github.com/FleetLedger/fleet-ledger-backend/ledger"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"go.uber.org/zap"
)

// TripView is a trip together with its freshly recomputed derived totals.
// Totals are always re-derived, never read from storage. Currency labels
// the reporting currency every total is expressed in.
type TripView struct {
	Trip     *types.Trip          `json:"trip"`
	Totals   ledger.DerivedTotals `json:"totals"`
	Currency string               `json:"currency"`
}

type TripService struct {
	store             store.TripStore
	publisher         types.EventPublisher
	reportingCurrency string
	log               *zap.SugaredLogger
}

func NewTripService(s store.TripStore, publisher types.EventPublisher, reportingCurrency string) *TripService {
	return &TripService{
		store:             s,
		publisher:         publisher,
		reportingCurrency: reportingCurrency,
		log:               logger.GetLogger().Named("trip_service"),
	}
}

func (s *TripService) view(trip *types.Trip) (*TripView, error) {
	totals, err := ledger.Recompute(trip)
	if err != nil {
		return nil, err
	}
	return &TripView{Trip: trip, Totals: totals, Currency: s.reportingCurrency}, nil
}

// broadcast publishes a confirmed mutation. A publish failure does not fail
// the mutation: the store already committed, and subscribers recover via
// sequence-gap resync on the next event they do receive.
func (s *TripService) broadcast(ctx context.Context, eventType types.EventType, tripID, actorID string, sequence int64, payload any) {
	if err := events.PublishConfirmed(ctx, s.publisher, eventType, tripID, actorID, sequence, payload); err != nil {
		s.log.Errorw("Failed to broadcast confirmed mutation",
			"error", err,
			"tripId", tripID,
			"eventType", eventType,
			"sequence", sequence,
		)
	}
}

func (s *TripService) CreateTrip(ctx context.Context, trip *types.Trip, firstLeg types.Leg) (*TripView, error) {
	created, err := s.store.CreateTrip(ctx, trip, firstLeg)
	if err != nil {
		return nil, err
	}
	s.log.Infow("Trip created", "tripId", created.ID, "driverId", created.DriverID, "kind", created.Kind)
	return s.view(created)
}

func (s *TripService) GetTrip(ctx context.Context, tripID string) (*TripView, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return s.view(trip)
}

func (s *TripService) ListDriverTrips(ctx context.Context, driverID string) ([]*TripView, error) {
	trips, err := s.store.ListTripsByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	views := make([]*TripView, 0, len(trips))
	for _, trip := range trips {
		v, err := s.view(trip)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *TripService) AppendLeg(ctx context.Context, actorID, tripID string, leg types.Leg) (*TripView, *types.Leg, error) {
	result, created, err := s.store.AppendLeg(ctx, tripID, leg)
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, types.EventTypeLegAdded, tripID, actorID, result.Sequence, created)
	view, err := s.view(result.Trip)
	if err != nil {
		return nil, nil, err
	}
	return view, created, nil
}

func (s *TripService) AddExpense(ctx context.Context, actorID, tripID string, expense types.Expense) (*TripView, *types.Expense, error) {
	result, created, err := s.store.AddExpense(ctx, tripID, expense)
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, types.EventTypeExpenseAdded, tripID, actorID, result.Sequence, created)
	view, err := s.view(result.Trip)
	if err != nil {
		return nil, nil, err
	}
	return view, created, nil
}

func (s *TripService) RemoveExpense(ctx context.Context, actorID, tripID, expenseID string) (*TripView, error) {
	result, err := s.store.RemoveExpense(ctx, tripID, expenseID)
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, types.EventTypeExpenseRemoved, tripID, actorID, result.Sequence, map[string]string{"id": expenseID})
	return s.view(result.Trip)
}

func (s *TripService) AddBorderCrossing(ctx context.Context, actorID, tripID string, bc types.BorderCrossing) (*TripView, *types.BorderCrossing, error) {
	result, created, err := s.store.AddBorderCrossing(ctx, tripID, bc)
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, types.EventTypeBorderCrossingAdded, tripID, actorID, result.Sequence, created)
	view, err := s.view(result.Trip)
	if err != nil {
		return nil, nil, err
	}
	return view, created, nil
}

func (s *TripService) RemoveBorderCrossing(ctx context.Context, actorID, tripID, crossingID string) (*TripView, error) {
	result, err := s.store.RemoveBorderCrossing(ctx, tripID, crossingID)
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, types.EventTypeBorderCrossingRemoved, tripID, actorID, result.Sequence, map[string]string{"id": crossingID})
	return s.view(result.Trip)
}

func (s *TripService) SetRoadTax(ctx context.Context, actorID, tripID string, entry types.RoadTaxEntry) (*TripView, *types.RoadTaxEntry, error) {
	result, saved, err := s.store.SetRoadTax(ctx, tripID, entry)
	if err != nil {
		return nil, nil, err
	}
	s.broadcast(ctx, types.EventTypeRoadTaxSet, tripID, actorID, result.Sequence, saved)
	view, err := s.view(result.Trip)
	if err != nil {
		return nil, nil, err
	}
	return view, saved, nil
}

func (s *TripService) CompleteTrip(ctx context.Context, actorID, tripID string, endOdometer, endFuel float64) (*TripView, error) {
	result, err := s.store.CompleteTrip(ctx, tripID, endOdometer, endFuel)
	if err != nil {
		return nil, err
	}
	s.log.Infow("Trip completed", "tripId", tripID, "sequence", result.Sequence)
	s.broadcast(ctx, types.EventTypeTripCompleted, tripID, actorID, result.Sequence, result.Trip)
	return s.view(result.Trip)
}

func (s *TripService) CancelTrip(ctx context.Context, actorID, tripID string) (*TripView, error) {
	result, err := s.store.CancelTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	s.log.Infow("Trip cancelled", "tripId", tripID, "sequence", result.Sequence)
	s.broadcast(ctx, types.EventTypeTripCancelled, tripID, actorID, result.Sequence, result.Trip)
	return s.view(result.Trip)
}

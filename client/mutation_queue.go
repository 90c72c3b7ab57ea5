package client

import (
	"context"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMutationTimeout bounds how long an optimistic patch may stay
	// unconfirmed before it is rolled back.
	DefaultMutationTimeout = 10 * time.Second

	tempIDPrefix = "local-"
)

// Dispatcher sends a mutation to the authoritative store and returns the
// updated trip on success. Implementations must respect ctx cancellation.
type Dispatcher interface {
	Dispatch(ctx context.Context, tripID string, m Mutation) (*types.Trip, error)
}

// Fetcher retrieves the full authoritative trip, used for resync.
type Fetcher interface {
	FetchTrip(ctx context.Context, tripID string) (*types.Trip, error)
}

// Callbacks notify the embedding application about mutation outcomes. All
// fields are optional. They are invoked from the queue's and the router's
// own goroutines and must not block.
type Callbacks struct {
	// OnChange fires whenever the visible state of a trip changed, for any
	// reason: optimistic apply, confirmation, rollback, event, resync.
	OnChange func(tripID string)
	// OnMutationFailed fires after a rejected or timed-out mutation has been
	// rolled back.
	OnMutationFailed func(tripID string, kind string, err error)
	// OnResync fires after the local state was replaced by a full refetch.
	OnResync func(tripID string)
}

func (c Callbacks) changed(tripID string) {
	if c.OnChange != nil {
		c.OnChange(tripID)
	}
}

// MutationQueue applies user mutations optimistically and reconciles them
// with the authoritative store. Enqueue returns as soon as the local patch
// is visible; the network round trip happens in the background.
type MutationQueue struct {
	states     *StateManager
	dispatcher Dispatcher
	fetcher    Fetcher
	timeout    time.Duration
	callbacks  Callbacks
	log        *zap.SugaredLogger
}

func NewMutationQueue(states *StateManager, dispatcher Dispatcher, fetcher Fetcher, timeout time.Duration, callbacks Callbacks) *MutationQueue {
	if timeout <= 0 {
		timeout = DefaultMutationTimeout
	}
	return &MutationQueue{
		states:     states,
		dispatcher: dispatcher,
		fetcher:    fetcher,
		timeout:    timeout,
		callbacks:  callbacks,
		log:        logger.GetLogger().Named("mutation_queue"),
	}
}

// Enqueue validates the mutation against the current visible state, applies
// it optimistically and schedules the dispatch. A validation error is
// returned synchronously and leaves the local state untouched. Later
// mutations enqueued while this one is in flight are validated and applied
// against the already-patched state, so a burst of edits never reverts an
// earlier one from the user's point of view.
func (q *MutationQueue) Enqueue(ctx context.Context, tripID string, m Mutation) error {
	var validationErr error
	tempID := tempIDPrefix + uuid.New().String()

	tracked := q.states.Do(tripID, func(s *TripState) {
		if err := m.Validate(s.Visible); err != nil {
			validationErr = err
			return
		}
		s.pending = append(s.pending, &pendingMutation{mutation: m, tempID: tempID})
		s.rebuild()
	})
	if !tracked {
		return errors.TripNotFound(tripID)
	}
	if validationErr != nil {
		return validationErr
	}
	q.callbacks.changed(tripID)

	go q.dispatch(ctx, tripID, m, tempID)
	return nil
}

func (q *MutationQueue) dispatch(ctx context.Context, tripID string, m Mutation, tempID string) {
	dctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	trip, err := q.dispatcher.Dispatch(dctx, tripID, m)
	if err != nil {
		q.rollback(ctx, tripID, m, tempID, err)
		return
	}
	q.confirm(tripID, m, tempID, trip)
}

// confirm folds the authoritative post-mutation trip into the confirmed
// state and retires the pending patch. Replacing the whole confirmed trip,
// rather than splicing in the created entity, also swaps the temporary id
// for the server-assigned one and picks up any concurrent mutations the
// server serialized before ours.
func (q *MutationQueue) confirm(tripID string, m Mutation, tempID string, trip *types.Trip) {
	q.states.Do(tripID, func(s *TripState) {
		s.removePending(tempID)
		if trip.Sequence >= s.LastApplied {
			s.Confirmed = trip.Clone()
			s.LastApplied = trip.Sequence
		}
		s.rebuild()
	})
	q.callbacks.changed(tripID)
}

// rollback removes the failed patch, restoring the exact visible state the
// trip had before it (other pending patches stay applied), then refetches
// the authoritative trip in case the failure left local and server state
// diverged.
func (q *MutationQueue) rollback(ctx context.Context, tripID string, m Mutation, tempID string, cause error) {
	q.log.Warnw("Mutation rejected, rolling back optimistic patch",
		"tripId", tripID, "kind", m.Kind(), "error", cause)

	q.states.Do(tripID, func(s *TripState) {
		if s.removePending(tempID) == nil {
			return
		}
		s.rebuild()
	})
	q.callbacks.changed(tripID)
	if q.callbacks.OnMutationFailed != nil {
		q.callbacks.OnMutationFailed(tripID, m.Kind(), cause)
	}

	q.Resync(ctx, tripID)
}

// Resync replaces the confirmed state with a fresh authoritative fetch and
// reapplies any still-pending optimistic patches on top.
func (q *MutationQueue) Resync(ctx context.Context, tripID string) {
	fctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	trip, err := q.fetcher.FetchTrip(fctx, tripID)
	if err != nil {
		q.log.Errorw("Resync fetch failed, keeping local state", "tripId", tripID, "error", err)
		return
	}

	q.states.Do(tripID, func(s *TripState) {
		s.Confirmed = trip.Clone()
		s.LastApplied = trip.Sequence
		s.rebuild()
	})
	q.callbacks.changed(tripID)
	if q.callbacks.OnResync != nil {
		q.callbacks.OnResync(tripID)
	}
}

// PendingCount reports how many mutations are still awaiting confirmation.
func (q *MutationQueue) PendingCount(tripID string) int {
	n := 0
	q.states.Do(tripID, func(s *TripState) {
		n = len(s.pending)
	})
	return n
}

package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func activeTrip() *types.Trip {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	return &types.Trip{
		ID:        "trip-1",
		DriverID:  "driver-1",
		VehicleID: "vehicle-1",
		Kind:      types.TripKindInternational,
		Status:    types.TripStatusActive,
		Sequence:  1,
		CreatedAt: now,
		Legs: []types.Leg{{
			ID:          "leg-1",
			TripID:      "trip-1",
			FromCity:    "Tashkent",
			ToCity:      "Samarkand",
			DistanceKm:  300,
			Payment:     d(500000),
			GivenBudget: d(200000),
			Status:      types.LegStatusInProgress,
			CreatedAt:   now,
		}},
	}
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []Mutation
	respond func(tripID string, m Mutation) (*types.Trip, error)
	// block, when non-nil, holds every dispatch until released or ctx ends.
	block chan struct{}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, tripID string, m Mutation) (*types.Trip, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, apperrors.RequestTimeout(m.Kind())
		}
	}
	return f.respond(tripID, m)
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFetcher struct {
	mu    sync.Mutex
	trip  *types.Trip
	calls int
}

func (f *fakeFetcher) FetchTrip(ctx context.Context, tripID string) (*types.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.trip.Clone(), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// confirmAdd mimics the authoritative store: the entity the mutation adds
// gets a server id, and the trip sequence advances by one.
func confirmAdd(trip *types.Trip) func(string, Mutation) (*types.Trip, error) {
	return func(tripID string, m Mutation) (*types.Trip, error) {
		next := trip.Clone()
		next.Sequence++
		m.ApplyOptimistic(next, "srv-1")
		return next, nil
	}
}

func newQueueHarness(t *testing.T, dispatcher *fakeDispatcher, cb Callbacks) (*MutationQueue, *StateManager, *fakeFetcher) {
	t.Helper()
	states := NewStateManager()
	t.Cleanup(states.Close)
	fetcher := &fakeFetcher{trip: activeTrip()}
	q := NewMutationQueue(states, dispatcher, fetcher, time.Second, cb)
	states.Track(activeTrip())
	return q, states, fetcher
}

func TestEnqueueAppliesOptimisticallyBeforeConfirmation(t *testing.T) {
	dispatcher := &fakeDispatcher{block: make(chan struct{}), respond: confirmAdd(activeTrip())}
	q, states, _ := newQueueHarness(t, dispatcher, Callbacks{})

	err := q.Enqueue(context.Background(), "trip-1", AddExpense{Expense: types.Expense{
		Type:   types.ExpenseTypeFood,
		Amount: d(30000),
	}})
	require.NoError(t, err)

	// The patch is visible before the dispatcher answered.
	trip, totals, ok := states.Snapshot("trip-1")
	require.True(t, ok)
	require.Len(t, trip.Expenses, 1)
	assert.Contains(t, trip.Expenses[0].ID, tempIDPrefix)
	assert.True(t, totals.TotalExpenses.Equal(d(30000)))
	assert.Equal(t, 1, q.PendingCount("trip-1"))

	close(dispatcher.block)
	require.Eventually(t, func() bool { return q.PendingCount("trip-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestConfirmationSwapsTemporaryID(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: confirmAdd(activeTrip())}
	q, states, _ := newQueueHarness(t, dispatcher, Callbacks{})

	require.NoError(t, q.Enqueue(context.Background(), "trip-1", AddExpense{Expense: types.Expense{
		Type:   types.ExpenseTypeFood,
		Amount: d(30000),
	}}))
	require.Eventually(t, func() bool { return q.PendingCount("trip-1") == 0 }, time.Second, 10*time.Millisecond)

	trip, _, _ := states.Snapshot("trip-1")
	require.Len(t, trip.Expenses, 1)
	assert.Equal(t, "srv-1", trip.Expenses[0].ID)
	assert.Equal(t, int64(2), trip.Sequence)
}

func TestEnqueueRejectsInvalidMutationWithoutDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: confirmAdd(activeTrip())}
	q, states, _ := newQueueHarness(t, dispatcher, Callbacks{})

	err := q.Enqueue(context.Background(), "trip-1", AddExpense{Expense: types.Expense{
		Type:   types.ExpenseTypeFuelDiesel, // fuel requires quantity and unit
		Amount: d(30000),
	}})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ValidationError))

	trip, _, _ := states.Snapshot("trip-1")
	assert.Empty(t, trip.Expenses)
	assert.Zero(t, dispatcher.callCount())
}

func TestRejectedMutationRestoresExactVisibleState(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: func(string, Mutation) (*types.Trip, error) {
		return nil, apperrors.InvalidState("add-expense", "COMPLETED")
	}}

	var failedKind string
	resynced := make(chan struct{}, 1)
	cb := Callbacks{
		OnMutationFailed: func(tripID, kind string, err error) { failedKind = kind },
		OnResync:         func(tripID string) { resynced <- struct{}{} },
	}
	q, states, fetcher := newQueueHarness(t, dispatcher, cb)

	before, _, _ := states.Snapshot("trip-1")
	beforeJSON, err := json.Marshal(before)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), "trip-1", AddExpense{Expense: types.Expense{
		Type:   types.ExpenseTypeFood,
		Amount: d(30000),
	}}))

	select {
	case <-resynced:
	case <-time.After(time.Second):
		t.Fatal("rollback resync never completed")
	}

	after, _, _ := states.Snapshot("trip-1")
	afterJSON, err := json.Marshal(after)
	require.NoError(t, err)
	assert.JSONEq(t, string(beforeJSON), string(afterJSON))
	assert.Equal(t, "add-expense", failedKind)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestTimedOutMutationRollsBack(t *testing.T) {
	dispatcher := &fakeDispatcher{block: make(chan struct{}), respond: confirmAdd(activeTrip())}
	states := NewStateManager()
	t.Cleanup(states.Close)
	fetcher := &fakeFetcher{trip: activeTrip()}

	failed := make(chan error, 1)
	q := NewMutationQueue(states, dispatcher, fetcher, 50*time.Millisecond, Callbacks{
		OnMutationFailed: func(tripID, kind string, err error) { failed <- err },
	})
	states.Track(activeTrip())

	require.NoError(t, q.Enqueue(context.Background(), "trip-1", AddExpense{Expense: types.Expense{
		Type:   types.ExpenseTypeFood,
		Amount: d(30000),
	}}))

	select {
	case err := <-failed:
		assert.True(t, apperrors.IsType(err, apperrors.NetworkError))
	case <-time.After(time.Second):
		t.Fatal("timeout never rolled the mutation back")
	}

	trip, _, _ := states.Snapshot("trip-1")
	assert.Empty(t, trip.Expenses)
	close(dispatcher.block)
}

func TestQueuedMutationValidatesAgainstOptimisticState(t *testing.T) {
	// Hold the completion in flight, then try to add an expense: the local
	// state already shows the trip as COMPLETED, so the second mutation is
	// rejected client-side without a dispatch.
	dispatcher := &fakeDispatcher{block: make(chan struct{}), respond: confirmAdd(activeTrip())}
	q, states, _ := newQueueHarness(t, dispatcher, Callbacks{})

	require.NoError(t, q.Enqueue(context.Background(), "trip-1", CompleteTrip{EndOdometer: 1000, EndFuel: 40}))

	err := q.Enqueue(context.Background(), "trip-1", AddExpense{Expense: types.Expense{
		Type:   types.ExpenseTypeFood,
		Amount: d(30000),
	}})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.InvalidStateError))

	// The completion dispatch runs on its own goroutine; wait for it before
	// asserting the rejected expense never produced a second call.
	require.Eventually(t, func() bool { return dispatcher.callCount() == 1 },
		time.Second, 10*time.Millisecond)

	trip, _, _ := states.Snapshot("trip-1")
	assert.Equal(t, types.TripStatusCompleted, trip.Status)
	assert.Equal(t, 1, dispatcher.callCount())
	close(dispatcher.block)
}

func TestEnqueueUntrackedTripFails(t *testing.T) {
	dispatcher := &fakeDispatcher{respond: confirmAdd(activeTrip())}
	q, _, _ := newQueueHarness(t, dispatcher, Callbacks{})

	err := q.Enqueue(context.Background(), "trip-unknown", CancelTrip{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.NotFoundError))
}

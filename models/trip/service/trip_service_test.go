package service

import (
	"context"
	"sync"
	"testing"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/internal/events"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestService(t *testing.T) (*TripService, *memStore, *events.MemoryPublisher) {
	t.Helper()
	st := newMemStore()
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	return NewTripService(st, pub, "UZS"), st, pub
}

func createActiveTrip(t *testing.T, svc *TripService, kind types.TripKind) *types.Trip {
	t.Helper()
	view, err := svc.CreateTrip(context.Background(), &types.Trip{
		DriverID:  "driver-1",
		VehicleID: "vehicle-1",
		Kind:      kind,
	}, types.Leg{
		ToCity:      "Samarkand",
		DistanceKm:  300,
		Payment:     d(500000),
		GivenBudget: d(200000),
	})
	require.NoError(t, err)
	return view.Trip
}

func TestCreateTripStartsActiveWithFirstLeg(t *testing.T) {
	svc, _, _ := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)

	assert.Equal(t, types.TripStatusActive, trip.Status)
	require.Len(t, trip.Legs, 1)
	assert.Equal(t, types.LegStatusInProgress, trip.Legs[0].Status)
	assert.True(t, trip.Legs[0].CarriedBalance.IsZero())
	assert.Equal(t, int64(0), trip.Sequence)
}

func TestAppendLegCarriesBalanceAndBroadcasts(t *testing.T) {
	svc, _, pub := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)
	ctx := context.Background()

	_, _, err := svc.AddExpense(ctx, "driver-1", trip.ID, types.Expense{
		Type:   types.ExpenseTypeFuelDiesel,
		Amount: d(80000),
		Quantity: func() *decimal.Decimal {
			q := d(120)
			return &q
		}(),
		QuantityUnit: "l",
	})
	require.NoError(t, err)

	view, created, err := svc.AppendLeg(ctx, "dispatcher-1", trip.ID, types.Leg{
		ToCity:      "Bukhara",
		DistanceKm:  270,
		Payment:     d(300000),
		GivenBudget: d(100000),
	})
	require.NoError(t, err)

	assert.True(t, created.CarriedBalance.Equal(d(120000)))
	assert.Equal(t, "Samarkand", created.FromCity)
	assert.Equal(t, types.LegStatusInProgress, created.Status)
	assert.Equal(t, types.LegStatusCompleted, view.Trip.Legs[0].Status)
	assert.True(t, view.Totals.LegBalances[1].Balance.Equal(d(220000)))

	published := pub.Published(trip.ID)
	require.Len(t, published, 2)
	assert.Equal(t, types.EventTypeExpenseAdded, published[0].Type)
	assert.Equal(t, int64(1), published[0].Sequence)
	assert.Equal(t, types.EventTypeLegAdded, published[1].Type)
	assert.Equal(t, int64(2), published[1].Sequence)
}

func TestMutationTotalsSatisfyInvariants(t *testing.T) {
	svc, _, _ := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindInternational)
	ctx := context.Background()

	_, _, err := svc.AddExpense(ctx, "driver-1", trip.ID, types.Expense{Type: types.ExpenseTypeFood, Amount: d(15000)})
	require.NoError(t, err)
	_, _, err = svc.AddBorderCrossing(ctx, "driver-1", trip.ID, types.BorderCrossing{
		FromCountry: "UZ", ToCountry: "KZ",
		CustomsFee: d(30), TransitFee: d(45),
		Currency: "USD", RateSnapshot: d(12800),
	})
	require.NoError(t, err)
	_, _, err = svc.SetRoadTax(ctx, "dispatcher-1", trip.ID, types.RoadTaxEntry{
		Jurisdiction: "RU", Amount: d(50), Currency: "RUB", RateSnapshot: d(160),
	})
	require.NoError(t, err)

	view, err := svc.GetTrip(ctx, trip.ID)
	require.NoError(t, err)

	// totalPayment = Σ leg.payment, totalExpenses = expenses + crossings + road tax.
	assert.True(t, view.Totals.TotalPayment.Equal(d(500000)))
	expected := d(15000).Add(d(75 * 12800)).Add(d(50 * 160))
	assert.True(t, view.Totals.TotalExpenses.Equal(expected), "got %s", view.Totals.TotalExpenses)
	assert.True(t, view.Totals.Profit.Equal(view.Totals.TotalPayment.Sub(expected)))
}

func TestSetRoadTaxReplacesPerJurisdiction(t *testing.T) {
	svc, _, _ := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindInternational)
	ctx := context.Background()

	_, first, err := svc.SetRoadTax(ctx, "dispatcher-1", trip.ID, types.RoadTaxEntry{
		Jurisdiction: "RU", Amount: d(50), Currency: "RUB", RateSnapshot: d(160),
	})
	require.NoError(t, err)

	view, second, err := svc.SetRoadTax(ctx, "dispatcher-1", trip.ID, types.RoadTaxEntry{
		Jurisdiction: "RU", Amount: d(70), Currency: "RUB", RateSnapshot: d(160),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, view.Trip.RoadTaxEntries, 1)
	assert.True(t, view.Trip.RoadTaxEntries[0].Amount.Equal(d(70)))
}

func TestCompleteTripFreezesLedger(t *testing.T) {
	svc, _, pub := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)
	ctx := context.Background()

	view, err := svc.CompleteTrip(ctx, "dispatcher-1", trip.ID, 120500, 60)
	require.NoError(t, err)

	assert.Equal(t, types.TripStatusCompleted, view.Trip.Status)
	require.NotNil(t, view.Trip.FinalBalance)
	assert.True(t, view.Trip.FinalBalance.Equal(d(200000)))
	assert.True(t, view.Totals.FinalBalance.Equal(d(200000)))
	require.NotNil(t, view.Trip.EndOdometer)
	assert.Equal(t, float64(120500), *view.Trip.EndOdometer)

	published := pub.Published(trip.ID)
	require.Len(t, published, 1)
	assert.Equal(t, types.EventTypeTripCompleted, published[0].Type)

	// The completed trip accepts no further mutations and totals are stable.
	_, _, err = svc.AddExpense(ctx, "driver-1", trip.ID, types.Expense{Type: types.ExpenseTypeFood, Amount: d(1000)})
	assert.True(t, apperrors.IsType(err, apperrors.InvalidStateError))

	after, err := svc.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, view.Totals, after.Totals)
}

func TestCancelledTripRejectsMutations(t *testing.T) {
	svc, _, _ := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)
	ctx := context.Background()

	_, err := svc.CancelTrip(ctx, "dispatcher-1", trip.ID)
	require.NoError(t, err)

	_, _, err = svc.AppendLeg(ctx, "dispatcher-1", trip.ID, types.Leg{ToCity: "Khiva", Payment: d(1), GivenBudget: d(1)})
	assert.True(t, apperrors.IsType(err, apperrors.InvalidStateError))
	_, err = svc.CompleteTrip(ctx, "dispatcher-1", trip.ID, 1, 1)
	assert.True(t, apperrors.IsType(err, apperrors.InvalidStateError))
}

func TestValidationRejectedBeforeStore(t *testing.T) {
	svc, _, pub := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)

	_, _, err := svc.AddExpense(context.Background(), "driver-1", trip.ID, types.Expense{
		Type:   types.ExpenseTypeFood,
		Amount: d(-5),
	})
	assert.True(t, apperrors.IsType(err, apperrors.ValidationError))
	assert.Empty(t, pub.Published(trip.ID))
}

// Concurrent add-expense and complete on the same trip: the store
// serializes them, every subscriber observes one ordering, and if complete
// commits first the expense fails with InvalidStateError.
func TestConcurrentMutationsSerialized(t *testing.T) {
	svc, _, pub := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)
	ctx := context.Background()

	var wg sync.WaitGroup
	var expenseErr, completeErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, expenseErr = svc.AddExpense(ctx, "driver-1", trip.ID, types.Expense{
			Type: types.ExpenseTypeFood, Amount: d(5000),
		})
	}()
	go func() {
		defer wg.Done()
		_, completeErr = svc.CompleteTrip(ctx, "dispatcher-1", trip.ID, 120500, 60)
	}()
	wg.Wait()

	require.NoError(t, completeErr)

	published := pub.Published(trip.ID)
	if expenseErr != nil {
		// Complete won the race; the expense observed the terminal state.
		assert.True(t, apperrors.IsType(expenseErr, apperrors.InvalidStateError))
		require.Len(t, published, 1)
		assert.Equal(t, types.EventTypeTripCompleted, published[0].Type)
		assert.Equal(t, int64(1), published[0].Sequence)
	} else {
		require.Len(t, published, 2)
		assert.Equal(t, types.EventTypeExpenseAdded, published[0].Type)
		assert.Equal(t, int64(1), published[0].Sequence)
		assert.Equal(t, types.EventTypeTripCompleted, published[1].Type)
		assert.Equal(t, int64(2), published[1].Sequence)
	}
}

func TestViewCarriesReportingCurrency(t *testing.T) {
	svc, _, _ := newTestService(t)
	trip := createActiveTrip(t, svc, types.TripKindDomestic)

	view, err := svc.GetTrip(context.Background(), trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "UZS", view.Currency)
}

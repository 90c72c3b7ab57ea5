package ledger

import (
	"testing"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func activeTrip() *types.Trip {
	return &types.Trip{
		ID:        "trip-1",
		DriverID:  "driver-1",
		VehicleID: "vehicle-1",
		Kind:      types.TripKindInternational,
		Status:    types.TripStatusActive,
		CreatedAt: baseTime,
	}
}

func leg(id string, start time.Time, payment, budget int64) types.Leg {
	return types.Leg{
		ID:          id,
		TripID:      "trip-1",
		FromCity:    "Tashkent",
		ToCity:      "Samarkand",
		DistanceKm:  300,
		Payment:     d(payment),
		GivenBudget: d(budget),
		Status:      types.LegStatusCompleted,
		CreatedAt:   start,
	}
}

// The worked scenario: leg1{payment 500000, budget 200000}, a fuel expense
// of 80000 during leg1, then leg2{payment 300000, budget 100000}. Leg2
// carries 120000 and starts with a balance of 220000.
func TestRecomputeCarryOverScenario(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{
		leg("leg-1", baseTime, 500000, 200000),
		leg("leg-2", baseTime.Add(24*time.Hour), 300000, 100000),
	}
	trip.Expenses = []types.Expense{{
		ID:        "exp-1",
		TripID:    "trip-1",
		Type:      types.ExpenseTypeFuelDiesel,
		Amount:    d(80000),
		CreatedAt: baseTime.Add(2 * time.Hour),
	}}

	totals, err := Recompute(trip)
	require.NoError(t, err)

	require.Len(t, totals.LegBalances, 2)
	assert.True(t, totals.LegBalances[0].CarriedBalance.IsZero())
	assert.True(t, totals.LegBalances[0].Balance.Equal(d(120000)))
	assert.True(t, totals.LegBalances[1].CarriedBalance.Equal(d(120000)))
	assert.True(t, totals.LegBalances[1].Balance.Equal(d(220000)))

	assert.True(t, totals.TotalPayment.Equal(d(800000)))
	assert.True(t, totals.TotalGivenBudget.Equal(d(300000)))
	assert.True(t, totals.TotalExpenses.Equal(d(80000)))
	assert.True(t, totals.Profit.Equal(d(720000)))
	assert.True(t, totals.FinalBalance.Equal(d(220000)))
}

// A leg deficit clamps to zero instead of propagating negatively.
func TestRecomputeNegativeBalanceClampsToZero(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{
		leg("leg-1", baseTime, 500000, 50000),
		leg("leg-2", baseTime.Add(24*time.Hour), 300000, 100000),
	}
	trip.Expenses = []types.Expense{{
		ID:        "exp-1",
		Type:      types.ExpenseTypeRepair,
		Amount:    d(90000),
		CreatedAt: baseTime.Add(time.Hour),
	}}

	totals, err := Recompute(trip)
	require.NoError(t, err)

	assert.True(t, totals.LegBalances[0].Balance.Equal(d(-40000)))
	assert.True(t, totals.LegBalances[1].CarriedBalance.IsZero())
	assert.True(t, totals.LegBalances[1].Balance.Equal(d(100000)))
}

func TestCarryOver(t *testing.T) {
	assert.True(t, CarryOver(d(120000)).Equal(d(120000)))
	assert.True(t, CarryOver(d(-500)).IsZero())
	assert.True(t, CarryOver(decimal.Zero).IsZero())
}

// Two crossings of $30 and $45 at rate 12800 total 960000 in the reporting
// currency, each converted with its own stored snapshot.
func TestRecomputeBorderCrossingsUseOwnSnapshots(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{leg("leg-1", baseTime, 500000, 200000)}
	trip.BorderCrossings = []types.BorderCrossing{
		{
			ID: "bc-1", FromCountry: "UZ", ToCountry: "KZ",
			CustomsFee: d(20), TransitFee: d(10),
			Currency: "USD", RateSnapshot: d(12800),
			CreatedAt: baseTime.Add(time.Hour),
		},
		{
			ID: "bc-2", FromCountry: "KZ", ToCountry: "RU",
			CustomsFee: d(30), InsuranceFee: d(15),
			Currency: "USD", RateSnapshot: d(12800),
			CreatedAt: baseTime.Add(2 * time.Hour),
		},
	}

	totals, err := Recompute(trip)
	require.NoError(t, err)
	assert.True(t, totals.BorderCrossingsTotal.Equal(d(960000)), "got %s", totals.BorderCrossingsTotal)
	assert.True(t, totals.TotalExpenses.Equal(d(960000)))

	// A later rate change on one entry must not touch the other.
	trip.BorderCrossings[1].RateSnapshot = d(13000)
	totals, err = Recompute(trip)
	require.NoError(t, err)
	assert.True(t, totals.BorderCrossingsTotal.Equal(d(30*12800+45*13000)))
}

func TestRecomputeFlagsUnconvertibleEntries(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{leg("leg-1", baseTime, 500000, 200000)}
	trip.BorderCrossings = []types.BorderCrossing{{
		ID: "bc-bad", CustomsFee: d(30), Currency: "USD",
		RateSnapshot: decimal.Zero, CreatedAt: baseTime.Add(time.Hour),
	}}
	trip.RoadTaxEntries = []types.RoadTaxEntry{{
		ID: "rt-1", Jurisdiction: "RU", Amount: d(40),
		Currency: "RUB", RateSnapshot: d(160),
		CreatedAt: baseTime.Add(time.Hour),
	}}

	totals, err := Recompute(trip)
	require.NoError(t, err)

	assert.Equal(t, []string{"bc-bad"}, totals.Unconvertible)
	assert.True(t, totals.BorderCrossingsTotal.IsZero())
	assert.True(t, totals.RoadTaxTotal.Equal(d(6400)))
	assert.True(t, totals.TotalExpenses.Equal(d(6400)))
}

// Recompute is pure: applying it twice yields identical totals and the trip
// itself is untouched.
func TestRecomputePurity(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{
		leg("leg-1", baseTime, 500000, 200000),
		leg("leg-2", baseTime.Add(24*time.Hour), 300000, 100000),
	}
	trip.Expenses = []types.Expense{{
		ID: "exp-1", Type: types.ExpenseTypeFood, Amount: d(15000),
		CreatedAt: baseTime.Add(time.Hour),
	}}
	before := trip.Clone()

	first, err := Recompute(trip)
	require.NoError(t, err)
	second, err := Recompute(trip)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, trip)
}

func TestRecomputeCompletedTripUsesFrozenFinalBalance(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{leg("leg-1", baseTime, 500000, 200000)}
	frozen := d(55000)
	trip.Status = types.TripStatusCompleted
	trip.FinalBalance = &frozen

	totals, err := Recompute(trip)
	require.NoError(t, err)
	assert.True(t, totals.FinalBalance.Equal(frozen))
}

func TestRecomputeEmptyTrip(t *testing.T) {
	totals, err := Recompute(activeTrip())
	require.NoError(t, err)
	assert.True(t, totals.TotalPayment.IsZero())
	assert.True(t, totals.FinalBalance.IsZero())
	assert.Nil(t, totals.LegBalances)
}

func TestRecomputeNilTrip(t *testing.T) {
	_, err := Recompute(nil)
	assert.Error(t, err)
}

func TestExpenseBeforeFirstLegAttributedToFirstLeg(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{leg("leg-1", baseTime, 500000, 200000)}
	trip.Expenses = []types.Expense{{
		ID: "exp-early", Type: types.ExpenseTypeOther, Amount: d(10000),
		CreatedAt: baseTime.Add(-time.Hour),
	}}

	totals, err := Recompute(trip)
	require.NoError(t, err)
	assert.True(t, totals.LegBalances[0].Balance.Equal(d(190000)))
}

func TestCarriedBalanceFor(t *testing.T) {
	trip := activeTrip()
	trip.Legs = []types.Leg{leg("leg-1", baseTime, 500000, 200000)}
	trip.Expenses = []types.Expense{{
		ID: "exp-1", Type: types.ExpenseTypeFuelDiesel, Amount: d(80000),
		CreatedAt: baseTime.Add(time.Hour),
	}}

	carried, err := CarriedBalanceFor(trip, &trip.Legs[0])
	require.NoError(t, err)
	assert.True(t, carried.Equal(d(120000)))

	carried, err = CarriedBalanceFor(trip, nil)
	require.NoError(t, err)
	assert.True(t, carried.IsZero())

	_, err = CarriedBalanceFor(trip, &types.Leg{ID: "missing"})
	assert.Error(t, err)
}

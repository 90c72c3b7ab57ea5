package ledger

import (
	"sort"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/shopspring/decimal"
)

// LegBalance is the per-leg view of the running ledger.
type LegBalance struct {
	LegID          string          `json:"legId"`
	CarriedBalance decimal.Decimal `json:"carriedBalance"`
	// Balance = givenBudget + carriedBalance − spending attributed to the
	// leg's time window.
	Balance decimal.Decimal `json:"balance"`
}

// DerivedTotals are the aggregates recomputed from a trip's legs, expenses,
// border crossings and road tax entries. They are never stored; callers
// re-derive them whenever the trip changes.
type DerivedTotals struct {
	TotalPayment         decimal.Decimal `json:"totalPayment"`
	TotalGivenBudget     decimal.Decimal `json:"totalGivenBudget"`
	TotalExpenses        decimal.Decimal `json:"totalExpenses"`
	BorderCrossingsTotal decimal.Decimal `json:"borderCrossingsTotal"`
	RoadTaxTotal         decimal.Decimal `json:"roadTaxTotal"`
	FinalBalance         decimal.Decimal `json:"finalBalance"`
	Profit               decimal.Decimal `json:"profit"`
	LegBalances          []LegBalance    `json:"legBalances"`

	// Unconvertible lists IDs of entries whose rate snapshot is invalid.
	// Such entries are excluded from the totals, never defaulted to zero.
	Unconvertible []string `json:"unconvertible,omitempty"`
}

// Recompute folds a trip into its derived totals. It is pure: it never
// mutates the trip and running it twice yields identical results, which is
// what lets clients show provisional aggregates during optimistic
// application without corrupting persisted state.
//
// Carried balances thread forward with the zero-clamp policy:
// leg[i].carriedBalance = max(leg[i-1].balance, 0), leg[0].carriedBalance = 0.
func Recompute(trip *types.Trip) (DerivedTotals, error) {
	if trip == nil {
		return DerivedTotals{}, errors.ValidationFailed("cannot recompute totals", "trip is nil")
	}

	totals := DerivedTotals{
		TotalPayment:         decimal.Zero,
		TotalGivenBudget:     decimal.Zero,
		TotalExpenses:        decimal.Zero,
		BorderCrossingsTotal: decimal.Zero,
		RoadTaxTotal:         decimal.Zero,
	}

	for _, leg := range trip.Legs {
		totals.TotalPayment = totals.TotalPayment.Add(leg.Payment)
		totals.TotalGivenBudget = totals.TotalGivenBudget.Add(leg.GivenBudget)
	}

	expenseTotal := decimal.Zero
	for _, e := range trip.Expenses {
		expenseTotal = expenseTotal.Add(e.Amount)
	}
	totals.TotalExpenses = expenseTotal

	for _, bc := range trip.BorderCrossings {
		converted, err := Convert(bc.TotalInOriginCurrency(), bc.Currency, bc.RateSnapshot)
		if err != nil {
			totals.Unconvertible = append(totals.Unconvertible, bc.ID)
			continue
		}
		totals.BorderCrossingsTotal = totals.BorderCrossingsTotal.Add(converted)
	}
	totals.TotalExpenses = totals.TotalExpenses.Add(totals.BorderCrossingsTotal)

	for _, rt := range trip.RoadTaxEntries {
		converted, err := Convert(rt.Amount, rt.Currency, rt.RateSnapshot)
		if err != nil {
			totals.Unconvertible = append(totals.Unconvertible, rt.ID)
			continue
		}
		totals.RoadTaxTotal = totals.RoadTaxTotal.Add(converted)
	}
	totals.TotalExpenses = totals.TotalExpenses.Add(totals.RoadTaxTotal)

	totals.Profit = totals.TotalPayment.Sub(totals.TotalExpenses)
	totals.LegBalances = legBalances(trip)

	switch {
	case trip.Status == types.TripStatusCompleted && trip.FinalBalance != nil:
		// Frozen at completion time; never re-derived afterwards.
		totals.FinalBalance = *trip.FinalBalance
	case len(totals.LegBalances) > 0:
		totals.FinalBalance = totals.LegBalances[len(totals.LegBalances)-1].Balance
	default:
		totals.FinalBalance = decimal.Zero
	}

	return totals, nil
}

// CarryOver applies the carried-balance policy to a previous leg's balance.
// A deficit does not propagate; it clamps to zero.
func CarryOver(previousBalance decimal.Decimal) decimal.Decimal {
	if previousBalance.Sign() < 0 {
		return decimal.Zero
	}
	return previousBalance
}

// legBalances threads the carried balance forward across legs in order.
// Spending is attributed to a leg's time window: an entry belongs to leg i
// when it was created at or after leg i started and before leg i+1 started.
// Entries predating leg 0 are attributed to leg 0.
func legBalances(trip *types.Trip) []LegBalance {
	if len(trip.Legs) == 0 {
		return nil
	}

	spend := make([]decimal.Decimal, len(trip.Legs))
	for i := range spend {
		spend[i] = decimal.Zero
	}

	starts := make([]time.Time, len(trip.Legs))
	for i, leg := range trip.Legs {
		starts[i] = leg.CreatedAt
	}

	attribute := func(createdAt time.Time, amount decimal.Decimal) {
		// sort.Search finds the first leg starting after createdAt; the
		// entry belongs to the leg before it.
		idx := sort.Search(len(starts), func(i int) bool {
			return starts[i].After(createdAt)
		})
		if idx == 0 {
			idx = 1
		}
		spend[idx-1] = spend[idx-1].Add(amount)
	}

	for _, e := range trip.Expenses {
		attribute(e.CreatedAt, e.Amount)
	}
	for _, bc := range trip.BorderCrossings {
		converted, err := Convert(bc.TotalInOriginCurrency(), bc.Currency, bc.RateSnapshot)
		if err != nil {
			continue
		}
		attribute(bc.CreatedAt, converted)
	}
	for _, rt := range trip.RoadTaxEntries {
		converted, err := Convert(rt.Amount, rt.Currency, rt.RateSnapshot)
		if err != nil {
			continue
		}
		attribute(rt.CreatedAt, converted)
	}

	balances := make([]LegBalance, len(trip.Legs))
	carried := decimal.Zero
	for i, leg := range trip.Legs {
		balances[i] = LegBalance{
			LegID:          leg.ID,
			CarriedBalance: carried,
			Balance:        leg.GivenBudget.Add(carried).Sub(spend[i]),
		}
		carried = CarryOver(balances[i].Balance)
	}
	return balances
}

// CarriedBalanceFor computes the carried balance an appended leg inherits
// from an explicit previous leg. Passing the previous leg by reference keeps
// the carry-over dependency visible instead of hiding it behind a
// last-array-element lookup. A nil previous leg (first leg) carries zero.
func CarriedBalanceFor(trip *types.Trip, previousLeg *types.Leg) (decimal.Decimal, error) {
	if previousLeg == nil {
		return decimal.Zero, nil
	}
	totals, err := Recompute(trip)
	if err != nil {
		return decimal.Zero, err
	}
	for _, lb := range totals.LegBalances {
		if lb.LegID == previousLeg.ID {
			return CarryOver(lb.Balance), nil
		}
	}
	return decimal.Zero, errors.NotFound("Leg", previousLeg.ID)
}

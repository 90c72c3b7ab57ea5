// Package validation holds the trip lifecycle guards: which mutations are
// legal in which trip state, and the shape rules mutations must satisfy
// before they are dispatched. Clients run the same guards before applying a
// mutation optimistically; the server runs them authoritatively.
package validation

import (
	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/shopspring/decimal"
)

// Mutation operation names, used in InvalidStateError details.
const (
	OpAppendLeg            = "append-leg"
	OpAddExpense           = "add-expense"
	OpRemoveExpense        = "remove-expense"
	OpAddBorderCrossing    = "add-border-crossing"
	OpRemoveBorderCrossing = "remove-border-crossing"
	OpSetRoadTax           = "set-road-tax"
	OpComplete             = "complete"
	OpCancel               = "cancel"
)

// EnsureMutable rejects any mutation against a trip that is not active.
// The returned error always names the attempted operation and the current
// status.
func EnsureMutable(trip *types.Trip, operation string) error {
	if trip == nil {
		return errors.TripNotFound("")
	}
	if trip.Status != types.TripStatusActive {
		return errors.InvalidState(operation, trip.Status.String())
	}
	return nil
}

// ValidateStatusTransition checks the trip state machine:
// active → completed and active → cancelled, both terminal.
func ValidateStatusTransition(trip *types.Trip, newStatus types.TripStatus) error {
	if !newStatus.IsValid() {
		return errors.ValidationFailed("invalid status", "status "+newStatus.String()+" is not valid")
	}
	if !trip.Status.IsValidTransition(newStatus) {
		op := OpComplete
		if newStatus == types.TripStatusCancelled {
			op = OpCancel
		}
		return errors.InvalidState(op, trip.Status.String())
	}
	return nil
}

// ValidateLeg checks the shape of a leg before it is appended.
func ValidateLeg(leg types.Leg) error {
	if leg.ToCity == "" {
		return errors.ValidationFailed("invalid leg", "toCity is required")
	}
	if leg.DistanceKm < 0 {
		return errors.ValidationFailed("invalid leg", "distanceKm must not be negative")
	}
	if leg.Payment.Sign() < 0 {
		return errors.ValidationFailed("invalid leg", "payment must not be negative")
	}
	if leg.GivenBudget.Sign() < 0 {
		return errors.ValidationFailed("invalid leg", "givenBudget must not be negative")
	}
	return nil
}

// ValidateExpense checks the shape of an expense entry. Fuel expenses must
// carry quantity and unit.
func ValidateExpense(expense types.Expense) error {
	if !expense.Type.IsValid() {
		return errors.ValidationFailed("invalid expense", "unknown expense type "+string(expense.Type))
	}
	if expense.Amount.Sign() <= 0 {
		return errors.ValidationFailed("invalid expense", "amount must be positive")
	}
	if expense.Type.IsFuel() {
		if expense.Quantity == nil || expense.Quantity.Sign() <= 0 {
			return errors.ValidationFailed("invalid expense", "fuel expenses require a positive quantity")
		}
		if expense.QuantityUnit == "" {
			return errors.ValidationFailed("invalid expense", "fuel expenses require a quantity unit")
		}
	}
	return nil
}

// ValidateBorderCrossing checks the shape of a border crossing entry.
// Crossings only exist on international trips.
func ValidateBorderCrossing(trip *types.Trip, bc types.BorderCrossing) error {
	if trip.Kind != types.TripKindInternational {
		return errors.ValidationFailed("invalid border crossing", "trip is not international")
	}
	if bc.FromCountry == "" || bc.ToCountry == "" {
		return errors.ValidationFailed("invalid border crossing", "fromCountry and toCountry are required")
	}
	if bc.Currency == "" {
		return errors.ValidationFailed("invalid border crossing", "currency is required")
	}
	for _, fee := range []decimal.Decimal{bc.CustomsFee, bc.TransitFee, bc.InsuranceFee, bc.OtherFees} {
		if fee.Sign() < 0 {
			return errors.ValidationFailed("invalid border crossing", "fees must not be negative")
		}
	}
	if bc.TotalInOriginCurrency().Sign() <= 0 {
		return errors.ValidationFailed("invalid border crossing", "at least one fee must be positive")
	}
	return nil
}

// ValidateRoadTax checks the shape of a road tax entry.
func ValidateRoadTax(rt types.RoadTaxEntry) error {
	if rt.Jurisdiction == "" {
		return errors.ValidationFailed("invalid road tax entry", "jurisdiction is required")
	}
	if rt.Amount.Sign() <= 0 {
		return errors.ValidationFailed("invalid road tax entry", "amount must be positive")
	}
	if rt.Currency == "" {
		return errors.ValidationFailed("invalid road tax entry", "currency is required")
	}
	return nil
}

// ValidateCompletion checks a completion mutation: the trip needs at least
// one leg and plausible closing readings.
func ValidateCompletion(trip *types.Trip, endOdometer, endFuel float64) error {
	if len(trip.Legs) == 0 {
		return errors.ValidationFailed("cannot complete trip", "trip has no legs")
	}
	if endOdometer < trip.StartOdometer {
		return errors.ValidationFailed("cannot complete trip", "endOdometer is below startOdometer")
	}
	if endFuel < 0 {
		return errors.ValidationFailed("cannot complete trip", "endFuel must not be negative")
	}
	return nil
}

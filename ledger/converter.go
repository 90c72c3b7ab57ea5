// Package ledger holds the pure financial core: snapshot-rate currency
// conversion and recomputation of a trip's derived totals.
package ledger

import (
	"github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/shopspring/decimal"
)

// Convert converts an amount in a given currency to the reporting currency
// using the rate snapshot captured when the entry was created. Rates are
// never re-fetched for existing entries; that is what keeps historical
// totals stable under later rate changes.
//
// A missing or non-positive snapshot is a ConfigurationError. The caller
// must flag the entry unconvertible rather than default the result to zero.
func Convert(amount decimal.Decimal, currency string, rateSnapshot decimal.Decimal) (decimal.Decimal, error) {
	if rateSnapshot.Sign() <= 0 {
		return decimal.Zero, errors.InvalidRateSnapshot(currency, "rate snapshot must be a positive number")
	}
	return amount.Mul(rateSnapshot), nil
}

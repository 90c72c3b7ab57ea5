package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BorderCrossing is a cost entry for crossing between two countries on an
// international trip. RateSnapshot is the conversion rate captured when the
// entry was created; totals in the reporting currency are always derived
// from it, never from a live rate, so historical entries stay immutable
// under later rate changes.
type BorderCrossing struct {
	ID           string          `json:"id"`
	TripID       string          `json:"tripId"`
	FromCountry  string          `json:"fromCountry"`
	ToCountry    string          `json:"toCountry"`
	CustomsFee   decimal.Decimal `json:"customsFee"`
	TransitFee   decimal.Decimal `json:"transitFee"`
	InsuranceFee decimal.Decimal `json:"insuranceFee"`
	OtherFees    decimal.Decimal `json:"otherFees"`
	Currency     string          `json:"currency"`
	RateSnapshot decimal.Decimal `json:"rateSnapshot"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TotalInOriginCurrency sums the crossing's fees in its own currency.
func (bc BorderCrossing) TotalInOriginCurrency() decimal.Decimal {
	return bc.CustomsFee.Add(bc.TransitFee).Add(bc.InsuranceFee).Add(bc.OtherFees)
}

// RoadTaxEntry is a per-jurisdiction distance-based tax (e.g. Platon).
// At most one entry exists per trip per jurisdiction.
type RoadTaxEntry struct {
	ID           string          `json:"id"`
	TripID       string          `json:"tripId"`
	Jurisdiction string          `json:"jurisdiction"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	RateSnapshot decimal.Decimal `json:"rateSnapshot"`
	CreatedAt    time.Time       `json:"createdAt"`
}

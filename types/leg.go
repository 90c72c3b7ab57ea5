package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type LegStatus string

const (
	LegStatusInProgress LegStatus = "IN_PROGRESS"
	LegStatusCompleted  LegStatus = "COMPLETED"
)

// Leg is one city-to-city segment of a trip.
//
// CarriedBalance is the unspent remainder rolled over from the previous leg,
// fixed when the leg is appended. A negative previous-leg balance is clamped
// to zero: a deficit is settled between dispatcher and driver, it is not
// cash the next leg can spend.
type Leg struct {
	ID         string    `json:"id"`
	TripID     string    `json:"tripId"`
	FromCity   string    `json:"fromCity"`
	ToCity     string    `json:"toCity"`
	DistanceKm float64   `json:"distanceKm"`
	// Payment is what the client owes for this leg.
	Payment decimal.Decimal `json:"payment"`
	// GivenBudget is the cash advanced to the driver for this leg.
	GivenBudget    decimal.Decimal `json:"givenBudget"`
	CarriedBalance decimal.Decimal `json:"carriedBalance"`
	Status         LegStatus       `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (ls LegStatus) IsValid() bool {
	return ls == LegStatusInProgress || ls == LegStatusCompleted
}

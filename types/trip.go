package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type TripStatus string

const (
	TripStatusActive    TripStatus = "ACTIVE"    // Trip is underway and accepts mutations
	TripStatusCompleted TripStatus = "COMPLETED" // Trip finished normally; ledger frozen
	TripStatusCancelled TripStatus = "CANCELLED" // Trip abandoned before completion
)

type TripKind string

const (
	TripKindDomestic      TripKind = "DOMESTIC"
	TripKindInternational TripKind = "INTERNATIONAL"
)

// Trip is one driver+vehicle multi-leg assignment. Derived totals are never
// stored on the trip; they are recomputed from legs, expenses, border
// crossings and road tax entries. The only frozen value is FinalBalance,
// set once when the trip completes.
type Trip struct {
	ID            string     `json:"id"`
	DriverID      string     `json:"driverId"`
	VehicleID     string     `json:"vehicleId"`
	Kind          TripKind   `json:"kind"`
	Status        TripStatus `json:"status"`
	StartOdometer float64    `json:"startOdometer"`
	EndOdometer   *float64   `json:"endOdometer,omitempty"`
	StartFuel     float64    `json:"startFuel"`
	EndFuel       *float64   `json:"endFuel,omitempty"`

	// Legs are ordered and append-only while the trip is active.
	Legs []Leg `json:"legs"`
	// Expenses keep insertion order for display; no ordering invariant.
	Expenses        []Expense        `json:"expenses"`
	BorderCrossings []BorderCrossing `json:"borderCrossings,omitempty"`
	RoadTaxEntries  []RoadTaxEntry   `json:"roadTaxEntries,omitempty"`

	// FinalBalance is set exactly once, at completion, and never recomputed
	// afterwards.
	FinalBalance *decimal.Decimal `json:"finalBalance,omitempty"`

	// Sequence is the last event sequence number confirmed for this trip.
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsValidTransition checks if a status transition is allowed.
func (ts TripStatus) IsValidTransition(newStatus TripStatus) bool {
	transitions := map[TripStatus][]TripStatus{
		TripStatusActive: {
			TripStatusCompleted,
			TripStatusCancelled,
		},
		TripStatusCompleted: {}, // Terminal state
		TripStatusCancelled: {}, // Terminal state
	}

	allowed, exists := transitions[ts]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

func (ts TripStatus) String() string {
	return string(ts)
}

// IsValid checks if the status is a valid trip status.
func (ts TripStatus) IsValid() bool {
	switch ts {
	case TripStatusActive, TripStatusCompleted, TripStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions exist from this status.
func (ts TripStatus) IsTerminal() bool {
	return ts == TripStatusCompleted || ts == TripStatusCancelled
}

func (tk TripKind) IsValid() bool {
	return tk == TripKindDomestic || tk == TripKindInternational
}

// LastLeg returns the trip's last leg, or nil for a trip with no legs. The
// carried-balance dependency of an appended leg is always taken from this
// explicit reference, never re-derived from positional indexing by callers.
func (t *Trip) LastLeg() *Leg {
	if len(t.Legs) == 0 {
		return nil
	}
	return &t.Legs[len(t.Legs)-1]
}

// RoadTaxFor returns the road tax entry for a jurisdiction, if present.
// At most one entry exists per jurisdiction.
func (t *Trip) RoadTaxFor(jurisdiction string) *RoadTaxEntry {
	for i := range t.RoadTaxEntries {
		if t.RoadTaxEntries[i].Jurisdiction == jurisdiction {
			return &t.RoadTaxEntries[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the trip. The optimistic mutation queue
// snapshots trips before patching them so a failed mutation can restore the
// exact pre-mutation state.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	if t.EndOdometer != nil {
		v := *t.EndOdometer
		c.EndOdometer = &v
	}
	if t.EndFuel != nil {
		v := *t.EndFuel
		c.EndFuel = &v
	}
	if t.FinalBalance != nil {
		v := *t.FinalBalance
		c.FinalBalance = &v
	}
	c.Legs = append([]Leg(nil), t.Legs...)
	c.Expenses = make([]Expense, len(t.Expenses))
	for i := range t.Expenses {
		c.Expenses[i] = t.Expenses[i].clone()
	}
	c.BorderCrossings = append([]BorderCrossing(nil), t.BorderCrossings...)
	c.RoadTaxEntries = append([]RoadTaxEntry(nil), t.RoadTaxEntries...)
	return &c
}

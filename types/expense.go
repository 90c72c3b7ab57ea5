package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExpenseType string

const (
	ExpenseTypeFuelDiesel ExpenseType = "FUEL_DIESEL"
	ExpenseTypeFuelPetrol ExpenseType = "FUEL_PETROL"
	ExpenseTypeFuelGas    ExpenseType = "FUEL_GAS"
	ExpenseTypeFood       ExpenseType = "FOOD"
	ExpenseTypeRepair     ExpenseType = "REPAIR"
	ExpenseTypeToll       ExpenseType = "TOLL"
	ExpenseTypeFine       ExpenseType = "FINE"
	ExpenseTypeOther      ExpenseType = "OTHER"
)

// Expense is a cost entry attached to a trip, not necessarily to a specific
// leg. Amount is always in the reporting currency. CreatedAt orders display
// and attributes the expense to a leg's time window; it never drives
// re-conversion of historical entries.
type Expense struct {
	ID           string           `json:"id"`
	TripID       string           `json:"tripId"`
	Type         ExpenseType      `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	Description  string           `json:"description,omitempty"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	QuantityUnit string           `json:"quantityUnit,omitempty"`
	Odometer     *float64         `json:"odometer,omitempty"`
	StationName  string           `json:"stationName,omitempty"`
	Location     string           `json:"location,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

func (et ExpenseType) IsValid() bool {
	switch et {
	case ExpenseTypeFuelDiesel, ExpenseTypeFuelPetrol, ExpenseTypeFuelGas,
		ExpenseTypeFood, ExpenseTypeRepair, ExpenseTypeToll,
		ExpenseTypeFine, ExpenseTypeOther:
		return true
	default:
		return false
	}
}

// IsFuel reports whether the expense type is a fuel subtype. Fuel entries
// carry quantity and unit.
func (et ExpenseType) IsFuel() bool {
	switch et {
	case ExpenseTypeFuelDiesel, ExpenseTypeFuelPetrol, ExpenseTypeFuelGas:
		return true
	default:
		return false
	}
}

func (e Expense) clone() Expense {
	c := e
	if e.Quantity != nil {
		q := *e.Quantity
		c.Quantity = &q
	}
	if e.Odometer != nil {
		o := *e.Odometer
		c.Odometer = &o
	}
	return c
}

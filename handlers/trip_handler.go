package handlers

import (
	"context"
	"net/http"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/ledger"
	"github.com/FleetLedger/fleet-ledger-backend/middleware"
	"github.com/FleetLedger/fleet-ledger-backend/models/trip/service"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/gin-gonic/gin"
)

// TripManager is the service surface the HTTP layer depends on.
type TripManager interface {
	CreateTrip(ctx context.Context, trip *types.Trip, firstLeg types.Leg) (*service.TripView, error)
	GetTrip(ctx context.Context, tripID string) (*service.TripView, error)
	ListDriverTrips(ctx context.Context, driverID string) ([]*service.TripView, error)
	AppendLeg(ctx context.Context, actorID, tripID string, leg types.Leg) (*service.TripView, *types.Leg, error)
	AddExpense(ctx context.Context, actorID, tripID string, expense types.Expense) (*service.TripView, *types.Expense, error)
	RemoveExpense(ctx context.Context, actorID, tripID, expenseID string) (*service.TripView, error)
	AddBorderCrossing(ctx context.Context, actorID, tripID string, bc types.BorderCrossing) (*service.TripView, *types.BorderCrossing, error)
	RemoveBorderCrossing(ctx context.Context, actorID, tripID, crossingID string) (*service.TripView, error)
	SetRoadTax(ctx context.Context, actorID, tripID string, entry types.RoadTaxEntry) (*service.TripView, *types.RoadTaxEntry, error)
	CompleteTrip(ctx context.Context, actorID, tripID string, endOdometer, endFuel float64) (*service.TripView, error)
	CancelTrip(ctx context.Context, actorID, tripID string) (*service.TripView, error)
}

// TripHandler exposes the trip ledger over HTTP. Every mutation response
// carries the full updated trip and its recomputed totals, so clients can
// reconcile optimistic state from the response alone.
type TripHandler struct {
	trips TripManager
}

func NewTripHandler(trips TripManager) *TripHandler {
	return &TripHandler{trips: trips}
}

type tripResponse struct {
	Trip           *types.Trip           `json:"trip"`
	Totals         ledger.DerivedTotals  `json:"totals"`
	Currency       string                `json:"currency"`
	Leg            *types.Leg            `json:"leg,omitempty"`
	Expense        *types.Expense        `json:"expense,omitempty"`
	BorderCrossing *types.BorderCrossing `json:"borderCrossing,omitempty"`
	RoadTax        *types.RoadTaxEntry   `json:"roadTax,omitempty"`
}

func viewResponse(view *service.TripView) tripResponse {
	return tripResponse{Trip: view.Trip, Totals: view.Totals, Currency: view.Currency}
}

type createTripRequest struct {
	DriverID      string         `json:"driverId"`
	VehicleID     string         `json:"vehicleId"`
	Kind          types.TripKind `json:"kind"`
	StartOdometer float64        `json:"startOdometer"`
	StartFuel     float64        `json:"startFuel"`
	FirstLeg      types.Leg      `json:"firstLeg"`
}

func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}
	if req.DriverID == "" {
		req.DriverID = middleware.GetUserID(c)
	}
	if !req.Kind.IsValid() {
		_ = c.Error(apperrors.ValidationFailed("invalid trip kind", string(req.Kind)))
		return
	}

	view, err := h.trips.CreateTrip(c.Request.Context(), &types.Trip{
		DriverID:      req.DriverID,
		VehicleID:     req.VehicleID,
		Kind:          req.Kind,
		StartOdometer: req.StartOdometer,
		StartFuel:     req.StartFuel,
	}, req.FirstLeg)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, viewResponse(view))
}

func (h *TripHandler) GetTrip(c *gin.Context) {
	view, err := h.trips.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewResponse(view))
}

func (h *TripHandler) ListTrips(c *gin.Context) {
	driverID := c.Query("driverId")
	if driverID == "" {
		driverID = middleware.GetUserID(c)
	}
	views, err := h.trips.ListDriverTrips(c.Request.Context(), driverID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trips": views})
}

func (h *TripHandler) AppendLeg(c *gin.Context) {
	var leg types.Leg
	if err := c.ShouldBindJSON(&leg); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}

	view, created, err := h.trips.AppendLeg(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), leg)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := viewResponse(view)
	resp.Leg = created
	c.JSON(http.StatusCreated, resp)
}

func (h *TripHandler) AddExpense(c *gin.Context) {
	var expense types.Expense
	if err := c.ShouldBindJSON(&expense); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}

	view, created, err := h.trips.AddExpense(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), expense)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := viewResponse(view)
	resp.Expense = created
	c.JSON(http.StatusCreated, resp)
}

func (h *TripHandler) RemoveExpense(c *gin.Context) {
	view, err := h.trips.RemoveExpense(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("expenseId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewResponse(view))
}

func (h *TripHandler) AddBorderCrossing(c *gin.Context) {
	var bc types.BorderCrossing
	if err := c.ShouldBindJSON(&bc); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}

	view, created, err := h.trips.AddBorderCrossing(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), bc)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := viewResponse(view)
	resp.BorderCrossing = created
	c.JSON(http.StatusCreated, resp)
}

func (h *TripHandler) RemoveBorderCrossing(c *gin.Context) {
	view, err := h.trips.RemoveBorderCrossing(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("crossingId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewResponse(view))
}

func (h *TripHandler) SetRoadTax(c *gin.Context) {
	var entry types.RoadTaxEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}

	view, saved, err := h.trips.SetRoadTax(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), entry)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := viewResponse(view)
	resp.RoadTax = saved
	c.JSON(http.StatusOK, resp)
}

type completeTripRequest struct {
	EndOdometer float64 `json:"endOdometer"`
	EndFuel     float64 `json:"endFuel"`
}

func (h *TripHandler) CompleteTrip(c *gin.Context) {
	var req completeTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid request body", err.Error()))
		return
	}

	view, err := h.trips.CompleteTrip(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.EndOdometer, req.EndFuel)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewResponse(view))
}

func (h *TripHandler) CancelTrip(c *gin.Context) {
	view, err := h.trips.CancelTrip(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, viewResponse(view))
}

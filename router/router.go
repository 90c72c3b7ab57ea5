// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/FleetLedger/fleet-ledger-backend/config"
	"github.com/FleetLedger/fleet-ledger-backend/handlers"
	"github.com/FleetLedger/fleet-ledger-backend/internal/auth"
	"github.com/FleetLedger/fleet-ledger-backend/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies carries everything the router needs.
type Dependencies struct {
	Config      *config.Config
	Validator   auth.Validator
	TripHandler *handlers.TripHandler
	WSHandler   *handlers.WSHandler
	Health      *handlers.HealthHandler
}

// Setup builds the gin engine with all routes registered.
func Setup(deps Dependencies) *gin.Engine {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORS(&deps.Config.Server))

	r.GET("/health", deps.Health.Readiness)
	r.GET("/health/liveness", deps.Health.Liveness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.Auth(deps.Validator))
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.CreateTrip)
			trips.GET("", deps.TripHandler.ListTrips)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/legs", deps.TripHandler.AppendLeg)
			trips.POST("/:id/expenses", deps.TripHandler.AddExpense)
			trips.DELETE("/:id/expenses/:expenseId", deps.TripHandler.RemoveExpense)
			trips.POST("/:id/border-crossings", deps.TripHandler.AddBorderCrossing)
			trips.DELETE("/:id/border-crossings/:crossingId", deps.TripHandler.RemoveBorderCrossing)
			trips.PUT("/:id/platon", deps.TripHandler.SetRoadTax)
			trips.PUT("/:id/complete", deps.TripHandler.CompleteTrip)
			trips.PUT("/:id/cancel", deps.TripHandler.CancelTrip)
			trips.GET("/:id/ws", deps.WSHandler.StreamTrip)
		}
	}
	return r
}

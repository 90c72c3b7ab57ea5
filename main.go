package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FleetLedger/fleet-ledger-backend/config"
	"github.com/FleetLedger/fleet-ledger-backend/handlers"
	"github.com/FleetLedger/fleet-ledger-backend/internal/auth"
	"github.com/FleetLedger/fleet-ledger-backend/internal/events"
	"github.com/FleetLedger/fleet-ledger-backend/internal/store/postgres"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/models/trip/service"
	"github.com/FleetLedger/fleet-ledger-backend/router"
)

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer logger.Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	pool, err := config.ConnectDatabase(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.Database.URL(), cfg.Database.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := config.ConnectRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Failed to close redis client", "error", err)
		}
	}()

	publisher := events.NewRedisPublisher(redisClient, events.Config{
		PublishTimeout:  time.Duration(cfg.EventService.PublishTimeoutSeconds) * time.Second,
		EventBufferSize: cfg.EventService.EventBufferSize,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := publisher.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Failed to shut down event publisher", "error", err)
		}
	}()

	tripStore := postgres.NewPgTripStore(pool)
	tripService := service.NewTripService(tripStore, publisher, cfg.Ledger.ReportingCurrency)

	validator := auth.NewCoalescingValidator(
		auth.NewJWTValidator(cfg.Server.JwtSecretKey),
		5*time.Minute,
	)

	engine := router.Setup(router.Dependencies{
		Config:      cfg,
		Validator:   validator,
		TripHandler: handlers.NewTripHandler(tripService),
		WSHandler:   handlers.NewWSHandler(tripService, publisher, cfg.IsDevelopment(), cfg.Server.AllowedOrigins),
		Health:      handlers.NewHealthHandler(pool, redisClient, cfg.Server.Version),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server shutdown failed", "error", err)
	}
}

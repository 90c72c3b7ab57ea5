package postgres

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/FleetLedger/fleet-ledger-backend/errors"
	"github.com/FleetLedger/fleet-ledger-backend/internal/store"
	"github.com/FleetLedger/fleet-ledger-backend/ledger"
	"github.com/FleetLedger/fleet-ledger-backend/logger"
	"github.com/FleetLedger/fleet-ledger-backend/models/trip/validation"
	"github.com/FleetLedger/fleet-ledger-backend/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the store uses. pgxmock implements
// it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ store.TripStore = (*pgTripStore)(nil)

type pgTripStore struct {
	db    PgxPool
	locks *store.KeyedMutex
}

// NewPgTripStore creates a new PostgreSQL trip store. The store serializes
// mutations per trip id with an in-process keyed mutex and a row lock on the
// trip, and assigns the event sequence number inside the same transaction as
// the mutation it describes.
func NewPgTripStore(db PgxPool) store.TripStore {
	return &pgTripStore{
		db:    db,
		locks: store.NewKeyedMutex(),
	}
}

func (s *pgTripStore) CreateTrip(ctx context.Context, trip *types.Trip, firstLeg types.Leg) (*types.Trip, error) {
	log := logger.GetLogger()

	if err := validation.ValidateLeg(firstLeg); err != nil {
		return nil, err
	}

	tripID := uuid.New().String()
	var created *types.Trip
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO trips (
                id, driver_id, vehicle_id, kind, status,
                start_odometer, start_fuel, sequence
            )
            VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
			tripID,
			trip.DriverID,
			trip.VehicleID,
			string(trip.Kind),
			string(types.TripStatusActive),
			trip.StartOdometer,
			trip.StartFuel,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trip: %w", err)
		}

		firstLeg.ID = uuid.New().String()
		firstLeg.TripID = tripID
		firstLeg.Status = types.LegStatusInProgress
		if err := insertLeg(ctx, tx, firstLeg, 0); err != nil {
			return err
		}

		created, err = getTripTx(ctx, tx, tripID, false)
		return err
	})
	if err != nil {
		log.Errorw("CreateTrip transaction failed", "error", err)
		return nil, err
	}

	log.Infow("Created trip", "tripId", tripID, "driverId", trip.DriverID)
	return created, nil
}

func (s *pgTripStore) GetTrip(ctx context.Context, id string) (*types.Trip, error) {
	var trip *types.Trip
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		trip, err = getTripTx(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return trip, nil
}

func (s *pgTripStore) ListTripsByDriver(ctx context.Context, driverID string) ([]*types.Trip, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id FROM trips
        WHERE driver_id = $1
        ORDER BY created_at DESC`,
		driverID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan trip id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trips := make([]*types.Trip, 0, len(ids))
	for _, id := range ids {
		trip, err := s.GetTrip(ctx, id)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

// mutate runs one trip mutation inside the per-trip critical section:
// in-process keyed mutex, a FOR UPDATE row lock on the trip, the lifecycle
// guard, the mutation itself, and the sequence bump all commit atomically.
func (s *pgTripStore) mutate(ctx context.Context, tripID, operation string, fn func(tx pgx.Tx, trip *types.Trip) error) (*store.MutationResult, error) {
	unlock := s.locks.Lock(tripID)
	defer unlock()

	var result *store.MutationResult
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		trip, err := getTripTx(ctx, tx, tripID, true)
		if err != nil {
			return err
		}
		if err := validation.EnsureMutable(trip, operation); err != nil {
			return err
		}
		if err := fn(tx, trip); err != nil {
			return err
		}

		var seq int64
		err = tx.QueryRow(ctx, `
            UPDATE trips
            SET sequence = sequence + 1, updated_at = now()
            WHERE id = $1
            RETURNING sequence`,
			tripID,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}

		updated, err := getTripTx(ctx, tx, tripID, false)
		if err != nil {
			return err
		}
		result = &store.MutationResult{Trip: updated, Sequence: seq}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *pgTripStore) AppendLeg(ctx context.Context, tripID string, leg types.Leg) (*store.MutationResult, *types.Leg, error) {
	if err := validation.ValidateLeg(leg); err != nil {
		return nil, nil, err
	}

	var created types.Leg
	result, err := s.mutate(ctx, tripID, validation.OpAppendLeg, func(tx pgx.Tx, trip *types.Trip) error {
		previous := trip.LastLeg()
		carried, err := ledger.CarriedBalanceFor(trip, previous)
		if err != nil {
			return err
		}

		if previous != nil && previous.Status == types.LegStatusInProgress {
			_, err := tx.Exec(ctx, `
                UPDATE legs SET status = $1 WHERE id = $2`,
				string(types.LegStatusCompleted),
				previous.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to complete previous leg: %w", err)
			}
		}

		// An appended leg defaults its origin to the previous destination.
		if leg.FromCity == "" && previous != nil {
			leg.FromCity = previous.ToCity
		}

		leg.ID = uuid.New().String()
		leg.TripID = tripID
		leg.CarriedBalance = carried
		leg.Status = types.LegStatusInProgress
		if err := insertLeg(ctx, tx, leg, len(trip.Legs)); err != nil {
			return err
		}
		created = leg
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, findLeg(result.Trip, created.ID), nil
}

func (s *pgTripStore) AddExpense(ctx context.Context, tripID string, expense types.Expense) (*store.MutationResult, *types.Expense, error) {
	if err := validation.ValidateExpense(expense); err != nil {
		return nil, nil, err
	}

	expenseID := uuid.New().String()
	result, err := s.mutate(ctx, tripID, validation.OpAddExpense, func(tx pgx.Tx, trip *types.Trip) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO expenses (
                id, trip_id, type, amount, description,
                quantity, quantity_unit, odometer, station_name, location
            )
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			expenseID,
			tripID,
			string(expense.Type),
			expense.Amount,
			expense.Description,
			expense.Quantity,
			expense.QuantityUnit,
			expense.Odometer,
			expense.StationName,
			expense.Location,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, findExpense(result.Trip, expenseID), nil
}

func (s *pgTripStore) RemoveExpense(ctx context.Context, tripID, expenseID string) (*store.MutationResult, error) {
	return s.mutate(ctx, tripID, validation.OpRemoveExpense, func(tx pgx.Tx, trip *types.Trip) error {
		tag, err := tx.Exec(ctx, `
            DELETE FROM expenses WHERE id = $1 AND trip_id = $2`,
			expenseID, tripID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("Expense", expenseID)
		}
		return nil
	})
}

func (s *pgTripStore) AddBorderCrossing(ctx context.Context, tripID string, bc types.BorderCrossing) (*store.MutationResult, *types.BorderCrossing, error) {
	crossingID := uuid.New().String()
	result, err := s.mutate(ctx, tripID, validation.OpAddBorderCrossing, func(tx pgx.Tx, trip *types.Trip) error {
		if err := validation.ValidateBorderCrossing(trip, bc); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
            INSERT INTO border_crossings (
                id, trip_id, from_country, to_country,
                customs_fee, transit_fee, insurance_fee, other_fees,
                currency, rate_snapshot
            )
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			crossingID,
			tripID,
			bc.FromCountry,
			bc.ToCountry,
			bc.CustomsFee,
			bc.TransitFee,
			bc.InsuranceFee,
			bc.OtherFees,
			bc.Currency,
			bc.RateSnapshot,
		)
		if err != nil {
			return fmt.Errorf("failed to insert border crossing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, findBorderCrossing(result.Trip, crossingID), nil
}

func (s *pgTripStore) RemoveBorderCrossing(ctx context.Context, tripID, crossingID string) (*store.MutationResult, error) {
	return s.mutate(ctx, tripID, validation.OpRemoveBorderCrossing, func(tx pgx.Tx, trip *types.Trip) error {
		tag, err := tx.Exec(ctx, `
            DELETE FROM border_crossings WHERE id = $1 AND trip_id = $2`,
			crossingID, tripID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete border crossing: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NotFound("BorderCrossing", crossingID)
		}
		return nil
	})
}

func (s *pgTripStore) SetRoadTax(ctx context.Context, tripID string, entry types.RoadTaxEntry) (*store.MutationResult, *types.RoadTaxEntry, error) {
	if err := validation.ValidateRoadTax(entry); err != nil {
		return nil, nil, err
	}

	result, err := s.mutate(ctx, tripID, validation.OpSetRoadTax, func(tx pgx.Tx, trip *types.Trip) error {
		// One entry per jurisdiction; setting again replaces it.
		_, err := tx.Exec(ctx, `
            INSERT INTO road_tax_entries (
                id, trip_id, jurisdiction, amount, currency, rate_snapshot
            )
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (trip_id, jurisdiction)
            DO UPDATE SET amount = $4, currency = $5, rate_snapshot = $6`,
			uuid.New().String(),
			tripID,
			entry.Jurisdiction,
			entry.Amount,
			entry.Currency,
			entry.RateSnapshot,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert road tax entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, result.Trip.RoadTaxFor(entry.Jurisdiction), nil
}

func (s *pgTripStore) CompleteTrip(ctx context.Context, tripID string, endOdometer, endFuel float64) (*store.MutationResult, error) {
	return s.mutate(ctx, tripID, validation.OpComplete, func(tx pgx.Tx, trip *types.Trip) error {
		if err := validation.ValidateCompletion(trip, endOdometer, endFuel); err != nil {
			return err
		}

		totals, err := ledger.Recompute(trip)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            UPDATE trips
            SET status = $1, end_odometer = $2, end_fuel = $3, final_balance = $4
            WHERE id = $5`,
			string(types.TripStatusCompleted),
			endOdometer,
			endFuel,
			totals.FinalBalance,
			tripID,
		)
		if err != nil {
			return fmt.Errorf("failed to complete trip: %w", err)
		}

		if last := trip.LastLeg(); last != nil && last.Status == types.LegStatusInProgress {
			_, err := tx.Exec(ctx, `
                UPDATE legs SET status = $1 WHERE id = $2`,
				string(types.LegStatusCompleted),
				last.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to complete last leg: %w", err)
			}
		}
		return nil
	})
}

func (s *pgTripStore) CancelTrip(ctx context.Context, tripID string) (*store.MutationResult, error) {
	return s.mutate(ctx, tripID, validation.OpCancel, func(tx pgx.Tx, trip *types.Trip) error {
		_, err := tx.Exec(ctx, `
            UPDATE trips SET status = $1 WHERE id = $2`,
			string(types.TripStatusCancelled),
			tripID,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel trip: %w", err)
		}
		return nil
	})
}

// --- Row loading helpers ---

func getTripTx(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (*types.Trip, error) {
	query := `
        SELECT id, driver_id, vehicle_id, kind, status,
               start_odometer, end_odometer, start_fuel, end_fuel,
               final_balance, sequence, created_at, updated_at
        FROM trips
        WHERE id = $1`
	if forUpdate {
		query += `
        FOR UPDATE`
	}

	var trip types.Trip
	var kind, status string
	err := tx.QueryRow(ctx, query, id).Scan(
		&trip.ID,
		&trip.DriverID,
		&trip.VehicleID,
		&kind,
		&status,
		&trip.StartOdometer,
		&trip.EndOdometer,
		&trip.StartFuel,
		&trip.EndFuel,
		&trip.FinalBalance,
		&trip.Sequence,
		&trip.CreatedAt,
		&trip.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.TripNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	trip.Kind = types.TripKind(kind)
	trip.Status = types.TripStatus(status)

	if err := loadLegs(ctx, tx, &trip); err != nil {
		return nil, err
	}
	if err := loadExpenses(ctx, tx, &trip); err != nil {
		return nil, err
	}
	if err := loadBorderCrossings(ctx, tx, &trip); err != nil {
		return nil, err
	}
	if err := loadRoadTaxEntries(ctx, tx, &trip); err != nil {
		return nil, err
	}
	return &trip, nil
}

func loadLegs(ctx context.Context, tx pgx.Tx, trip *types.Trip) error {
	rows, err := tx.Query(ctx, `
        SELECT id, trip_id, from_city, to_city, distance_km,
               payment, given_budget, carried_balance, status, created_at
        FROM legs
        WHERE trip_id = $1
        ORDER BY position`,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var leg types.Leg
		var status string
		err := rows.Scan(
			&leg.ID,
			&leg.TripID,
			&leg.FromCity,
			&leg.ToCity,
			&leg.DistanceKm,
			&leg.Payment,
			&leg.GivenBudget,
			&leg.CarriedBalance,
			&status,
			&leg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan leg: %w", err)
		}
		leg.Status = types.LegStatus(status)
		trip.Legs = append(trip.Legs, leg)
	}
	return rows.Err()
}

func loadExpenses(ctx context.Context, tx pgx.Tx, trip *types.Trip) error {
	rows, err := tx.Query(ctx, `
        SELECT id, trip_id, type, amount, description,
               quantity, quantity_unit, odometer, station_name, location, created_at
        FROM expenses
        WHERE trip_id = $1
        ORDER BY created_at, id`,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.Expense
		var expenseType string
		err := rows.Scan(
			&e.ID,
			&e.TripID,
			&expenseType,
			&e.Amount,
			&e.Description,
			&e.Quantity,
			&e.QuantityUnit,
			&e.Odometer,
			&e.StationName,
			&e.Location,
			&e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan expense: %w", err)
		}
		e.Type = types.ExpenseType(expenseType)
		trip.Expenses = append(trip.Expenses, e)
	}
	return rows.Err()
}

func loadBorderCrossings(ctx context.Context, tx pgx.Tx, trip *types.Trip) error {
	rows, err := tx.Query(ctx, `
        SELECT id, trip_id, from_country, to_country,
               customs_fee, transit_fee, insurance_fee, other_fees,
               currency, rate_snapshot, created_at
        FROM border_crossings
        WHERE trip_id = $1
        ORDER BY created_at, id`,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query border crossings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bc types.BorderCrossing
		err := rows.Scan(
			&bc.ID,
			&bc.TripID,
			&bc.FromCountry,
			&bc.ToCountry,
			&bc.CustomsFee,
			&bc.TransitFee,
			&bc.InsuranceFee,
			&bc.OtherFees,
			&bc.Currency,
			&bc.RateSnapshot,
			&bc.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan border crossing: %w", err)
		}
		trip.BorderCrossings = append(trip.BorderCrossings, bc)
	}
	return rows.Err()
}

func loadRoadTaxEntries(ctx context.Context, tx pgx.Tx, trip *types.Trip) error {
	rows, err := tx.Query(ctx, `
        SELECT id, trip_id, jurisdiction, amount, currency, rate_snapshot, created_at
        FROM road_tax_entries
        WHERE trip_id = $1
        ORDER BY jurisdiction`,
		trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query road tax entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rt types.RoadTaxEntry
		err := rows.Scan(
			&rt.ID,
			&rt.TripID,
			&rt.Jurisdiction,
			&rt.Amount,
			&rt.Currency,
			&rt.RateSnapshot,
			&rt.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan road tax entry: %w", err)
		}
		trip.RoadTaxEntries = append(trip.RoadTaxEntries, rt)
	}
	return rows.Err()
}

func insertLeg(ctx context.Context, tx pgx.Tx, leg types.Leg, position int) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO legs (
            id, trip_id, position, from_city, to_city, distance_km,
            payment, given_budget, carried_balance, status
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		leg.ID,
		leg.TripID,
		position,
		leg.FromCity,
		leg.ToCity,
		leg.DistanceKm,
		leg.Payment,
		leg.GivenBudget,
		leg.CarriedBalance,
		string(leg.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert leg: %w", err)
	}
	return nil
}

func findLeg(trip *types.Trip, id string) *types.Leg {
	for i := range trip.Legs {
		if trip.Legs[i].ID == id {
			return &trip.Legs[i]
		}
	}
	return nil
}

func findExpense(trip *types.Trip, id string) *types.Expense {
	for i := range trip.Expenses {
		if trip.Expenses[i].ID == id {
			return &trip.Expenses[i]
		}
	}
	return nil
}

func findBorderCrossing(trip *types.Trip, id string) *types.BorderCrossing {
	for i := range trip.BorderCrossings {
		if trip.BorderCrossings[i].ID == id {
			return &trip.BorderCrossings[i]
		}
	}
	return nil
}

// --- Transaction helper ---

// TxFn is a function executed within a database transaction.
type TxFn func(tx pgx.Tx) error

// WithTx executes fn within a transaction, handling begin, commit and
// rollback.
func WithTx(ctx context.Context, db PgxPool, fn TxFn) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		// No-op if the transaction already committed.
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.GetLogger().Errorw("Failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// TripRepo defines the persistence operations for Trips, including the
// capacity counters owned by the ledger.
type TripRepo interface {
	// Create inserts a new trip with its available counters set to capacity.
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// GetByID retrieves a single trip. Returns domain.ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// List returns one page of trips ordered by departure_time ascending,
	// plus the total number of trips matching the filter.
	List(ctx context.Context, filter domain.TripFilter) ([]domain.Trip, int64, error)

	// UpdateStatus moves a trip from one status to another. Returns
	// domain.ErrInvalidTransition if the trip is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TripStatus) (domain.Trip, error)

	// TakeCapacity atomically decrements both counters if and only if
	// enough remains and the trip is open for sale. Returns
	// domain.ErrCapacityExceeded otherwise, with no side effects.
	TakeCapacity(ctx context.Context, id uuid.UUID, pax, vehicles int) (domain.Trip, error)

	// ReturnCapacity atomically increments both counters. Returns
	// domain.ErrConflict if the increment would exceed the trip's capacity.
	ReturnCapacity(ctx context.Context, id uuid.UUID, pax, vehicles int) (domain.Trip, error)

	// IncrementBoarded bumps the boarded passenger count by one.
	IncrementBoarded(ctx context.Context, id uuid.UUID) error

	// ListDepartedWithIssued returns the ids of non-cancelled trips that
	// departed before now and still have issued tickets.
	ListDepartedWithIssued(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

const tripColumns = `id, route_id, ship_id, departure_time, arrival_time, status,
	capacity_pax, capacity_vehicles, available_seats_pax, available_slots_vehicles,
	boarded_pax, created_at, updated_at`

// Create inserts a new trip row and returns the full persisted record.
func (r *pgTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	const q = `
		INSERT INTO trips (route_id, ship_id, departure_time, arrival_time, status,
		                   capacity_pax, capacity_vehicles,
		                   available_seats_pax, available_slots_vehicles)
		VALUES (@route_id, @ship_id, @departure_time, @arrival_time, @status,
		        @capacity_pax, @capacity_vehicles, @capacity_pax, @capacity_vehicles)
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{
		"route_id":          trip.RouteID,
		"ship_id":           trip.ShipID,
		"departure_time":    trip.DepartureTime,
		"arrival_time":      trip.ArrivalTime,
		"status":            string(trip.Status),
		"capacity_pax":      trip.CapacityPax,
		"capacity_vehicles": trip.CapacityVehicles,
	}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a trip by primary key.
func (r *pgTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	const q = `SELECT ` + tripColumns + ` FROM trips WHERE id = @id`

	result, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	return result, nil
}

// List returns trips departing inside the filter window, one page at a time.
func (r *pgTripRepo) List(ctx context.Context, filter domain.TripFilter) ([]domain.Trip, int64, error) {
	const where = `
		WHERE (@from::timestamptz IS NULL OR departure_time >= @from)
		  AND (@to::timestamptz   IS NULL OR departure_time <  @to)`

	args := pgx.NamedArgs{
		"from":   optionalTime(filter.From),
		"to":     optionalTime(filter.To),
		"limit":  filter.Page.Limit,
		"offset": filter.Page.Offset(),
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM trips`+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.List: count: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT `+tripColumns+` FROM trips`+where+`
		ORDER BY departure_time ASC, id ASC
		LIMIT @limit OFFSET @offset`, args)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.List: %w", err)
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repo.TripRepo.List: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.List: rows: %w", err)
	}
	return trips, total, nil
}

// UpdateStatus performs a compare-and-set on the trip status.
func (r *pgTripRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TripStatus) (domain.Trip, error) {
	const q = `
		UPDATE trips
		SET status = @to, updated_at = now()
		WHERE id = @id AND status = @from
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{"id": id, "from": string(from), "to": string(to)}
	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.UpdateStatus: %w", domain.ErrInvalidTransition)
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.UpdateStatus: %w", err)
	}
	return result, nil
}

// TakeCapacity is the ledger's check-and-decrement. The WHERE clause is the
// check; Postgres's row lock on UPDATE serializes concurrent callers on the
// same trip, and each re-evaluates the predicate against the committed row.
func (r *pgTripRepo) TakeCapacity(ctx context.Context, id uuid.UUID, pax, vehicles int) (domain.Trip, error) {
	const q = `
		UPDATE trips
		SET available_seats_pax      = available_seats_pax - @pax,
		    available_slots_vehicles = available_slots_vehicles - @vehicles,
		    updated_at               = now()
		WHERE id = @id
		  AND status IN ('scheduled', 'boarding')
		  AND available_seats_pax      >= @pax
		  AND available_slots_vehicles >= @vehicles
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{"id": id, "pax": pax, "vehicles": vehicles}
	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.TakeCapacity: %w", domain.ErrCapacityExceeded)
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.TakeCapacity: %w", err)
	}
	return result, nil
}

// ReturnCapacity gives seats and slots back, never beyond capacity.
func (r *pgTripRepo) ReturnCapacity(ctx context.Context, id uuid.UUID, pax, vehicles int) (domain.Trip, error) {
	const q = `
		UPDATE trips
		SET available_seats_pax      = available_seats_pax + @pax,
		    available_slots_vehicles = available_slots_vehicles + @vehicles,
		    updated_at               = now()
		WHERE id = @id
		  AND available_seats_pax + @pax           <= capacity_pax
		  AND available_slots_vehicles + @vehicles <= capacity_vehicles
		RETURNING ` + tripColumns

	args := pgx.NamedArgs{"id": id, "pax": pax, "vehicles": vehicles}
	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.ReturnCapacity: %w", domain.ErrConflict)
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.ReturnCapacity: %w", err)
	}
	return result, nil
}

// IncrementBoarded records one more passenger on board.
func (r *pgTripRepo) IncrementBoarded(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE trips SET boarded_pax = boarded_pax + 1, updated_at = now() WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("repo.TripRepo.IncrementBoarded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.TripRepo.IncrementBoarded: %w", domain.ErrNotFound)
	}
	return nil
}

// ListDepartedWithIssued feeds the expiration sweep.
func (r *pgTripRepo) ListDepartedWithIssued(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const q = `
		SELECT t.id
		FROM trips t
		WHERE t.departure_time < @now
		  AND t.status <> 'cancelled'
		  AND EXISTS (SELECT 1 FROM tickets k WHERE k.trip_id = t.id AND k.status = 'issued')
		ORDER BY t.departure_time ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"now": now})
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListDepartedWithIssued: %w", err)
	}
	ids, err := collectUUIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.ListDepartedWithIssued: %w", err)
	}
	return ids, nil
}

// scanTrip maps a single database row into a domain.Trip.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t       domain.Trip
		id      pgtype.UUID
		routeID pgtype.UUID
		shipID  pgtype.UUID
		status  string
	)

	err := s.Scan(&id, &routeID, &shipID, &t.DepartureTime, &t.ArrivalTime, &status,
		&t.CapacityPax, &t.CapacityVehicles, &t.AvailableSeatsPax, &t.AvailableSlotsVehicles,
		&t.BoardedPax, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	t.ID = fromPgUUID(id)
	t.RouteID = fromPgUUID(routeID)
	t.ShipID = fromPgUUID(shipID)
	t.Status = domain.TripStatus(status)
	return t, nil
}

// optionalTime turns a zero time into SQL NULL.
func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// collectUUIDs drains rows holding a single uuid column.
func collectUUIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ids = append(ids, fromPgUUID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return ids, nil
}

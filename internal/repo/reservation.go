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

// ReservationRepo persists ledger reservation handles.
type ReservationRepo interface {
	// Create inserts a held reservation.
	Create(ctx context.Context, res domain.Reservation) (domain.Reservation, error)

	// GetByID returns domain.ErrNotFound if the reservation does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Reservation, error)

	// Close moves a held reservation to committed or released.
	// Returns domain.ErrReservationClosed if it is no longer held.
	Close(ctx context.Context, id uuid.UUID, to domain.ReservationStatus) (domain.Reservation, error)

	// ListHeldBefore returns held reservations created before cutoff,
	// ordered by id and starting after the given id, at most limit rows.
	// Pass uuid.Nil for the first page.
	ListHeldBefore(ctx context.Context, cutoff time.Time, after uuid.UUID, limit int) ([]domain.Reservation, error)
}

type pgReservationRepo struct {
	db db
}

// NewReservationRepo constructs a ReservationRepo backed by db.
func NewReservationRepo(db db) ReservationRepo {
	return &pgReservationRepo{db: db}
}

const reservationColumns = `id, trip_id, pax_count, vehicle_count, status, created_at, updated_at`

func (r *pgReservationRepo) Create(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	const q = `
		INSERT INTO reservations (trip_id, pax_count, vehicle_count, status)
		VALUES (@trip_id, @pax_count, @vehicle_count, 'held')
		RETURNING ` + reservationColumns

	args := pgx.NamedArgs{
		"trip_id":       res.TripID,
		"pax_count":     res.PaxCount,
		"vehicle_count": res.VehicleCount,
	}
	result, err := scanReservation(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("repo.ReservationRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgReservationRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = @id`

	result, err := scanReservation(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("repo.ReservationRepo.GetByID: %w", err)
	}
	return result, nil
}

func (r *pgReservationRepo) Close(ctx context.Context, id uuid.UUID, to domain.ReservationStatus) (domain.Reservation, error) {
	const q = `
		UPDATE reservations
		SET status = @to, updated_at = now()
		WHERE id = @id AND status = 'held'
		RETURNING ` + reservationColumns

	result, err := scanReservation(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "to": string(to)}))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Reservation{}, fmt.Errorf("repo.ReservationRepo.Close: %w", domain.ErrReservationClosed)
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("repo.ReservationRepo.Close: %w", err)
	}
	return result, nil
}

func (r *pgReservationRepo) ListHeldBefore(ctx context.Context, cutoff time.Time, after uuid.UUID, limit int) ([]domain.Reservation, error) {
	const q = `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'held' AND created_at < @cutoff AND id > @after
		ORDER BY id ASC
		LIMIT @limit`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"cutoff": cutoff, "after": after, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("repo.ReservationRepo.ListHeldBefore: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.ReservationRepo.ListHeldBefore: scan: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.ReservationRepo.ListHeldBefore: rows: %w", err)
	}
	return out, nil
}

func scanReservation(s scanner) (domain.Reservation, error) {
	var (
		res    domain.Reservation
		id     pgtype.UUID
		tripID pgtype.UUID
		status string
	)
	err := s.Scan(&id, &tripID, &res.PaxCount, &res.VehicleCount, &status, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrNotFound
		}
		return domain.Reservation{}, err
	}
	res.ID = fromPgUUID(id)
	res.TripID = fromPgUUID(tripID)
	res.Status = domain.ReservationStatus(status)
	return res, nil
}

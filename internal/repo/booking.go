package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// BookingRepo defines the persistence operations for Bookings.
// Tickets are loaded separately through TicketRepo.
type BookingRepo interface {
	// Create inserts a booking. Returns domain.ErrConflict if the booking
	// reference is already taken.
	Create(ctx context.Context, booking domain.Booking) (domain.Booking, error)

	// GetByID returns domain.ErrNotFound if the booking does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error)

	// GetByReservationID finds the booking created from a reservation.
	GetByReservationID(ctx context.Context, reservationID uuid.UUID) (domain.Booking, error)

	// UpdateStatus is a compare-and-set on the booking status. Returns
	// domain.ErrInvalidTransition if the booking is no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error)

	// ListSettled returns confirmed bookings that no longer have an issued
	// ticket. Their status is due for recomputation. Results are ordered by
	// id and start after the given id; pass uuid.Nil for the first page.
	ListSettled(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type pgBookingRepo struct {
	db db
}

// NewBookingRepo constructs a BookingRepo backed by db.
func NewBookingRepo(db db) BookingRepo {
	return &pgBookingRepo{db: db}
}

const bookingColumns = `id, user_id, booking_reference, reservation_id, vehicle_count,
	total_amount, status, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

func (r *pgBookingRepo) Create(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	const q = `
		INSERT INTO bookings (user_id, booking_reference, reservation_id, vehicle_count,
		                      total_amount, status)
		VALUES (@user_id, @booking_reference, @reservation_id, @vehicle_count,
		        @total_amount, @status)
		RETURNING ` + bookingColumns

	args := pgx.NamedArgs{
		"user_id":           booking.UserID,
		"booking_reference": booking.BookingReference,
		"reservation_id":    booking.ReservationID,
		"vehicle_count":     booking.VehicleCount,
		"total_amount":      booking.TotalAmount,
		"status":            string(booking.Status),
	}

	result, err := scanBooking(r.db.QueryRow(ctx, q, args))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Booking{}, fmt.Errorf("repo.BookingRepo.Create: booking reference %q: %w",
				booking.BookingReference, domain.ErrConflict)
		}
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgBookingRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = @id`

	result, err := scanBooking(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.GetByID: %w", err)
	}
	return result, nil
}

func (r *pgBookingRepo) GetByReservationID(ctx context.Context, reservationID uuid.UUID) (domain.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE reservation_id = @reservation_id`

	result, err := scanBooking(r.db.QueryRow(ctx, q, pgx.NamedArgs{"reservation_id": reservationID}))
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.GetByReservationID: %w", err)
	}
	return result, nil
}

func (r *pgBookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	const q = `
		UPDATE bookings
		SET status = @to, updated_at = now()
		WHERE id = @id AND status = @from
		RETURNING ` + bookingColumns

	args := pgx.NamedArgs{"id": id, "from": string(from), "to": string(to)}
	result, err := scanBooking(r.db.QueryRow(ctx, q, args))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.UpdateStatus: %w", domain.ErrInvalidTransition)
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("repo.BookingRepo.UpdateStatus: %w", err)
	}
	return result, nil
}

func (r *pgBookingRepo) ListSettled(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	const q = `
		SELECT b.id
		FROM bookings b
		WHERE b.status = 'confirmed'
		  AND b.id > @after
		  AND NOT EXISTS (
		      SELECT 1 FROM tickets t
		      WHERE t.booking_id = b.id AND t.status = 'issued')
		ORDER BY b.id ASC
		LIMIT @limit`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"after": after, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListSettled: %w", err)
	}
	ids, err := collectUUIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.BookingRepo.ListSettled: %w", err)
	}
	return ids, nil
}

func scanBooking(s scanner) (domain.Booking, error) {
	var (
		b             domain.Booking
		id            pgtype.UUID
		userID        pgtype.UUID
		reservationID pgtype.UUID
		status        string
	)
	err := s.Scan(&id, &userID, &b.BookingReference, &reservationID, &b.VehicleCount,
		&b.TotalAmount, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Booking{}, domain.ErrNotFound
		}
		return domain.Booking{}, err
	}
	b.ID = fromPgUUID(id)
	b.UserID = fromPgUUID(userID)
	b.ReservationID = fromPgUUID(reservationID)
	b.Status = domain.BookingStatus(status)
	return b, nil
}

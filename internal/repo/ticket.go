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

// TicketView is a ticket together with its booking's reference and status,
// the shape the validator needs to decide a scan and build a display summary.
type TicketView struct {
	domain.Ticket
	BookingReference string
	BookingStatus    domain.BookingStatus
}

// TicketRepo defines the persistence operations for Tickets.
// Every status change is conditional on the ticket still being issued.
type TicketRepo interface {
	// Create inserts an issued ticket.
	Create(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error)

	// GetByID returns domain.ErrNotFound if the ticket does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Ticket, error)

	// GetByCode looks a ticket up by its QR payload.
	// Returns domain.ErrNotFound if no ticket carries that code.
	GetByCode(ctx context.Context, code string) (TicketView, error)

	// ListByBooking returns a booking's tickets in creation order.
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Ticket, error)

	// MarkUsed sets status=used and used_at=usedAt only if the ticket is
	// still issued and its booking is confirmed. It reports whether this
	// call performed the transition.
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)

	// Cancel moves an issued ticket to cancelled. Returns
	// domain.ErrInvalidTransition if it is not issued.
	Cancel(ctx context.Context, id uuid.UUID) (domain.Ticket, error)

	// CancelIssuedByBooking cancels every issued ticket of a booking and
	// returns how many changed.
	CancelIssuedByBooking(ctx context.Context, bookingID uuid.UUID) (int, error)

	// CancelIssuedByTrip cancels every issued ticket of a trip and returns
	// the distinct booking ids touched.
	CancelIssuedByTrip(ctx context.Context, tripID uuid.UUID) ([]uuid.UUID, error)

	// ExpireIssuedByTrip expires every issued ticket of a trip and returns
	// the number expired and the distinct booking ids touched.
	ExpireIssuedByTrip(ctx context.Context, tripID uuid.UUID) (int, []uuid.UUID, error)

	// StatusesByBooking returns the statuses of all tickets of a booking.
	StatusesByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.TicketStatus, error)

	// Manifest returns every ticket on a trip joined with its booking,
	// ordered by passenger name.
	Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error)
}

type pgTicketRepo struct {
	db db
}

// NewTicketRepo constructs a TicketRepo backed by db.
func NewTicketRepo(db db) TicketRepo {
	return &pgTicketRepo{db: db}
}

const ticketColumns = `id, booking_id, trip_id, passenger_name, passenger_type,
	nationality_group, price_paid, status, used_at, qr_code_data, created_at`

func (r *pgTicketRepo) Create(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error) {
	const q = `
		INSERT INTO tickets (booking_id, trip_id, passenger_name, passenger_type,
		                     nationality_group, price_paid, status, qr_code_data)
		VALUES (@booking_id, @trip_id, @passenger_name, @passenger_type,
		        @nationality_group, @price_paid, 'issued', @qr_code_data)
		RETURNING ` + ticketColumns

	args := pgx.NamedArgs{
		"booking_id":        ticket.BookingID,
		"trip_id":           ticket.TripID,
		"passenger_name":    ticket.PassengerName,
		"passenger_type":    string(ticket.PassengerType),
		"nationality_group": ticket.NationalityGroup,
		"price_paid":        ticket.PricePaid,
		"qr_code_data":      ticket.QRCodeData,
	}
	result, err := scanTicket(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("repo.TicketRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgTicketRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = @id`

	result, err := scanTicket(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("repo.TicketRepo.GetByID: %w", err)
	}
	return result, nil
}

func (r *pgTicketRepo) GetByCode(ctx context.Context, code string) (TicketView, error) {
	const q = `
		SELECT t.id, t.booking_id, t.trip_id, t.passenger_name, t.passenger_type,
		       t.nationality_group, t.price_paid, t.status, t.used_at, t.qr_code_data,
		       t.created_at, b.booking_reference, b.status
		FROM tickets t
		JOIN bookings b ON b.id = t.booking_id
		WHERE t.qr_code_data = @code`

	var (
		view          TicketView
		bookingStatus string
	)
	ticket, err := scanTicketWith(r.db.QueryRow(ctx, q, pgx.NamedArgs{"code": code}),
		&view.BookingReference, &bookingStatus)
	if err != nil {
		return TicketView{}, fmt.Errorf("repo.TicketRepo.GetByCode: %w", err)
	}
	view.Ticket = ticket
	view.BookingStatus = domain.BookingStatus(bookingStatus)
	return view, nil
}

func (r *pgTicketRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Ticket, error) {
	const q = `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE booking_id = @booking_id
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.ListByBooking: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.TicketRepo.ListByBooking: scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.ListByBooking: rows: %w", err)
	}
	return tickets, nil
}

// MarkUsed is the validator's single conditional update. When two scans
// race, both UPDATEs target the same row; the second waits for the first to
// commit, re-checks status = 'issued', and matches nothing. A ticket of an
// unpaid booking never matches, since cancelling that booking hands its
// whole reservation back to the trip.
func (r *pgTicketRepo) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	const q = `
		UPDATE tickets t
		SET status = 'used', used_at = @used_at
		FROM bookings b
		WHERE t.id = @id AND t.status = 'issued'
		  AND b.id = t.booking_id AND b.status = 'confirmed'`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id, "used_at": usedAt})
	if err != nil {
		return false, fmt.Errorf("repo.TicketRepo.MarkUsed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTicketRepo) Cancel(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	const q = `
		UPDATE tickets
		SET status = 'cancelled'
		WHERE id = @id AND status = 'issued'
		RETURNING ` + ticketColumns

	result, err := scanTicket(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Ticket{}, fmt.Errorf("repo.TicketRepo.Cancel: %w", domain.ErrInvalidTransition)
	}
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("repo.TicketRepo.Cancel: %w", err)
	}
	return result, nil
}

func (r *pgTicketRepo) CancelIssuedByBooking(ctx context.Context, bookingID uuid.UUID) (int, error) {
	const q = `UPDATE tickets SET status = 'cancelled' WHERE booking_id = @booking_id AND status = 'issued'`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return 0, fmt.Errorf("repo.TicketRepo.CancelIssuedByBooking: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgTicketRepo) CancelIssuedByTrip(ctx context.Context, tripID uuid.UUID) ([]uuid.UUID, error) {
	const q = `
		WITH cancelled AS (
			UPDATE tickets SET status = 'cancelled'
			WHERE trip_id = @trip_id AND status = 'issued'
			RETURNING booking_id
		)
		SELECT DISTINCT booking_id FROM cancelled`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.CancelIssuedByTrip: %w", err)
	}
	ids, err := collectUUIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.CancelIssuedByTrip: %w", err)
	}
	return ids, nil
}

func (r *pgTicketRepo) ExpireIssuedByTrip(ctx context.Context, tripID uuid.UUID) (int, []uuid.UUID, error) {
	const q = `
		UPDATE tickets SET status = 'expired'
		WHERE trip_id = @trip_id AND status = 'issued'
		RETURNING booking_id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return 0, nil, fmt.Errorf("repo.TicketRepo.ExpireIssuedByTrip: %w", err)
	}
	touched, err := collectUUIDs(rows)
	if err != nil {
		return 0, nil, fmt.Errorf("repo.TicketRepo.ExpireIssuedByTrip: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(touched))
	var bookings []uuid.UUID
	for _, id := range touched {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		bookings = append(bookings, id)
	}
	return len(touched), bookings, nil
}

func (r *pgTicketRepo) StatusesByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.TicketStatus, error) {
	const q = `SELECT status FROM tickets WHERE booking_id = @booking_id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"booking_id": bookingID})
	if err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.StatusesByBooking: %w", err)
	}
	defer rows.Close()

	var statuses []domain.TicketStatus
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("repo.TicketRepo.StatusesByBooking: scan: %w", err)
		}
		statuses = append(statuses, domain.TicketStatus(st))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.StatusesByBooking: rows: %w", err)
	}
	return statuses, nil
}

func (r *pgTicketRepo) Manifest(ctx context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error) {
	const q = `
		SELECT t.id, b.booking_reference, b.status, t.passenger_name, t.passenger_type,
		       t.nationality_group, t.status, t.used_at
		FROM tickets t
		JOIN bookings b ON b.id = t.booking_id
		WHERE t.trip_id = @trip_id
		ORDER BY t.passenger_name ASC, t.id ASC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.Manifest: %w", err)
	}
	defer rows.Close()

	var out []domain.ManifestRow
	for rows.Next() {
		var (
			row           domain.ManifestRow
			id            pgtype.UUID
			bookingStatus string
			passengerType string
			status        string
			usedAt        pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &row.BookingReference, &bookingStatus, &row.PassengerName,
			&passengerType, &row.NationalityGroup, &status, &usedAt); err != nil {
			return nil, fmt.Errorf("repo.TicketRepo.Manifest: scan: %w", err)
		}
		row.TicketID = fromPgUUID(id)
		row.BookingStatus = domain.BookingStatus(bookingStatus)
		row.PassengerType = domain.PassengerType(passengerType)
		row.Status = domain.TicketStatus(status)
		row.UsedAt = fromPgTime(usedAt)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TicketRepo.Manifest: rows: %w", err)
	}
	return out, nil
}

func scanTicket(s scanner) (domain.Ticket, error) {
	return scanTicketWith(s)
}

// scanTicketWith scans the ticket columns followed by any extra destinations.
func scanTicketWith(s scanner, extra ...any) (domain.Ticket, error) {
	var (
		t             domain.Ticket
		id            pgtype.UUID
		bookingID     pgtype.UUID
		tripID        pgtype.UUID
		passengerType string
		status        string
		usedAt        pgtype.Timestamptz
	)
	dest := []any{&id, &bookingID, &tripID, &t.PassengerName, &passengerType,
		&t.NationalityGroup, &t.PricePaid, &status, &usedAt, &t.QRCodeData, &t.CreatedAt}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrNotFound
		}
		return domain.Ticket{}, err
	}
	t.ID = fromPgUUID(id)
	t.BookingID = fromPgUUID(bookingID)
	t.TripID = fromPgUUID(tripID)
	t.PassengerType = domain.PassengerType(passengerType)
	t.Status = domain.TicketStatus(status)
	t.UsedAt = fromPgTime(usedAt)
	return t, nil
}

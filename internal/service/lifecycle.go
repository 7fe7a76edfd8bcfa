package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// recomputeBooking re-derives a booking's status from its tickets and
// persists it if it changed. A booking that ends up cancelled gives its
// vehicle slots back to the trip. It reports the new status and whether
// anything was written.
func recomputeBooking(ctx context.Context, r repo.Repos, bookingID uuid.UUID) (domain.BookingStatus, bool, error) {
	b, err := r.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return "", false, err
	}
	statuses, err := r.Tickets.StatusesByBooking(ctx, bookingID)
	if err != nil {
		return "", false, err
	}

	next := domain.DeriveBookingStatus(b.Status, statuses)
	if next == b.Status {
		return b.Status, false, nil
	}
	if _, err := r.Bookings.UpdateStatus(ctx, b.ID, b.Status, next); err != nil {
		return "", false, err
	}

	if next == domain.BookingCancelled && b.VehicleCount > 0 {
		res, err := r.Reservations.GetByID(ctx, b.ReservationID)
		if err != nil {
			return "", false, err
		}
		if _, err := r.Trips.ReturnCapacity(ctx, res.TripID, 0, b.VehicleCount); err != nil {
			return "", false, fmt.Errorf("return vehicle slots: %w", err)
		}
	}
	return next, true, nil
}

// cancelPendingWith cancels an unpaid booking, its tickets, and its held
// reservation. The booking row is written before the reservation row, the
// same order Confirm uses, so the two never deadlock.
func cancelPendingWith(ctx context.Context, r repo.Repos, b domain.Booking) error {
	if _, err := r.Bookings.UpdateStatus(ctx, b.ID, domain.BookingPending, domain.BookingCancelled); err != nil {
		return err
	}
	if _, err := r.Tickets.CancelIssuedByBooking(ctx, b.ID); err != nil {
		return err
	}
	_, err := releaseReservationWith(ctx, r, b.ReservationID)
	return err
}

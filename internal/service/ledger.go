package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// Ledger guards trip capacity. Every reserve and release is a single
// conditional UPDATE on one trip row, so the guarantee holds across any
// number of server instances without in-process locking.
type Ledger struct {
	store repo.Transactor
	now   Clock
}

// NewLedger constructs a Ledger on store.
func NewLedger(store repo.Transactor, now Clock) *Ledger {
	return &Ledger{store: store, now: now}
}

// Reserve takes pax seats and vehicles slots from a trip and returns the
// held reservation. Returns domain.ErrCapacityExceeded when the trip cannot
// cover the request at this instant; nothing is decremented in that case.
func (l *Ledger) Reserve(ctx context.Context, tripID uuid.UUID, pax, vehicles int) (domain.Reservation, error) {
	var res domain.Reservation
	err := l.store.WithinTx(ctx, func(r repo.Repos) error {
		var err error
		res, err = l.reserveWith(ctx, r, tripID, pax, vehicles)
		return err
	})
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("service.Ledger.Reserve: %w", err)
	}
	return res, nil
}

// Commit finalizes a held reservation. The seats stay taken for good and
// the handle can no longer be released.
func (l *Ledger) Commit(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	res, err := l.store.Repos().Reservations.Close(ctx, reservationID, domain.ReservationCommitted)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("service.Ledger.Commit: %w", err)
	}
	return res, nil
}

// ReleaseReservation closes a held reservation and gives its seats back in
// one transaction. A second call returns domain.ErrReservationClosed.
func (l *Ledger) ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := l.store.WithinTx(ctx, func(r repo.Repos) error {
		var err error
		res, err = releaseReservationWith(ctx, r, reservationID)
		return err
	})
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("service.Ledger.ReleaseReservation: %w", err)
	}
	return res, nil
}

// Release gives seats and vehicle slots back to a trip. It is not
// idempotent: callers release each allocation exactly once. Returns
// domain.ErrConflict if the trip would end up above its capacity.
func (l *Ledger) Release(ctx context.Context, tripID uuid.UUID, pax, vehicles int) (domain.Trip, error) {
	if err := validateCounts(pax, vehicles); err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Release: %w", err)
	}
	trip, err := l.store.Repos().Trips.ReturnCapacity(ctx, tripID, pax, vehicles)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Release: %w", err)
	}
	return trip, nil
}

// reserveWith runs the reserve inside the caller's transaction so booking
// creation can take seats and persist the booking atomically.
func (l *Ledger) reserveWith(ctx context.Context, r repo.Repos, tripID uuid.UUID, pax, vehicles int) (domain.Reservation, error) {
	if err := validateCounts(pax, vehicles); err != nil {
		return domain.Reservation{}, err
	}

	trip, err := r.Trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !trip.Status.Boardable() || trip.Departed(l.now()) {
		return domain.Reservation{}, fmt.Errorf("%w: trip is not open for booking", domain.ErrValidation)
	}

	if _, err := r.Trips.TakeCapacity(ctx, tripID, pax, vehicles); err != nil {
		return domain.Reservation{}, err
	}

	return r.Reservations.Create(ctx, domain.Reservation{
		TripID:       tripID,
		PaxCount:     pax,
		VehicleCount: vehicles,
	})
}

// releaseReservationWith closes a held reservation and returns its capacity.
func releaseReservationWith(ctx context.Context, r repo.Repos, reservationID uuid.UUID) (domain.Reservation, error) {
	res, err := r.Reservations.Close(ctx, reservationID, domain.ReservationReleased)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.PaxCount == 0 && res.VehicleCount == 0 {
		return res, nil
	}
	if _, err := r.Trips.ReturnCapacity(ctx, res.TripID, res.PaxCount, res.VehicleCount); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// validateCounts rejects negative counts and empty requests.
func validateCounts(pax, vehicles int) error {
	if pax < 0 || vehicles < 0 {
		return fmt.Errorf("%w: counts must not be negative", domain.ErrValidation)
	}
	if pax == 0 && vehicles == 0 {
		return fmt.Errorf("%w: nothing to reserve", domain.ErrValidation)
	}
	return nil
}

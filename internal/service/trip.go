package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// TripService schedules sailings and drives their status.
type TripService struct {
	store repo.Transactor
}

// NewTripService constructs a TripService.
func NewTripService(store repo.Transactor) *TripService {
	return &TripService{store: store}
}

// Schedule validates and persists a new trip. Available counters start at
// the trip's capacity.
func (s *TripService) Schedule(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	if err := validateTrip(trip); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Schedule: %w", err)
	}
	trip.Status = domain.TripScheduled

	created, err := s.store.Repos().Trips.Create(ctx, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Schedule: %w", err)
	}
	return created, nil
}

// Get returns one trip.
func (s *TripService) Get(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	trip, err := s.store.Repos().Trips.GetByID(ctx, id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Get: %w", err)
	}
	return trip, nil
}

// List returns a page of trips and the total count matching the filter.
func (s *TripService) List(ctx context.Context, filter domain.TripFilter) ([]domain.Trip, int64, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, 0, fmt.Errorf("service.TripService.List: %w: to must not be before from", domain.ErrValidation)
	}
	trips, total, err := s.store.Repos().Trips.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("service.TripService.List: %w", err)
	}
	return trips, total, nil
}

// Transition moves a trip to a new status. Cancelling a trip cancels its
// issued tickets and re-derives every booking it touched, in the same
// transaction as the status change.
func (s *TripService) Transition(ctx context.Context, id uuid.UUID, to domain.TripStatus) (domain.Trip, error) {
	if !to.Valid() {
		return domain.Trip{}, fmt.Errorf("service.TripService.Transition: %w: unknown status %q", domain.ErrValidation, to)
	}

	var trip domain.Trip
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		current, err := r.Trips.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(to) {
			return fmt.Errorf("%w: trip %s -> %s", domain.ErrInvalidTransition, current.Status, to)
		}

		trip, err = r.Trips.UpdateStatus(ctx, id, current.Status, to)
		if err != nil {
			return err
		}
		if to != domain.TripCancelled {
			return nil
		}

		bookings, err := r.Tickets.CancelIssuedByTrip(ctx, id)
		if err != nil {
			return err
		}
		for _, bookingID := range bookings {
			if _, _, err := recomputeBooking(ctx, r, bookingID); err != nil {
				return fmt.Errorf("booking %s: %w", bookingID, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Transition: %w", err)
	}
	return trip, nil
}

func validateTrip(t domain.Trip) error {
	if t.RouteID == uuid.Nil {
		return fmt.Errorf("%w: route_id is required", domain.ErrValidation)
	}
	if t.ShipID == uuid.Nil {
		return fmt.Errorf("%w: ship_id is required", domain.ErrValidation)
	}
	if t.DepartureTime.IsZero() || t.ArrivalTime.IsZero() {
		return fmt.Errorf("%w: departure_time and arrival_time are required", domain.ErrValidation)
	}
	if !t.ArrivalTime.After(t.DepartureTime) {
		return fmt.Errorf("%w: arrival_time must be after departure_time", domain.ErrValidation)
	}
	if t.CapacityPax <= 0 {
		return fmt.Errorf("%w: capacity_pax must be positive", domain.ErrValidation)
	}
	if t.CapacityVehicles < 0 {
		return fmt.Errorf("%w: capacity_vehicles must not be negative", domain.ErrValidation)
	}
	return nil
}

package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/service"
)

var baseTime = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

var testTariff = service.Tariff{
	domain.PassengerAdult:  4500,
	domain.PassengerChild:  2250,
	domain.PassengerSenior: 3000,
}

// seqTokens issues QR-0001, QR-0002, ... so tests can scan by code.
type seqTokens struct {
	mu sync.Mutex
	n  int
}

func (s *seqTokens) Issue() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("QR-%04d", s.n), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// env wires every service onto one fake store with a movable clock.
type env struct {
	mu    sync.Mutex
	now   time.Time
	store *fakeStore

	ledger    *service.Ledger
	trips     *service.TripService
	bookings  *service.BookingService
	validator *service.Validator
	replayer  *service.BatchReplayer
	sweeper   *service.Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: baseTime, store: newFakeStore()}
	e.store.now = e.clock
	log := discardLogger()

	e.ledger = service.NewLedger(e.store, e.clock)
	e.trips = service.NewTripService(e.store)
	e.bookings = service.NewBookingService(e.store, e.ledger, testTariff, &seqTokens{})
	e.validator = service.NewValidator(e.store, e.clock, log)
	e.replayer = service.NewBatchReplayer(e.validator, 100, e.clock, log)
	e.sweeper = service.NewSweeper(e.store, nil, 15*time.Minute, e.clock, log)
	return e
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

// scheduleTrip creates a trip departing two hours from now.
func (e *env) scheduleTrip(t *testing.T, pax, vehicles int) domain.Trip {
	t.Helper()
	dep := e.clock().Add(2 * time.Hour)
	trip, err := e.trips.Schedule(context.Background(), domain.Trip{
		RouteID:          uuid.New(),
		ShipID:           uuid.New(),
		DepartureTime:    dep,
		ArrivalTime:      dep.Add(90 * time.Minute),
		CapacityPax:      pax,
		CapacityVehicles: vehicles,
	})
	require.NoError(t, err)
	return trip
}

func adults(names ...string) []domain.PassengerInput {
	out := make([]domain.PassengerInput, len(names))
	for i, n := range names {
		out[i] = domain.PassengerInput{Name: n, Type: domain.PassengerAdult, NationalityGroup: "domestic"}
	}
	return out
}

// book creates a pending booking.
func (e *env) book(t *testing.T, tripID uuid.UUID, vehicles int, names ...string) domain.Booking {
	t.Helper()
	b, err := e.bookings.Create(context.Background(), domain.BookingRequest{
		UserID:       uuid.New(),
		TripID:       tripID,
		VehicleCount: vehicles,
		Passengers:   adults(names...),
	})
	require.NoError(t, err)
	return b
}

// bookConfirmed creates and confirms a booking.
func (e *env) bookConfirmed(t *testing.T, tripID uuid.UUID, vehicles int, names ...string) domain.Booking {
	t.Helper()
	b := e.book(t, tripID, vehicles, names...)
	confirmed, err := e.bookings.Confirm(context.Background(), b.ID)
	require.NoError(t, err)
	return confirmed
}

func (e *env) scan(t *testing.T, code string, tripID uuid.UUID) domain.ValidationResult {
	t.Helper()
	res, err := e.validator.Validate(context.Background(), domain.ScanRequest{
		TicketCode:      code,
		TripID:          tripID,
		DeviceID:        "gate-1",
		ClientTimestamp: e.clock(),
	})
	require.NoError(t, err)
	return res
}

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/handler"
)

// mockTrips is a test double for handler.TripServicer.
// Set only the method fields your test needs.
type mockTrips struct {
	schedule   func(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	get        func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	list       func(ctx context.Context, filter domain.TripFilter) ([]domain.Trip, int64, error)
	transition func(ctx context.Context, id uuid.UUID, to domain.TripStatus) (domain.Trip, error)
}

func (m *mockTrips) Schedule(ctx context.Context, t domain.Trip) (domain.Trip, error) {
	return m.schedule(ctx, t)
}
func (m *mockTrips) Get(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.get(ctx, id)
}
func (m *mockTrips) List(ctx context.Context, f domain.TripFilter) ([]domain.Trip, int64, error) {
	return m.list(ctx, f)
}
func (m *mockTrips) Transition(ctx context.Context, id uuid.UUID, to domain.TripStatus) (domain.Trip, error) {
	return m.transition(ctx, id, to)
}

type mockManifests struct {
	manifest func(ctx context.Context, tripID uuid.UUID) (domain.Manifest, error)
}

func (m *mockManifests) Manifest(ctx context.Context, tripID uuid.UUID) (domain.Manifest, error) {
	return m.manifest(ctx, tripID)
}

type mockBookings struct {
	create       func(ctx context.Context, req domain.BookingRequest) (domain.Booking, error)
	get          func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	confirm      func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	cancel       func(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	cancelTicket func(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
}

func (m *mockBookings) Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error) {
	return m.create(ctx, req)
}
func (m *mockBookings) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return m.get(ctx, id)
}
func (m *mockBookings) Confirm(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return m.confirm(ctx, id)
}
func (m *mockBookings) Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return m.cancel(ctx, id)
}
func (m *mockBookings) CancelTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	return m.cancelTicket(ctx, id)
}

type mockValidator struct {
	validate func(ctx context.Context, req domain.ScanRequest) (domain.ValidationResult, error)
}

func (m *mockValidator) Validate(ctx context.Context, req domain.ScanRequest) (domain.ValidationResult, error) {
	return m.validate(ctx, req)
}

type mockReplayer struct {
	replay func(ctx context.Context, req domain.BatchRequest) ([]domain.ValidationResult, error)
}

func (m *mockReplayer) Replay(ctx context.Context, req domain.BatchRequest) ([]domain.ValidationResult, error) {
	return m.replay(ctx, req)
}

// compile-time checks: the mocks must satisfy the handler interfaces.
var (
	_ handler.TripServicer     = (*mockTrips)(nil)
	_ handler.ManifestServicer = (*mockManifests)(nil)
	_ handler.BookingServicer  = (*mockBookings)(nil)
	_ handler.ScanValidator    = (*mockValidator)(nil)
	_ handler.BatchReplayer    = (*mockReplayer)(nil)
)

// ---- helpers ---------------------------------------------------------------

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var departure = time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)

func tripFixture() domain.Trip {
	return domain.Trip{
		ID:                     uuid.New(),
		RouteID:                uuid.New(),
		ShipID:                 uuid.New(),
		DepartureTime:          departure,
		ArrivalTime:            departure.Add(3 * time.Hour),
		Status:                 domain.TripScheduled,
		CapacityPax:            300,
		CapacityVehicles:       40,
		AvailableSeatsPax:      298,
		AvailableSlotsVehicles: 39,
		CreatedAt:              departure.Add(-30 * 24 * time.Hour),
		UpdatedAt:              departure.Add(-24 * time.Hour),
	}
}

func bookingFixture(tripID uuid.UUID) domain.Booking {
	id := uuid.New()
	return domain.Booking{
		ID:               id,
		UserID:           uuid.New(),
		BookingReference: "FB-7K3M9Q2X",
		ReservationID:    uuid.New(),
		VehicleCount:     1,
		TotalAmount:      6750,
		Status:           domain.BookingPending,
		Tickets: []domain.Ticket{
			{ID: uuid.New(), BookingID: id, TripID: tripID, PassengerName: "Ana Ruiz",
				PassengerType: domain.PassengerAdult, PricePaid: 4500, Status: domain.TicketIssued, QRCodeData: "QR-0001"},
			{ID: uuid.New(), BookingID: id, TripID: tripID, PassengerName: "Leo Ruiz",
				PassengerType: domain.PassengerChild, PricePaid: 2250, Status: domain.TicketIssued, QRCodeData: "QR-0002"},
		},
		CreatedAt: departure.Add(-48 * time.Hour),
		UpdatedAt: departure.Add(-48 * time.Hour),
	}
}

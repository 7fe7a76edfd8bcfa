package service_test

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// fakeStore is an in-memory repo.Transactor. A single mutex stands in for
// row locks: every plain repository call holds it for the call, and
// WithinTx holds it for the whole transaction, restoring a snapshot if fn
// fails. That is enough to give the conditional updates the same
// first-writer-wins behaviour Postgres gives them.
type fakeStore struct {
	mu    sync.Mutex
	state fakeState
	now   func() time.Time

	// failExpire makes ExpireIssuedByTrip fail for the listed trips.
	failExpire map[uuid.UUID]error
	// failScans makes every ScanEventRepo.Record call fail.
	failScans error
	// failBookingUpdate makes BookingRepo.UpdateStatus fail for the listed bookings.
	failBookingUpdate map[uuid.UUID]error
}

type fakeState struct {
	trips        map[uuid.UUID]domain.Trip
	reservations map[uuid.UUID]domain.Reservation
	bookings     map[uuid.UUID]domain.Booking
	tickets      map[uuid.UUID]domain.Ticket
	ticketOrder  []uuid.UUID
	scans        []domain.ScanEvent
}

func (s fakeState) clone() fakeState {
	return fakeState{
		trips:        maps.Clone(s.trips),
		reservations: maps.Clone(s.reservations),
		bookings:     maps.Clone(s.bookings),
		tickets:      maps.Clone(s.tickets),
		ticketOrder:  slices.Clone(s.ticketOrder),
		scans:        slices.Clone(s.scans),
	}
}

var _ repo.Transactor = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		state: fakeState{
			trips:        map[uuid.UUID]domain.Trip{},
			reservations: map[uuid.UUID]domain.Reservation{},
			bookings:     map[uuid.UUID]domain.Booking{},
			tickets:      map[uuid.UUID]domain.Ticket{},
		},
		now:               time.Now,
		failExpire:        map[uuid.UUID]error{},
		failBookingUpdate: map[uuid.UUID]error{},
	}
}

func (s *fakeStore) Repos() repo.Repos { return s.repos(false) }

func (s *fakeStore) WithinTx(_ context.Context, fn func(repo.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(s.repos(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *fakeStore) repos(inTx bool) repo.Repos {
	h := handle{store: s, inTx: inTx}
	return repo.Repos{
		Trips:        fakeTrips{h},
		Reservations: fakeReservations{h},
		Bookings:     fakeBookings{h},
		Tickets:      fakeTickets{h},
		Scans:        fakeScans{h},
	}
}

// handle locks the store unless the caller already holds it through WithinTx.
type handle struct {
	store *fakeStore
	inTx  bool
}

func (h handle) lock() func() {
	if h.inTx {
		return func() {}
	}
	h.store.mu.Lock()
	return h.store.mu.Unlock
}

func (h handle) st() *fakeState { return &h.store.state }

// ---- inspection helpers used by the tests ----------------------------------

func (s *fakeStore) trip(id uuid.UUID) domain.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.trips[id]
}

func (s *fakeStore) ticket(id uuid.UUID) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.tickets[id]
}

func (s *fakeStore) booking(id uuid.UUID) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.bookings[id]
}

func (s *fakeStore) reservation(id uuid.UUID) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.reservations[id]
}

func (s *fakeStore) scanEvents() []domain.ScanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.scans)
}

func (s *fakeStore) setTicketStatus(id uuid.UUID, status domain.TicketStatus, usedAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.state.tickets[id]
	t.Status = status
	t.UsedAt = usedAt
	s.state.tickets[id] = t
}

func (s *fakeStore) ageReservation(id uuid.UUID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.state.reservations[id]
	r.CreatedAt = r.CreatedAt.Add(-by)
	s.state.reservations[id] = r
}

func idLess(a, b uuid.UUID) bool { return bytes.Compare(a[:], b[:]) < 0 }

func notFound(what string) error {
	return fmt.Errorf("fake: %s: %w", what, domain.ErrNotFound)
}

// ---- trips -----------------------------------------------------------------

type fakeTrips struct{ handle }

func (f fakeTrips) Create(_ context.Context, t domain.Trip) (domain.Trip, error) {
	defer f.lock()()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = domain.TripScheduled
	}
	t.AvailableSeatsPax = t.CapacityPax
	t.AvailableSlotsVehicles = t.CapacityVehicles
	t.CreatedAt = f.store.now()
	t.UpdatedAt = t.CreatedAt
	f.st().trips[t.ID] = t
	return t, nil
}

func (f fakeTrips) GetByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	defer f.lock()()
	t, ok := f.st().trips[id]
	if !ok {
		return domain.Trip{}, notFound("trip")
	}
	return t, nil
}

func (f fakeTrips) List(_ context.Context, filter domain.TripFilter) ([]domain.Trip, int64, error) {
	defer f.lock()()
	var all []domain.Trip
	for _, t := range f.st().trips {
		if !filter.From.IsZero() && t.DepartureTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !t.DepartureTime.Before(filter.To) {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DepartureTime.Before(all[j].DepartureTime) })

	total := int64(len(all))
	start := min(filter.Page.Offset(), len(all))
	end := min(start+filter.Page.Limit, len(all))
	return all[start:end], total, nil
}

func (f fakeTrips) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.TripStatus) (domain.Trip, error) {
	defer f.lock()()
	t, ok := f.st().trips[id]
	if !ok || t.Status != from {
		return domain.Trip{}, domain.ErrInvalidTransition
	}
	t.Status = to
	f.st().trips[id] = t
	return t, nil
}

func (f fakeTrips) TakeCapacity(_ context.Context, id uuid.UUID, pax, vehicles int) (domain.Trip, error) {
	defer f.lock()()
	t, ok := f.st().trips[id]
	if !ok || !t.Status.Boardable() || t.AvailableSeatsPax < pax || t.AvailableSlotsVehicles < vehicles {
		return domain.Trip{}, domain.ErrCapacityExceeded
	}
	t.AvailableSeatsPax -= pax
	t.AvailableSlotsVehicles -= vehicles
	f.st().trips[id] = t
	return t, nil
}

func (f fakeTrips) ReturnCapacity(_ context.Context, id uuid.UUID, pax, vehicles int) (domain.Trip, error) {
	defer f.lock()()
	t, ok := f.st().trips[id]
	if !ok || t.AvailableSeatsPax+pax > t.CapacityPax || t.AvailableSlotsVehicles+vehicles > t.CapacityVehicles {
		return domain.Trip{}, domain.ErrConflict
	}
	t.AvailableSeatsPax += pax
	t.AvailableSlotsVehicles += vehicles
	f.st().trips[id] = t
	return t, nil
}

func (f fakeTrips) IncrementBoarded(_ context.Context, id uuid.UUID) error {
	defer f.lock()()
	t, ok := f.st().trips[id]
	if !ok {
		return notFound("trip")
	}
	t.BoardedPax++
	f.st().trips[id] = t
	return nil
}

func (f fakeTrips) ListDepartedWithIssued(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	defer f.lock()()
	var out []domain.Trip
	for _, t := range f.st().trips {
		if !t.DepartureTime.Before(now) || t.Status == domain.TripCancelled {
			continue
		}
		for _, k := range f.st().tickets {
			if k.TripID == t.ID && k.Status == domain.TicketIssued {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime.Before(out[j].DepartureTime) })
	ids := make([]uuid.UUID, len(out))
	for i, t := range out {
		ids[i] = t.ID
	}
	return ids, nil
}

// ---- reservations ----------------------------------------------------------

type fakeReservations struct{ handle }

func (f fakeReservations) Create(_ context.Context, r domain.Reservation) (domain.Reservation, error) {
	defer f.lock()()
	r.ID = uuid.New()
	r.Status = domain.ReservationHeld
	r.CreatedAt = f.store.now()
	r.UpdatedAt = r.CreatedAt
	f.st().reservations[r.ID] = r
	return r, nil
}

func (f fakeReservations) GetByID(_ context.Context, id uuid.UUID) (domain.Reservation, error) {
	defer f.lock()()
	r, ok := f.st().reservations[id]
	if !ok {
		return domain.Reservation{}, notFound("reservation")
	}
	return r, nil
}

func (f fakeReservations) Close(_ context.Context, id uuid.UUID, to domain.ReservationStatus) (domain.Reservation, error) {
	defer f.lock()()
	r, ok := f.st().reservations[id]
	if !ok || r.Status != domain.ReservationHeld {
		return domain.Reservation{}, domain.ErrReservationClosed
	}
	r.Status = to
	f.st().reservations[id] = r
	return r, nil
}

func (f fakeReservations) ListHeldBefore(_ context.Context, cutoff time.Time, after uuid.UUID, limit int) ([]domain.Reservation, error) {
	defer f.lock()()
	var out []domain.Reservation
	for _, r := range f.st().reservations {
		if r.Status == domain.ReservationHeld && r.CreatedAt.Before(cutoff) && idLess(after, r.ID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- bookings --------------------------------------------------------------

type fakeBookings struct{ handle }

func (f fakeBookings) Create(_ context.Context, b domain.Booking) (domain.Booking, error) {
	defer f.lock()()
	for _, existing := range f.st().bookings {
		if existing.BookingReference == b.BookingReference {
			return domain.Booking{}, domain.ErrConflict
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = f.store.now()
	b.UpdatedAt = b.CreatedAt
	b.Tickets = nil
	f.st().bookings[b.ID] = b
	return b, nil
}

func (f fakeBookings) GetByID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	defer f.lock()()
	b, ok := f.st().bookings[id]
	if !ok {
		return domain.Booking{}, notFound("booking")
	}
	return b, nil
}

func (f fakeBookings) GetByReservationID(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	defer f.lock()()
	for _, b := range f.st().bookings {
		if b.ReservationID == id {
			return b, nil
		}
	}
	return domain.Booking{}, notFound("booking")
}

func (f fakeBookings) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	defer f.lock()()
	if err := f.store.failBookingUpdate[id]; err != nil {
		return domain.Booking{}, err
	}
	b, ok := f.st().bookings[id]
	if !ok || b.Status != from {
		return domain.Booking{}, domain.ErrInvalidTransition
	}
	b.Status = to
	f.st().bookings[id] = b
	return b, nil
}

func (f fakeBookings) ListSettled(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	defer f.lock()()
	var out []uuid.UUID
	for _, b := range f.st().bookings {
		if b.Status != domain.BookingConfirmed || !idLess(after, b.ID) {
			continue
		}
		settled := true
		for _, t := range f.st().tickets {
			if t.BookingID == b.ID && t.Status == domain.TicketIssued {
				settled = false
				break
			}
		}
		if settled {
			out = append(out, b.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- tickets ---------------------------------------------------------------

type fakeTickets struct{ handle }

func (f fakeTickets) Create(_ context.Context, t domain.Ticket) (domain.Ticket, error) {
	defer f.lock()()
	for _, existing := range f.st().tickets {
		if existing.QRCodeData == t.QRCodeData {
			return domain.Ticket{}, fmt.Errorf("fake: duplicate qr code")
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = f.store.now()
	f.st().tickets[t.ID] = t
	f.st().ticketOrder = append(f.st().ticketOrder, t.ID)
	return t, nil
}

func (f fakeTickets) GetByID(_ context.Context, id uuid.UUID) (domain.Ticket, error) {
	defer f.lock()()
	t, ok := f.st().tickets[id]
	if !ok {
		return domain.Ticket{}, notFound("ticket")
	}
	return t, nil
}

func (f fakeTickets) GetByCode(_ context.Context, code string) (repo.TicketView, error) {
	defer f.lock()()
	for _, t := range f.st().tickets {
		if t.QRCodeData == code {
			b := f.st().bookings[t.BookingID]
			return repo.TicketView{Ticket: t, BookingReference: b.BookingReference, BookingStatus: b.Status}, nil
		}
	}
	return repo.TicketView{}, notFound("ticket")
}

func (f fakeTickets) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]domain.Ticket, error) {
	defer f.lock()()
	var out []domain.Ticket
	for _, id := range f.st().ticketOrder {
		if t := f.st().tickets[id]; t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f fakeTickets) MarkUsed(_ context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	defer f.lock()()
	t, ok := f.st().tickets[id]
	if !ok || t.Status != domain.TicketIssued || f.st().bookings[t.BookingID].Status != domain.BookingConfirmed {
		return false, nil
	}
	t.Status = domain.TicketUsed
	t.UsedAt = &usedAt
	f.st().tickets[id] = t
	return true, nil
}

func (f fakeTickets) Cancel(_ context.Context, id uuid.UUID) (domain.Ticket, error) {
	defer f.lock()()
	t, ok := f.st().tickets[id]
	if !ok || t.Status != domain.TicketIssued {
		return domain.Ticket{}, domain.ErrInvalidTransition
	}
	t.Status = domain.TicketCancelled
	f.st().tickets[id] = t
	return t, nil
}

// setIssued moves every issued ticket matching keep to status and returns
// the number changed and the distinct bookings touched, in ticket order.
func (f fakeTickets) setIssued(keep func(domain.Ticket) bool, status domain.TicketStatus) (int, []uuid.UUID) {
	var (
		n        int
		bookings []uuid.UUID
	)
	for _, id := range f.st().ticketOrder {
		t := f.st().tickets[id]
		if t.Status != domain.TicketIssued || !keep(t) {
			continue
		}
		t.Status = status
		f.st().tickets[id] = t
		n++
		if !slices.Contains(bookings, t.BookingID) {
			bookings = append(bookings, t.BookingID)
		}
	}
	return n, bookings
}

func (f fakeTickets) CancelIssuedByBooking(_ context.Context, bookingID uuid.UUID) (int, error) {
	defer f.lock()()
	n, _ := f.setIssued(func(t domain.Ticket) bool { return t.BookingID == bookingID }, domain.TicketCancelled)
	return n, nil
}

func (f fakeTickets) CancelIssuedByTrip(_ context.Context, tripID uuid.UUID) ([]uuid.UUID, error) {
	defer f.lock()()
	_, bookings := f.setIssued(func(t domain.Ticket) bool { return t.TripID == tripID }, domain.TicketCancelled)
	return bookings, nil
}

func (f fakeTickets) ExpireIssuedByTrip(_ context.Context, tripID uuid.UUID) (int, []uuid.UUID, error) {
	defer f.lock()()
	if err := f.store.failExpire[tripID]; err != nil {
		return 0, nil, err
	}
	n, bookings := f.setIssued(func(t domain.Ticket) bool { return t.TripID == tripID }, domain.TicketExpired)
	return n, bookings, nil
}

func (f fakeTickets) StatusesByBooking(_ context.Context, bookingID uuid.UUID) ([]domain.TicketStatus, error) {
	defer f.lock()()
	var out []domain.TicketStatus
	for _, id := range f.st().ticketOrder {
		if t := f.st().tickets[id]; t.BookingID == bookingID {
			out = append(out, t.Status)
		}
	}
	return out, nil
}

func (f fakeTickets) Manifest(_ context.Context, tripID uuid.UUID) ([]domain.ManifestRow, error) {
	defer f.lock()()
	var out []domain.ManifestRow
	for _, id := range f.st().ticketOrder {
		t := f.st().tickets[id]
		if t.TripID != tripID {
			continue
		}
		b := f.st().bookings[t.BookingID]
		out = append(out, domain.ManifestRow{
			TicketID:         t.ID,
			BookingReference: b.BookingReference,
			BookingStatus:    b.Status,
			PassengerName:    t.PassengerName,
			PassengerType:    t.PassengerType,
			NationalityGroup: t.NationalityGroup,
			Status:           t.Status,
			UsedAt:           t.UsedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PassengerName < out[j].PassengerName })
	return out, nil
}

// ---- scans -----------------------------------------------------------------

type fakeScans struct{ handle }

func (f fakeScans) Record(_ context.Context, ev domain.ScanEvent) (domain.ScanEvent, error) {
	defer f.lock()()
	if f.store.failScans != nil {
		return domain.ScanEvent{}, f.store.failScans
	}
	ev.ID = int64(len(f.st().scans) + 1)
	ev.CreatedAt = f.store.now()
	f.st().scans = append(f.st().scans, ev)
	return ev, nil
}

package service_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/service"
)

// stubLocker grants or refuses the sweep lock.
type stubLocker struct {
	ok       bool
	err      error
	released bool
}

func (l *stubLocker) TryLock(_ context.Context, _ int64) (func(), bool, error) {
	return func() { l.released = true }, l.ok, l.err
}

var _ service.Locker = (*stubLocker)(nil)

func TestSweeper_ExpiresIssuedAndCompletesBooking(t *testing.T) {
	e := newEnv(t)
	trip := e.scheduleTrip(t, 10, 0)
	b := e.bookConfirmed(t, trip.ID, 0, "Ana", "Ben")
	require.Equal(t, domain.OutcomeAccepted, e.scan(t, b.Tickets[0].QRCodeData, trip.ID).Outcome)
	e.advance(24 * time.Hour)

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.TripsProcessed)
	assert.Equal(t, 1, report.TicketsExpired)
	assert.Equal(t, 1, report.BookingsCompleted)
	assert.Equal(t, domain.TicketExpired, e.store.ticket(b.Tickets[1].ID).Status)
	assert.Equal(t, domain.TicketUsed, e.store.ticket(b.Tickets[0].ID).Status)
	assert.Equal(t, domain.BookingCompleted, e.store.booking(b.ID).Status)
}

func TestSweeper_NobodyBoardedExpiresBooking(t *testing.T) {
	e := newEnv(t)
	trip := e.scheduleTrip(t, 10, 0)
	b := e.bookConfirmed(t, trip.ID, 0, "Ana", "Ben")
	e.advance(24 * time.Hour)

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.TicketsExpired)
	assert.Equal(t, 1, report.BookingsExpired)
	assert.Equal(t, domain.BookingExpired, e.store.booking(b.ID).Status)
}

func TestSweeper_IgnoresFutureTrips(t *testing.T) {
	e := newEnv(t)
	trip := e.scheduleTrip(t, 10, 0)
	b := e.bookConfirmed(t, trip.ID, 0, "Ana")

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.SweepReport{}, report)
	assert.Equal(t, domain.TicketIssued, e.store.ticket(b.Tickets[0].ID).Status)
}

func TestSweeper_SecondRunChangesNothing(t *testing.T) {
	e := newEnv(t)
	trip := e.scheduleTrip(t, 10, 0)
	e.bookConfirmed(t, trip.ID, 0, "Ana", "Ben")
	e.bookConfirmed(t, trip.ID, 0, "Cy")
	e.advance(24 * time.Hour)

	first, err := e.sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.TicketsExpired)

	second, err := e.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SweepReport{}, second)
}

func TestSweeper_OneBadTripDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t)
	bad := e.scheduleTrip(t, 10, 0)
	good := e.scheduleTrip(t, 10, 0)
	e.bookConfirmed(t, bad.ID, 0, "Ana")
	gb := e.bookConfirmed(t, good.ID, 0, "Ben")
	e.store.failExpire[bad.ID] = errors.New("row locked too long")
	e.advance(24 * time.Hour)

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 1, report.TripsProcessed)
	assert.Equal(t, domain.BookingExpired, e.store.booking(gb.ID).Status)

	delete(e.store.failExpire, bad.ID)
	report, err = e.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TicketsExpired, "the failed trip is picked up next run")
}

func TestSweeper_ReleasesStaleHolds(t *testing.T) {
	e := newEnv(t)
	trip := e.scheduleTrip(t, 10, 1)
	stale := e.book(t, trip.ID, 1, "Ana", "Ben")
	fresh := e.book(t, trip.ID, 0, "Cy")
	paid := e.bookConfirmed(t, trip.ID, 0, "Di")
	e.store.ageReservation(stale.ReservationID, time.Hour)
	e.store.ageReservation(paid.ReservationID, time.Hour)

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.HoldsReleased)
	assert.Equal(t, 1, report.BookingsCancelled)
	assert.Equal(t, domain.BookingCancelled, e.store.booking(stale.ID).Status)
	assert.Equal(t, domain.BookingPending, e.store.booking(fresh.ID).Status)
	assert.Equal(t, domain.BookingConfirmed, e.store.booking(paid.ID).Status)
	tr := e.store.trip(trip.ID)
	assert.Equal(t, 8, tr.AvailableSeatsPax)
	assert.Equal(t, 1, tr.AvailableSlotsVehicles)
}

func TestSweeper_SkipsWhenLockHeld(t *testing.T) {
	e := newEnv(t)
	locker := &stubLocker{ok: false}
	s := service.NewSweeper(e.store, locker, 0, e.clock, discardLogger())

	report, err := s.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, report.Skipped)
}

func TestSweeper_ReleasesLock(t *testing.T) {
	e := newEnv(t)
	locker := &stubLocker{ok: true}
	s := service.NewSweeper(e.store, locker, 0, e.clock, discardLogger())

	_, err := s.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, locker.released)
}

func TestSweeper_LockError(t *testing.T) {
	e := newEnv(t)
	s := service.NewSweeper(e.store, &stubLocker{err: errors.New("pool closed")}, 0, e.clock, discardLogger())

	_, err := s.Run(context.Background())

	assert.Error(t, err)
}

func TestSweeper_RunEveryStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.sweeper.RunEvery(ctx, 10*time.Millisecond) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunEvery did not return after cancel")
	}
}

// boardedBookings creates n confirmed single-passenger bookings whose
// tickets are marked used behind the validator's back, so only the
// settle pass can move them to completed. Ids come back in id order.
func (e *env) boardedBookings(t *testing.T, tripID uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range n {
		b := e.bookConfirmed(t, tripID, 0, "Passenger")
		used := e.clock()
		e.store.setTicketStatus(b.Tickets[0].ID, domain.TicketUsed, &used)
		ids[i] = b.ID
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}

func TestSweeper_SettlesEveryPage(t *testing.T) {
	e := newEnv(t)
	service.SetSweepBatch(e.sweeper, 2)
	trip := e.scheduleTrip(t, 10, 0)
	ids := e.boardedBookings(t, trip.ID, 5)

	first, err := e.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first.BookingsCompleted)
	for _, id := range ids {
		assert.Equal(t, domain.BookingCompleted, e.store.booking(id).Status)
	}

	second, err := e.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SweepReport{}, second)
}

func TestSweeper_FailingBookingDoesNotStarveOthers(t *testing.T) {
	e := newEnv(t)
	service.SetSweepBatch(e.sweeper, 1)
	trip := e.scheduleTrip(t, 10, 0)
	ids := e.boardedBookings(t, trip.ID, 3)
	e.store.failBookingUpdate[ids[0]] = errors.New("deadlock detected")

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, 2, report.BookingsCompleted)
	assert.Equal(t, domain.BookingConfirmed, e.store.booking(ids[0]).Status)
	assert.Equal(t, domain.BookingCompleted, e.store.booking(ids[2]).Status)

	delete(e.store.failBookingUpdate, ids[0])
	report, err = e.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.BookingsCompleted)
}

func TestSweeper_ExpiredBookingFailureCountedOnce(t *testing.T) {
	e := newEnv(t)
	trip := e.scheduleTrip(t, 10, 0)
	b := e.bookConfirmed(t, trip.ID, 0, "Ana")
	e.store.failBookingUpdate[b.ID] = errors.New("deadlock detected")
	e.advance(24 * time.Hour)

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.TicketsExpired)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, domain.BookingConfirmed, e.store.booking(b.ID).Status)

	delete(e.store.failBookingUpdate, b.ID)
	report, err = e.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.BookingsExpired, "left for the next run's settle pass")
}

func TestSweeper_ReleasesHoldsAcrossPages(t *testing.T) {
	e := newEnv(t)
	service.SetSweepBatch(e.sweeper, 2)
	trip := e.scheduleTrip(t, 10, 0)
	for _, name := range []string{"Ana", "Ben", "Cy", "Di", "Ed"} {
		b := e.book(t, trip.ID, 0, name)
		e.store.ageReservation(b.ReservationID, time.Hour)
	}

	report, err := e.sweeper.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, report.HoldsReleased)
	assert.Equal(t, 10, e.store.trip(trip.ID).AvailableSeatsPax)
}

func TestSweeper_StopsOnCancelledContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.sweeper.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

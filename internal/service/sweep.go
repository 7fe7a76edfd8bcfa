package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// SweepLockKey is the advisory lock key shared by every sweep runner.
const SweepLockKey int64 = 0x666572727931

// sweepBatch is the page size for the sweep's listing queries.
const sweepBatch = 500

// Sweeper expires tickets of departed trips, settles the bookings they
// belong to, and releases reservations that were held too long without
// payment. Every step is conditional on current state, so running it twice
// changes nothing the second time.
type Sweeper struct {
	store   repo.Transactor
	locker  Locker
	holdTTL time.Duration
	now     Clock
	logger  *slog.Logger
	batch   int
}

// NewSweeper constructs a Sweeper. locker may be nil, in which case
// overlapping runs are still safe but do redundant work. A zero holdTTL
// disables hold release.
func NewSweeper(store repo.Transactor, locker Locker, holdTTL time.Duration, now Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, locker: locker, holdTTL: holdTTL, now: now, logger: logger, batch: sweepBatch}
}

// Run performs one sweep. A failure on one trip, booking, or reservation
// is logged, counted in the report, and skipped. The returned error is set
// only when the sweep could not run at all.
func (s *Sweeper) Run(ctx context.Context) (domain.SweepReport, error) {
	var report domain.SweepReport

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, SweepLockKey)
		if err != nil {
			return report, fmt.Errorf("service.Sweeper.Run: lock: %w", err)
		}
		if !ok {
			s.logger.InfoContext(ctx, "sweep skipped, another run holds the lock")
			report.Skipped = true
			return report, nil
		}
		defer release()
	}

	now := s.now()
	trips, err := s.store.Repos().Trips.ListDepartedWithIssued(ctx, now)
	if err != nil {
		return report, fmt.Errorf("service.Sweeper.Run: %w", err)
	}
	// tried holds every booking this run has already re-derived.
	tried := make(map[uuid.UUID]bool)
	for _, tripID := range trips {
		if ctx.Err() != nil {
			return report, fmt.Errorf("service.Sweeper.Run: %w", ctx.Err())
		}
		s.expireTrip(ctx, tripID, tried, &report)
	}

	if err := s.settleBookings(ctx, tried, &report); err != nil {
		return report, fmt.Errorf("service.Sweeper.Run: %w", err)
	}

	if s.holdTTL > 0 {
		if err := s.releaseHolds(ctx, now.Add(-s.holdTTL), &report); err != nil {
			return report, fmt.Errorf("service.Sweeper.Run: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "sweep finished",
		"trips", report.TripsProcessed,
		"tickets_expired", report.TicketsExpired,
		"bookings_completed", report.BookingsCompleted,
		"bookings_expired", report.BookingsExpired,
		"bookings_cancelled", report.BookingsCancelled,
		"holds_released", report.HoldsReleased,
		"failures", report.Failures,
	)
	return report, nil
}

// RunEvery runs a sweep on every tick until ctx is cancelled.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) expireTrip(ctx context.Context, tripID uuid.UUID, tried map[uuid.UUID]bool, report *domain.SweepReport) {
	var (
		expired int
		touched []uuid.UUID
	)
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		var err error
		expired, touched, err = r.Tickets.ExpireIssuedByTrip(ctx, tripID)
		return err
	})
	if err != nil {
		report.Failures++
		s.logger.ErrorContext(ctx, "sweep: expire trip tickets", "trip_id", tripID, "error", err)
		return
	}
	report.TripsProcessed++
	report.TicketsExpired += expired

	for _, id := range touched {
		tried[id] = true
		s.settleBooking(ctx, id, report)
	}
}

// settleBooking re-derives one booking in its own transaction.
func (s *Sweeper) settleBooking(ctx context.Context, id uuid.UUID, report *domain.SweepReport) {
	var (
		status  domain.BookingStatus
		changed bool
	)
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		var err error
		status, changed, err = recomputeBooking(ctx, r, id)
		return err
	})
	if err != nil {
		report.Failures++
		s.logger.ErrorContext(ctx, "sweep: recompute booking", "booking_id", id, "error", err)
		return
	}
	if changed {
		report.Add(status)
	}
}

// settleBookings re-derives every confirmed booking without an issued
// ticket that this run has not tried yet. That covers bookings left behind
// by an earlier failed run. Pages follow booking id, so a booking that
// keeps failing is passed over instead of being listed again.
func (s *Sweeper) settleBookings(ctx context.Context, tried map[uuid.UUID]bool, report *domain.SweepReport) error {
	var after uuid.UUID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.store.Repos().Bookings.ListSettled(ctx, after, s.batch)
		if err != nil {
			report.Failures++
			s.logger.ErrorContext(ctx, "sweep: list settled bookings", "error", err)
			return nil
		}
		for _, id := range ids {
			if tried[id] {
				continue
			}
			tried[id] = true
			s.settleBooking(ctx, id, report)
		}
		if len(ids) < s.batch {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// releaseHolds cancels unpaid bookings whose reservation is older than
// cutoff and returns their capacity.
func (s *Sweeper) releaseHolds(ctx context.Context, cutoff time.Time, report *domain.SweepReport) error {
	var after uuid.UUID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		holds, err := s.store.Repos().Reservations.ListHeldBefore(ctx, cutoff, after, s.batch)
		if err != nil {
			report.Failures++
			s.logger.ErrorContext(ctx, "sweep: list stale holds", "error", err)
			return nil
		}
		for _, res := range holds {
			s.releaseHold(ctx, res.ID, report)
		}
		if len(holds) < s.batch {
			return nil
		}
		after = holds[len(holds)-1].ID
	}
}

func (s *Sweeper) releaseHold(ctx context.Context, reservationID uuid.UUID, report *domain.SweepReport) {
	var released, cancelled bool
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		released, cancelled = false, false
		b, err := r.Bookings.GetByReservationID(ctx, reservationID)
		if errors.Is(err, domain.ErrNotFound) {
			if _, err := releaseReservationWith(ctx, r, reservationID); err != nil {
				return err
			}
			released = true
			return nil
		}
		if err != nil {
			return err
		}
		if b.Status != domain.BookingPending {
			return nil
		}
		if err := cancelPendingWith(ctx, r, b); err != nil {
			return err
		}
		released, cancelled = true, true
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrReservationClosed):
		// Confirmed or cancelled concurrently; nothing left to release.
	case err != nil:
		report.Failures++
		s.logger.ErrorContext(ctx, "sweep: release hold", "reservation_id", reservationID, "error", err)
	case released:
		report.HoldsReleased++
		if cancelled {
			report.BookingsCancelled++
		}
	}
}

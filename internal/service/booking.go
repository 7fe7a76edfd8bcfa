package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

const (
	referenceLength   = 8
	referenceAttempts = 3
	maxPassengers     = 50
)

// NewBookingReference returns a short human-readable booking reference
// such as FB-7K3M9Q2X: the head of a random shortuuid, upper-cased.
func NewBookingReference() string {
	return "FB-" + strings.ToUpper(shortuuid.New()[:referenceLength])
}

// BookingService owns the booking and ticket lifecycle. Seats are taken
// through the Ledger in the same transaction that persists the booking, so
// a failed insert never leaves capacity held.
type BookingService struct {
	store  repo.Transactor
	ledger *Ledger
	pricer Pricer
	tokens TokenIssuer
	newRef func() string
}

// NewBookingService constructs a BookingService.
func NewBookingService(store repo.Transactor, ledger *Ledger, pricer Pricer, tokens TokenIssuer) *BookingService {
	return &BookingService{
		store:  store,
		ledger: ledger,
		pricer: pricer,
		tokens: tokens,
		newRef: NewBookingReference,
	}
}

// Create reserves capacity for every passenger and vehicle, then persists a
// pending booking with one issued ticket per passenger.
func (s *BookingService) Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error) {
	if err := validateBookingRequest(req); err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Create: %w", err)
	}

	trip, err := s.store.Repos().Trips.GetByID(ctx, req.TripID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Create: %w", err)
	}

	tickets := make([]domain.Ticket, len(req.Passengers))
	var total int64
	for i, p := range req.Passengers {
		price, err := s.pricer.Price(ctx, trip, p)
		if err != nil {
			return domain.Booking{}, fmt.Errorf("service.BookingService.Create: price passenger %d: %w", i, err)
		}
		code, err := s.tokens.Issue()
		if err != nil {
			return domain.Booking{}, fmt.Errorf("service.BookingService.Create: issue token: %w", err)
		}
		total += price
		tickets[i] = domain.Ticket{
			TripID:           req.TripID,
			PassengerName:    strings.TrimSpace(p.Name),
			PassengerType:    p.Type,
			NationalityGroup: p.NationalityGroup,
			PricePaid:        price,
			Status:           domain.TicketIssued,
			QRCodeData:       code,
		}
	}

	var booking domain.Booking
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		booking, err = s.create(ctx, req, tickets, total, s.newRef())
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
	}
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Create: %w", err)
	}
	return booking, nil
}

func (s *BookingService) create(ctx context.Context, req domain.BookingRequest, tickets []domain.Ticket, total int64, ref string) (domain.Booking, error) {
	var booking domain.Booking
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		res, err := s.ledger.reserveWith(ctx, r, req.TripID, len(req.Passengers), req.VehicleCount)
		if err != nil {
			return err
		}

		booking, err = r.Bookings.Create(ctx, domain.Booking{
			UserID:           req.UserID,
			BookingReference: ref,
			ReservationID:    res.ID,
			VehicleCount:     req.VehicleCount,
			TotalAmount:      total,
			Status:           domain.BookingPending,
		})
		if err != nil {
			return err
		}

		booking.Tickets = make([]domain.Ticket, 0, len(tickets))
		for _, t := range tickets {
			t.BookingID = booking.ID
			created, err := r.Tickets.Create(ctx, t)
			if err != nil {
				return err
			}
			booking.Tickets = append(booking.Tickets, created)
		}
		return nil
	})
	return booking, err
}

// Confirm marks a pending booking as paid and commits its reservation.
func (s *BookingService) Confirm(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		b, err := r.Bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if _, err := r.Bookings.UpdateStatus(ctx, id, domain.BookingPending, domain.BookingConfirmed); err != nil {
			return err
		}
		_, err = r.Reservations.Close(ctx, b.ReservationID, domain.ReservationCommitted)
		return err
	})
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Confirm: %w", err)
	}
	return s.Get(ctx, id)
}

// Cancel cancels a booking. A pending booking releases its whole
// reservation. A confirmed booking cancels its remaining issued tickets,
// gives their seats back, and is then re-derived: it becomes cancelled if
// nobody boarded and completed otherwise.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		b, err := r.Bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}

		switch b.Status {
		case domain.BookingPending:
			return cancelPendingWith(ctx, r, b)

		case domain.BookingConfirmed:
			res, err := r.Reservations.GetByID(ctx, b.ReservationID)
			if err != nil {
				return err
			}
			n, err := r.Tickets.CancelIssuedByBooking(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				if _, err := r.Trips.ReturnCapacity(ctx, res.TripID, n, 0); err != nil {
					return err
				}
			}
			_, _, err = recomputeBooking(ctx, r, id)
			return err

		default:
			return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
		}
	})
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Cancel: %w", err)
	}
	return s.Get(ctx, id)
}

// CancelTicket cancels one issued ticket of a confirmed booking and returns
// its seat. Tickets of a pending booking can only be cancelled with the
// whole booking because their seats belong to the held reservation.
func (s *BookingService) CancelTicket(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.store.WithinTx(ctx, func(r repo.Repos) error {
		t, err := r.Tickets.GetByID(ctx, ticketID)
		if err != nil {
			return err
		}
		b, err := r.Bookings.GetByID(ctx, t.BookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingConfirmed {
			return fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
		}

		ticket, err = r.Tickets.Cancel(ctx, ticketID)
		if err != nil {
			return err
		}
		if _, err := r.Trips.ReturnCapacity(ctx, ticket.TripID, 1, 0); err != nil {
			return err
		}
		_, _, err = recomputeBooking(ctx, r, b.ID)
		return err
	})
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("service.BookingService.CancelTicket: %w", err)
	}
	return ticket, nil
}

// Get returns a booking with its tickets.
func (s *BookingService) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	r := s.store.Repos()
	b, err := r.Bookings.GetByID(ctx, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Get: %w", err)
	}
	b.Tickets, err = r.Tickets.ListByBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("service.BookingService.Get: %w", err)
	}
	return b, nil
}

func validateBookingRequest(req domain.BookingRequest) error {
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if req.TripID == uuid.Nil {
		return fmt.Errorf("%w: trip_id is required", domain.ErrValidation)
	}
	if len(req.Passengers) == 0 {
		return fmt.Errorf("%w: at least one passenger is required", domain.ErrValidation)
	}
	if len(req.Passengers) > maxPassengers {
		return fmt.Errorf("%w: at most %d passengers per booking", domain.ErrValidation, maxPassengers)
	}
	if req.VehicleCount < 0 {
		return fmt.Errorf("%w: vehicle_count must not be negative", domain.ErrValidation)
	}
	for i, p := range req.Passengers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: passenger %d: name is required", domain.ErrValidation, i)
		}
		if !p.Type.Valid() {
			return fmt.Errorf("%w: passenger %d: unknown type %q", domain.ErrValidation, i, p.Type)
		}
	}
	return nil
}

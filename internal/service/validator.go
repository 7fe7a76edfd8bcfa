package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// errLostRace aborts the acceptance transaction when another scan marked
// the ticket used between our read and our update.
var errLostRace = errors.New("ticket changed during validation")

// maxClockSkew bounds how far in the future a device timestamp may be.
const maxClockSkew = 5 * time.Minute

// Validator redeems tickets at boarding. Online scans and replayed offline
// scans both go through Validate, so the outcome never depends on how the
// scan arrived.
type Validator struct {
	store  repo.Transactor
	now    Clock
	logger *slog.Logger
}

// NewValidator constructs a Validator.
func NewValidator(store repo.Transactor, now Clock, logger *slog.Logger) *Validator {
	return &Validator{store: store, now: now, logger: logger}
}

// Validate checks one scan and, if the ticket may board, marks it used with
// the device's timestamp. Rejections are returned as outcomes, not errors;
// an error means the scan could not be evaluated and should be retried.
func (v *Validator) Validate(ctx context.Context, req domain.ScanRequest) (domain.ValidationResult, error) {
	req.TicketCode = strings.TrimSpace(req.TicketCode)
	if err := v.validateRequest(req); err != nil {
		return domain.ValidationResult{}, fmt.Errorf("service.Validator.Validate: %w", err)
	}
	if req.Source == "" {
		req.Source = domain.ScanOnline
	}

	r := v.store.Repos()
	view, err := r.Tickets.GetByCode(ctx, req.TicketCode)
	if errors.Is(err, domain.ErrNotFound) {
		result := domain.ValidationResult{Outcome: domain.OutcomeTicketNotFound, Message: "ticket not found"}
		v.record(ctx, req, nil, result.Outcome)
		return result, nil
	}
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("service.Validator.Validate: %w", err)
	}

	if result, rejected := checkTicket(view, req.TripID); rejected {
		v.record(ctx, req, &view.ID, result.Outcome)
		return result, nil
	}

	trip, err := r.Trips.GetByID(ctx, req.TripID)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("service.Validator.Validate: %w", err)
	}
	if !trip.Status.Boardable() {
		result := domain.ValidationResult{
			Outcome: domain.OutcomeTripNotBoarding,
			Message: fmt.Sprintf("trip is %s", trip.Status),
			Ticket:  summarize(view),
		}
		v.record(ctx, req, &view.ID, result.Outcome)
		return result, nil
	}

	err = v.store.WithinTx(ctx, func(tx repo.Repos) error {
		applied, err := tx.Tickets.MarkUsed(ctx, view.ID, req.ClientTimestamp)
		if err != nil {
			return err
		}
		if !applied {
			return errLostRace
		}
		if err := tx.Trips.IncrementBoarded(ctx, req.TripID); err != nil {
			return err
		}
		if _, _, err := recomputeBooking(ctx, tx, view.BookingID); err != nil {
			return err
		}
		_, err = tx.Scans.Record(ctx, scanEvent(req, &view.ID, domain.OutcomeAccepted))
		return err
	})

	if errors.Is(err, errLostRace) {
		// Another device won. Report whatever state it left behind.
		current, err := r.Tickets.GetByCode(ctx, req.TicketCode)
		if err != nil {
			return domain.ValidationResult{}, fmt.Errorf("service.Validator.Validate: reread: %w", err)
		}
		result, rejected := checkTicket(current, req.TripID)
		if !rejected {
			return domain.ValidationResult{}, fmt.Errorf("service.Validator.Validate: %w", domain.ErrConflict)
		}
		v.record(ctx, req, &current.ID, result.Outcome)
		return result, nil
	}
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("service.Validator.Validate: %w", err)
	}

	used := req.ClientTimestamp
	view.Status = domain.TicketUsed
	view.UsedAt = &used
	return domain.ValidationResult{
		Outcome: domain.OutcomeAccepted,
		Message: "boarding accepted",
		Ticket:  summarize(view),
	}, nil
}

func (v *Validator) validateRequest(req domain.ScanRequest) error {
	if req.TicketCode == "" {
		return fmt.Errorf("%w: ticket_code is required", domain.ErrValidation)
	}
	if req.TripID == uuid.Nil {
		return fmt.Errorf("%w: trip_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	if req.ClientTimestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", domain.ErrValidation)
	}
	if req.ClientTimestamp.After(v.now().Add(maxClockSkew)) {
		return fmt.Errorf("%w: timestamp is in the future", domain.ErrValidation)
	}
	return nil
}

// record writes a rejection to the scan log. A failure here must not change
// the answer given to the device, so it is only logged.
func (v *Validator) record(ctx context.Context, req domain.ScanRequest, ticketID *uuid.UUID, outcome domain.ScanOutcome) {
	if _, err := v.store.Repos().Scans.Record(ctx, scanEvent(req, ticketID, outcome)); err != nil {
		v.logger.WarnContext(ctx, "record scan event",
			"outcome", outcome,
			"device_id", req.DeviceID,
			"error", err,
		)
	}
}

// checkTicket applies the ticket-level rules in order. The second return
// value is false only when the ticket may board.
func checkTicket(view repo.TicketView, tripID uuid.UUID) (domain.ValidationResult, bool) {
	summary := summarize(view)
	switch {
	case view.TripID != tripID:
		return domain.ValidationResult{
			Outcome: domain.OutcomeTripMismatch,
			Message: "ticket is for a different sailing",
			Ticket:  summary,
		}, true
	case view.Status == domain.TicketUsed:
		msg := "already boarded"
		if view.UsedAt != nil {
			msg = "already boarded at " + view.UsedAt.UTC().Format(time.RFC3339)
		}
		return domain.ValidationResult{
			Outcome:        domain.OutcomeAlreadyUsed,
			Message:        msg,
			Ticket:         summary,
			PreviousUsedAt: view.UsedAt,
		}, true
	case view.Status == domain.TicketCancelled:
		return domain.ValidationResult{Outcome: domain.OutcomeTicketCancelled, Message: "ticket was cancelled", Ticket: summary}, true
	case view.Status == domain.TicketExpired:
		return domain.ValidationResult{Outcome: domain.OutcomeTicketExpired, Message: "ticket has expired", Ticket: summary}, true
	case view.BookingStatus != domain.BookingConfirmed:
		return domain.ValidationResult{
			Outcome: domain.OutcomeBookingNotConfirmed,
			Message: fmt.Sprintf("booking is %s", view.BookingStatus),
			Ticket:  summary,
		}, true
	}
	return domain.ValidationResult{}, false
}

func summarize(view repo.TicketView) *domain.TicketSummary {
	return &domain.TicketSummary{
		TicketID:         view.ID,
		BookingReference: view.BookingReference,
		PassengerName:    view.PassengerName,
		PassengerType:    view.PassengerType,
		NationalityGroup: view.NationalityGroup,
		TripID:           view.TripID,
		UsedAt:           view.UsedAt,
	}
}

func scanEvent(req domain.ScanRequest, ticketID *uuid.UUID, outcome domain.ScanOutcome) domain.ScanEvent {
	return domain.ScanEvent{
		TicketID:        ticketID,
		TicketCode:      req.TicketCode,
		TripID:          req.TripID,
		DeviceID:        req.DeviceID,
		ClientTimestamp: req.ClientTimestamp,
		Outcome:         outcome,
		Source:          req.Source,
	}
}

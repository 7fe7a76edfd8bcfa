package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a purchase.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingExpired   BookingStatus = "expired"
	BookingCancelled BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingExpired, BookingCancelled},
}

// CanTransition reports whether a booking may move from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking groups one or more tickets bought together under one reference.
type Booking struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	BookingReference string
	ReservationID    uuid.UUID
	VehicleCount     int
	TotalAmount      int64 // minor currency units
	Status           BookingStatus
	Tickets          []Ticket
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PassengerInput describes one passenger in a booking request.
type PassengerInput struct {
	Name             string
	Type             PassengerType
	NationalityGroup string
}

// BookingRequest is the input of the booking-creation flow.
type BookingRequest struct {
	UserID       uuid.UUID
	TripID       uuid.UUID
	VehicleCount int
	Passengers   []PassengerInput
}

// DeriveBookingStatus computes a booking's status from the statuses of its
// tickets. Only confirmed bookings are derived; every other status is
// returned unchanged.
//
// Cancelled tickets do not take part in the derivation. For a confirmed booking:
//   - all remaining tickets in {used, expired}: completed if at least one is
//     used, otherwise expired
//   - any remaining ticket still issued: confirmed
//   - no remaining tickets (all cancelled): cancelled
func DeriveBookingStatus(current BookingStatus, tickets []TicketStatus) BookingStatus {
	if current != BookingConfirmed {
		return current
	}

	var live, used int
	for _, st := range tickets {
		switch st {
		case TicketCancelled:
			continue
		case TicketIssued:
			return BookingConfirmed
		case TicketUsed:
			used++
		}
		live++
	}

	switch {
	case live == 0:
		return BookingCancelled
	case used > 0:
		return BookingCompleted
	default:
		return BookingExpired
	}
}

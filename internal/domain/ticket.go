package domain

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of a single passenger's ticket.
// issued is the only non-terminal state.
type TicketStatus string

const (
	TicketIssued    TicketStatus = "issued"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// CanTransition reports whether a ticket may move from s to next.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if s != TicketIssued {
		return false
	}
	switch next {
	case TicketUsed, TicketCancelled, TicketExpired:
		return true
	}
	return false
}

// PassengerType classifies a passenger for pricing and manifests.
type PassengerType string

const (
	PassengerAdult  PassengerType = "adult"
	PassengerChild  PassengerType = "child"
	PassengerSenior PassengerType = "senior"
)

// Valid reports whether p is a known passenger type.
func (p PassengerType) Valid() bool {
	switch p {
	case PassengerAdult, PassengerChild, PassengerSenior:
		return true
	}
	return false
}

// Ticket is one passenger's right to travel on one trip.
// UsedAt is non-nil if and only if Status is TicketUsed.
// Apart from Status and UsedAt a ticket never changes after creation.
type Ticket struct {
	ID               uuid.UUID
	BookingID        uuid.UUID
	TripID           uuid.UUID
	PassengerName    string
	PassengerType    PassengerType
	NationalityGroup string
	PricePaid        int64 // minor currency units
	Status           TicketStatus
	UsedAt           *time.Time
	QRCodeData       string
	CreatedAt        time.Time
}

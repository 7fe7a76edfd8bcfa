package domain

import (
	"time"

	"github.com/google/uuid"
)

// ManifestRow is one ticket on a trip's passenger manifest.
// It is a flat, denormalized view joining the ticket with its booking.
type ManifestRow struct {
	TicketID         uuid.UUID
	BookingReference string
	BookingStatus    BookingStatus
	PassengerName    string
	PassengerType    PassengerType
	NationalityGroup string
	Status           TicketStatus
	UsedAt           *time.Time
}

// Manifest is the read-only boarding view of one trip.
type Manifest struct {
	Trip Trip
	Rows []ManifestRow
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus tracks whether a capacity hold is still open.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is the durable handle returned by the ledger for a block of
// seats and vehicle slots taken from one trip. A held reservation is closed
// exactly once, either by Commit or by release.
type Reservation struct {
	ID           uuid.UUID
	TripID       uuid.UUID
	PaxCount     int
	VehicleCount int
	Status       ReservationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

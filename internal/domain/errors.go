package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. no passengers, arrival before departure).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrCapacityExceeded is returned by the ledger when a trip does not have
// enough seats or vehicle slots left at the instant of the reservation.
// A reservation that lost a race and one that was simply too large are
// indistinguishable to the caller.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrReservationClosed is returned when a reservation handle has already
// been committed or released.
var ErrReservationClosed = errors.New("reservation closed")

// ErrInvalidTransition is returned when a status change is not allowed by
// the trip, booking, or ticket state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrConflict is returned when a write would break a storage invariant,
// e.g. releasing seats beyond the ship's capacity.
var ErrConflict = errors.New("conflict")

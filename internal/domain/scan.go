package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScanOutcome is the discriminated result of a ticket validation attempt.
type ScanOutcome string

const (
	OutcomeAccepted        ScanOutcome = "accepted"
	OutcomeAlreadyUsed     ScanOutcome = "already_used"
	OutcomeTicketNotFound  ScanOutcome = "ticket_not_found"
	OutcomeTripMismatch    ScanOutcome = "trip_mismatch"
	OutcomeTicketCancelled ScanOutcome = "ticket_cancelled"
	OutcomeTicketExpired   ScanOutcome = "ticket_expired"
	OutcomeTripNotBoarding ScanOutcome = "trip_not_boarding"

	// OutcomeBookingNotConfirmed refuses an issued ticket whose booking has
	// not been paid for.
	OutcomeBookingNotConfirmed ScanOutcome = "booking_not_confirmed"

	// OutcomeInvalidScan refuses a batch entry that cannot be evaluated as
	// sent, such as a blank code or a timestamp from the future.
	OutcomeInvalidScan ScanOutcome = "invalid_scan"

	// OutcomeError marks a batch entry that could not be evaluated because
	// of a storage failure. It is never stored; clients retry the entry.
	OutcomeError ScanOutcome = "error"
)

// Rejected reports whether the outcome is a definitive refusal to board.
// accepted and already_used are both successful from the operator's view.
func (o ScanOutcome) Rejected() bool {
	switch o {
	case OutcomeAccepted, OutcomeAlreadyUsed, OutcomeError:
		return false
	}
	return true
}

// Definitive reports whether the server has settled this scan for good.
// Everything except OutcomeError is definitive.
func (o ScanOutcome) Definitive() bool {
	return o != OutcomeError
}

// ScanSource records how a scan reached the server.
type ScanSource string

const (
	ScanOnline ScanSource = "online"
	ScanBatch  ScanSource = "batch"
)

// ScanRequest is one validation attempt as submitted by a scanning device.
// ClientTimestamp is the moment the device scanned the code; it becomes
// the ticket's used_at so out-of-order offline replays keep causal order.
type ScanRequest struct {
	TicketCode      string
	TripID          uuid.UUID
	DeviceID        string
	ClientTimestamp time.Time
	Source          ScanSource
}

// ScanEvent is the audit record of a validation attempt.
type ScanEvent struct {
	ID              int64
	TicketID        *uuid.UUID
	TicketCode      string
	TripID          uuid.UUID
	DeviceID        string
	ClientTimestamp time.Time
	Outcome         ScanOutcome
	Source          ScanSource
	CreatedAt       time.Time
}

// TicketSummary is the passenger information shown on the scanner display.
type TicketSummary struct {
	TicketID         uuid.UUID
	BookingReference string
	PassengerName    string
	PassengerType    PassengerType
	NationalityGroup string
	TripID           uuid.UUID
	UsedAt           *time.Time
}

// ValidationResult is what the validator returns for every scan, accepted
// or not. PreviousUsedAt is set for OutcomeAlreadyUsed.
type ValidationResult struct {
	Outcome        ScanOutcome
	Message        string
	Ticket         *TicketSummary
	PreviousUsedAt *time.Time
}

// BatchValidation is one entry of an offline batch.
// TripID overrides the batch-level trip when set.
type BatchValidation struct {
	QRData    string
	Timestamp time.Time
	TripID    uuid.UUID
}

// BatchRequest is an offline device's queued scans, in the order they
// were made.
type BatchRequest struct {
	DeviceID    string
	TripID      uuid.UUID
	Validations []BatchValidation
}

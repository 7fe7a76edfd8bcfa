package domain

// SweepReport counts what one expiration sweep changed.
// Running a sweep twice with no state change in between yields an all-zero
// second report.
type SweepReport struct {
	TripsProcessed    int  `json:"trips_processed"`
	TicketsExpired    int  `json:"tickets_expired"`
	BookingsCompleted int  `json:"bookings_completed"`
	BookingsExpired   int  `json:"bookings_expired"`
	BookingsCancelled int  `json:"bookings_cancelled"`
	HoldsReleased     int  `json:"holds_released"`
	Failures          int  `json:"failures"`
	Skipped           bool `json:"skipped,omitempty"` // another sweep held the lock
}

// Add folds a booking status change into the report.
func (r *SweepReport) Add(status BookingStatus) {
	switch status {
	case BookingCompleted:
		r.BookingsCompleted++
	case BookingExpired:
		r.BookingsExpired++
	case BookingCancelled:
		r.BookingsCancelled++
	}
}

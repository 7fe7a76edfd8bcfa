package service

// SetReferenceGenerator replaces the booking reference source in tests.
func SetReferenceGenerator(s *BookingService, fn func() string) {
	s.newRef = fn
}

// SetSweepBatch changes the sweep's page size.
func SetSweepBatch(s *Sweeper, n int) {
	s.batch = n
}

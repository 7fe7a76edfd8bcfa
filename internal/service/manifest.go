package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/repo"
)

// ManifestService assembles the passenger manifest of a trip.
type ManifestService struct {
	store repo.Transactor
}

// NewManifestService constructs a ManifestService.
func NewManifestService(store repo.Transactor) *ManifestService {
	return &ManifestService{store: store}
}

// Manifest returns the trip and one row per ticket on it, whatever the
// ticket's status.
func (s *ManifestService) Manifest(ctx context.Context, tripID uuid.UUID) (domain.Manifest, error) {
	r := s.store.Repos()
	trip, err := r.Trips.GetByID(ctx, tripID)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("service.ManifestService.Manifest: %w", err)
	}
	rows, err := r.Tickets.Manifest(ctx, tripID)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("service.ManifestService.Manifest: %w", err)
	}
	return domain.Manifest{Trip: trip, Rows: rows}, nil
}

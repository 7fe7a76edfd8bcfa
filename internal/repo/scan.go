package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// ScanEventRepo appends validation attempts to the audit log.
type ScanEventRepo interface {
	// Record inserts ev and returns it with its id and created_at set.
	Record(ctx context.Context, ev domain.ScanEvent) (domain.ScanEvent, error)
}

type pgScanEventRepo struct {
	db db
}

// NewScanEventRepo constructs a ScanEventRepo backed by db.
func NewScanEventRepo(db db) ScanEventRepo {
	return &pgScanEventRepo{db: db}
}

func (r *pgScanEventRepo) Record(ctx context.Context, ev domain.ScanEvent) (domain.ScanEvent, error) {
	const q = `
		INSERT INTO scan_events (ticket_id, ticket_code, trip_id, device_id,
		                         client_timestamp, outcome, source)
		VALUES (@ticket_id, @ticket_code, @trip_id, @device_id,
		        @client_timestamp, @outcome, @source)
		RETURNING id, created_at`

	args := pgx.NamedArgs{
		"ticket_id":        ev.TicketID, // nil for unknown codes
		"ticket_code":      ev.TicketCode,
		"trip_id":          ev.TripID,
		"device_id":        ev.DeviceID,
		"client_timestamp": ev.ClientTimestamp,
		"outcome":          string(ev.Outcome),
		"source":           string(ev.Source),
	}
	if err := r.db.QueryRow(ctx, q, args).Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return domain.ScanEvent{}, fmt.Errorf("repo.ScanEventRepo.Record: %w", err)
	}
	return ev, nil
}

package scanqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// BatchPoster sends a batch to the server. *Client satisfies it.
type BatchPoster interface {
	Batch(ctx context.Context, req BatchRequest) ([]Result, error)
}

// SyncReport counts what one Sync call did.
type SyncReport struct {
	Sent         int            `json:"sent"`
	Acknowledged int            `json:"acknowledged"`
	Reverted     int            `json:"reverted"`
	Failed       int            `json:"failed"`
	Outcomes     map[string]int `json:"outcomes"`
}

// Syncer drains a Queue into the batch endpoint.
type Syncer struct {
	queue     *Queue
	poster    BatchPoster
	deviceID  string
	batchSize int
	logger    *slog.Logger
}

// NewSyncer constructs a Syncer sending at most batchSize scans per request.
func NewSyncer(queue *Queue, poster BatchPoster, deviceID string, batchSize int, logger *slog.Logger) *Syncer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{queue: queue, poster: poster, deviceID: deviceID, batchSize: batchSize, logger: logger}
}

// Sync sends pending scans batch by batch until none are left.
//
// Entries the server answered for are removed. A transport failure or 5xx
// reverts the whole batch to pending and ends the sync with the error, as
// does a 401 or 403 so a refreshed token can resend it. The
// caller retries on the next connectivity event. A definitive 4xx parks the
// batch in the error state. Entries that came back with an error outcome
// are reverted and the sync stops so they are not retried in a tight loop.
func (s *Syncer) Sync(ctx context.Context) (SyncReport, error) {
	report := SyncReport{Outcomes: map[string]int{}}

	for {
		entries, err := s.queue.Claim(ctx, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("scanqueue.Syncer.Sync: %w", err)
		}
		if len(entries) == 0 {
			return report, nil
		}

		ids := make([]string, len(entries))
		req := BatchRequest{DeviceID: s.deviceID, Validations: make([]BatchEntry, len(entries))}
		for i, e := range entries {
			ids[i] = e.ID
			tripID := e.TripID
			req.Validations[i] = BatchEntry{QRData: e.TicketCode, Timestamp: e.ScannedAt, TripID: &tripID}
		}
		report.Sent += len(entries)

		results, err := s.poster.Batch(ctx, req)
		if err == nil && len(results) != len(entries) {
			err = fmt.Errorf("server returned %d results for %d scans", len(results), len(entries))
		}
		if err != nil {
			var se *HTTPStatusError
			if errors.As(err, &se) && se.Definitive() {
				if ferr := s.queue.Fail(context.WithoutCancel(ctx), ids, se.Error()); ferr != nil {
					return report, fmt.Errorf("scanqueue.Syncer.Sync: %w", ferr)
				}
				report.Failed += len(ids)
				s.logger.WarnContext(ctx, "batch rejected", "count", len(ids), "error", err)
				continue
			}
			if rerr := s.queue.Revert(context.WithoutCancel(ctx), ids, err.Error()); rerr != nil {
				return report, fmt.Errorf("scanqueue.Syncer.Sync: revert after %v: %w", err, rerr)
			}
			report.Reverted += len(ids)
			return report, fmt.Errorf("scanqueue.Syncer.Sync: %w", err)
		}

		var settled, retry []string
		for i, res := range results {
			report.Outcomes[res.Result]++
			if res.Settled() {
				settled = append(settled, ids[i])
			} else {
				retry = append(retry, ids[i])
			}
		}

		n, err := s.queue.Ack(ctx, settled)
		if err != nil {
			return report, fmt.Errorf("scanqueue.Syncer.Sync: %w", err)
		}
		report.Acknowledged += n

		if len(retry) > 0 {
			if err := s.queue.Revert(ctx, retry, "server could not process scan"); err != nil {
				return report, fmt.Errorf("scanqueue.Syncer.Sync: %w", err)
			}
			report.Reverted += len(retry)
			return report, nil
		}
	}
}

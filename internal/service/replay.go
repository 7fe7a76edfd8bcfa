package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// ScanValidator is the single entry point every scan goes through.
// *Validator satisfies it.
type ScanValidator interface {
	Validate(ctx context.Context, req domain.ScanRequest) (domain.ValidationResult, error)
}

// BatchReplayer applies an offline device's queued scans.
type BatchReplayer struct {
	validator ScanValidator
	maxBatch  int
	now       Clock
	logger    *slog.Logger
}

// NewBatchReplayer constructs a BatchReplayer that accepts at most maxBatch
// entries per call.
func NewBatchReplayer(validator ScanValidator, maxBatch int, now Clock, logger *slog.Logger) *BatchReplayer {
	return &BatchReplayer{validator: validator, maxBatch: maxBatch, now: now, logger: logger}
}

// Replay validates every entry in array order and returns one result per
// entry at the same index. Entries are applied one at a time so the
// device's recorded order decides which of two scans of the same ticket
// wins. A failing entry never aborts the batch. An entry that cannot be
// evaluated as sent comes back as domain.OutcomeInvalidScan; one that hit
// a storage failure comes back as domain.OutcomeError and the device
// retries it later.
func (b *BatchReplayer) Replay(ctx context.Context, req domain.BatchRequest) ([]domain.ValidationResult, error) {
	if err := b.validateBatch(req); err != nil {
		return nil, fmt.Errorf("service.BatchReplayer.Replay: %w", err)
	}

	results := make([]domain.ValidationResult, len(req.Validations))
	for i, entry := range req.Validations {
		if err := ctx.Err(); err != nil {
			results[i] = domain.ValidationResult{Outcome: domain.OutcomeError, Message: "request cancelled"}
			continue
		}

		tripID := entry.TripID
		if tripID == uuid.Nil {
			tripID = req.TripID
		}
		if msg := b.checkEntry(entry, tripID); msg != "" {
			results[i] = domain.ValidationResult{Outcome: domain.OutcomeInvalidScan, Message: msg}
			continue
		}

		res, err := b.validator.Validate(ctx, domain.ScanRequest{
			TicketCode:      entry.QRData,
			TripID:          tripID,
			DeviceID:        req.DeviceID,
			ClientTimestamp: entry.Timestamp,
			Source:          domain.ScanBatch,
		})
		switch {
		case errors.Is(err, domain.ErrValidation):
			res = domain.ValidationResult{Outcome: domain.OutcomeInvalidScan, Message: "scan is not valid"}
		case err != nil:
			b.logger.ErrorContext(ctx, "replay scan",
				"device_id", req.DeviceID,
				"index", i,
				"error", err,
			)
			res = domain.ValidationResult{Outcome: domain.OutcomeError, Message: "scan could not be processed"}
		}
		results[i] = res
	}
	return results, nil
}

// validateBatch rejects a batch as a whole only when no entry can be
// evaluated: no device to attribute scans to, or more entries than allowed.
func (b *BatchReplayer) validateBatch(req domain.BatchRequest) error {
	if strings.TrimSpace(req.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	if b.maxBatch > 0 && len(req.Validations) > b.maxBatch {
		return fmt.Errorf("%w: batch holds %d validations, limit is %d",
			domain.ErrValidation, len(req.Validations), b.maxBatch)
	}
	return nil
}

// checkEntry returns why one entry cannot be evaluated, or "" if it can.
func (b *BatchReplayer) checkEntry(entry domain.BatchValidation, tripID uuid.UUID) string {
	switch {
	case strings.TrimSpace(entry.QRData) == "":
		return "qr_data is required"
	case entry.Timestamp.IsZero():
		return "timestamp is required"
	case entry.Timestamp.After(b.now().Add(maxClockSkew)):
		return "timestamp is in the future"
	case tripID == uuid.Nil:
		return "trip_id is required"
	}
	return ""
}

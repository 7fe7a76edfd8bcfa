package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/middleware"
)

type scanRequest struct {
	DeviceID   string    `json:"device_id"`
	TripID     uuid.UUID `json:"trip_id"`
	TicketCode string    `json:"ticket_code"`
	Timestamp  time.Time `json:"timestamp"`
}

type batchEntryRequest struct {
	QRData    string     `json:"qr_data"`
	Timestamp time.Time  `json:"timestamp"`
	TripID    *uuid.UUID `json:"trip_id,omitempty"`
}

type batchRequest struct {
	DeviceID    string              `json:"device_id"`
	TripID      *uuid.UUID          `json:"trip_id,omitempty"`
	Validations []batchEntryRequest `json:"validations"`
}

type ticketSummaryResponse struct {
	TicketID         uuid.UUID            `json:"ticket_id"`
	BookingReference string               `json:"booking_reference"`
	PassengerName    string               `json:"passenger_name"`
	PassengerType    domain.PassengerType `json:"passenger_type"`
	NationalityGroup string               `json:"nationality_group,omitempty"`
	TripID           uuid.UUID            `json:"trip_id"`
	UsedAt           *time.Time           `json:"used_at,omitempty"`
}

type scanResponse struct {
	Result         domain.ScanOutcome     `json:"result"`
	Message        string                 `json:"message"`
	Ticket         *ticketSummaryResponse `json:"ticket,omitempty"`
	PreviousUsedAt *time.Time             `json:"previous_used_at,omitempty"`
}

type batchResponse struct {
	Results []scanResponse `json:"results"`
}

// postScan handles POST /scans.
// Every evaluated scan answers 200; whether the passenger may board is in
// the result field. Non-2xx means the scan was not evaluated.
func (s *Server) postScan(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !s.deviceMatches(w, r, body.DeviceID) {
		return
	}

	result, err := s.validator.Validate(r.Context(), domain.ScanRequest{
		TicketCode:      body.TicketCode,
		TripID:          body.TripID,
		DeviceID:        body.DeviceID,
		ClientTimestamp: body.Timestamp,
		Source:          domain.ScanOnline,
	})
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(result))
}

// postScanBatch handles POST /scans/batch.
// Results come back in request order, one per entry.
func (s *Server) postScanBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !s.deviceMatches(w, r, body.DeviceID) {
		return
	}

	req := domain.BatchRequest{
		DeviceID:    body.DeviceID,
		Validations: make([]domain.BatchValidation, len(body.Validations)),
	}
	if body.TripID != nil {
		req.TripID = *body.TripID
	}
	for i, e := range body.Validations {
		req.Validations[i] = domain.BatchValidation{QRData: e.QRData, Timestamp: e.Timestamp}
		if e.TripID != nil {
			req.Validations[i].TripID = *e.TripID
		}
	}

	results, err := s.replayer.Replay(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}
	resp := batchResponse{Results: make([]scanResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = resultToResponse(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// deviceMatches rejects a body whose device_id differs from the one the
// bearer token was issued to. With device auth off every device is trusted.
func (s *Server) deviceMatches(w http.ResponseWriter, r *http.Request, deviceID string) bool {
	if s.deviceSecret == nil {
		return true
	}
	authed, ok := middleware.DeviceIDFromContext(r.Context())
	if !ok || authed != deviceID {
		writeError(w, http.StatusForbidden, "forbidden", "device_id does not match the device token")
		return false
	}
	return true
}

func resultToResponse(res domain.ValidationResult) scanResponse {
	resp := scanResponse{
		Result:         res.Outcome,
		Message:        res.Message,
		PreviousUsedAt: res.PreviousUsedAt,
	}
	if t := res.Ticket; t != nil {
		resp.Ticket = &ticketSummaryResponse{
			TicketID:         t.TicketID,
			BookingReference: t.BookingReference,
			PassengerName:    t.PassengerName,
			PassengerType:    t.PassengerType,
			NationalityGroup: t.NationalityGroup,
			TripID:           t.TripID,
			UsedAt:           t.UsedAt,
		}
	}
	return resp
}

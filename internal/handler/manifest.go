package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// manifestCSVHeaders are the column names written as the first CSV row.
var manifestCSVHeaders = []string{
	"ticket_id", "booking_reference", "booking_status",
	"passenger_name", "passenger_type", "nationality_group",
	"ticket_status", "used_at",
}

type manifestRowResponse struct {
	TicketID         uuid.UUID            `json:"ticket_id"`
	BookingReference string               `json:"booking_reference"`
	BookingStatus    domain.BookingStatus `json:"booking_status"`
	PassengerName    string               `json:"passenger_name"`
	PassengerType    domain.PassengerType `json:"passenger_type"`
	NationalityGroup string               `json:"nationality_group,omitempty"`
	Status           domain.TicketStatus  `json:"status"`
	UsedAt           *time.Time           `json:"used_at,omitempty"`
}

type manifestResponse struct {
	Trip       tripResponse          `json:"trip"`
	Passengers []manifestRowResponse `json:"passengers"`
}

// getManifest handles GET /trips/{id}/manifest.
// Use ?format=csv to receive CSV; the default is JSON.
func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var format *string
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &format); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid query parameter format")
		return
	}
	if format != nil && *format != "csv" && *format != "json" {
		writeError(w, http.StatusBadRequest, "bad_request", "format must be csv or json")
		return
	}

	m, err := s.manifests.Manifest(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}

	if format != nil && *format == "csv" {
		writeManifestCSV(w, m)
		return
	}
	resp := manifestResponse{
		Trip:       tripToResponse(m.Trip),
		Passengers: make([]manifestRowResponse, len(m.Rows)),
	}
	for i, row := range m.Rows {
		resp.Passengers[i] = manifestRowResponse(row)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeManifestCSV encodes the manifest into a buffer first so the
// Content-Length is known before the header is written.
func writeManifestCSV(w http.ResponseWriter, m domain.Manifest) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	//nolint:errcheck // bytes.Buffer.Write never returns an error.
	cw.Write(manifestCSVHeaders)
	for _, row := range m.Rows {
		//nolint:errcheck
		cw.Write(manifestRowToCSVRecord(row))
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		`attachment; filename="manifest-`+m.Trip.ID.String()+`.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// manifestRowToCSVRecord flattens a row. A nil used_at is an empty cell.
func manifestRowToCSVRecord(r domain.ManifestRow) []string {
	return []string{
		r.TicketID.String(),
		r.BookingReference,
		string(r.BookingStatus),
		r.PassengerName,
		string(r.PassengerType),
		r.NationalityGroup,
		string(r.Status),
		formatOptionalTime(r.UsedAt),
	}
}

// formatOptionalTime returns the RFC3339 representation of t, or "" if t is nil.
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

type passengerRequest struct {
	Name             string               `json:"name"`
	Type             domain.PassengerType `json:"type"`
	NationalityGroup string               `json:"nationality_group,omitempty"`
}

type bookingRequest struct {
	UserID       uuid.UUID          `json:"user_id"`
	TripID       uuid.UUID          `json:"trip_id"`
	VehicleCount int                `json:"vehicle_count"`
	Passengers   []passengerRequest `json:"passengers"`
}

type ticketResponse struct {
	ID               uuid.UUID            `json:"id"`
	BookingID        uuid.UUID            `json:"booking_id"`
	TripID           uuid.UUID            `json:"trip_id"`
	PassengerName    string               `json:"passenger_name"`
	PassengerType    domain.PassengerType `json:"passenger_type"`
	NationalityGroup string               `json:"nationality_group,omitempty"`
	PricePaid        int64                `json:"price_paid"`
	Status           domain.TicketStatus  `json:"status"`
	UsedAt           *time.Time           `json:"used_at,omitempty"`
	QRCodeData       string               `json:"qr_code_data"`
	CreatedAt        time.Time            `json:"created_at"`
}

type bookingResponse struct {
	ID               uuid.UUID            `json:"id"`
	UserID           uuid.UUID            `json:"user_id"`
	BookingReference string               `json:"booking_reference"`
	ReservationID    uuid.UUID            `json:"reservation_id"`
	VehicleCount     int                  `json:"vehicle_count"`
	TotalAmount      int64                `json:"total_amount"`
	Status           domain.BookingStatus `json:"status"`
	Tickets          []ticketResponse     `json:"tickets"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// createBooking handles POST /bookings.
// Capacity is reserved before anything is written; a full trip answers 409
// with code capacity_exceeded.
func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	req := domain.BookingRequest{
		UserID:       body.UserID,
		TripID:       body.TripID,
		VehicleCount: body.VehicleCount,
		Passengers:   make([]domain.PassengerInput, len(body.Passengers)),
	}
	for i, p := range body.Passengers {
		req.Passengers[i] = domain.PassengerInput{
			Name:             p.Name,
			Type:             p.Type,
			NationalityGroup: p.NationalityGroup,
		}
	}

	booking, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusCreated, bookingToResponse(booking))
}

// getBooking handles GET /bookings/{id}.
func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.bookings.Get)
}

// confirmBooking handles POST /bookings/{id}/confirm.
func (s *Server) confirmBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.bookings.Confirm)
}

// cancelBooking handles POST /bookings/{id}/cancel.
func (s *Server) cancelBooking(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.bookings.Cancel)
}

func (s *Server) bookingAction(w http.ResponseWriter, r *http.Request,
	action func(ctx context.Context, id uuid.UUID) (domain.Booking, error)) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := action(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "booking")
		return
	}
	writeJSON(w, http.StatusOK, bookingToResponse(booking))
}

// cancelTicket handles POST /tickets/{id}/cancel.
func (s *Server) cancelTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ticket, err := s.bookings.CancelTicket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "ticket")
		return
	}
	writeJSON(w, http.StatusOK, ticketToResponse(ticket))
}

func bookingToResponse(b domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:               b.ID,
		UserID:           b.UserID,
		BookingReference: b.BookingReference,
		ReservationID:    b.ReservationID,
		VehicleCount:     b.VehicleCount,
		TotalAmount:      b.TotalAmount,
		Status:           b.Status,
		Tickets:          make([]ticketResponse, len(b.Tickets)),
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	for i, t := range b.Tickets {
		resp.Tickets[i] = ticketToResponse(t)
	}
	return resp
}

func ticketToResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:               t.ID,
		BookingID:        t.BookingID,
		TripID:           t.TripID,
		PassengerName:    t.PassengerName,
		PassengerType:    t.PassengerType,
		NationalityGroup: t.NationalityGroup,
		PricePaid:        t.PricePaid,
		Status:           t.Status,
		UsedAt:           t.UsedAt,
		QRCodeData:       t.QRCodeData,
		CreatedAt:        t.CreatedAt,
	}
}

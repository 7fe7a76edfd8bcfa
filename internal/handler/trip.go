package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

type tripRequest struct {
	RouteID          uuid.UUID `json:"route_id"`
	ShipID           uuid.UUID `json:"ship_id"`
	DepartureTime    time.Time `json:"departure_time"`
	ArrivalTime      time.Time `json:"arrival_time"`
	CapacityPax      int       `json:"capacity_pax"`
	CapacityVehicles int       `json:"capacity_vehicles"`
}

type tripResponse struct {
	ID                     uuid.UUID         `json:"id"`
	RouteID                uuid.UUID         `json:"route_id"`
	ShipID                 uuid.UUID         `json:"ship_id"`
	DepartureTime          time.Time         `json:"departure_time"`
	ArrivalTime            time.Time         `json:"arrival_time"`
	Status                 domain.TripStatus `json:"status"`
	CapacityPax            int               `json:"capacity_pax"`
	CapacityVehicles       int               `json:"capacity_vehicles"`
	AvailableSeatsPax      int               `json:"available_seats_pax"`
	AvailableSlotsVehicles int               `json:"available_slots_vehicles"`
	BoardedPax             int               `json:"boarded_pax"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type tripListResponse struct {
	Data       []tripResponse `json:"data"`
	Pagination pagination     `json:"pagination"`
}

type tripStatusRequest struct {
	Status domain.TripStatus `json:"status"`
}

// createTrip handles POST /trips.
func (s *Server) createTrip(w http.ResponseWriter, r *http.Request) {
	var body tripRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	created, err := s.trips.Schedule(r.Context(), domain.Trip{
		RouteID:          body.RouteID,
		ShipID:           body.ShipID,
		DepartureTime:    body.DepartureTime,
		ArrivalTime:      body.ArrivalTime,
		CapacityPax:      body.CapacityPax,
		CapacityVehicles: body.CapacityVehicles,
	})
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusCreated, tripToResponse(created))
}

// listTrips handles GET /trips.
// Supports ?from= and ?to= departure dates (inclusive, UTC) and ?page= and
// ?limit= (defaults: page=1, limit=20, max=100).
func (s *Server) listTrips(w http.ResponseWriter, r *http.Request) {
	var (
		page, limit *int
		from, to    *openapi_types.Date
	)
	q := r.URL.Query()
	for name, dst := range map[string]any{"page": &page, "limit": &limit, "from": &from, "to": &to} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dst); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid query parameter "+name)
			return
		}
	}

	filter := domain.TripFilter{Page: domain.NewPaginationParams(page, limit)}
	if from != nil {
		filter.From = from.Time
	}
	if to != nil {
		filter.To = to.Time.AddDate(0, 0, 1)
	}

	trips, total, err := s.trips.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}

	data := make([]tripResponse, len(trips))
	for i, t := range trips {
		data[i] = tripToResponse(t)
	}
	writeJSON(w, http.StatusOK, tripListResponse{
		Data: data,
		Pagination: pagination{
			Page:  filter.Page.Page,
			Limit: filter.Page.Limit,
			Total: total,
		},
	})
}

// getTrip handles GET /trips/{id}.
func (s *Server) getTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trip, err := s.trips.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(trip))
}

// transitionTrip handles POST /trips/{id}/status.
func (s *Server) transitionTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body tripStatusRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	trip, err := s.trips.Transition(r.Context(), id, body.Status)
	if err != nil {
		writeServiceError(w, r, err, "trip")
		return
	}
	writeJSON(w, http.StatusOK, tripToResponse(trip))
}

func tripToResponse(t domain.Trip) tripResponse {
	return tripResponse{
		ID:                     t.ID,
		RouteID:                t.RouteID,
		ShipID:                 t.ShipID,
		DepartureTime:          t.DepartureTime,
		ArrivalTime:            t.ArrivalTime,
		Status:                 t.Status,
		CapacityPax:            t.CapacityPax,
		CapacityVehicles:       t.CapacityVehicles,
		AvailableSeatsPax:      t.AvailableSeatsPax,
		AvailableSlotsVehicles: t.AvailableSlotsVehicles,
		BoardedPax:             t.BoardedPax,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}

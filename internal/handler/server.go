// Package handler implements the HTTP handlers for the ferry boarding API.
// All handlers are methods on Server. Methods are split into domain-specific
// files (trip.go, booking.go, scan.go, ...) but share the same Server struct
// so they can reach its dependencies. Routes wires them onto a chi router.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pkordes/ferry-boarding/internal/domain"
	"github.com/pkordes/ferry-boarding/internal/middleware"
)

// TripServicer defines the trip operations the handlers depend on.
// Defining the interface here, in the consumer package, lets handler tests
// inject a mock without touching the database or service layer.
type TripServicer interface {
	Schedule(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	List(ctx context.Context, filter domain.TripFilter) ([]domain.Trip, int64, error)
	Transition(ctx context.Context, id uuid.UUID, to domain.TripStatus) (domain.Trip, error)
}

// ManifestServicer builds a trip's passenger manifest.
type ManifestServicer interface {
	Manifest(ctx context.Context, tripID uuid.UUID) (domain.Manifest, error)
}

// BookingServicer defines the booking operations the handlers depend on.
type BookingServicer interface {
	Create(ctx context.Context, req domain.BookingRequest) (domain.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	Confirm(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	Cancel(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	CancelTicket(ctx context.Context, ticketID uuid.UUID) (domain.Ticket, error)
}

// ScanValidator validates a single online scan.
type ScanValidator interface {
	Validate(ctx context.Context, req domain.ScanRequest) (domain.ValidationResult, error)
}

// BatchReplayer applies an offline device's queued scans.
type BatchReplayer interface {
	Replay(ctx context.Context, req domain.BatchRequest) ([]domain.ValidationResult, error)
}

// Services bundles the dependencies of Server. A nil field leaves the
// corresponding routes unregistered.
type Services struct {
	Trips     TripServicer
	Manifests ManifestServicer
	Bookings  BookingServicer
	Validator ScanValidator
	Replayer  BatchReplayer
}

// Server holds the dependencies of every handler.
type Server struct {
	trips     TripServicer
	manifests ManifestServicer
	bookings  BookingServicer
	validator ScanValidator
	replayer  BatchReplayer

	// deviceSecret enables bearer-token auth on the scan routes when set.
	deviceSecret []byte
	openAPI      []byte
}

// Option configures a Server.
type Option func(*Server)

// WithDeviceAuth requires scanning devices to present a token signed with
// secret. Without it the scan routes are open, which is only suitable for
// local development.
func WithDeviceAuth(secret []byte) Option {
	return func(s *Server) { s.deviceSecret = secret }
}

// WithOpenAPI serves doc at GET /openapi.yaml.
func WithOpenAPI(doc []byte) Option {
	return func(s *Server) { s.openAPI = doc }
}

// NewServer constructs the Server with all its dependencies.
func NewServer(svc Services, opts ...Option) *Server {
	s := &Server{
		trips:     svc.Trips,
		manifests: svc.Manifests,
		bookings:  svc.Bookings,
		validator: svc.Validator,
		replayer:  svc.Replayer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns a chi router with every API route registered.
// Cross-cutting middleware (request IDs, logging, CORS) is applied by the
// caller around the returned handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.getHealth)
	if s.openAPI != nil {
		r.Get("/openapi.yaml", s.getOpenAPI)
	}

	if s.trips != nil {
		r.Route("/trips", func(r chi.Router) {
			r.Post("/", s.createTrip)
			r.Get("/", s.listTrips)
			r.Get("/{id}", s.getTrip)
			r.Post("/{id}/status", s.transitionTrip)
			if s.manifests != nil {
				r.Get("/{id}/manifest", s.getManifest)
			}
		})
	}

	if s.bookings != nil {
		r.Post("/bookings", s.createBooking)
		r.Get("/bookings/{id}", s.getBooking)
		r.Post("/bookings/{id}/confirm", s.confirmBooking)
		r.Post("/bookings/{id}/cancel", s.cancelBooking)
		r.Post("/tickets/{id}/cancel", s.cancelTicket)
	}

	r.Group(func(r chi.Router) {
		if s.deviceSecret != nil {
			r.Use(middleware.NewDeviceAuth(s.deviceSecret))
		}
		if s.validator != nil {
			r.Post("/scans", s.postScan)
		}
		if s.replayer != nil {
			r.Post("/scans/batch", s.postScanBatch)
		}
	})
	return r
}

package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HoldService is everything the buyer-facing hold routes call.
type HoldService interface {
	HoldPlacer
	HoldLister
	AvailabilityReader
	TTLReader
}

// CheckoutService confirms and releases cart holds.
type CheckoutService interface {
	HoldConfirmer
	HoldReleaser
}

// AdminService seeds the catalog.
type AdminService interface {
	AdminEventService
	AdminZoneService
}

// Deps are the services and settings the router is built from.
type Deps struct {
	Carts    CartSaver
	Holds    HoldService
	Checkout CheckoutService
	Settings TTLAdmin
	Sweeper  Sweeper
	Admin    AdminService

	// Ready is consulted by /ready; nil means always ready.
	Ready       func(ctx context.Context) error
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter wires every route onto a chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Tracing)
	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(d.CORSOrigins))

	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", HealthHandler)
	r.Get("/ready", ReadyHandler(d.Ready))

	r.Put("/carts/{cartID}", HandleSaveCart(d.Carts))
	r.Post("/carts/{cartID}/holds", HandlePlaceHold(d.Holds))
	r.Get("/carts/{cartID}/holds", HandleListHolds(d.Holds))
	r.Post("/carts/{cartID}/holds/confirm", HandleConfirmHold(d.Checkout))
	r.Post("/carts/{cartID}/holds/release", HandleReleaseHold(d.Checkout))
	r.Get("/zones/{zoneID}/availability", HandleAvailability(d.Holds))
	r.Get("/settings/hold-ttl", HandleGetTTL(d.Holds))

	r.Route("/admin", func(r chi.Router) {
		r.Put("/settings/hold-ttl", HandleUpdateTTL(d.Settings))
		r.Get("/settings/hold-ttl/history", HandleTTLHistory(d.Settings))
		r.Post("/sweep", HandleSweep(d.Sweeper))
		r.Get("/events", HandleListEvents(d.Admin))
		r.Post("/events", HandleCreateEvent(d.Admin))
		r.Get("/events/{eventID}/zones", HandleListZones(d.Admin))
		r.Post("/events/{eventID}/zones", HandleCreateZone(d.Admin))
	})

	return r
}

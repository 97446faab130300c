package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"lastmile/config"
	"lastmile/feed"
	"lastmile/routebuild"
	"lastmile/snapshot"
	"lastmile/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db       *store.DB
	builder  *routebuild.Service
	bus      *feed.Bus
	hub      *EventHub
	snaps    *snapshot.Store // nil when snapshots are disabled
	sessions *sessionStore
}

// NewRouter wires handlers with their dependencies and returns the router
// along with a stop function.
func NewRouter(cfg *config.WebConfig, db *store.DB, builder *routebuild.Service, bus *feed.Bus, snaps *snapshot.Store) (http.Handler, func()) {
	h := &Handlers{
		db:       db,
		builder:  builder,
		bus:      bus,
		hub:      NewEventHub(),
		snaps:    snaps,
		sessions: newSessionStore(cfg.SessionSecret),
	}
	h.hub.Start(bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.apiHealth)

	r.Post("/api/login", h.apiLogin)
	r.Post("/api/logout", h.apiLogout)

	r.Post("/api/routes", h.requireOperator(h.apiBuildRoute))
	r.Get("/api/weeks/{weekOf}/routes", h.apiListRoutes)
	r.Get("/api/weeks/{weekOf}/appointments", h.apiListAppointments)
	r.Get("/api/routes/{routeID}", h.apiGetRoute)
	r.Post("/api/routes/{routeID}/status", h.apiRouteStatus)

	r.Post("/api/routes/{routeID}/location", h.apiPostLocation)
	r.Post("/api/routes/{routeID}/stops/{appointmentID}/status", h.apiStopStatus)
	r.Get("/api/routes/{routeID}/events", h.apiRouteEvents)
	r.Get("/api/routes/{routeID}/snapshot", h.apiRouteSnapshot)

	stop := func() {
		h.hub.Stop()
	}
	return r, stop
}

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

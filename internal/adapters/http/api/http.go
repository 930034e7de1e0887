// Package api exposes the bot's operational HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/parley/internal/adapters/http/swagger"
	service "github.com/okian/parley/internal/app"
	"github.com/okian/parley/internal/domain/cache"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
)

// Dependencies required by HTTP handlers. *service.Service satisfies it.
type Dependencies interface {
	StatsProvider

	// Inject validates and dispatches an event.
	Inject(ctx context.Context, ev model.Event) (service.Outcome, error)

	// Entity returns the cached state of a user or channel without
	// touching its reference bit.
	Entity(ctx context.Context, name string) (cache.Record, bool)

	Plugins() []plugin.Info
	SetEnabled(name string, enabled bool) error
}

// Server wires HTTP routes for the operational API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	pluginsHandler *PluginsHandler
	entityHandler  *EntityHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		eventsHandler:  NewEventsHandler(deps),
		pluginsHandler: NewPluginsHandler(deps),
		entityHandler:  NewEntityHandler(deps),
	}
}

// Routes returns the router serving every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.healthHandler.Metrics())
	r.Get("/stats", s.statsHandler.HandleStats)
	r.Post("/events", s.eventsHandler.HandlePostEvent)
	r.Get("/plugins", s.pluginsHandler.HandleList)
	r.Post("/plugins/{name}/enable", s.pluginsHandler.HandleToggle(true))
	r.Post("/plugins/{name}/disable", s.pluginsHandler.HandleToggle(false))
	r.Get("/entities/{name}", s.entityHandler.HandleGet)
	swagger.Register(r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

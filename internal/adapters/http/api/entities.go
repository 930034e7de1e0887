package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/parley/internal/domain/cache"
)

// EntityDependencies reads the entity cache.
type EntityDependencies interface {
	Entity(ctx context.Context, name string) (cache.Record, bool)
}

// EntityHandler handles entity requests.
type EntityHandler struct {
	deps EntityDependencies
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(deps EntityDependencies) *EntityHandler {
	return &EntityHandler{deps: deps}
}

type entityResponse struct {
	Key      string            `json:"key"`
	LastSeen time.Time         `json:"last_seen"`
	Flags    []string          `json:"flags"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// HandleGet handles GET /entities/{name} requests. The lookup does not
// count as a reference for eviction.
func (h *EntityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, ok := h.deps.Entity(r.Context(), name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("%w: %s", ErrNotFound, name))
		return
	}
	flags := rec.Flags.Names()
	if flags == nil {
		flags = []string{}
	}
	writeJSON(w, http.StatusOK, entityResponse{
		Key:      string(rec.Key),
		LastSeen: rec.LastSeen,
		Flags:    flags,
		Attrs:    rec.Attrs,
	})
}

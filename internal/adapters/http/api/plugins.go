package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/parley/internal/domain/plugin"
)

// PluginDependencies lists and toggles registered plugins.
type PluginDependencies interface {
	Plugins() []plugin.Info
	SetEnabled(name string, enabled bool) error
}

// PluginsHandler handles plugin requests.
type PluginsHandler struct {
	deps PluginDependencies
}

// NewPluginsHandler creates a new plugins handler.
func NewPluginsHandler(deps PluginDependencies) *PluginsHandler {
	return &PluginsHandler{deps: deps}
}

// HandleList handles GET /plugins requests.
func (h *PluginsHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Plugins())
}

// HandleToggle returns the handler for POST /plugins/{name}/enable and
// /disable.
func (h *PluginsHandler) HandleToggle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := h.deps.SetEnabled(name, enabled); err != nil {
			if errors.Is(err, plugin.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
	}
}

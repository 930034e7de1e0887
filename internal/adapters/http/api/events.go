package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	service "github.com/okian/parley/internal/app"
	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/model"
)

const maxEventBody = 64 << 10

// EventDependencies defines the interface for event processing dependencies.
type EventDependencies interface {
	Inject(ctx context.Context, ev model.Event) (service.Outcome, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type eventResponse struct {
	ID         string   `json:"id"`
	Seq        uint64   `json:"seq"`
	Decision   string   `json:"decision"`
	Duplicate  bool     `json:"duplicate"`
	Released   int      `json:"released,omitempty"`
	Expired    int      `json:"expired,omitempty"`
	Matched    []string `json:"matched,omitempty"`
	Scheduled  int      `json:"scheduled"`
	Denied     int      `json:"denied,omitempty"`
	Overflowed int      `json:"overflowed,omitempty"`
}

// HandlePostEvent handles POST /events requests. Admitted and deferred
// events answer 202, duplicates 200 and dropped events 429.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	out, err := h.deps.Inject(r.Context(), ev)
	switch {
	case errors.Is(err, service.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	resp := eventResponse{
		ID:         out.Event.ID,
		Seq:        out.Event.Seq,
		Decision:   out.Decision.String(),
		Duplicate:  out.Duplicate,
		Released:   out.Released,
		Expired:    out.Expired,
		Matched:    out.Matched,
		Scheduled:  out.Scheduled,
		Denied:     out.Denied,
		Overflowed: out.Overflowed,
	}
	switch {
	case out.Duplicate:
		writeJSON(w, http.StatusOK, resp)
	case out.Decision == admission.Drop:
		writeJSON(w, http.StatusTooManyRequests, resp)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

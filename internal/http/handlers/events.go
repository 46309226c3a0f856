package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// EventPublisher enqueues inbound events for the event worker.
type EventPublisher interface {
	Publish(ctx context.Context, ev inbound.Event) (inbound.Event, error)
}

// EventsHandler accepts conversation events over HTTP and queues them.
type EventsHandler struct {
	publisher EventPublisher
	logger    *logging.Logger
}

func NewEventsHandler(publisher EventPublisher, logger *logging.Logger) *EventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventsHandler{publisher: publisher, logger: logger}
}

func (h *EventsHandler) Routes(r chi.Router) {
	r.Post("/events", h.Publish)
}

// Publish queues the event and answers 202 with the assigned id.
func (h *EventsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var ev inbound.Event
	if !decodeJSON(w, r, &ev) {
		return
	}
	ev.OrgID = org
	queued, err := h.publisher.Publish(r.Context(), ev)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": queued.ID})
}

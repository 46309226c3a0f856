package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// CalendarStore reads and writes an org's business hours.
type CalendarStore interface {
	Get(ctx context.Context, orgID string) (businesshours.WeeklyHours, error)
	Set(ctx context.Context, orgID string, cal businesshours.WeeklyHours) error
}

// BusinessHoursHandler serves the calendar drips are snapped to.
type BusinessHoursHandler struct {
	store  CalendarStore
	clock  func() time.Time
	logger *logging.Logger
}

func NewBusinessHoursHandler(store CalendarStore, logger *logging.Logger) *BusinessHoursHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BusinessHoursHandler{store: store, clock: time.Now, logger: logger}
}

func (h *BusinessHoursHandler) Routes(r chi.Router) {
	r.Get("/business-hours", h.Get)
	r.Put("/business-hours", h.Put)
}

type businessHoursResponse struct {
	Hours       businesshours.WeeklyHours `json:"hours"`
	OpenNow     bool                      `json:"open_now"`
	NextOpening *time.Time                `json:"next_opening,omitempty"`
}

func (h *BusinessHoursHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	cal, err := h.store.Get(r.Context(), org)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.describe(cal))
}

func (h *BusinessHoursHandler) Put(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var cal businesshours.WeeklyHours
	if !decodeJSON(w, r, &cal) {
		return
	}
	if err := h.store.Set(r.Context(), org, cal); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.describe(cal))
}

func (h *BusinessHoursHandler) describe(cal businesshours.WeeklyHours) businessHoursResponse {
	now := h.clock()
	resp := businessHoursResponse{Hours: cal, OpenNow: businesshours.IsOpen(now, cal)}
	if next, err := businesshours.NextBusinessMoment(now, cal); err == nil {
		resp.NextOpening = &next
	}
	return resp
}

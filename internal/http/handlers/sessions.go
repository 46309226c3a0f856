package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/session"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// SessionsHandler serves session lifecycle endpoints.
type SessionsHandler struct {
	engine *engine.Engine
	logger *logging.Logger
}

func NewSessionsHandler(e *engine.Engine, logger *logging.Logger) *SessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionsHandler{engine: e, logger: logger}
}

// Routes mounts the handler under an org-scoped router.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.Start)
	r.Get("/contacts/{contactID}/session", h.FindOpen)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/reply", h.Reply)
		r.Post("/answers", h.Answers)
		r.Post("/abandon", h.Abandon)
		r.Post("/recover", h.Recover)
		r.Post("/appointment", h.Appointment)
		r.Get("/drips", h.Drips)
	})
}

type startSessionRequest struct {
	ContactID string `json:"contact_id"`
	FlowID    string `json:"flow_id"`
}

type startSessionResponse struct {
	Session *session.Session `json:"session"`
	Created bool             `json:"created"`
}

// Start enrolls a contact. An already open session is returned with 200.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ContactID) == "" || strings.TrimSpace(req.FlowID) == "" {
		jsonError(w, "contact_id and flow_id required", http.StatusBadRequest)
		return
	}
	s, created, err := h.engine.StartSession(r.Context(), engine.StartRequest{OrgID: org, ContactID: req.ContactID, FlowID: req.FlowID})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, startSessionResponse{Session: s, Created: created})
}

func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	s, err := h.engine.GetSession(r.Context(), org, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionsHandler) FindOpen(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	s, err := h.engine.FindOpenSession(r.Context(), org, chi.URLParam(r, "contactID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type replyRequest struct {
	Label        string             `json:"label"`
	Answers      map[string]string  `json:"answers"`
	DripOverride []flow.DripMessage `json:"drip_override"`
}

// Reply applies classifier output to the session.
func (h *SessionsHandler) Reply(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var req replyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		jsonError(w, "label required", http.StatusBadRequest)
		return
	}
	res, err := h.engine.HandleReply(r.Context(), engine.Reply{
		OrgID:        org,
		SessionID:    chi.URLParam(r, "sessionID"),
		Label:        req.Label,
		Answers:      req.Answers,
		DripOverride: req.DripOverride,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type answersRequest struct {
	Answers map[string]string `json:"answers"`
}

func (h *SessionsHandler) Answers(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var req answersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Answers) == 0 {
		jsonError(w, "answers required", http.StatusBadRequest)
		return
	}
	s, err := h.engine.RecordAnswers(r.Context(), org, chi.URLParam(r, "sessionID"), req.Answers)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionsHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.MarkAbandoned)
}

func (h *SessionsHandler) Recover(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Recover)
}

type sessionOp func(ctx context.Context, orgID, sessionID string) (*session.Session, error)

func (h *SessionsHandler) transition(w http.ResponseWriter, r *http.Request, fn sessionOp) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	s, err := fn(r.Context(), org, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type appointmentRequest struct {
	When time.Time `json:"when"`
}

func (h *SessionsHandler) Appointment(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var req appointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.When.IsZero() {
		jsonError(w, "when required", http.StatusBadRequest)
		return
	}
	s, err := h.engine.BookAppointment(r.Context(), org, chi.URLParam(r, "sessionID"), req.When)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *SessionsHandler) Drips(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	drips, err := h.engine.ListDrips(r.Context(), org, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drips": drips})
}

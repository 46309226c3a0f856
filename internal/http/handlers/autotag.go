package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-nurture/internal/autotag"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// AutoTagHandler manages auto-tagging rules and runs events through them.
type AutoTagHandler struct {
	rules   autotag.RuleStore
	service *autotag.Service
	logger  *logging.Logger
}

func NewAutoTagHandler(rules autotag.RuleStore, service *autotag.Service, logger *logging.Logger) *AutoTagHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AutoTagHandler{rules: rules, service: service, logger: logger}
}

func (h *AutoTagHandler) Routes(r chi.Router) {
	r.Route("/autotag", func(r chi.Router) {
		r.Get("/rules", h.ListRules)
		r.Post("/rules", h.SaveRule)
		r.Delete("/rules/{ruleID}", h.DeleteRule)
		r.Post("/evaluate", h.Evaluate)
		r.Post("/preview", h.Preview)
	})
}

func (h *AutoTagHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	rules, err := h.rules.ListRules(r.Context(), org)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if rules == nil {
		rules = []autotag.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// SaveRule creates a rule, or replaces it when the body carries an id.
func (h *AutoTagHandler) SaveRule(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var rule autotag.Rule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.OrgID = org
	saved, err := h.rules.SaveRule(r.Context(), rule)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *AutoTagHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	if err := h.rules.DeleteRule(r.Context(), org, chi.URLParam(r, "ruleID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Evaluate runs an event through the org's rules and persists the result.
func (h *AutoTagHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var ev autotag.Event
	if !decodeJSON(w, r, &ev) {
		return
	}
	ev.OrgID = org
	if ev.ContactID == "" || ev.Type == "" {
		jsonError(w, "type and contact_id required", http.StatusBadRequest)
		return
	}
	mutations, err := h.service.Process(r.Context(), ev)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if mutations == nil {
		mutations = []autotag.TagMutation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mutations": mutations})
}

type previewRequest struct {
	Event   autotag.Event          `json:"event"`
	Contact autotag.ContactTagView `json:"contact"`
}

type skippedRule struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}

// Preview evaluates an event against a supplied tag view without storing anything.
func (h *AutoTagHandler) Preview(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rules, err := h.rules.ListRules(r.Context(), org)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Event.OrgID = org
	mutations, view, skipped := autotag.EvaluateAll(req.Event, req.Contact, rules)
	if mutations == nil {
		mutations = []autotag.TagMutation{}
	}
	skips := make([]skippedRule, 0, len(skipped))
	for _, s := range skipped {
		skips = append(skips, skippedRule{RuleID: s.RuleID, Error: s.Err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"mutations": mutations, "contact": view, "skipped": skips})
}

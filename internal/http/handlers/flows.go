package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/messaging/templates"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// FlowsHandler serves flow definitions. Saving appends a new version.
type FlowsHandler struct {
	repo   flow.Repository
	logger *logging.Logger
}

func NewFlowsHandler(repo flow.Repository, logger *logging.Logger) *FlowsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FlowsHandler{repo: repo, logger: logger}
}

func (h *FlowsHandler) Routes(r chi.Router) {
	r.Get("/flows", h.List)
	r.Put("/flows/{flowID}", h.Save)
	r.Get("/flows/{flowID}", h.Get)
}

func (h *FlowsHandler) List(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	defs, err := h.repo.List(r.Context(), org)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if defs == nil {
		defs = []*flow.Definition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": defs})
}

// Get returns the latest version, or the one named by ?version=.
func (h *FlowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	flowID := chi.URLParam(r, "flowID")
	var (
		def *flow.Definition
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			jsonError(w, "version must be a positive integer", http.StatusBadRequest)
			return
		}
		def, err = h.repo.GetVersion(r.Context(), org, flowID, version)
	} else {
		def, err = h.repo.Get(r.Context(), org, flowID)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *FlowsHandler) Save(w http.ResponseWriter, r *http.Request) {
	org, ok := orgID(w, r)
	if !ok {
		return
	}
	var def flow.Definition
	if !decodeJSON(w, r, &def) {
		return
	}
	def.OrgID = org
	def.ID = chi.URLParam(r, "flowID")
	if err := templates.CheckFlow(&def); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	saved, err := h.repo.Save(r.Context(), &def)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

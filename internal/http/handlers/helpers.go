// Package handlers exposes the nurture engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/medspa-nurture/internal/autotag"
	"github.com/wolfman30/medspa-nurture/internal/businesshours"
	"github.com/wolfman30/medspa-nurture/internal/engine"
	"github.com/wolfman30/medspa-nurture/internal/flow"
	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/internal/session"
	"github.com/wolfman30/medspa-nurture/internal/tenancy"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into dst and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func orgID(w http.ResponseWriter, r *http.Request) (string, bool) {
	scope, ok := tenancy.FromContext(r.Context())
	if !ok {
		jsonError(w, "missing org id", http.StatusBadRequest)
	}
	return scope.OrgID, ok
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, flow.ErrFlowNotFound),
		errors.Is(err, autotag.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidSessionTransition),
		errors.Is(err, engine.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownResponseLabel),
		errors.Is(err, session.ErrUnknownStep),
		errors.Is(err, businesshours.ErrNoBusinessHoursConfigured),
		errors.Is(err, businesshours.ErrInvalidHours),
		errors.Is(err, flow.ErrInvalidFlow),
		errors.Is(err, autotag.ErrInvalidRule),
		errors.Is(err, inbound.ErrInvalidEvent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		attrs := []any{"path", r.URL.Path, "error", err}
		if scope, ok := tenancy.FromContext(r.Context()); ok {
			attrs = append(scope.LogAttrs(), attrs...)
		}
		logger.Error("request failed", attrs...)
		jsonError(w, "internal error", status)
		return
	}
	jsonError(w, err.Error(), status)
}

package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/medspa-nurture/internal/http/middleware"
)

func orgRouter(t *testing.T, claims *httpmiddleware.Claims) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	if claims != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(httpmiddleware.WithClaims(req.Context(), *claims)))
			})
		})
	}
	r.With(requireOrgID).Get("/orgs/{orgID}/x", func(w http.ResponseWriter, r *http.Request) {
		scope, ok := scopeFromRequest(r)
		if !ok || scope.OrgID != "org-abc" {
			t.Fatalf("expected org id propagated, got %s / %v", scope.OrgID, ok)
		}
		if claims != nil && scope.Actor != claims.Subject {
			t.Fatalf("expected actor %q, got %q", claims.Subject, scope.Actor)
		}
		w.WriteHeader(http.StatusTeapot)
	})
	return r
}

func TestRequireOrgIDPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	orgRouter(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orgs/org-abc/x", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestRequireOrgIDRecordsActor(t *testing.T) {
	claims := &httpmiddleware.Claims{OrgID: "org-abc"}
	claims.Subject = "ops"
	rr := httptest.NewRecorder()
	orgRouter(t, claims).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orgs/org-abc/x", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestRequireOrgIDRejectsOtherOrgToken(t *testing.T) {
	rr := httptest.NewRecorder()
	orgRouter(t, &httpmiddleware.Claims{OrgID: "org-other"}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orgs/org-abc/x", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/medspa-nurture/internal/http/middleware"
	"github.com/wolfman30/medspa-nurture/internal/tenancy"
)

// requireOrgID takes the org from the {orgID} path segment, checks the
// caller's token may act on it and stores the scope in the request context.
func requireOrgID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(chi.URLParam(r, "orgID"))
		if orgID == "" {
			http.Error(w, "missing org id", http.StatusBadRequest)
			return
		}
		scope := tenancy.Scope{OrgID: orgID}
		if claims, ok := httpmiddleware.AdminClaimsFromContext(r.Context()); ok {
			if !claims.AllowsOrg(orgID) {
				http.Error(w, "token not valid for org", http.StatusForbidden)
				return
			}
			scope.Actor = claims.Subject
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithScope(r.Context(), scope)))
	})
}

func scopeFromRequest(r *http.Request) (tenancy.Scope, bool) {
	return tenancy.FromContext(r.Context())
}

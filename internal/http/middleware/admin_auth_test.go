package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

func serve(mw func(http.Handler) http.Handler, req *http.Request, next http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec
}

func noop(http.ResponseWriter, *http.Request) {}

func TestAdminJWTMissingSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	if rec := serve(AdminJWT(""), req, noop); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	if rec := serve(AdminJWT("secret"), req, noop); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+signedAdminToken(t, "wrong", ""))
	if rec := serve(AdminJWT("secret"), req, noop); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+signedAdminToken(t, "secret", "org-1"))

	called := false
	rec := serve(AdminJWT("secret"), req, func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		if !ok {
			t.Fatalf("expected admin claims in context")
		}
		if !claims.AllowsOrg("org-1") || claims.AllowsOrg("org-2") {
			t.Fatalf("unexpected org scope %q", claims.OrgID)
		}
		w.WriteHeader(http.StatusOK)
	})

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestClaimsWithoutOrgAllowAll(t *testing.T) {
	if !(Claims{}).AllowsOrg("anything") {
		t.Fatalf("unscoped claims should allow every org")
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("info", &buf)
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	serve(RequestLogger(logger), req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"path":"/boom"`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

func signedAdminToken(t *testing.T, secret, orgID string) string {
	t.Helper()
	claims := Claims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/auth"
	"github.com/angelmondragon/loyalty-core/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer"}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	tenantID := uuid.New()
	token := mintTestToken(t, auth.RoleManager, &tenantID)

	var captured struct {
		user   string
		role   auth.Role
		claims *auth.AccessTokenClaims
	}
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.claims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.user == "" {
		t.Fatal("expected user id in context")
	}
	if captured.role != auth.RoleManager {
		t.Fatalf("expected role manager got %s", captured.role)
	}
	if captured.claims == nil || *captured.claims.TenantID != tenantID {
		t.Fatal("expected tenant claim in context")
	}
}

func tenantRouter(t *testing.T, next http.Handler) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/tenants/{tenantId}", func(r chi.Router) {
		r.Use(Auth(testJWT, nil), TenantScope(nil))
		r.Get("/", next.ServeHTTP)
	})
	return r
}

func TestTenantScope(t *testing.T) {
	tenantID := uuid.New()
	other := uuid.New()

	var seen uuid.UUID
	router := tenantRouter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = TenantIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{"matching tenant", mintTestToken(t, auth.RoleStaff, &tenantID), "/tenants/" + tenantID.String() + "/", http.StatusOK},
		{"foreign tenant", mintTestToken(t, auth.RoleStaff, &other), "/tenants/" + tenantID.String() + "/", http.StatusForbidden},
		{"platform role", mintTestToken(t, auth.RolePlatform, nil), "/tenants/" + tenantID.String() + "/", http.StatusOK},
		{"malformed tenant", mintTestToken(t, auth.RoleStaff, &tenantID), "/tenants/not-a-uuid/", http.StatusBadRequest},
	}
	for _, tc := range cases {
		seen = uuid.Nil
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != tc.status {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.status, resp.Code)
		}
		if tc.status == http.StatusOK && seen != tenantID {
			t.Fatalf("%s: expected tenant %s in context, got %s", tc.name, tenantID, seen)
		}
	}
}

func TestRequireRole(t *testing.T) {
	tenantID := uuid.New()
	mw := RequireRole(nil, auth.RoleManager, auth.RolePlatform)

	for role, want := range map[auth.Role]int{
		auth.RoleStaff:    http.StatusForbidden,
		auth.RoleManager:  http.StatusOK,
		auth.RolePlatform: http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), &auth.AccessTokenClaims{UserID: uuid.New(), TenantID: &tenantID, Role: role}))
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("%s: expected %d got %d", role, want, resp.Code)
		}
	}
}

func mintTestToken(t *testing.T, role auth.Role, tenantID *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), time.Hour, auth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "loyalty-core"}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	userID := uuid.New()
	tenantID := uuid.New()

	token, err := MintAccessToken(testJWT, now, 30*time.Minute, AccessTokenPayload{
		UserID:   userID,
		TenantID: &tenantID,
		Role:     RoleManager,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a compact jwt, got %q", token)
	}

	claims, err := ParseAccessToken(testJWT, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != userID || claims.Role != RoleManager {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.TenantID == nil || *claims.TenantID != tenantID {
		t.Fatal("tenant claim lost")
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
	if !claims.Allows(tenantID) || claims.Allows(uuid.New()) {
		t.Fatal("tenant scoping wrong")
	}
}

func TestMintRequiresTenantForScopedRoles(t *testing.T) {
	if _, err := MintAccessToken(testJWT, time.Now(), time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: RoleStaff}); err == nil {
		t.Fatal("expected error without tenant")
	}
	token, err := MintAccessToken(testJWT, time.Now(), time.Minute, AccessTokenPayload{UserID: uuid.New(), Role: RolePlatform})
	if err != nil {
		t.Fatalf("platform tokens are cross tenant: %v", err)
	}
	claims, err := ParseAccessToken(testJWT, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !claims.Allows(uuid.New()) {
		t.Fatal("platform role should reach every tenant")
	}
}

func TestParseAccessTokenRejects(t *testing.T) {
	tenantID := uuid.New()
	payload := AccessTokenPayload{UserID: uuid.New(), TenantID: &tenantID, Role: RoleStaff}

	expired, err := MintAccessToken(testJWT, time.Now().Add(-time.Hour), time.Minute, payload)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(testJWT, expired); err == nil {
		t.Fatal("expected expired token to fail")
	}

	valid, _ := MintAccessToken(testJWT, time.Now(), time.Minute, payload)
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "other", Issuer: "loyalty-core"}, valid); err == nil {
		t.Fatal("expected signature mismatch")
	}
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, valid); err == nil {
		t.Fatal("expected issuer mismatch")
	}
	if _, err := ParseAccessToken(testJWT, "not-a-token"); err == nil {
		t.Fatal("expected malformed token to fail")
	}
}

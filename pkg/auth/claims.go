package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role scopes what a bearer may do inside its tenant.
type Role string

const (
	RoleStaff    Role = "staff"
	RoleManager  Role = "manager"
	RoleSystem   Role = "system"
	RolePlatform Role = "platform"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleStaff, RoleManager, RoleSystem, RolePlatform:
		return true
	}
	return false
}

// CrossTenant reports whether the role may act on any tenant.
func (r Role) CrossTenant() bool {
	return r == RolePlatform
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
	Role     Role
	JTI      string
}

// AccessTokenClaims is the typed JWT presented to the loyalty API.
type AccessTokenClaims struct {
	UserID   uuid.UUID  `json:"user_id"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
	Role     Role       `json:"role"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant access to tenantID.
func (c *AccessTokenClaims) Allows(tenantID uuid.UUID) bool {
	if c == nil {
		return false
	}
	if c.Role.CrossTenant() {
		return true
	}
	return c.TenantID != nil && *c.TenantID == tenantID
}

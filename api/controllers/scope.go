package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/api/middleware"
	"github.com/angelmondragon/loyalty-core/api/validators"
	"github.com/angelmondragon/loyalty-core/internal/memberships"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
)

type membershipGetter interface {
	Get(ctx context.Context, tenantID, membershipID uuid.UUID) (*memberships.MembershipDTO, error)
}

func tenantFromRequest(r *http.Request) (uuid.UUID, error) {
	if tenantID, ok := middleware.TenantIDFromContext(r.Context()); ok {
		return tenantID, nil
	}
	return validators.ParseUUIDParam(r, "tenantId")
}

// scopedMembership resolves {membershipId} and confirms it belongs to the request tenant.
func scopedMembership(r *http.Request, members membershipGetter) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	membershipID, err := validators.ParseUUIDParam(r, "membershipId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if members == nil {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeInternal, "membership service unavailable")
	}
	if _, err := members.Get(r.Context(), tenantID, membershipID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, membershipID, nil
}

func actorFromRequest(r *http.Request) string {
	if userID := middleware.UserIDFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}
	return ""
}

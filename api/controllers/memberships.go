package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/api/responses"
	"github.com/angelmondragon/loyalty-core/api/validators"
	"github.com/angelmondragon/loyalty-core/internal/memberships"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type membershipService interface {
	membershipGetter
	Join(ctx context.Context, tenantID, userID uuid.UUID) (*memberships.MembershipDTO, error)
	Deactivate(ctx context.Context, tenantID, membershipID uuid.UUID) (*memberships.MembershipDTO, error)
	ListTenantMembers(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]memberships.MemberDTO, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]memberships.MembershipWithTenant, error)
}

type joinMembershipRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// JoinMembership enrolls a user in the tenant's program. A deactivated membership is
// reactivated; an active one is a conflict.
func JoinMembership(svc membershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req joinMembershipRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		membership, err := svc.Join(r.Context(), tenantID, uuid.MustParse(req.UserID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, membership)
	}
}

func GetMembership(svc membershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		membershipID, err := validators.ParseUUIDParam(r, "membershipId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		membership, err := svc.Get(r.Context(), tenantID, membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, membership)
	}
}

func ListMembers(svc membershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		activeOnly, err := validators.ParseQueryBool(r, "active", true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		members, err := svc.ListTenantMembers(r.Context(), tenantID, activeOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, members)
	}
}

func DeactivateMembership(svc membershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "membership service unavailable"))
			return
		}
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		membershipID, err := validators.ParseUUIDParam(r, "membershipId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		membership, err := svc.Deactivate(r.Context(), tenantID, membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, membership)
	}
}

// ListUserMemberships lists every tenant program a user belongs to. Platform only.
func ListUserMemberships(svc membershipService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListUserMemberships(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if rows == nil {
			rows = []memberships.MembershipWithTenant{}
		}
		responses.WriteSuccess(w, rows)
	}
}

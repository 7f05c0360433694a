package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/api/responses"
	"github.com/angelmondragon/loyalty-core/api/validators"
	"github.com/angelmondragon/loyalty-core/internal/referrals"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type referralService interface {
	CreateReferral(ctx context.Context, input referrals.CreateInput) (*models.Referral, error)
	CancelReferral(ctx context.Context, tenantID, referralID uuid.UUID) (*models.Referral, error)
	GetReferral(ctx context.Context, tenantID, referralID uuid.UUID) (*models.Referral, error)
	ListByReferrer(ctx context.Context, tenantID, referrerMembershipID uuid.UUID) ([]models.Referral, error)
}

type createReferralRequest struct {
	ReferrerMembershipID string `json:"referrer_membership_id" validate:"required,uuid"`
	ReferredMembershipID string `json:"referred_membership_id" validate:"required,uuid,nefield=ReferrerMembershipID"`
	ReferralCode         string `json:"referral_code" validate:"required,max=64"`
}

func CreateReferral(svc referralService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createReferralRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		referral, err := svc.CreateReferral(r.Context(), referrals.CreateInput{
			TenantID:             tenantID,
			ReferrerMembershipID: uuid.MustParse(req.ReferrerMembershipID),
			ReferredMembershipID: uuid.MustParse(req.ReferredMembershipID),
			ReferralCode:         validators.SanitizeString(req.ReferralCode, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toReferralDTO(*referral))
	}
}

func GetReferral(svc referralService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		referralID, err := validators.ParseUUIDParam(r, "referralId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		referral, err := svc.GetReferral(r.Context(), tenantID, referralID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReferralDTO(*referral))
	}
}

func CancelReferral(svc referralService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		referralID, err := validators.ParseUUIDParam(r, "referralId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		referral, err := svc.CancelReferral(r.Context(), tenantID, referralID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReferralDTO(*referral))
	}
}

// ListReferralsByReferrer lists the referrals a membership has made.
func ListReferralsByReferrer(svc referralService, logg *logger.Logger) http.HandlerFunc {
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
		rows, err := svc.ListByReferrer(r.Context(), tenantID, membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]referralDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toReferralDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/api/responses"
	"github.com/angelmondragon/loyalty-core/api/validators"
	"github.com/angelmondragon/loyalty-core/internal/tenants"
	"github.com/angelmondragon/loyalty-core/internal/usage"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type tenantService interface {
	CreateTenant(ctx context.Context, input tenants.CreateTenantInput) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	DeleteTenant(ctx context.Context, tenantID uuid.UUID) (*tenants.CascadeResult, error)
	CreateBranch(ctx context.Context, tenantID uuid.UUID, name string) (*models.Branch, error)
	DeleteBranch(ctx context.Context, tenantID, branchID uuid.UUID) error
	ListBranches(ctx context.Context, tenantID uuid.UUID) ([]models.Branch, error)
	CreateReward(ctx context.Context, input tenants.CreateRewardInput) (*models.Reward, error)
	DeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID) error
	ListRewards(ctx context.Context, tenantID uuid.UUID) ([]models.Reward, error)
}

type usageRecalculator interface {
	RecalculateUsageForTenant(ctx context.Context, tenantID uuid.UUID) (*usage.Reconciliation, error)
}

type createTenantRequest struct {
	PartnerID string `json:"partner_id" validate:"required,uuid"`
	Name      string `json:"name" validate:"required,max=128"`
}

// CreateTenant registers a brand under a partner. The slug is derived from the name.
func CreateTenant(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTenantRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenant, err := svc.CreateTenant(r.Context(), tenants.CreateTenantInput{
			PartnerID: uuid.MustParse(req.PartnerID),
			Name:      validators.SanitizeString(req.Name, 128),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toTenantDTO(*tenant))
	}
}

func GetTenant(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tenant, err := svc.GetTenant(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTenantDTO(*tenant))
	}
}

// DeleteTenant deactivates the tenant with its branches, rewards and memberships and
// releases the matching usage counters.
func DeleteTenant(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.DeleteTenant(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

type namedRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

func CreateBranch(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req namedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		branch, err := svc.CreateBranch(r.Context(), tenantID, validators.SanitizeString(req.Name, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toBranchDTO(*branch))
	}
}

func ListBranches(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListBranches(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]branchDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toBranchDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func DeleteBranch(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		branchID, err := validators.ParseUUIDParam(r, "branchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteBranch(r.Context(), tenantID, branchID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type createRewardRequest struct {
	Name       string `json:"name" validate:"required,max=128"`
	PointsCost int64  `json:"points_cost" validate:"gt=0"`
}

func CreateReward(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req createRewardRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reward, err := svc.CreateReward(r.Context(), tenants.CreateRewardInput{
			TenantID:   tenantID,
			Name:       validators.SanitizeString(req.Name, 128),
			PointsCost: req.PointsCost,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toRewardDTO(*reward))
	}
}

func ListRewards(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListRewards(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]rewardDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toRewardDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func DeleteReward(svc tenantService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rewardID, err := validators.ParseUUIDParam(r, "rewardId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteReward(r.Context(), tenantID, rewardID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RecalculateUsage recounts the subscription usage of the tenant's partner.
func RecalculateUsage(svc usageRecalculator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.RecalculateUsageForTenant(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReconciliationDTO(res))
	}
}

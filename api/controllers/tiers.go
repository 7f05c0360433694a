package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/loyalty-core/api/responses"
	"github.com/angelmondragon/loyalty-core/api/validators"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type tierService interface {
	EvaluateTier(ctx context.Context, membershipID uuid.UUID) (*tiers.EvaluationResult, error)
	GetTierStatus(ctx context.Context, membershipID uuid.UUID) (*tiers.StatusView, error)
	GetTierHistory(ctx context.Context, membershipID uuid.UUID, limit int) ([]models.TierChangeLog, error)
	CreateTier(ctx context.Context, input tiers.CreateTierInput) (*models.CustomerTier, error)
	ListTiers(ctx context.Context, tenantID uuid.UUID) ([]models.CustomerTier, error)
	SetPolicy(ctx context.Context, input tiers.PolicyInput) (*models.TierPolicy, error)
}

func EvaluateTier(svc tierService, members membershipGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.EvaluateTier(r.Context(), membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toEvaluationDTO(res))
	}
}

func GetTierStatus(svc tierService, members membershipGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetTierStatus(r.Context(), membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toStatusViewDTO(view))
	}
}

func GetTierHistory(svc tierService, members membershipGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.GetTierHistory(r.Context(), membershipID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]tierChangeDTO, 0, len(history))
		for _, entry := range history {
			out = append(out, toTierChangeDTO(entry))
		}
		responses.WriteSuccess(w, out)
	}
}

type createTierRequest struct {
	Name       string `json:"name" validate:"required,max=64"`
	MinPoints  int64  `json:"min_points" validate:"min=0"`
	MaxPoints  *int64 `json:"max_points" validate:"omitempty,min=0"`
	Multiplier string `json:"multiplier" validate:"omitempty,positive_decimal"`
	Priority   int    `json:"priority" validate:"min=1"`
}

func CreateTier(svc tierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createTierRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := tiers.CreateTierInput{
			TenantID:  tenantID,
			Name:      validators.SanitizeString(req.Name, 64),
			MinPoints: req.MinPoints,
			MaxPoints: req.MaxPoints,
			Priority:  req.Priority,
		}
		if raw := strings.TrimSpace(req.Multiplier); raw != "" {
			m, err := decimal.NewFromString(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid multiplier"))
				return
			}
			input.Multiplier = &m
		}

		tier, err := svc.CreateTier(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toTierDTO(*tier))
	}
}

func ListTiers(svc tierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListTiers(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]tierDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toTierDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

type tierPolicyRequest struct {
	EvaluationWindow    string `json:"evaluation_window" validate:"required,oneof=MONTHLY QUARTERLY ROLLING_30 ROLLING_90"`
	DowngradeStrategy   string `json:"downgrade_strategy" validate:"required,oneof=GRACE_PERIOD IMMEDIATE NEVER"`
	GracePeriodDays     int    `json:"grace_period_days" validate:"min=0,max=365"`
	MinTierDurationDays int    `json:"min_tier_duration_days" validate:"min=0,max=365"`
}

// SetTierPolicy replaces the tenant's tier policy override.
func SetTierPolicy(svc tierService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := tenantFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req tierPolicyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		policy, err := svc.SetPolicy(r.Context(), tiers.PolicyInput{
			TenantID:            tenantID,
			EvaluationWindow:    enums.EvaluationWindow(req.EvaluationWindow),
			DowngradeStrategy:   enums.DowngradeStrategy(req.DowngradeStrategy),
			GracePeriodDays:     req.GracePeriodDays,
			MinTierDurationDays: req.MinTierDurationDays,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toTierPolicyDTO(*policy))
	}
}

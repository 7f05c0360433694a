package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/api/responses"
	"github.com/angelmondragon/loyalty-core/api/validators"
	"github.com/angelmondragon/loyalty-core/internal/ledger"
	"github.com/angelmondragon/loyalty-core/internal/loyalty"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/pagination"
	"github.com/angelmondragon/loyalty-core/pkg/types"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxHorizonDays    = 365
)

type ledgerService interface {
	GetBalance(ctx context.Context, membershipID uuid.UUID) (int64, error)
	GetExpiringSoon(ctx context.Context, membershipID uuid.UUID, horizonDays int) ([]ledger.ExpiringLot, error)
	RecomputeBalance(ctx context.Context, membershipID uuid.UUID) (*ledger.RecomputeResult, error)
	ListTransactionPage(ctx context.Context, membershipID uuid.UUID, params pagination.Params) (*ledger.TransactionPage, error)
}

type transactionRecorder interface {
	AppendTransaction(ctx context.Context, input ledger.AppendInput) (*loyalty.TransactionResult, error)
	ReverseTransaction(ctx context.Context, input ledger.ReverseInput) (*loyalty.TransactionResult, error)
}

type purchaseRecorder interface {
	RecordPurchase(ctx context.Context, input loyalty.PurchaseInput) (*loyalty.PurchaseResult, error)
}

type appendTransactionRequest struct {
	Type                    string         `json:"type" validate:"required,oneof=EARNING REDEEM ADJUSTMENT REVERSAL"`
	PointsDelta             int64          `json:"points_delta"`
	ExpiresAt               *time.Time     `json:"expires_at"`
	ExpiresInDays           int            `json:"expires_in_days" validate:"omitempty,min=1,max=3650"`
	RewardID                *uuid.UUID     `json:"reward_id"`
	ReversalOfTransactionID *uuid.UUID     `json:"reversal_of_transaction_id"`
	IdempotencyKey          string         `json:"idempotency_key" validate:"max=128"`
	ReasonCode              string         `json:"reason_code" validate:"max=64"`
	Metadata                map[string]any `json:"metadata"`
}

// AppendTransaction writes one ledger entry and re-evaluates the tier. REVERSAL
// requests are routed to the reversal path, which derives the delta from the original entry.
func AppendTransaction(svc transactionRecorder, logg *logger.Logger) http.HandlerFunc {
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

		var req appendTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(req.IdempotencyKey)
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(idempotencyHeader))
		}
		actor := actorFromRequest(r)
		reason := validators.SanitizeString(req.ReasonCode, 64)

		var res *loyalty.TransactionResult
		if enums.TransactionType(req.Type) == enums.TransactionReversal {
			if req.ReversalOfTransactionID == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
					WithDetails(map[string]string{"reversal_of_transaction_id": "is required"}))
				return
			}
			res, err = svc.ReverseTransaction(r.Context(), ledger.ReverseInput{
				TenantID:       tenantID,
				MembershipID:   membershipID,
				TransactionID:  *req.ReversalOfTransactionID,
				IdempotencyKey: key,
				ReasonCode:     reason,
				CreatedBy:      actor,
			})
		} else {
			expiresAt := req.ExpiresAt
			if req.ExpiresInDays > 0 {
				if expiresAt != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "expires_at and expires_in_days are mutually exclusive"))
					return
				}
				at := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
				expiresAt = &at
			}
			res, err = svc.AppendTransaction(r.Context(), ledger.AppendInput{
				TenantID:       tenantID,
				MembershipID:   membershipID,
				Type:           enums.TransactionType(req.Type),
				PointsDelta:    req.PointsDelta,
				ExpiresAt:      expiresAt,
				RewardID:       req.RewardID,
				IdempotencyKey: key,
				ReasonCode:     reason,
				CreatedBy:      actor,
				Metadata:       req.Metadata,
			})
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, toAppendResponse(res))
	}
}

// ListTransactions pages through history newest first using ?limit= and ?cursor=.
func ListTransactions(svc ledgerService, members membershipGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListTransactionPage(r.Context(), membershipID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := types.Page[transactionDTO]{Items: make([]transactionDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, row := range page.Items {
			out.Items = append(out.Items, toTransactionDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func GetBalance(svc ledgerService, members membershipGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.GetBalance(r.Context(), membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"membership_id": membershipID,
			"balance":       balance,
		})
	}
}

// GetExpiringSoon lists lots expiring within ?days=, defaulting to defaultDays.
func GetExpiringSoon(svc ledgerService, members membershipGetter, defaultDays int, logg *logger.Logger) http.HandlerFunc {
	if defaultDays <= 0 || defaultDays > maxHorizonDays {
		defaultDays = 30
	}
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		days, err := validators.ParseQueryInt(r, "days", defaultDays, 1, maxHorizonDays)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lots, err := svc.GetExpiringSoon(r.Context(), membershipID, days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var total int64
		for _, lot := range lots {
			total += lot.Points
		}
		if lots == nil {
			lots = []ledger.ExpiringLot{}
		}
		responses.WriteSuccess(w, map[string]any{
			"horizon_days": days,
			"total":        total,
			"lots":         lots,
		})
	}
}

func RecomputeBalance(svc ledgerService, members membershipGetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, membershipID, err := scopedMembership(r, members)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.RecomputeBalance(r.Context(), membershipID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

type purchaseRequest struct {
	BasePoints    int64  `json:"base_points" validate:"gt=0"`
	ExpiresInDays int    `json:"expires_in_days" validate:"omitempty,min=1,max=3650"`
	PurchaseID    string `json:"purchase_id" validate:"max=128"`
}

// RecordPurchase earns tier-multiplied points, re-evaluates the tier and settles
// referral side effects in one transaction.
func RecordPurchase(svc purchaseRecorder, logg *logger.Logger) http.HandlerFunc {
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

		var req purchaseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaseID := strings.TrimSpace(req.PurchaseID)
		if purchaseID == "" {
			purchaseID = strings.TrimSpace(r.Header.Get(idempotencyHeader))
		}

		res, err := svc.RecordPurchase(r.Context(), loyalty.PurchaseInput{
			TenantID:      tenantID,
			MembershipID:  membershipID,
			BasePoints:    req.BasePoints,
			ExpiresInDays: req.ExpiresInDays,
			PurchaseID:    purchaseID,
			CreatedBy:     actorFromRequest(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, toPurchaseResponse(res))
	}
}

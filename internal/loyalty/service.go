// Package loyalty chains the ledger, tier and referral services so every ledger
// write re-evaluates the membership tier in the same transaction.
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/internal/ledger"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type ledgerAppender interface {
	AppendInTx(ctx context.Context, tx *gorm.DB, input ledger.AppendInput) (*ledger.AppendResult, error)
	ExpireInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (int, error)
}

type tierEvaluator interface {
	Multiplier(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (decimal.Decimal, error)
	EvaluateInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*tiers.EvaluationResult, error)
}

type referralRecorder interface {
	RecordPurchaseInTx(ctx context.Context, tx *gorm.DB, referredMembershipID uuid.UUID) ([]models.Referral, error)
}

type Service interface {
	RecordPurchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
	AppendTransaction(ctx context.Context, input ledger.AppendInput) (*TransactionResult, error)
	ReverseTransaction(ctx context.Context, input ledger.ReverseInput) (*TransactionResult, error)
	// ExpireMembership materializes forfeited lots and re-evaluates the tier when
	// any were written.
	ExpireMembership(ctx context.Context, membershipID uuid.UUID) (*ExpirationResult, error)
}

type PurchaseInput struct {
	TenantID      uuid.UUID
	MembershipID  uuid.UUID
	BasePoints    int64
	ExpiresInDays int
	// PurchaseID makes the earning idempotent per purchase when set.
	PurchaseID string
	CreatedBy  string
}

type PurchaseResult struct {
	Transaction *models.PointsTransaction `json:"transaction,omitempty"`
	Multiplier  string                    `json:"multiplier"`
	Earned      int64                     `json:"earned"`
	Balance     int64                     `json:"balance"`
	Replayed    bool                      `json:"replayed,omitempty"`
	Tier        *tiers.EvaluationResult   `json:"tier"`
	Referrals   []models.Referral         `json:"referrals"`
}

type ServiceParams struct {
	Ledger    ledgerAppender
	Tiers     tierEvaluator
	Referrals referralRecorder
	Tx        db.TxRunner
	Logger    *logger.Logger
	Retries   int
	Now       func() time.Time
}

type service struct {
	ledger    ledgerAppender
	tiers     tierEvaluator
	referrals referralRecorder
	tx        db.TxRunner
	logg      *logger.Logger
	retries   int
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Tiers == nil:
		return nil, fmt.Errorf("tier service required")
	case params.Referrals == nil:
		return nil, fmt.Errorf("referral service required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		ledger:    params.Ledger,
		tiers:     params.Tiers,
		referrals: params.Referrals,
		tx:        params.Tx,
		logg:      params.Logger,
		retries:   params.Retries,
		now:       params.Now,
	}, nil
}

// RecordPurchase earns base points scaled by the current tier multiplier, then
// re-evaluates the tier and applies referral side-effects, all in one transaction.
func (s *service) RecordPurchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if input.TenantID == uuid.Nil || input.MembershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and membership id are required")
	}
	if input.BasePoints <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base points must be positive")
	}
	if input.ExpiresInDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires in days must not be negative")
	}

	var result *PurchaseResult
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			res, err := s.recordPurchase(ctx, tx, input)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":     input.TenantID.String(),
		"membership_id": input.MembershipID.String(),
		"base_points":   input.BasePoints,
		"earned":        result.Earned,
		"multiplier":    result.Multiplier,
		"tier_change":   result.Tier.Change,
	})
	s.logg.Info(logCtx, "purchase recorded")
	return result, nil
}

func (s *service) recordPurchase(ctx context.Context, tx *gorm.DB, input PurchaseInput) (*PurchaseResult, error) {
	multiplier, err := s.tiers.Multiplier(ctx, tx, input.MembershipID)
	if err != nil {
		return nil, err
	}
	earned := Earn(input.BasePoints, multiplier)
	if earned <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchase earns no points").
			WithDetails(map[string]any{"base_points": input.BasePoints, "multiplier": multiplier.String()})
	}
	result := &PurchaseResult{Multiplier: multiplier.String(), Earned: earned}

	entry := ledger.AppendInput{
		TenantID:     input.TenantID,
		MembershipID: input.MembershipID,
		Type:         enums.TransactionEarning,
		PointsDelta:  earned,
		ReasonCode:   "purchase",
		CreatedBy:    input.CreatedBy,
		Metadata: map[string]any{
			"base_points": input.BasePoints,
			"multiplier":  multiplier.String(),
		},
	}
	if input.PurchaseID != "" {
		entry.IdempotencyKey = "purchase:" + input.PurchaseID
		entry.Metadata["purchase_id"] = input.PurchaseID
	}
	if input.ExpiresInDays > 0 {
		expires := s.now().UTC().AddDate(0, 0, input.ExpiresInDays)
		entry.ExpiresAt = &expires
	}
	appended, err := s.ledger.AppendInTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	result.Transaction = &appended.Transaction
	result.Balance = appended.Balance
	result.Replayed = appended.Replayed
	if appended.Replayed {
		result.Earned = appended.Transaction.PointsDelta
	}

	evaluation, err := s.tiers.EvaluateInTx(ctx, tx, input.MembershipID)
	if err != nil {
		return nil, err
	}
	result.Tier = evaluation

	referrals, err := s.referrals.RecordPurchaseInTx(ctx, tx, input.MembershipID)
	if err != nil {
		return nil, err
	}
	result.Referrals = referrals
	return result, nil
}

// Earn applies the multiplier to base points and rounds down.
func Earn(base int64, multiplier decimal.Decimal) int64 {
	if multiplier.IsNegative() {
		return 0
	}
	return decimal.NewFromInt(base).Mul(multiplier).Floor().IntPart()
}

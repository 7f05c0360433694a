package loyalty

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/internal/ledger"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/pkg/db"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
)

// TransactionResult is a ledger append together with the tier evaluation it triggered.
type TransactionResult struct {
	*ledger.AppendResult
	Tier *tiers.EvaluationResult `json:"tier"`
}

type ExpirationResult struct {
	Written int                     `json:"written"`
	Tier    *tiers.EvaluationResult `json:"tier,omitempty"`
}

func (s *service) AppendTransaction(ctx context.Context, input ledger.AppendInput) (*TransactionResult, error) {
	if input.MembershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	result, err := s.appendAndEvaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"membership_id": input.MembershipID.String(),
		"type":          string(input.Type),
		"balance":       result.Balance,
		"replayed":      result.Replayed,
		"tier_change":   result.Tier.Change,
	})
	s.logg.Info(logCtx, "ledger transaction recorded")
	return result, nil
}

func (s *service) ReverseTransaction(ctx context.Context, input ledger.ReverseInput) (*TransactionResult, error) {
	entry, err := ledger.ReversalEntry(input)
	if err != nil {
		return nil, err
	}
	return s.AppendTransaction(ctx, entry)
}

func (s *service) appendAndEvaluate(ctx context.Context, input ledger.AppendInput) (*TransactionResult, error) {
	var result *TransactionResult
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			appended, err := s.ledger.AppendInTx(ctx, tx, input)
			if err != nil {
				return err
			}
			evaluation, err := s.tiers.EvaluateInTx(ctx, tx, input.MembershipID)
			if err != nil {
				return err
			}
			result = &TransactionResult{AppendResult: appended, Tier: evaluation}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ExpireMembership(ctx context.Context, membershipID uuid.UUID) (*ExpirationResult, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}

	var result *ExpirationResult
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			written, err := s.ledger.ExpireInTx(ctx, tx, membershipID)
			if err != nil {
				return err
			}
			result = &ExpirationResult{Written: written}
			if written == 0 {
				return nil
			}
			evaluation, err := s.tiers.EvaluateInTx(ctx, tx, membershipID)
			if err != nil {
				return err
			}
			result.Tier = evaluation
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Written > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"membership_id": membershipID.String(),
			"written":       result.Written,
			"tier_change":   result.Tier.Change,
		})
		s.logg.Info(logCtx, "expired lots materialized")
	}
	return result, nil
}

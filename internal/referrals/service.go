package referrals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/internal/ledger"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
	"github.com/angelmondragon/loyalty-core/pkg/outbox/payloads"
)

const bonusReason = "referral_bonus"

type ledgerAppender interface {
	AppendInTx(ctx context.Context, tx *gorm.DB, input ledger.AppendInput) (*ledger.AppendResult, error)
}

type tierEvaluator interface {
	EvaluateInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*tiers.EvaluationResult, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service creates referrals and applies their purchase side-effects.
type Service interface {
	CreateReferral(ctx context.Context, input CreateInput) (*models.Referral, error)
	CancelReferral(ctx context.Context, tenantID, referralID uuid.UUID) (*models.Referral, error)
	GetReferral(ctx context.Context, tenantID, referralID uuid.UUID) (*models.Referral, error)
	ListByReferrer(ctx context.Context, tenantID, referrerMembershipID uuid.UUID) ([]models.Referral, error)
	// RecordReferralPurchase marks the first purchase on every uncancelled referral of the
	// referred membership and grants the referrer bonus once. Calling it again is a no-op.
	RecordReferralPurchase(ctx context.Context, referredMembershipID uuid.UUID) ([]models.Referral, error)
	RecordPurchaseInTx(ctx context.Context, tx *gorm.DB, referredMembershipID uuid.UUID) ([]models.Referral, error)
}

type CreateInput struct {
	TenantID             uuid.UUID
	ReferrerMembershipID uuid.UUID
	ReferredMembershipID uuid.UUID
	ReferralCode         string
}

type ServiceParams struct {
	Repo    Repository
	Ledger  ledgerAppender
	// Tiers re-evaluates the referrer after a bonus lands. Nil skips the evaluation.
	Tiers   tierEvaluator
	Tx      db.TxRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Metrics *metrics.LoyaltyMetrics
	Config  config.ReferralConfig
	Retries int
	Now     func() time.Time
}

type service struct {
	repo    Repository
	ledger  ledgerAppender
	tiers   tierEvaluator
	tx      db.TxRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.LoyaltyMetrics
	cfg     config.ReferralConfig
	retries int
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		params.Outbox = outbox.Nop{}
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		tiers:   params.Tiers,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     params.Config,
		retries: params.Retries,
		now:     params.Now,
	}, nil
}

func (s *service) CreateReferral(ctx context.Context, input CreateInput) (*models.Referral, error) {
	if input.TenantID == uuid.Nil || input.ReferrerMembershipID == uuid.Nil || input.ReferredMembershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant, referrer and referred memberships are required")
	}
	if input.ReferrerMembershipID == input.ReferredMembershipID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a membership cannot refer itself")
	}

	var created *models.Referral
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		for _, id := range []uuid.UUID{input.ReferrerMembershipID, input.ReferredMembershipID} {
			if err := s.checkMembership(ctx, repo, input.TenantID, id); err != nil {
				return err
			}
		}

		if _, err := repo.FindOpenBetween(ctx, input.ReferrerMembershipID, input.ReferredMembershipID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "an open referral already exists between these memberships")
		} else if !db.IsNotFound(err) {
			return err
		}

		if s.cfg.MaxPerMonth > 0 {
			count, err := repo.CountByReferrerSince(ctx, input.ReferrerMembershipID, monthStart(now))
			if err != nil {
				return err
			}
			if count >= int64(s.cfg.MaxPerMonth) {
				return pkgerrors.New(pkgerrors.CodeRateLimit, "monthly referral limit reached").
					WithDetails(map[string]any{"limit": s.cfg.MaxPerMonth})
			}
		}

		if s.cfg.Cooldown > 0 {
			count, err := repo.CountOpenForReferredSince(ctx, input.ReferredMembershipID, now.Add(-s.cfg.Cooldown))
			if err != nil {
				return err
			}
			if count > 0 {
				return pkgerrors.New(pkgerrors.CodeRateLimit, "referred membership has a recent referral").
					WithDetails(map[string]any{"cooldown": s.cfg.Cooldown.String()})
			}
		}

		code := strings.ToUpper(strings.TrimSpace(input.ReferralCode))
		if code == "" {
			code = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		}
		created = &models.Referral{
			ID:                   uuid.New(),
			TenantID:             input.TenantID,
			ReferrerMembershipID: input.ReferrerMembershipID,
			ReferredMembershipID: input.ReferredMembershipID,
			ReferralCode:         code,
			Status:               enums.ReferralPending,
			Version:              1,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		return repo.Create(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"referral_id":            created.ID.String(),
		"tenant_id":              created.TenantID.String(),
		"referrer_membership_id": created.ReferrerMembershipID.String(),
		"referred_membership_id": created.ReferredMembershipID.String(),
	})
	s.logg.Info(logCtx, "referral created")
	return created, nil
}

func (s *service) checkMembership(ctx context.Context, repo Repository, tenantID, membershipID uuid.UUID) error {
	membership, err := repo.FindMembership(ctx, membershipID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "membership not found").
				WithDetails(map[string]any{"membership_id": membershipID.String()})
		}
		return err
	}
	if membership.TenantID != tenantID {
		return pkgerrors.New(pkgerrors.CodeValidation, "membership belongs to another tenant").
			WithDetails(map[string]any{"membership_id": membershipID.String()})
	}
	if !membership.Active {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "membership is inactive").
			WithDetails(map[string]any{"membership_id": membershipID.String()})
	}
	return nil
}

func (s *service) CancelReferral(ctx context.Context, tenantID, referralID uuid.UUID) (*models.Referral, error) {
	var result *models.Referral
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			referral, err := s.load(ctx, repo, tenantID, referralID)
			if err != nil {
				return err
			}
			if referral.Status.IsTerminal() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("referral is already %s", referral.Status))
			}
			if err := repo.Update(ctx, referral, map[string]any{"status": enums.ReferralCancelled}); err != nil {
				return err
			}
			referral.Status = enums.ReferralCancelled
			referral.Version++
			result = referral
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) GetReferral(ctx context.Context, tenantID, referralID uuid.UUID) (*models.Referral, error) {
	return s.load(ctx, s.repo, tenantID, referralID)
}

func (s *service) load(ctx context.Context, repo Repository, tenantID, referralID uuid.UUID) (*models.Referral, error) {
	referral, err := repo.FindReferral(ctx, referralID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "referral not found")
		}
		return nil, err
	}
	if referral.TenantID != tenantID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "referral not found")
	}
	return referral, nil
}

func (s *service) ListByReferrer(ctx context.Context, tenantID, referrerMembershipID uuid.UUID) ([]models.Referral, error) {
	referrals, err := s.repo.ListByReferrer(ctx, referrerMembershipID)
	if err != nil {
		return nil, err
	}
	out := referrals[:0]
	for _, r := range referrals {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *service) RecordReferralPurchase(ctx context.Context, referredMembershipID uuid.UUID) ([]models.Referral, error) {
	if referredMembershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	var result []models.Referral
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			updated, err := s.recordPurchase(ctx, tx, referredMembershipID)
			if err != nil {
				if pkgerrors.IsConcurrencyConflict(err) {
					s.metrics.IncConflict("referral")
				}
				return err
			}
			result = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RecordPurchaseInTx(ctx context.Context, tx *gorm.DB, referredMembershipID uuid.UUID) ([]models.Referral, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	return s.recordPurchase(ctx, tx, referredMembershipID)
}

func (s *service) recordPurchase(ctx context.Context, tx *gorm.DB, referredMembershipID uuid.UUID) ([]models.Referral, error) {
	repo := s.repo.WithTx(tx)
	referrals, err := repo.ListUncancelledByReferred(ctx, referredMembershipID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := make([]models.Referral, 0, len(referrals))
	for _, current := range referrals {
		next, _ := markFirstPurchase(current, now)

		if s.grantsReward() && !next.RewardGranted {
			granted, err := s.grantBonus(ctx, tx, next, now)
			if err != nil {
				return nil, err
			}
			next = granted
		}

		if updates := diff(current, next); len(updates) > 0 {
			if err := repo.Update(ctx, &current, updates); err != nil {
				return nil, err
			}
			next.Version = current.Version + 1
		}
		out = append(out, next)
	}
	return out, nil
}

func (s *service) grantsReward() bool {
	return s.cfg.RewardOnFirstPurchase && s.cfg.BonusPoints > 0
}

// grantBonus credits the referrer. An unusable referrer membership leaves the reward
// ungranted so a later purchase can retry it.
func (s *service) grantBonus(ctx context.Context, tx *gorm.DB, referral models.Referral, now time.Time) (models.Referral, error) {
	res, err := s.ledger.AppendInTx(ctx, tx, ledger.AppendInput{
		TenantID:       referral.TenantID,
		MembershipID:   referral.ReferrerMembershipID,
		Type:           enums.TransactionEarning,
		PointsDelta:    s.cfg.BonusPoints,
		IdempotencyKey: "referral-bonus:" + referral.ID.String(),
		ReasonCode:     bonusReason,
		CreatedBy:      "system",
		Metadata: map[string]any{
			"referral_id":            referral.ID.String(),
			"referred_membership_id": referral.ReferredMembershipID.String(),
		},
		System: true,
	})
	if err != nil {
		if pkgerrors.IsNotFound(err) || pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"referral_id":            referral.ID.String(),
				"referrer_membership_id": referral.ReferrerMembershipID.String(),
			})
			s.logg.Warn(logCtx, "referral bonus skipped: referrer unavailable")
			return referral, nil
		}
		return referral, err
	}

	granted, ok := markRewardGranted(referral, res.Transaction.ID, now)
	if !ok {
		return referral, nil
	}
	var tierChange enums.TierChangeType
	if s.tiers != nil {
		evaluation, err := s.tiers.EvaluateInTx(ctx, tx, referral.ReferrerMembershipID)
		if err != nil {
			return referral, err
		}
		tierChange = evaluation.Change
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReferralRewardGranted,
		AggregateType: enums.AggregateReferral,
		AggregateID:   referral.ID,
		TenantID:      &granted.TenantID,
		Data: payloads.ReferralRewardGrantedEvent{
			ReferralID:           granted.ID,
			TenantID:             granted.TenantID,
			ReferrerMembershipID: granted.ReferrerMembershipID,
			ReferredMembershipID: granted.ReferredMembershipID,
			TransactionID:        res.Transaction.ID,
			BonusPoints:          s.cfg.BonusPoints,
		},
		OccurredAt: now,
	}); err != nil {
		return referral, err
	}
	s.metrics.IncReferralReward()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"referral_id":            granted.ID.String(),
		"referrer_membership_id": granted.ReferrerMembershipID.String(),
		"transaction_id":         res.Transaction.ID.String(),
		"replayed":               res.Replayed,
		"tier_change":            tierChange,
	})
	s.logg.Info(logCtx, "referral reward granted")
	return granted, nil
}

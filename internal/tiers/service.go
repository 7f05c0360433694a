package tiers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

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

// Service evaluates and reports membership tiers.
type Service interface {
	EvaluateTier(ctx context.Context, membershipID uuid.UUID) (*EvaluationResult, error)
	// EvaluateInTx joins the caller's transaction. The caller owns conflict retries.
	EvaluateInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*EvaluationResult, error)
	GetTierStatus(ctx context.Context, membershipID uuid.UUID) (*StatusView, error)
	GetTierHistory(ctx context.Context, membershipID uuid.UUID, limit int) ([]models.TierChangeLog, error)
	FindPendingEvaluation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	FindExpiringGracePeriods(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Multiplier(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (decimal.Decimal, error)
	CreateTier(ctx context.Context, input CreateTierInput) (*models.CustomerTier, error)
	ListTiers(ctx context.Context, tenantID uuid.UUID) ([]models.CustomerTier, error)
	SetPolicy(ctx context.Context, input PolicyInput) (*models.TierPolicy, error)
}

// EvaluationResult is the persisted status plus what changed.
type EvaluationResult struct {
	Status  models.TierStatus    `json:"status"`
	Change  enums.TierChangeType `json:"change,omitempty"`
	Balance int64                `json:"balance"`
	Blocked bool                 `json:"blocked,omitempty"`
}

// StatusView pairs the status with its current tier.
type StatusView struct {
	Status models.TierStatus    `json:"status"`
	Tier   *models.CustomerTier `json:"tier,omitempty"`
}

type CreateTierInput struct {
	TenantID   uuid.UUID
	Name       string
	MinPoints  int64
	MaxPoints  *int64
	Multiplier *decimal.Decimal
	Priority   int
}

type PolicyInput struct {
	TenantID            uuid.UUID
	EvaluationWindow    enums.EvaluationWindow
	DowngradeStrategy   enums.DowngradeStrategy
	GracePeriodDays     int
	MinTierDurationDays int
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo    Repository
	Tx      db.TxRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Metrics *metrics.LoyaltyMetrics
	Config  config.TierConfig
	Retries int
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      db.TxRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.LoyaltyMetrics
	policy  Policy
	retries int
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("tier repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	policy, err := DefaultPolicy(params.Config)
	if err != nil {
		return nil, fmt.Errorf("tier policy: %w", err)
	}
	if params.Outbox == nil {
		params.Outbox = outbox.Nop{}
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		policy:  policy,
		retries: params.Retries,
		now:     params.Now,
	}, nil
}

func errStatusConflict(membershipID uuid.UUID, version int64) error {
	return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "tier status was modified concurrently").
		WithDetails(map[string]any{"membership_id": membershipID.String(), "version": version})
}

func (s *service) EvaluateTier(ctx context.Context, membershipID uuid.UUID) (*EvaluationResult, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	var result *EvaluationResult
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			res, err := s.evaluate(ctx, tx, membershipID)
			if err != nil {
				if pkgerrors.IsConcurrencyConflict(err) {
					s.metrics.IncConflict("tiers")
				}
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) EvaluateInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*EvaluationResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	return s.evaluate(ctx, tx, membershipID)
}

func (s *service) evaluate(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (*EvaluationResult, error) {
	repo := s.repo.WithTx(tx)

	membership, err := repo.FindMembership(ctx, membershipID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
		}
		return nil, err
	}
	if !membership.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "membership is inactive")
	}

	current, err := repo.FindStatus(ctx, membershipID)
	if err != nil && !db.IsNotFound(err) {
		return nil, err
	}
	ladder, err := repo.ListTiers(ctx, membership.TenantID)
	if err != nil {
		return nil, err
	}
	override, err := repo.FindPolicy(ctx, membership.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	decision := Evaluate(Input{
		MembershipID: membership.ID,
		TenantID:     membership.TenantID,
		Balance:      membership.Points,
		Tiers:        ladder,
		Current:      current,
		Policy:       s.policy.Resolve(override),
		Now:          now,
	})

	next := decision.Status
	if decision.Changed(current) {
		if current == nil {
			next.Version = 1
			if err := repo.CreateStatus(ctx, &next); err != nil {
				if db.IsUniqueViolation(err, "") {
					return nil, errStatusConflict(membershipID, 0)
				}
				return nil, err
			}
		} else {
			if err := repo.UpdateStatus(ctx, next, current.Version); err != nil {
				return nil, err
			}
			next.Version = current.Version + 1
		}
	}

	if decision.Change != "" {
		if err := s.recordChange(ctx, tx, repo, membership, decision, now); err != nil {
			return nil, err
		}
	}

	return &EvaluationResult{
		Status:  next,
		Change:  decision.Change,
		Balance: membership.Points,
		Blocked: decision.Blocked,
	}, nil
}

func (s *service) recordChange(ctx context.Context, tx *gorm.DB, repo Repository, membership *models.CustomerMembership, decision Decision, now time.Time) error {
	status := decision.Status
	entry := &models.TierChangeLog{
		ID:           uuid.New(),
		TenantID:     membership.TenantID,
		MembershipID: membership.ID,
		ChangeType:   decision.Change,
		FromTierID:   decision.From,
		ToTierID:     status.CurrentTierID,
		Balance:      membership.Points,
		GraceUntil:   status.GraceUntil,
		CreatedAt:    now,
	}
	if decision.Change == enums.TierChangeGraceStarted && decision.Target != nil {
		entry.FromTierID = status.CurrentTierID
		target := decision.Target.ID
		entry.ToTierID = &target
	}
	if decision.Target != nil {
		details, err := json.Marshal(map[string]any{"target_tier": decision.Target.Name})
		if err != nil {
			return err
		}
		entry.Details = datatypes.JSON(details)
	}
	if err := repo.AppendChange(ctx, entry); err != nil {
		return err
	}

	var event *outbox.DomainEvent
	switch {
	case decision.Change.MovesTier():
		event = &outbox.DomainEvent{
			EventType: enums.EventTierChanged,
			Data: payloads.TierChangedEvent{
				MembershipID: membership.ID,
				TenantID:     membership.TenantID,
				ChangeType:   decision.Change,
				FromTierID:   decision.From,
				ToTierID:     status.CurrentTierID,
				Balance:      membership.Points,
				ChangedAt:    now,
			},
		}
	case decision.Change == enums.TierChangeGraceStarted:
		event = &outbox.DomainEvent{
			EventType: enums.EventTierGraceStarted,
			Data: payloads.TierGraceStartedEvent{
				MembershipID:  membership.ID,
				TenantID:      membership.TenantID,
				CurrentTierID: status.CurrentTierID,
				TargetTierID:  entry.ToTierID,
				Balance:       membership.Points,
				GraceUntil:    *status.GraceUntil,
			},
		}
	}
	if event != nil {
		tenantID := membership.TenantID
		event.AggregateType = enums.AggregateTierStatus
		event.AggregateID = membership.ID
		event.TenantID = &tenantID
		event.OccurredAt = now
		if err := s.outbox.Emit(ctx, tx, *event); err != nil {
			return err
		}
	}

	s.metrics.IncTierChange(string(decision.Change))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"membership_id": membership.ID.String(),
		"tenant_id":     membership.TenantID.String(),
		"change_type":   decision.Change,
		"balance":       membership.Points,
	})
	s.logg.Info(logCtx, "tier status changed")
	return nil
}

func (s *service) GetTierStatus(ctx context.Context, membershipID uuid.UUID) (*StatusView, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	status, err := s.repo.FindStatus(ctx, membershipID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tier status not found")
		}
		return nil, err
	}
	view := &StatusView{Status: *status}
	if status.CurrentTierID != nil {
		tier, err := s.repo.FindTier(ctx, *status.CurrentTierID)
		if err != nil && !db.IsNotFound(err) {
			return nil, err
		}
		view.Tier = tier
	}
	return view, nil
}

func (s *service) GetTierHistory(ctx context.Context, membershipID uuid.UUID, limit int) ([]models.TierChangeLog, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	return s.repo.ListChanges(ctx, membershipID, limit)
}

func (s *service) FindPendingEvaluation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.repo.ListDueForEvaluation(ctx, now.UTC(), limit)
}

func (s *service) FindExpiringGracePeriods(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.repo.ListGraceExpired(ctx, now.UTC(), limit)
}

// Multiplier returns the earn multiplier of the membership's current tier, or one.
func (s *service) Multiplier(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (decimal.Decimal, error) {
	repo := s.repo.WithTx(tx)
	status, err := repo.FindStatus(ctx, membershipID)
	if err != nil {
		if db.IsNotFound(err) {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, err
	}
	if status.CurrentTierID == nil {
		return decimal.NewFromInt(1), nil
	}
	tier, err := repo.FindTier(ctx, *status.CurrentTierID)
	if err != nil {
		if db.IsNotFound(err) {
			return decimal.NewFromInt(1), nil
		}
		return decimal.Zero, err
	}
	if !tier.Multiplier.Valid || !tier.Multiplier.Decimal.IsPositive() {
		return decimal.NewFromInt(1), nil
	}
	return tier.Multiplier.Decimal, nil
}

func (s *service) CreateTier(ctx context.Context, input CreateTierInput) (*models.CustomerTier, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tier name is required")
	}
	if input.MinPoints < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min points must not be negative")
	}
	if input.MaxPoints != nil && *input.MaxPoints < input.MinPoints {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max points must be at least min points")
	}
	if input.Multiplier != nil && !input.Multiplier.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "multiplier must be positive")
	}

	tier := &models.CustomerTier{
		ID:        uuid.New(),
		TenantID:  input.TenantID,
		Name:      name,
		MinPoints: input.MinPoints,
		MaxPoints: input.MaxPoints,
		Priority:  input.Priority,
		Active:    true,
	}
	if input.Multiplier != nil {
		tier.Multiplier = decimal.NewNullDecimal(input.Multiplier.Round(2))
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.ListTiers(ctx, input.TenantID)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if !other.Active {
				continue
			}
			if other.Priority == tier.Priority {
				return pkgerrors.New(pkgerrors.CodeConflict, "tier priority already used").
					WithDetails(map[string]any{"tier_id": other.ID.String()})
			}
			if overlaps(other, *tier) {
				return pkgerrors.New(pkgerrors.CodeConflict, "tier range overlaps an existing tier").
					WithDetails(map[string]any{"tier_id": other.ID.String()})
			}
		}
		return repo.CreateTier(ctx, tier)
	})
	if err != nil {
		return nil, err
	}
	return tier, nil
}

func overlaps(a, b models.CustomerTier) bool {
	aMax, bMax := upper(a), upper(b)
	return a.MinPoints <= bMax && b.MinPoints <= aMax
}

func upper(t models.CustomerTier) int64 {
	if t.MaxPoints == nil {
		return math.MaxInt64
	}
	return *t.MaxPoints
}

func (s *service) ListTiers(ctx context.Context, tenantID uuid.UUID) ([]models.CustomerTier, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	return s.repo.ListTiers(ctx, tenantID)
}

func (s *service) SetPolicy(ctx context.Context, input PolicyInput) (*models.TierPolicy, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if !input.EvaluationWindow.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid evaluation window %q", input.EvaluationWindow))
	}
	if !input.DowngradeStrategy.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid downgrade strategy %q", input.DowngradeStrategy))
	}
	if input.GracePeriodDays < 0 || input.MinTierDurationDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "policy durations must not be negative")
	}
	now := s.now().UTC()
	policy := &models.TierPolicy{
		TenantID:            input.TenantID,
		EvaluationWindow:    input.EvaluationWindow,
		DowngradeStrategy:   input.DowngradeStrategy,
		GracePeriodDays:     input.GracePeriodDays,
		MinTierDurationDays: input.MinTierDurationDays,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.UpsertPolicy(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

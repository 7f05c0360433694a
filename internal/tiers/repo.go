package tiers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
)

// Repository persists tier ladders, policies, status and the change log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindMembership(ctx context.Context, id uuid.UUID) (*models.CustomerMembership, error)
	ListTiers(ctx context.Context, tenantID uuid.UUID) ([]models.CustomerTier, error)
	FindTier(ctx context.Context, id uuid.UUID) (*models.CustomerTier, error)
	CreateTier(ctx context.Context, tier *models.CustomerTier) error
	FindPolicy(ctx context.Context, tenantID uuid.UUID) (*models.TierPolicy, error)
	UpsertPolicy(ctx context.Context, policy *models.TierPolicy) error
	FindStatus(ctx context.Context, membershipID uuid.UUID) (*models.TierStatus, error)
	CreateStatus(ctx context.Context, status *models.TierStatus) error
	UpdateStatus(ctx context.Context, status models.TierStatus, expectedVersion int64) error
	AppendChange(ctx context.Context, entry *models.TierChangeLog) error
	ListChanges(ctx context.Context, membershipID uuid.UUID, limit int) ([]models.TierChangeLog, error)
	ListDueForEvaluation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindMembership(ctx context.Context, id uuid.UUID) (*models.CustomerMembership, error) {
	var membership models.CustomerMembership
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&membership).Error; err != nil {
		return nil, err
	}
	return &membership, nil
}

func (r *repository) ListTiers(ctx context.Context, tenantID uuid.UUID) ([]models.CustomerTier, error) {
	var tiers []models.CustomerTier
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("priority ASC").
		Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repository) FindTier(ctx context.Context, id uuid.UUID) (*models.CustomerTier, error) {
	var tier models.CustomerTier
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tier).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *repository) CreateTier(ctx context.Context, tier *models.CustomerTier) error {
	return r.db.WithContext(ctx).Create(tier).Error
}

func (r *repository) FindPolicy(ctx context.Context, tenantID uuid.UUID) (*models.TierPolicy, error) {
	var policy models.TierPolicy
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&policy).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &policy, nil
}

func (r *repository) UpsertPolicy(ctx context.Context, policy *models.TierPolicy) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"evaluation_window", "downgrade_strategy", "grace_period_days", "min_tier_duration_days", "updated_at"}),
		}).
		Create(policy).Error
}

func (r *repository) FindStatus(ctx context.Context, membershipID uuid.UUID) (*models.TierStatus, error) {
	var status models.TierStatus
	err := r.db.WithContext(ctx).Where("membership_id = ?", membershipID).First(&status).Error
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *repository) CreateStatus(ctx context.Context, status *models.TierStatus) error {
	return r.db.WithContext(ctx).Create(status).Error
}

// UpdateStatus replaces the stored status while its version still equals expectedVersion.
func (r *repository) UpdateStatus(ctx context.Context, status models.TierStatus, expectedVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.TierStatus{}).
		Where("membership_id = ? AND version = ?", status.MembershipID, expectedVersion).
		Updates(map[string]any{
			"current_tier_id": status.CurrentTierID,
			"since":           status.Since,
			"next_eval_at":    status.NextEvalAt,
			"grace_until":     status.GraceUntil,
			"version":         expectedVersion + 1,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStatusConflict(status.MembershipID, expectedVersion)
	}
	return nil
}

func (r *repository) AppendChange(ctx context.Context, entry *models.TierChangeLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListChanges(ctx context.Context, membershipID uuid.UUID, limit int) ([]models.TierChangeLog, error) {
	var rows []models.TierChangeLog
	query := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListDueForEvaluation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.TierStatus{}).
		Joins("JOIN customer_memberships ON customer_memberships.id = tier_status.membership_id").
		Where("customer_memberships.active = ?", true).
		Where("tier_status.next_eval_at IS NOT NULL AND tier_status.next_eval_at <= ?", now).
		Order("tier_status.next_eval_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("tier_status.membership_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.TierStatus{}).
		Joins("JOIN customer_memberships ON customer_memberships.id = tier_status.membership_id").
		Where("customer_memberships.active = ?", true).
		Where("tier_status.grace_until IS NOT NULL AND tier_status.grace_until <= ?", now).
		Order("tier_status.grace_until ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("tier_status.membership_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

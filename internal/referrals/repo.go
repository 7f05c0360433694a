package referrals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

var openStatuses = []enums.ReferralStatus{enums.ReferralPending, enums.ReferralActive}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindMembership(ctx context.Context, id uuid.UUID) (*models.CustomerMembership, error)
	FindReferral(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	FindOpenBetween(ctx context.Context, referrerID, referredID uuid.UUID) (*models.Referral, error)
	CountByReferrerSince(ctx context.Context, referrerID uuid.UUID, since time.Time) (int64, error)
	CountOpenForReferredSince(ctx context.Context, referredID uuid.UUID, since time.Time) (int64, error)
	ListUncancelledByReferred(ctx context.Context, referredID uuid.UUID) ([]models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error)
	Create(ctx context.Context, referral *models.Referral) error
	Update(ctx context.Context, referral *models.Referral, updates map[string]any) error
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

func (r *repository) FindReferral(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&referral).Error; err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) FindOpenBetween(ctx context.Context, referrerID, referredID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_membership_id = ? AND referred_membership_id = ?", referrerID, referredID).
		Where("status IN ?", openStatuses).
		First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) CountByReferrerSince(ctx context.Context, referrerID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referrer_membership_id = ? AND created_at >= ?", referrerID, since).
		Where("status <> ?", enums.ReferralCancelled).
		Count(&count).Error
	return count, err
}

func (r *repository) CountOpenForReferredSince(ctx context.Context, referredID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("referred_membership_id = ? AND created_at >= ?", referredID, since).
		Where("status IN ?", openStatuses).
		Count(&count).Error
	return count, err
}

func (r *repository) ListUncancelledByReferred(ctx context.Context, referredID uuid.UUID) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_membership_id = ? AND status <> ?", referredID, enums.ReferralCancelled).
		Order("created_at").
		Order("id").
		Find(&referrals).Error
	return referrals, err
}

func (r *repository) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_membership_id = ?", referrerID).
		Order("created_at DESC").
		Find(&referrals).Error
	return referrals, err
}

func (r *repository) Create(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

func (r *repository) Update(ctx context.Context, referral *models.Referral, updates map[string]any) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.Referral{}, referral.ID, referral.Version, updates)
}

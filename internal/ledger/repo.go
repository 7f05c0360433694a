package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	"github.com/angelmondragon/loyalty-core/pkg/pagination"
)

const idempotencyConstraint = "ux_points_transactions_idempotency"

// Repository manages persistence for points transactions and the cached balance.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindMembership(ctx context.Context, id uuid.UUID) (*models.CustomerMembership, error)
	FindActiveReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*models.Reward, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.PointsTransaction, error)
	FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.PointsTransaction, error)
	ListByMembership(ctx context.Context, membershipID uuid.UUID) ([]models.PointsTransaction, error)
	PageByMembership(ctx context.Context, membershipID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PointsTransaction, error)
	Create(ctx context.Context, row *models.PointsTransaction) error
	UpdateBalance(ctx context.Context, membership *models.CustomerMembership, balance int64) error
	ListMembershipsWithExpiredLots(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
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

func (r *repository) FindActiveReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*models.Reward, error) {
	var reward models.Reward
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND active = ?", rewardID, tenantID, true).
		First(&reward).Error
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.PointsTransaction, error) {
	var row models.PointsTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*models.PointsTransaction, error) {
	var row models.PointsTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListByMembership(ctx context.Context, membershipID uuid.UUID) ([]models.PointsTransaction, error) {
	var rows []models.PointsTransaction
	if err := r.db.WithContext(ctx).
		Where("membership_id = ?", membershipID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// PageByMembership returns history newest first, strictly after cursor when one is given.
func (r *repository) PageByMembership(ctx context.Context, membershipID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PointsTransaction, error) {
	query := r.db.WithContext(ctx).Where("membership_id = ?", membershipID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.PointsTransaction
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Create(ctx context.Context, row *models.PointsTransaction) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) UpdateBalance(ctx context.Context, membership *models.CustomerMembership, balance int64) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.CustomerMembership{}, membership.ID, membership.Version, map[string]any{
		"points": balance,
	})
}

// ListMembershipsWithExpiredLots returns active memberships with a positive cached balance
// that own an EARNING row expired at or before now with no EXPIRATION or REVERSAL row
// pointing at it. An earning spent before it expired still matches, so callers page
// with after instead of re-reading the head of the list.
func (r *repository) ListMembershipsWithExpiredLots(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Distinct("points_transactions.membership_id").
		Joins("JOIN customer_memberships ON customer_memberships.id = points_transactions.membership_id").
		Where("customer_memberships.active = ? AND customer_memberships.points > 0", true).
		Where("points_transactions.type = ?", enums.TransactionEarning).
		Where("points_transactions.expires_at IS NOT NULL AND points_transactions.expires_at <= ?", now).
		Where(`NOT EXISTS (
			SELECT 1 FROM points_transactions AS settled
			WHERE settled.reversal_of_transaction_id = points_transactions.id
			AND settled.type IN ?
		)`, []enums.TransactionType{enums.TransactionExpiration, enums.TransactionReversal})
	if after != uuid.Nil {
		query = query.Where("points_transactions.membership_id > ?", after)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("points_transactions.membership_id").Pluck("points_transactions.membership_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

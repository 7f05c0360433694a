package usage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// Repository reads subscriptions, live row counts and the usage counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSubscription(ctx context.Context, id uuid.UUID) (*models.PartnerSubscription, error)
	LatestSubscription(ctx context.Context, partnerID uuid.UUID, statuses []enums.SubscriptionStatus) (*models.PartnerSubscription, error)
	FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	FindUsage(ctx context.Context, subscriptionID uuid.UUID) (*models.PartnerSubscriptionUsage, error)
	CreateUsage(ctx context.Context, row *models.PartnerSubscriptionUsage) error
	UpdateCounters(ctx context.Context, row *models.PartnerSubscriptionUsage, counts map[enums.UsageResource]int64) error
	CountLive(ctx context.Context, partnerID uuid.UUID) (map[enums.UsageResource]int64, error)
	ListPartnerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
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

func (r *repository) FindSubscription(ctx context.Context, id uuid.UUID) (*models.PartnerSubscription, error) {
	var sub models.PartnerSubscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// LatestSubscription returns the partner's most recent subscription, restricted to
// statuses when any are given.
func (r *repository) LatestSubscription(ctx context.Context, partnerID uuid.UUID, statuses []enums.SubscriptionStatus) (*models.PartnerSubscription, error) {
	var sub models.PartnerSubscription
	query := r.db.WithContext(ctx).Where("partner_id = ?", partnerID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.
		Order("current_period_start DESC").
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) FindUsage(ctx context.Context, subscriptionID uuid.UUID) (*models.PartnerSubscriptionUsage, error) {
	var row models.PartnerSubscriptionUsage
	err := r.db.WithContext(ctx).
		Where("partner_subscription_id = ?", subscriptionID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) CreateUsage(ctx context.Context, row *models.PartnerSubscriptionUsage) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) UpdateCounters(ctx context.Context, row *models.PartnerSubscriptionUsage, counts map[enums.UsageResource]int64) error {
	updates := make(map[string]any, len(counts))
	for resource, value := range counts {
		updates[resource.Column()] = value
	}
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.PartnerSubscriptionUsage{}, row.ID, row.Version, updates)
}

// CountLive counts the active rows a partner owns. Children of inactive tenants do not count.
func (r *repository) CountLive(ctx context.Context, partnerID uuid.UUID) (map[enums.UsageResource]int64, error) {
	conn := r.db.WithContext(ctx)
	counts := make(map[enums.UsageResource]int64, 4)

	var tenants int64
	if err := conn.Model(&models.Tenant{}).
		Where("partner_id = ? AND active = ?", partnerID, true).
		Count(&tenants).Error; err != nil {
		return nil, err
	}
	counts[enums.UsageTenants] = tenants

	children := []struct {
		resource enums.UsageResource
		model    any
		table    string
	}{
		{enums.UsageBranches, &models.Branch{}, "branches"},
		{enums.UsageCustomers, &models.CustomerMembership{}, "customer_memberships"},
		{enums.UsageRewards, &models.Reward{}, "rewards"},
	}
	for _, child := range children {
		var n int64
		if err := conn.Model(child.model).
			Joins("JOIN tenants ON tenants.id = "+child.table+".tenant_id").
			Where("tenants.partner_id = ? AND tenants.active = ?", partnerID, true).
			Where(child.table+".active = ?", true).
			Count(&n).Error; err != nil {
			return nil, err
		}
		counts[child.resource] = n
	}
	return counts, nil
}

// ListPartnerIDs pages through active partners in id order, starting after the given id.
func (r *repository) ListPartnerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Partner{}).
		Where("active = ?", true)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

package tenants

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db/models"
)

// Repository persists tenants and the rows they own.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindPartner(ctx context.Context, id uuid.UUID) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&partner).Error; err != nil {
		return nil, err
	}
	return &partner, nil
}

func (r *Repository) FindTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *Repository) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Tenant{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (r *Repository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *Repository) CreateBranch(ctx context.Context, branch *models.Branch) error {
	return r.db.WithContext(ctx).Create(branch).Error
}

func (r *Repository) CreateReward(ctx context.Context, reward *models.Reward) error {
	return r.db.WithContext(ctx).Create(reward).Error
}

func (r *Repository) FindBranch(ctx context.Context, tenantID, id uuid.UUID) (*models.Branch, error) {
	var branch models.Branch
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&branch).Error
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *Repository) FindReward(ctx context.Context, tenantID, id uuid.UUID) (*models.Reward, error) {
	var reward models.Reward
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&reward).Error
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

func (r *Repository) ListBranches(ctx context.Context, tenantID uuid.UUID) ([]models.Branch, error) {
	var branches []models.Branch
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("created_at").
		Find(&branches).Error
	return branches, err
}

func (r *Repository) ListRewards(ctx context.Context, tenantID uuid.UUID) ([]models.Reward, error) {
	var rewards []models.Reward
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("points_cost").
		Find(&rewards).Error
	return rewards, err
}

// Deactivate soft-deletes one row and reports whether it was active before.
func (r *Repository) Deactivate(ctx context.Context, model any, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	return res.RowsAffected == 1, res.Error
}

// DeactivateChildren soft-deletes every active row of model owned by the tenant and
// returns how many changed.
func (r *Repository) DeactivateChildren(ctx context.Context, model any, tenantID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(model).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// DeactivateMemberships also bumps version so in-flight balance writes on those
// memberships fail their version check.
func (r *Repository) DeactivateMemberships(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CustomerMembership{}).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Updates(map[string]any{
			"active":  false,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

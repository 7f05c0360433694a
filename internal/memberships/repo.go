package memberships

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
)

// Repository exposes membership persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindTenant loads an active tenant.
func (r *Repository) FindTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", tenantID, true).
		First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetMembership retrieves a membership by id.
func (r *Repository) GetMembership(ctx context.Context, id uuid.UUID) (*models.CustomerMembership, error) {
	var membership models.CustomerMembership
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&membership).Error; err != nil {
		return nil, err
	}
	return &membership, nil
}

// GetByUserAndTenant retrieves the membership a user holds in a tenant, active or not.
func (r *Repository) GetByUserAndTenant(ctx context.Context, userID, tenantID uuid.UUID) (*models.CustomerMembership, error) {
	var membership models.CustomerMembership
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// CreateMembership persists a new active membership record.
func (r *Repository) CreateMembership(ctx context.Context, tenantID, userID uuid.UUID) (*models.CustomerMembership, error) {
	membership := &models.CustomerMembership{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   userID,
		Active:   true,
		Version:  1,
	}
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		return nil, err
	}
	return membership, nil
}

// SetActive flips the active flag under the version check.
func (r *Repository) SetActive(ctx context.Context, membership *models.CustomerMembership, active bool) error {
	return db.UpdateVersioned(r.db.WithContext(ctx), &models.CustomerMembership{}, membership.ID, membership.Version, map[string]any{
		"active": active,
	})
}

// ListTenantMembers returns the tenant's memberships with their current tier name.
func (r *Repository) ListTenantMembers(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]MemberDTO, error) {
	var rows []memberRow
	query := r.db.WithContext(ctx).
		Model(&models.CustomerMembership{}).
		Select("customer_memberships.*, customer_tiers.name AS tier_name").
		Joins("LEFT JOIN tier_status ON tier_status.membership_id = customer_memberships.id").
		Joins("LEFT JOIN customer_tiers ON customer_tiers.id = tier_status.current_tier_id").
		Where("customer_memberships.tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("customer_memberships.active = ?", true)
	}
	if err := query.Order("customer_memberships.created_at").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return memberRowsToDTO(rows), nil
}

// ListUserMemberships returns the tenants a user belongs to along with membership metadata.
func (r *Repository) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]MembershipWithTenant, error) {
	var rows []membershipWithTenantRow
	err := r.db.WithContext(ctx).
		Model(&models.CustomerMembership{}).
		Select("customer_memberships.*, tenants.name AS tenant_name, tenants.slug AS tenant_slug").
		Joins("JOIN tenants ON tenants.id = customer_memberships.tenant_id").
		Where("customer_memberships.user_id = ?", userID).
		Order("tenants.name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return membershipRowsToDTO(rows), nil
}

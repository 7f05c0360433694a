package tenants

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

const maxSlugAttempts = 5

type usageCounter interface {
	AdjustForTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, resource enums.UsageResource, delta int64) error
}

// Service manages tenants, branches and rewards. Every create and delete moves the
// partner's usage counters inside the same transaction.
type Service interface {
	CreateTenant(ctx context.Context, input CreateTenantInput) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	DeleteTenant(ctx context.Context, tenantID uuid.UUID) (*CascadeResult, error)
	CreateBranch(ctx context.Context, tenantID uuid.UUID, name string) (*models.Branch, error)
	DeleteBranch(ctx context.Context, tenantID, branchID uuid.UUID) error
	ListBranches(ctx context.Context, tenantID uuid.UUID) ([]models.Branch, error)
	CreateReward(ctx context.Context, input CreateRewardInput) (*models.Reward, error)
	DeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID) error
	ListRewards(ctx context.Context, tenantID uuid.UUID) ([]models.Reward, error)
}

type CreateTenantInput struct {
	PartnerID uuid.UUID
	Name      string
}

type CreateRewardInput struct {
	TenantID   uuid.UUID
	Name       string
	PointsCost int64
}

// CascadeResult counts the rows a tenant delete deactivated.
type CascadeResult struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	Branches    int64     `json:"branches"`
	Rewards     int64     `json:"rewards"`
	Memberships int64     `json:"memberships"`
}

type ServiceParams struct {
	Repo    *Repository
	Tx      db.TxRunner
	Usage   usageCounter
	Logger  *logger.Logger
	Retries int
}

type service struct {
	repo    *Repository
	tx      db.TxRunner
	usage   usageCounter
	logg    *logger.Logger
	retries int
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("tenant repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		usage:   params.Usage,
		logg:    params.Logger,
		retries: params.Retries,
	}, nil
}

func (s *service) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, fn)
	})
}

func (s *service) CreateTenant(ctx context.Context, input CreateTenantInput) (*models.Tenant, error) {
	name := strings.TrimSpace(input.Name)
	if input.PartnerID == uuid.Nil || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id and name are required")
	}
	base := slug.Make(name)
	if base == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name must contain letters or digits")
	}

	var tenant *models.Tenant
	err := s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		partner, err := repo.FindPartner(ctx, input.PartnerID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "partner not found")
			}
			return err
		}
		if !partner.Active {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "partner is inactive")
		}

		value, err := s.freeSlug(ctx, repo, base)
		if err != nil {
			return err
		}
		tenant = &models.Tenant{
			ID:        uuid.New(),
			PartnerID: partner.ID,
			Name:      name,
			Slug:      value,
			Active:    true,
		}
		if err := repo.CreateTenant(ctx, tenant); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "tenant slug taken concurrently")
			}
			return err
		}
		return s.usage.AdjustForTenant(ctx, tx, tenant.ID, enums.UsageTenants, 1)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":  tenant.ID.String(),
		"partner_id": tenant.PartnerID.String(),
		"slug":       tenant.Slug,
	})
	s.logg.Info(logCtx, "tenant created")
	return tenant, nil
}

func (s *service) freeSlug(ctx context.Context, repo *Repository, base string) (string, error) {
	candidate := base
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		taken, err := repo.SlugTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + uuid.NewString()[:6]
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique slug")
}

func (s *service) GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	tenant, err := s.repo.FindTenant(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, err
	}
	return tenant, nil
}

func (s *service) activeTenant(ctx context.Context, repo *Repository, tenantID uuid.UUID) (*models.Tenant, error) {
	tenant, err := repo.FindTenant(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, err
	}
	if !tenant.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "tenant is inactive")
	}
	return tenant, nil
}

// DeleteTenant deactivates the tenant and everything it owns, then decrements each
// counter by exactly the number of rows that were active.
func (s *service) DeleteTenant(ctx context.Context, tenantID uuid.UUID) (*CascadeResult, error) {
	var result *CascadeResult
	err := s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.activeTenant(ctx, repo, tenantID); err != nil {
			return err
		}

		res := &CascadeResult{TenantID: tenantID}
		var err error
		if res.Branches, err = repo.DeactivateChildren(ctx, &models.Branch{}, tenantID); err != nil {
			return err
		}
		if res.Rewards, err = repo.DeactivateChildren(ctx, &models.Reward{}, tenantID); err != nil {
			return err
		}
		if res.Memberships, err = repo.DeactivateMemberships(ctx, tenantID); err != nil {
			return err
		}
		changed, err := repo.Deactivate(ctx, &models.Tenant{}, tenantID)
		if err != nil {
			return err
		}
		if !changed {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "tenant changed during delete")
		}

		decrements := []struct {
			resource enums.UsageResource
			n        int64
		}{
			{enums.UsageTenants, 1},
			{enums.UsageBranches, res.Branches},
			{enums.UsageRewards, res.Rewards},
			{enums.UsageCustomers, res.Memberships},
		}
		for _, d := range decrements {
			if d.n == 0 {
				continue
			}
			if err := s.usage.AdjustForTenant(ctx, tx, tenantID, d.resource, -d.n); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":   tenantID.String(),
		"branches":    result.Branches,
		"rewards":     result.Rewards,
		"memberships": result.Memberships,
	})
	s.logg.Info(logCtx, "tenant deleted")
	return result, nil
}

func (s *service) CreateBranch(ctx context.Context, tenantID uuid.UUID, name string) (*models.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "branch name is required")
	}
	var branch *models.Branch
	err := s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.activeTenant(ctx, repo, tenantID); err != nil {
			return err
		}
		branch = &models.Branch{ID: uuid.New(), TenantID: tenantID, Name: name, Active: true}
		if err := repo.CreateBranch(ctx, branch); err != nil {
			return err
		}
		return s.usage.AdjustForTenant(ctx, tx, tenantID, enums.UsageBranches, 1)
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *service) DeleteBranch(ctx context.Context, tenantID, branchID uuid.UUID) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindBranch(ctx, tenantID, branchID); err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "branch not found")
			}
			return err
		}
		changed, err := repo.Deactivate(ctx, &models.Branch{}, branchID)
		if err != nil || !changed {
			return err
		}
		return s.usage.AdjustForTenant(ctx, tx, tenantID, enums.UsageBranches, -1)
	})
}

func (s *service) ListBranches(ctx context.Context, tenantID uuid.UUID) ([]models.Branch, error) {
	return s.repo.ListBranches(ctx, tenantID)
}

func (s *service) CreateReward(ctx context.Context, input CreateRewardInput) (*models.Reward, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reward name is required")
	}
	if input.PointsCost <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points cost must be positive")
	}
	var reward *models.Reward
	err := s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.activeTenant(ctx, repo, input.TenantID); err != nil {
			return err
		}
		reward = &models.Reward{ID: uuid.New(), TenantID: input.TenantID, Name: name, PointsCost: input.PointsCost, Active: true}
		if err := repo.CreateReward(ctx, reward); err != nil {
			return err
		}
		return s.usage.AdjustForTenant(ctx, tx, input.TenantID, enums.UsageRewards, 1)
	})
	if err != nil {
		return nil, err
	}
	return reward, nil
}

func (s *service) DeleteReward(ctx context.Context, tenantID, rewardID uuid.UUID) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindReward(ctx, tenantID, rewardID); err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reward not found")
			}
			return err
		}
		changed, err := repo.Deactivate(ctx, &models.Reward{}, rewardID)
		if err != nil || !changed {
			return err
		}
		return s.usage.AdjustForTenant(ctx, tx, tenantID, enums.UsageRewards, -1)
	})
}

func (s *service) ListRewards(ctx context.Context, tenantID uuid.UUID) ([]models.Reward, error) {
	return s.repo.ListRewards(ctx, tenantID)
}

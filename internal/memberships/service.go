package memberships

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type usageCounter interface {
	AdjustForTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, resource enums.UsageResource, delta int64) error
}

// Service joins customers to tenant programs and keeps the customers counter in step.
type Service interface {
	Join(ctx context.Context, tenantID, userID uuid.UUID) (*MembershipDTO, error)
	Deactivate(ctx context.Context, tenantID, membershipID uuid.UUID) (*MembershipDTO, error)
	Get(ctx context.Context, tenantID, membershipID uuid.UUID) (*MembershipDTO, error)
	ListTenantMembers(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]MemberDTO, error)
	ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]MembershipWithTenant, error)
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
		return nil, fmt.Errorf("membership repository required")
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

// Join creates the membership, or reactivates a deactivated one.
func (s *service) Join(ctx context.Context, tenantID, userID uuid.UUID) (*MembershipDTO, error) {
	if tenantID == uuid.Nil || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and user id are required")
	}

	var result *models.CustomerMembership
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			if _, err := repo.FindTenant(ctx, tenantID); err != nil {
				if db.IsNotFound(err) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
				}
				return err
			}

			existing, err := repo.GetByUserAndTenant(ctx, userID, tenantID)
			switch {
			case err == nil && existing.Active:
				return pkgerrors.New(pkgerrors.CodeConflict, "user is already a member").
					WithDetails(map[string]any{"membership_id": existing.ID})
			case err == nil:
				if err := repo.SetActive(ctx, existing, true); err != nil {
					return err
				}
				existing.Active = true
				existing.Version++
				result = existing
			case db.IsNotFound(err):
				created, err := repo.CreateMembership(ctx, tenantID, userID)
				if err != nil {
					if db.IsUniqueViolation(err, "ux_customer_memberships_user_tenant") {
						return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "membership created concurrently")
					}
					return err
				}
				result = created
			default:
				return err
			}

			return s.usage.AdjustForTenant(ctx, tx, tenantID, enums.UsageCustomers, 1)
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"tenant_id":     tenantID.String(),
		"membership_id": result.ID.String(),
	})
	s.logg.Info(logCtx, "membership joined")
	return ToDTO(result), nil
}

// Deactivate soft-deletes the membership. Deactivating twice is a no-op.
func (s *service) Deactivate(ctx context.Context, tenantID, membershipID uuid.UUID) (*MembershipDTO, error) {
	var result *models.CustomerMembership
	err := db.RetryOnConflict(ctx, s.retries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			membership, err := s.load(ctx, repo, tenantID, membershipID)
			if err != nil {
				return err
			}
			result = membership
			if !membership.Active {
				return nil
			}
			if err := repo.SetActive(ctx, membership, false); err != nil {
				return err
			}
			membership.Active = false
			membership.Version++
			return s.usage.AdjustForTenant(ctx, tx, tenantID, enums.UsageCustomers, -1)
		})
	})
	if err != nil {
		return nil, err
	}
	return ToDTO(result), nil
}

func (s *service) Get(ctx context.Context, tenantID, membershipID uuid.UUID) (*MembershipDTO, error) {
	membership, err := s.load(ctx, s.repo, tenantID, membershipID)
	if err != nil {
		return nil, err
	}
	return ToDTO(membership), nil
}

func (s *service) load(ctx context.Context, repo *Repository, tenantID, membershipID uuid.UUID) (*models.CustomerMembership, error) {
	membership, err := repo.GetMembership(ctx, membershipID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
		}
		return nil, err
	}
	if membership.TenantID != tenantID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
	}
	return membership, nil
}

func (s *service) ListTenantMembers(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]MemberDTO, error) {
	return s.repo.ListTenantMembers(ctx, tenantID, activeOnly)
}

func (s *service) ListUserMemberships(ctx context.Context, userID uuid.UUID) ([]MembershipWithTenant, error) {
	return s.repo.ListUserMemberships(ctx, userID)
}

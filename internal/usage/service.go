package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
	"github.com/angelmondragon/loyalty-core/pkg/outbox/payloads"
)

const (
	sourceClamp   = "clamp"
	sourceRecount = "recount"
)

var countableStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusActive,
	enums.SubscriptionStatusTrialing,
	enums.SubscriptionStatusPastDue,
}

// Service keeps partner_subscription_usage consistent with live rows.
type Service interface {
	IncrementUsageCount(ctx context.Context, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) (*models.PartnerSubscriptionUsage, error)
	DecrementUsageCount(ctx context.Context, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) (*models.PartnerSubscriptionUsage, error)
	// IncrementInTx and DecrementInTx join the caller's transaction. The caller owns
	// conflict retries.
	IncrementInTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) error
	DecrementInTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) error
	ResolveSubscription(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*models.PartnerSubscription, error)
	// AdjustForTenant applies delta to the counter of the tenant's resolved subscription.
	// Tenants whose partner has no subscription are skipped.
	AdjustForTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, resource enums.UsageResource, delta int64) error
	RecalculateUsageForTenant(ctx context.Context, tenantID uuid.UUID) (*Reconciliation, error)
	RecalculateUsageForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*Reconciliation, error)
	RecalculateUsageForPartner(ctx context.Context, partnerID uuid.UUID) (*Reconciliation, error)
	GetUsage(ctx context.Context, subscriptionID uuid.UUID) (*models.PartnerSubscriptionUsage, error)
	ListPartnerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Drift is one counter that disagreed with the live count.
type Drift struct {
	Resource enums.UsageResource `json:"resource"`
	Stored   int64               `json:"stored"`
	Expected int64               `json:"expected"`
}

// Reconciliation reports the counters after a recount and what was corrected.
type Reconciliation struct {
	SubscriptionID uuid.UUID                       `json:"subscription_id"`
	Usage          models.PartnerSubscriptionUsage `json:"usage"`
	Drift          []Drift                         `json:"drift"`
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
	Retries int
	// EnforceLimits rejects increments beyond the subscription's plan maximums.
	EnforceLimits bool
	Now           func() time.Time
}

type service struct {
	repo          Repository
	tx            db.TxRunner
	outbox        outboxPublisher
	logg          *logger.Logger
	metrics       *metrics.LoyaltyMetrics
	retries       int
	enforceLimits bool
	now           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repository required")
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
		repo:          params.Repo,
		tx:            params.Tx,
		outbox:        params.Outbox,
		logg:          params.Logger,
		metrics:       params.Metrics,
		retries:       params.Retries,
		enforceLimits: params.EnforceLimits,
		now:           params.Now,
	}, nil
}

func validateDelta(subscriptionID uuid.UUID, resource enums.UsageResource, n int64) error {
	if subscriptionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	if !resource.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid usage resource %q", resource))
	}
	if n < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "count must not be negative")
	}
	return nil
}

func (s *service) IncrementUsageCount(ctx context.Context, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) (*models.PartnerSubscriptionUsage, error) {
	return s.adjust(ctx, subscriptionID, resource, n)
}

func (s *service) DecrementUsageCount(ctx context.Context, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) (*models.PartnerSubscriptionUsage, error) {
	return s.adjust(ctx, subscriptionID, resource, -n)
}

func (s *service) adjust(ctx context.Context, subscriptionID uuid.UUID, resource enums.UsageResource, delta int64) (*models.PartnerSubscriptionUsage, error) {
	n := delta
	if n < 0 {
		n = -n
	}
	if err := validateDelta(subscriptionID, resource, n); err != nil {
		return nil, err
	}
	var result *models.PartnerSubscriptionUsage
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		row, err := s.apply(ctx, tx, subscriptionID, resource, delta)
		if err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) IncrementInTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if err := validateDelta(subscriptionID, resource, n); err != nil {
		return err
	}
	_, err := s.apply(ctx, tx, subscriptionID, resource, n)
	return err
}

func (s *service) DecrementInTx(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, resource enums.UsageResource, n int64) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if err := validateDelta(subscriptionID, resource, n); err != nil {
		return err
	}
	_, err := s.apply(ctx, tx, subscriptionID, resource, -n)
	return err
}

func (s *service) withRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.RetryOnConflict(ctx, s.retries, func() error {
		err := s.tx.WithTx(ctx, fn)
		if pkgerrors.IsConcurrencyConflict(err) {
			s.metrics.IncConflict("usage")
		}
		return err
	})
}

// apply adds delta to one counter. Results below zero are clamped and reported as drift.
func (s *service) apply(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, resource enums.UsageResource, delta int64) (*models.PartnerSubscriptionUsage, error) {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindSubscription(ctx, subscriptionID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		return nil, err
	}
	row, err := s.ensureUsage(ctx, repo, subscriptionID)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return row, nil
	}

	stored := row.Count(resource)
	next := stored + delta
	if delta > 0 && s.enforceLimits {
		if limit := planLimit(sub, resource); limit != nil && next > int64(*limit) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription limit reached").
				WithDetails(map[string]any{"resource": resource, "limit": *limit, "current": stored})
		}
	}
	if next < 0 {
		if err := s.reportDrift(ctx, tx, subscriptionID, resource, sourceClamp, stored, 0); err != nil {
			return nil, err
		}
		next = 0
	}
	if next == stored {
		return row, nil
	}

	if err := repo.UpdateCounters(ctx, row, map[enums.UsageResource]int64{resource: next}); err != nil {
		return nil, err
	}
	updated := row.WithCount(resource, next)
	updated.Version = row.Version + 1
	return &updated, nil
}

func planLimit(sub *models.PartnerSubscription, resource enums.UsageResource) *int {
	switch resource {
	case enums.UsageTenants:
		return sub.MaxTenants
	case enums.UsageBranches:
		return sub.MaxBranches
	case enums.UsageCustomers:
		return sub.MaxCustomers
	case enums.UsageRewards:
		return sub.MaxRewards
	default:
		return nil
	}
}

func (s *service) ensureUsage(ctx context.Context, repo Repository, subscriptionID uuid.UUID) (*models.PartnerSubscriptionUsage, error) {
	row, err := repo.FindUsage(ctx, subscriptionID)
	if err == nil {
		return row, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}
	row = &models.PartnerSubscriptionUsage{
		ID:                    uuid.New(),
		PartnerSubscriptionID: subscriptionID,
		Version:               1,
	}
	if err := repo.CreateUsage(ctx, row); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "usage row created concurrently")
		}
		return nil, err
	}
	return row, nil
}

func (s *service) reportDrift(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, resource enums.UsageResource, source string, stored, expected int64) error {
	s.metrics.IncUsageDrift(string(resource), source)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": subscriptionID.String(),
		"resource":        resource,
		"source":          source,
		"stored":          stored,
		"expected":        expected,
		"code":            pkgerrors.CodeDriftDetected,
	})
	s.logg.Warn(logCtx, "usage counter drift detected")

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventUsageDriftDetected,
		AggregateType: enums.AggregateSubscriptionUsage,
		AggregateID:   subscriptionID,
		Data: payloads.UsageDriftDetectedEvent{
			SubscriptionID: subscriptionID,
			Resource:       resource,
			Source:         source,
			Expected:       expected,
			Stored:         stored,
		},
		OccurredAt: s.now().UTC(),
	})
}

// ResolveSubscription follows tenant → partner → latest countable subscription, falling
// back to the partner's latest subscription of any status.
func (s *service) ResolveSubscription(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (*models.PartnerSubscription, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	repo := s.repo.WithTx(tx)
	tenant, err := repo.FindTenant(ctx, tenantID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, err
	}
	return s.resolveForPartner(ctx, repo, tenant.PartnerID)
}

func (s *service) AdjustForTenant(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, resource enums.UsageResource, delta int64) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	sub, err := s.ResolveSubscription(ctx, tx, tenantID)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			logCtx := s.logg.WithFields(ctx, map[string]any{"tenant_id": tenantID.String(), "resource": resource})
			s.logg.Warn(logCtx, "no subscription to count usage against")
			return nil
		}
		return err
	}
	n := delta
	if n < 0 {
		n = -n
	}
	if err := validateDelta(sub.ID, resource, n); err != nil {
		return err
	}
	_, err = s.apply(ctx, tx, sub.ID, resource, delta)
	return err
}

func (s *service) resolveForPartner(ctx context.Context, repo Repository, partnerID uuid.UUID) (*models.PartnerSubscription, error) {
	sub, err := repo.LatestSubscription(ctx, partnerID, countableStatuses)
	if err == nil {
		return sub, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}
	sub, err = repo.LatestSubscription(ctx, partnerID, nil)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "partner has no subscription")
		}
		return nil, err
	}
	return sub, nil
}

func (s *service) RecalculateUsageForTenant(ctx context.Context, tenantID uuid.UUID) (*Reconciliation, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	var result *Reconciliation
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		sub, err := s.ResolveSubscription(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		res, err := s.recount(ctx, tx, sub)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RecalculateUsageForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*Reconciliation, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	var result *Reconciliation
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		sub, err := s.repo.WithTx(tx).FindSubscription(ctx, subscriptionID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
			}
			return err
		}
		res, err := s.recount(ctx, tx, sub)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RecalculateUsageForPartner(ctx context.Context, partnerID uuid.UUID) (*Reconciliation, error) {
	if partnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id is required")
	}
	var result *Reconciliation
	err := s.withRetry(ctx, func(tx *gorm.DB) error {
		sub, err := s.resolveForPartner(ctx, s.repo.WithTx(tx), partnerID)
		if err != nil {
			return err
		}
		res, err := s.recount(ctx, tx, sub)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) recount(ctx context.Context, tx *gorm.DB, sub *models.PartnerSubscription) (*Reconciliation, error) {
	repo := s.repo.WithTx(tx)
	row, err := s.ensureUsage(ctx, repo, sub.ID)
	if err != nil {
		return nil, err
	}
	live, err := repo.CountLive(ctx, sub.PartnerID)
	if err != nil {
		return nil, err
	}

	result := &Reconciliation{SubscriptionID: sub.ID, Drift: []Drift{}}
	changed := make(map[enums.UsageResource]int64)
	for _, resource := range enums.AllUsageResources() {
		stored, expected := row.Count(resource), live[resource]
		if stored == expected {
			continue
		}
		changed[resource] = expected
		result.Drift = append(result.Drift, Drift{Resource: resource, Stored: stored, Expected: expected})
		if err := s.reportDrift(ctx, tx, sub.ID, resource, sourceRecount, stored, expected); err != nil {
			return nil, err
		}
	}

	updated := *row
	if len(changed) > 0 {
		if err := repo.UpdateCounters(ctx, row, changed); err != nil {
			return nil, err
		}
		for resource, value := range changed {
			updated = updated.WithCount(resource, value)
		}
		updated.Version = row.Version + 1
	}
	result.Usage = updated
	return result, nil
}

func (s *service) GetUsage(ctx context.Context, subscriptionID uuid.UUID) (*models.PartnerSubscriptionUsage, error) {
	if subscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	row, err := s.repo.FindUsage(ctx, subscriptionID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "usage not found")
		}
		return nil, err
	}
	return row, nil
}

func (s *service) ListPartnerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	return s.repo.ListPartnerIDs(ctx, after, limit)
}

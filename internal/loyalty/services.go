package loyalty

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/internal/ledger"
	"github.com/angelmondragon/loyalty-core/internal/memberships"
	"github.com/angelmondragon/loyalty-core/internal/referrals"
	"github.com/angelmondragon/loyalty-core/internal/tenants"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/internal/usage"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
)

// Dependencies are the shared resources every domain service is built from.
type Dependencies struct {
	DB      *gorm.DB
	Tx      db.TxRunner
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Metrics *metrics.LoyaltyMetrics
	Config  *config.Config
}

// Services groups the domain services used by the API and the cron worker.
type Services struct {
	Ledger      ledger.Service
	Tiers       tiers.Service
	Usage       usage.Service
	Referrals   referrals.Service
	Memberships memberships.Service
	Tenants     tenants.Service
	Loyalty     Service
}

// NewServices wires the domain services against one database and outbox.
func NewServices(deps Dependencies) (*Services, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("db required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case deps.Config == nil:
		return nil, fmt.Errorf("config required")
	}
	cfg := deps.Config
	retries := cfg.Ledger.ConcurrencyRetries

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:    ledger.NewRepository(deps.DB),
		Tx:      deps.Tx,
		Outbox:  deps.Outbox,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Config:  cfg.Ledger,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	tierSvc, err := tiers.NewService(tiers.ServiceParams{
		Repo:    tiers.NewRepository(deps.DB),
		Tx:      deps.Tx,
		Outbox:  deps.Outbox,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Config:  cfg.Tier,
		Retries: retries,
	})
	if err != nil {
		return nil, fmt.Errorf("tier service: %w", err)
	}

	usageSvc, err := usage.NewService(usage.ServiceParams{
		Repo:          usage.NewRepository(deps.DB),
		Tx:            deps.Tx,
		Outbox:        deps.Outbox,
		Logger:        deps.Logger,
		Metrics:       deps.Metrics,
		Retries:       retries,
		EnforceLimits: cfg.Usage.EnforceLimits,
	})
	if err != nil {
		return nil, fmt.Errorf("usage service: %w", err)
	}

	referralSvc, err := referrals.NewService(referrals.ServiceParams{
		Repo:    referrals.NewRepository(deps.DB),
		Ledger:  ledgerSvc,
		Tiers:   tierSvc,
		Tx:      deps.Tx,
		Outbox:  deps.Outbox,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Config:  cfg.Referral,
		Retries: retries,
	})
	if err != nil {
		return nil, fmt.Errorf("referral service: %w", err)
	}

	membershipSvc, err := memberships.NewService(memberships.ServiceParams{
		Repo:    memberships.NewRepository(deps.DB),
		Tx:      deps.Tx,
		Usage:   usageSvc,
		Logger:  deps.Logger,
		Retries: retries,
	})
	if err != nil {
		return nil, fmt.Errorf("membership service: %w", err)
	}

	tenantSvc, err := tenants.NewService(tenants.ServiceParams{
		Repo:    tenants.NewRepository(deps.DB),
		Tx:      deps.Tx,
		Usage:   usageSvc,
		Logger:  deps.Logger,
		Retries: retries,
	})
	if err != nil {
		return nil, fmt.Errorf("tenant service: %w", err)
	}

	loyaltySvc, err := NewService(ServiceParams{
		Ledger:    ledgerSvc,
		Tiers:     tierSvc,
		Referrals: referralSvc,
		Tx:        deps.Tx,
		Logger:    deps.Logger,
		Retries:   retries,
	})
	if err != nil {
		return nil, fmt.Errorf("loyalty service: %w", err)
	}

	return &Services{
		Ledger:      ledgerSvc,
		Tiers:       tierSvc,
		Usage:       usageSvc,
		Referrals:   referralSvc,
		Memberships: membershipSvc,
		Tenants:     tenantSvc,
		Loyalty:     loyaltySvc,
	}, nil
}

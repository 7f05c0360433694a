package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/loyalty-core/internal/cron"
	"github.com/angelmondragon/loyalty-core/internal/loyalty"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/instance"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
	"github.com/angelmondragon/loyalty-core/pkg/migrate"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
	"github.com/angelmondragon/loyalty-core/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	outboxRepo := outbox.NewRepository(dbClient.DB())
	services, err := loyalty.NewServices(loyalty.Dependencies{
		DB:      dbClient.DB(),
		Tx:      dbClient,
		Outbox:  outbox.NewService(outboxRepo, logg),
		Logger:  logg,
		Metrics: metrics.NewLoyaltyMetrics(prometheus.DefaultRegisterer),
		Config:  cfg,
	})
	requireResource(ctx, logg, "domain services", err)

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := buildRegistry(cfg, logg, jobMetrics, services, dbClient, outboxRepo)
	requireResource(ctx, logg, "cron jobs", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+envOrLocal(cfg.App.Env)), cfg.Cron.LockTTL)
	requireResource(ctx, logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, jobMetrics *metrics.CronJobMetrics, services *loyalty.Services, dbClient *db.Client, outboxRepo *outbox.Repository) (*cron.Registry, error) {
	tierEvaluation, err := cron.NewSweepJob(cron.SweepJobParams{
		Name:      "tier-evaluation",
		Logger:    logg,
		Metrics:   jobMetrics,
		Find:      services.Tiers.FindPendingEvaluation,
		Process:   evaluate(services),
		BatchSize: cfg.Tier.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}

	graceExpiry, err := cron.NewSweepJob(cron.SweepJobParams{
		Name:      "tier-grace-expiry",
		Logger:    logg,
		Metrics:   jobMetrics,
		Find:      services.Tiers.FindExpiringGracePeriods,
		Process:   evaluate(services),
		BatchSize: cfg.Tier.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}

	pointsExpiration, err := cron.NewSweepJob(cron.SweepJobParams{
		Name:    "points-expiration",
		Logger:  logg,
		Metrics: jobMetrics,
		FindAfter: func(ctx context.Context, _ time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
			return services.Ledger.ListMembershipsWithExpiredLots(ctx, after, limit)
		},
		Process: func(ctx context.Context, membershipID uuid.UUID) error {
			_, err := services.Loyalty.ExpireMembership(ctx, membershipID)
			return err
		},
		BatchSize: cfg.Ledger.ExpirationBatchSize,
	})
	if err != nil {
		return nil, err
	}

	usageReconcile, err := cron.NewUsageReconcileJob(cron.UsageReconcileJobParams{
		Logger:    logg,
		Metrics:   jobMetrics,
		Usage:     services.Usage,
		BatchSize: cfg.Usage.ReconcileBatchSize,
	})
	if err != nil {
		return nil, err
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Metrics:    jobMetrics,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	// Expiration runs before tier evaluation so the sweep sees post-expiry balances.
	return cron.NewRegistry(pointsExpiration, graceExpiry, tierEvaluation, usageReconcile, outboxRetention)
}

func evaluate(services *loyalty.Services) cron.MembershipAction {
	return func(ctx context.Context, membershipID uuid.UUID) error {
		_, err := services.Tiers.EvaluateTier(ctx, membershipID)
		return err
	}
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

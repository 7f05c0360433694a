package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/loyalty-core/internal/activity/router"
	"github.com/angelmondragon/loyalty-core/internal/activity/worker"
	"github.com/angelmondragon/loyalty-core/internal/activity/writer"
	"github.com/angelmondragon/loyalty-core/pkg/bigquery"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/outbox/idempotency"
	"github.com/angelmondragon/loyalty-core/pkg/outbox/registry"
	"github.com/angelmondragon/loyalty-core/pkg/pubsub"
	"github.com/angelmondragon/loyalty-core/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "activity-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "activity-worker"

	logg = logger.New(logger.Options{
		ServiceName: "activity-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	requireResource(ctx, logg, "activity table", writer.EnsureSchema(ctx, bqClient, cfg.BigQuery.ActivityTable))
	requireResource(ctx, logg, "bigquery ping", bqClient.Ping(ctx))

	subscription := pubsubClient.ActivitySubscription()
	if subscription == nil {
		requireResource(ctx, logg, "activity subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	activityWriter, err := writer.New(bqClient, writer.Config{Table: cfg.BigQuery.ActivityTable})
	requireResource(ctx, logg, "activity writer", err)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	requireResource(ctx, logg, "event registry", err)

	routingHandler, err := router.NewRouter(activityWriter, registry.NewDefaultDecoderRegistry(events), logg, nil)
	requireResource(ctx, logg, "activity router", err)

	service, err := worker.NewService(subscription, routingHandler, manager, logg)
	requireResource(ctx, logg, "activity worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "activity worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "activity worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

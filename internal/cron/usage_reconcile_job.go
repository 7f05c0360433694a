package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/loyalty-core/internal/usage"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
)

const defaultReconcileBatch = 200

type usageReconciler interface {
	ListPartnerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	RecalculateUsageForPartner(ctx context.Context, partnerID uuid.UUID) (*usage.Reconciliation, error)
}

type UsageReconcileJobParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Usage     usageReconciler
	BatchSize int
}

// NewUsageReconcileJob recounts the usage counters of every active partner.
func NewUsageReconcileJob(params UsageReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Usage == nil {
		return nil, fmt.Errorf("usage service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &usageReconcileJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		usage:   params.Usage,
		batch:   batch,
	}, nil
}

type usageReconcileJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	usage   usageReconciler
	batch   int
}

func (j *usageReconcileJob) Name() string { return "usage-reconcile" }

func (j *usageReconcileJob) Run(ctx context.Context) error {
	var (
		errs        error
		partners    int
		skipped     int
		corrections int
	)
	after := uuid.Nil
	for {
		ids, err := j.usage.ListPartnerIDs(ctx, after, j.batch)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list partners: %w", err))
		}
		for _, partnerID := range ids {
			if err := ctx.Err(); err != nil {
				return multierr.Append(errs, err)
			}
			res, err := j.usage.RecalculateUsageForPartner(ctx, partnerID)
			switch {
			case pkgerrors.IsNotFound(err):
				skipped++
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("partner %s: %w", partnerID, err))
			default:
				partners++
				corrections += len(res.Drift)
			}
		}
		if len(ids) < j.batch {
			break
		}
		after = ids[len(ids)-1]
	}

	j.metrics.AddProcessed(j.Name(), partners)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"partners":    partners,
		"skipped":     skipped,
		"corrections": corrections,
	})
	j.logg.Info(logCtx, "usage reconciliation complete")
	return errs
}

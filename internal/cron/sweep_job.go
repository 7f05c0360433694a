package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
)

const (
	defaultSweepBatch = 500
	maxSweepRounds    = 20
)

// MembershipFinder returns up to limit membership ids that are due at now.
type MembershipFinder func(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

// PagedMembershipFinder returns up to limit membership ids after the given id, in id order.
// Finders whose results can stay due after processing use it so a run always advances.
type PagedMembershipFinder func(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)

// MembershipAction processes a single due membership.
type MembershipAction func(ctx context.Context, membershipID uuid.UUID) error

// SweepJobParams configure a membership sweep.
type SweepJobParams struct {
	Name      string
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Find      MembershipFinder
	FindAfter PagedMembershipFinder
	Process   MembershipAction
	BatchSize int
}

// NewSweepJob builds a job that pages through due memberships and processes each one.
// A failing membership does not stop the sweep. Its error is reported with the rest.
func NewSweepJob(params SweepJobParams) (Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if (params.Find == nil) == (params.FindAfter == nil) || params.Process == nil {
		return nil, fmt.Errorf("exactly one finder and an action required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &sweepJob{
		name:    params.Name,
		logg:    params.Logger,
		metrics: params.Metrics,
		find:    params.Find,
		paged:   params.FindAfter,
		process: params.Process,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type sweepJob struct {
	name    string
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	find    MembershipFinder
	paged   PagedMembershipFinder
	process MembershipAction
	batch   int
	now     func() time.Time
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	seen := make(map[uuid.UUID]struct{})
	var (
		errs      error
		processed int
		failed    int
		after     uuid.UUID
	)

	for round := 0; j.paged != nil || round < maxSweepRounds; round++ {
		var (
			ids []uuid.UUID
			err error
		)
		if j.paged != nil {
			ids, err = j.paged(ctx, now, after, j.batch)
		} else {
			ids, err = j.find(ctx, now, j.batch)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: find due memberships: %w", j.name, err))
			break
		}
		fresh := 0
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++
			if err := ctx.Err(); err != nil {
				return multierr.Append(errs, err)
			}
			if err := j.process(ctx, id); err != nil {
				failed++
				errs = multierr.Append(errs, fmt.Errorf("membership %s: %w", id, err))
				j.logg.Error(j.logg.WithField(ctx, "membership_id", id.String()), "sweep item failed", err)
				continue
			}
			processed++
		}
		if len(ids) < j.batch || fresh == 0 {
			break
		}
		after = ids[len(ids)-1]
	}

	j.metrics.AddProcessed(j.name, processed)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": processed,
		"failed":    failed,
		"as_of":     now,
	})
	j.logg.Info(logCtx, "sweep complete")
	return errs
}

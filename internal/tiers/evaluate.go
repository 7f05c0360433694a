package tiers

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// Policy is the resolved tier policy for one tenant.
type Policy struct {
	Window              enums.EvaluationWindow
	Strategy            enums.DowngradeStrategy
	GracePeriodDays     int
	MinTierDurationDays int
}

// Input is everything the state machine looks at.
type Input struct {
	MembershipID uuid.UUID
	TenantID     uuid.UUID
	Balance      int64
	Tiers        []models.CustomerTier
	Current      *models.TierStatus
	Policy       Policy
	Now          time.Time
}

// Decision is the outcome of one evaluation. Status is always a fresh value; the
// input status is never modified.
type Decision struct {
	Status models.TierStatus
	Change enums.TierChangeType
	From   *uuid.UUID
	Target *models.CustomerTier
	// Blocked is set when a tier move was held back by the minimum tier duration.
	Blocked bool
}

// Changed reports whether Status differs from the stored one.
func (d Decision) Changed(previous *models.TierStatus) bool {
	if previous == nil {
		return true
	}
	return !sameID(previous.CurrentTierID, d.Status.CurrentTierID) ||
		!previous.Since.Equal(d.Status.Since) ||
		!sameTime(previous.NextEvalAt, d.Status.NextEvalAt) ||
		!sameTime(previous.GraceUntil, d.Status.GraceUntil)
}

// Evaluate runs the tier state machine.
func Evaluate(in Input) Decision {
	now := in.Now.UTC()
	ladder := activeLadder(in.Tiers)

	next := models.TierStatus{
		MembershipID: in.MembershipID,
		TenantID:     in.TenantID,
		Since:        now,
	}
	if in.Current != nil {
		next.CurrentTierID = copyID(in.Current.CurrentTierID)
		next.Since = in.Current.Since
		next.GraceUntil = copyTime(in.Current.GraceUntil)
		next.Version = in.Current.Version
	}

	d := Decision{}
	target := TargetTier(ladder, in.Balance)
	d.Target = target
	if target == nil {
		next.CurrentTierID = nil
		next.GraceUntil = nil
		next.NextEvalAt = nextEvaluation(in.Policy.Window, next.Since, now, nil)
		d.Status = next
		return d
	}

	current := findTier(ladder, next.CurrentTierID)
	if current == nil {
		d.From = copyID(next.CurrentTierID)
		d.Change = enums.TierChangeInitialAssignment
		next.CurrentTierID = copyID(&target.ID)
		next.Since = now
		next.GraceUntil = nil
		next.NextEvalAt = nextEvaluation(in.Policy.Window, next.Since, now, nil)
		d.Status = next
		return d
	}

	settled := !now.Before(holdUntil(next.Since, in.Policy))

	switch {
	case target.Priority > current.Priority:
		if settled {
			d.moveTo(&next, current.ID, target.ID, enums.TierChangeUpgrade, now)
			break
		}
		d.Blocked = true
		d.cancelGrace(&next)

	case target.Priority < current.Priority:
		switch in.Policy.Strategy {
		case enums.DowngradeNever:
			d.cancelGrace(&next)
		case enums.DowngradeImmediate:
			if settled {
				d.moveTo(&next, current.ID, target.ID, enums.TierChangeDowngrade, now)
			} else {
				d.Blocked = true
			}
		default:
			if next.GraceUntil == nil {
				if in.Policy.GracePeriodDays <= 0 && settled {
					d.moveTo(&next, current.ID, target.ID, enums.TierChangeDowngrade, now)
					break
				}
				until := now.AddDate(0, 0, in.Policy.GracePeriodDays)
				next.GraceUntil = &until
				d.Change = enums.TierChangeGraceStarted
				break
			}
			if !now.Before(*next.GraceUntil) {
				if settled {
					d.moveTo(&next, current.ID, target.ID, enums.TierChangeDowngrade, now)
				} else {
					d.Blocked = true
				}
			}
		}

	default:
		d.cancelGrace(&next)
	}

	if d.Blocked {
		// An expired grace deadline would schedule in the past; wait for the hold instead.
		hold := holdUntil(next.Since, in.Policy)
		next.NextEvalAt = nextEvaluation(in.Policy.Window, next.Since, now, &hold)
	} else {
		next.NextEvalAt = nextEvaluation(in.Policy.Window, next.Since, now, next.GraceUntil)
	}
	d.Status = next
	return d
}

func (d *Decision) moveTo(next *models.TierStatus, from, to uuid.UUID, change enums.TierChangeType, now time.Time) {
	d.From = &from
	d.Change = change
	next.CurrentTierID = &to
	next.Since = now
	next.GraceUntil = nil
}

func (d *Decision) cancelGrace(next *models.TierStatus) {
	if next.GraceUntil == nil {
		return
	}
	next.GraceUntil = nil
	d.Change = enums.TierChangeGraceCancelled
}

// TargetTier returns the tier whose range contains balance, falling back to the
// lowest-priority tier. ladder must already be filtered to active tiers.
func TargetTier(ladder []models.CustomerTier, balance int64) *models.CustomerTier {
	if len(ladder) == 0 {
		return nil
	}
	for i := range ladder {
		if ladder[i].Contains(balance) {
			tier := ladder[i]
			return &tier
		}
	}
	lowest := ladder[0]
	return &lowest
}

// holdUntil is the earliest moment the current tier may be left.
func holdUntil(since time.Time, policy Policy) time.Time {
	if policy.MinTierDurationDays <= 0 {
		return since
	}
	return since.AddDate(0, 0, policy.MinTierDurationDays)
}

func findTier(ladder []models.CustomerTier, id *uuid.UUID) *models.CustomerTier {
	if id == nil {
		return nil
	}
	for i := range ladder {
		if ladder[i].ID == *id {
			return &ladder[i]
		}
	}
	return nil
}

// activeLadder returns the active tiers ordered by ascending priority.
func activeLadder(tiers []models.CustomerTier) []models.CustomerTier {
	out := make([]models.CustomerTier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Active {
			out = append(out, tier)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// nextEvaluation returns the earlier of graceUntil and the next window boundary after now.
// Rolling windows are anchored on since so repeated evaluations agree.
func nextEvaluation(window enums.EvaluationWindow, since, now time.Time, graceUntil *time.Time) *time.Time {
	boundary := windowBoundary(window, since, now)
	if graceUntil != nil && graceUntil.Before(boundary) {
		boundary = *graceUntil
	}
	return &boundary
}

func windowBoundary(window enums.EvaluationWindow, since, now time.Time) time.Time {
	now = now.UTC()
	switch window {
	case enums.WindowQuarterly:
		quarterStart := time.Month((int(now.Month())-1)/3*3 + 1)
		return time.Date(now.Year(), quarterStart, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 3, 0)
	case enums.WindowRolling30:
		return rollingBoundary(since, now, 30)
	case enums.WindowRolling90:
		return rollingBoundary(since, now, 90)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
}

func rollingBoundary(since, now time.Time, days int) time.Time {
	period := time.Duration(days) * 24 * time.Hour
	since = since.UTC()
	if now.Before(since) {
		return since.Add(period)
	}
	elapsed := now.Sub(since)
	return since.Add((elapsed/period + 1) * period)
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

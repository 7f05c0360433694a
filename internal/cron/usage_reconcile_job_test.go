package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/internal/usage"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
)

type fakeReconciler struct {
	partners   []uuid.UUID
	failures   map[uuid.UUID]error
	reconciled []uuid.UUID
	pages      int
}

func (f *fakeReconciler) ListPartnerIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	f.pages++
	start := 0
	if after != uuid.Nil {
		for i, id := range f.partners {
			if id == after {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(f.partners))
	return f.partners[start:end], nil
}

func (f *fakeReconciler) RecalculateUsageForPartner(_ context.Context, partnerID uuid.UUID) (*usage.Reconciliation, error) {
	if err := f.failures[partnerID]; err != nil {
		return nil, err
	}
	f.reconciled = append(f.reconciled, partnerID)
	return &usage.Reconciliation{Drift: []usage.Drift{{Resource: enums.UsageBranches, Stored: 4, Expected: 3}}}, nil
}

func TestUsageReconcileJobPagesThroughPartners(t *testing.T) {
	fake := &fakeReconciler{}
	for i := 0; i < 5; i++ {
		fake.partners = append(fake.partners, uuid.New())
	}
	job, err := NewUsageReconcileJob(UsageReconcileJobParams{Logger: testLogger(), Usage: fake, BatchSize: 2})
	if err != nil {
		t.Fatalf("NewUsageReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.reconciled) != 5 {
		t.Fatalf("expected every partner reconciled, got %d", len(fake.reconciled))
	}
	if fake.pages != 3 {
		t.Fatalf("expected 3 pages, got %d", fake.pages)
	}
}

func TestUsageReconcileJobSkipsPartnersWithoutSubscription(t *testing.T) {
	noSub, broken := uuid.New(), uuid.New()
	fake := &fakeReconciler{
		partners: []uuid.UUID{uuid.New(), noSub, broken},
		failures: map[uuid.UUID]error{
			noSub:  pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"),
			broken: errors.New("deadlock"),
		},
	}
	job, _ := NewUsageReconcileJob(UsageReconcileJobParams{Logger: testLogger(), Usage: fake})
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the broken partner to be reported")
	}
	if pkgerrors.IsNotFound(err) {
		t.Fatal("missing subscriptions are skipped, not reported")
	}
	if len(fake.reconciled) != 1 {
		t.Fatalf("expected one partner reconciled, got %d", len(fake.reconciled))
	}
}

package memberships

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/db/dbtest"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type stubUsage struct {
	adjustFn func(tenantID uuid.UUID, resource enums.UsageResource, delta int64) error
	net      map[enums.UsageResource]int64
}

func (s *stubUsage) AdjustForTenant(_ context.Context, _ *gorm.DB, tenantID uuid.UUID, resource enums.UsageResource, delta int64) error {
	if s.adjustFn != nil {
		if err := s.adjustFn(tenantID, resource, delta); err != nil {
			return err
		}
	}
	if s.net == nil {
		s.net = map[enums.UsageResource]int64{}
	}
	s.net[resource] += delta
	return nil
}

func newMembershipService(t *testing.T) (Service, *stubUsage, *gorm.DB, uuid.UUID) {
	t.Helper()
	client, conn := dbtest.Client(t, models.All()...)
	usage := &stubUsage{}
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     client,
		Usage:  usage,
		Logger: logger.New(logger.Options{ServiceName: "memberships-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	tenant := models.Tenant{ID: uuid.New(), PartnerID: uuid.New(), Name: "Cafe", Slug: "cafe-" + uuid.NewString()[:8], Active: true}
	if err := conn.Create(&tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return svc, usage, conn, tenant.ID
}

func TestJoinAndDeactivateTrackCustomers(t *testing.T) {
	svc, usage, _, tenantID := newMembershipService(t)
	ctx := context.Background()
	userID := uuid.New()

	joined, err := svc.Join(ctx, tenantID, userID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !joined.Active || joined.Points != 0 {
		t.Fatalf("unexpected membership %+v", joined)
	}

	if _, err := svc.Join(ctx, tenantID, userID); !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict on second join, got %v", err)
	}

	for i := 0; i < 2; i++ {
		dto, err := svc.Deactivate(ctx, tenantID, joined.ID)
		if err != nil {
			t.Fatalf("deactivate #%d: %v", i, err)
		}
		if dto.Active {
			t.Fatalf("expected inactive membership")
		}
	}
	if got := usage.net[enums.UsageCustomers]; got != 0 {
		t.Fatalf("expected customers net 0 after join+deactivate, got %d", got)
	}

	rejoined, err := svc.Join(ctx, tenantID, userID)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rejoined.ID != joined.ID {
		t.Fatalf("rejoin should reactivate the same membership")
	}
	if got := usage.net[enums.UsageCustomers]; got != 1 {
		t.Fatalf("expected customers net 1, got %d", got)
	}

	members, err := svc.ListTenantMembers(ctx, tenantID, true)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].TierName != nil {
		t.Fatalf("unexpected members %+v", members)
	}
}

func TestJoinRollsBackWhenCounterFails(t *testing.T) {
	svc, usage, conn, tenantID := newMembershipService(t)
	usage.adjustFn = func(uuid.UUID, enums.UsageResource, int64) error {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription limit reached")
	}

	_, err := svc.Join(context.Background(), tenantID, uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected limit error, got %v", err)
	}
	var count int64
	if err := conn.Model(&models.CustomerMembership{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("membership should not persist, found %d", count)
	}
}

func TestMembershipScopedToTenant(t *testing.T) {
	svc, _, _, tenantID := newMembershipService(t)
	ctx := context.Background()

	joined, err := svc.Join(ctx, tenantID, uuid.New())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.Get(ctx, uuid.New(), joined.ID); !pkgerrors.IsNotFound(err) {
		t.Fatalf("expected not found for other tenant, got %v", err)
	}
	if _, err := svc.Join(ctx, uuid.New(), uuid.New()); !pkgerrors.IsNotFound(err) {
		t.Fatalf("expected unknown tenant to be not found, got %v", err)
	}
}

package referrals

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/internal/ledger"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db/dbtest"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
)

var referralBase = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type referralFixture struct {
	conn     *gorm.DB
	svc      Service
	ledger   ledger.Service
	outbox   *recordingOutbox
	now      time.Time
	tenantID uuid.UUID
	referrer models.CustomerMembership
	referred models.CustomerMembership
}

func newReferralFixture(t *testing.T, cfg config.ReferralConfig) *referralFixture {
	t.Helper()
	client, conn := dbtest.Client(t, models.All()...)
	logg := logger.New(logger.Options{ServiceName: "referrals-test", Output: io.Discard})
	f := &referralFixture{conn: conn, outbox: &recordingOutbox{}, now: referralBase, tenantID: uuid.New()}
	clock := func() time.Time { return f.now }

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(conn),
		Tx:     client,
		Logger: logg,
		Config: config.LedgerConfig{ConcurrencyRetries: 3},
		Now:    clock,
	})
	require.NoError(t, err)
	f.ledger = ledgerSvc

	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Ledger: ledgerSvc,
		Tx:     client,
		Outbox: f.outbox,
		Logger: logg,
		Config: cfg,
		Now:    clock,
	})
	require.NoError(t, err)
	f.svc = svc

	f.referrer = f.member(t, f.tenantID)
	f.referred = f.member(t, f.tenantID)
	return f
}

func (f *referralFixture) member(t *testing.T, tenantID uuid.UUID) models.CustomerMembership {
	t.Helper()
	m := models.CustomerMembership{ID: uuid.New(), UserID: uuid.New(), TenantID: tenantID, Active: true, Version: 1}
	require.NoError(t, f.conn.Create(&m).Error)
	return m
}

func (f *referralFixture) refer(t *testing.T, referrer, referred uuid.UUID) *models.Referral {
	t.Helper()
	r, err := f.svc.CreateReferral(context.Background(), CreateInput{
		TenantID:             f.tenantID,
		ReferrerMembershipID: referrer,
		ReferredMembershipID: referred,
	})
	require.NoError(t, err)
	return r
}

func defaultConfig() config.ReferralConfig {
	return config.ReferralConfig{BonusPoints: 100, RewardOnFirstPurchase: true, MaxPerMonth: 50, Cooldown: 24 * time.Hour}
}

func TestRecordReferralPurchase_Idempotent(t *testing.T) {
	f := newReferralFixture(t, defaultConfig())
	ctx := context.Background()
	referral := f.refer(t, f.referrer.ID, f.referred.ID)
	assert.Equal(t, enums.ReferralPending, referral.Status)
	assert.Len(t, referral.ReferralCode, 8)

	first, err := f.svc.RecordReferralPurchase(ctx, f.referred.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].FirstPurchaseCompleted)
	assert.True(t, first[0].RewardGranted)
	assert.Equal(t, enums.ReferralCompleted, first[0].Status)
	require.NotNil(t, first[0].RewardTransactionID)

	f.now = referralBase.Add(time.Hour)
	second, err := f.svc.RecordReferralPurchase(ctx, f.referred.ID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Version, second[0].Version, "second call writes nothing")
	assert.True(t, first[0].FirstPurchaseAt.Equal(*second[0].FirstPurchaseAt))

	txs, err := f.ledger.ListTransactions(ctx, f.referrer.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(100), txs[0].PointsDelta)
	assert.Equal(t, *first[0].RewardTransactionID, txs[0].ID)

	balance, err := f.ledger.GetBalance(ctx, f.referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	require.Len(t, f.outbox.events, 1)
	assert.Equal(t, enums.EventReferralRewardGranted, f.outbox.events[0].EventType)

	stored, err := f.svc.GetReferral(ctx, f.tenantID, referral.ID)
	require.NoError(t, err)
	assert.True(t, stored.RewardGranted)
	assert.Equal(t, enums.ReferralCompleted, stored.Status)
}

func TestRecordReferralPurchase_NoRewardProgram(t *testing.T) {
	cfg := defaultConfig()
	cfg.RewardOnFirstPurchase = false
	f := newReferralFixture(t, cfg)
	f.refer(t, f.referrer.ID, f.referred.ID)

	updated, err := f.svc.RecordReferralPurchase(context.Background(), f.referred.ID)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].FirstPurchaseCompleted)
	assert.False(t, updated[0].RewardGranted)
	assert.Equal(t, enums.ReferralActive, updated[0].Status)
	assert.Empty(t, f.outbox.events)
}

func TestRecordReferralPurchase_SkipsCancelled(t *testing.T) {
	f := newReferralFixture(t, defaultConfig())
	ctx := context.Background()
	referral := f.refer(t, f.referrer.ID, f.referred.ID)

	cancelled, err := f.svc.CancelReferral(ctx, f.tenantID, referral.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReferralCancelled, cancelled.Status)

	updated, err := f.svc.RecordReferralPurchase(ctx, f.referred.ID)
	require.NoError(t, err)
	assert.Empty(t, updated)

	_, err = f.svc.CancelReferral(ctx, f.tenantID, referral.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestRecordReferralPurchase_InactiveReferrerRetriesLater(t *testing.T) {
	f := newReferralFixture(t, defaultConfig())
	ctx := context.Background()
	f.refer(t, f.referrer.ID, f.referred.ID)
	require.NoError(t, f.conn.Model(&models.CustomerMembership{}).Where("id = ?", f.referrer.ID).Update("active", false).Error)

	updated, err := f.svc.RecordReferralPurchase(ctx, f.referred.ID)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].FirstPurchaseCompleted)
	assert.False(t, updated[0].RewardGranted)

	require.NoError(t, f.conn.Model(&models.CustomerMembership{}).Where("id = ?", f.referrer.ID).Update("active", true).Error)
	updated, err = f.svc.RecordReferralPurchase(ctx, f.referred.ID)
	require.NoError(t, err)
	assert.True(t, updated[0].RewardGranted)
}

func TestCreateReferral_AntiFraud(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxPerMonth = 2
	f := newReferralFixture(t, cfg)
	ctx := context.Background()

	_, err := f.svc.CreateReferral(ctx, CreateInput{TenantID: f.tenantID, ReferrerMembershipID: f.referrer.ID, ReferredMembershipID: f.referrer.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "self referral")

	outsider := f.member(t, uuid.New())
	_, err = f.svc.CreateReferral(ctx, CreateInput{TenantID: f.tenantID, ReferrerMembershipID: f.referrer.ID, ReferredMembershipID: outsider.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "cross tenant")

	_, err = f.svc.CreateReferral(ctx, CreateInput{TenantID: f.tenantID, ReferrerMembershipID: f.referrer.ID, ReferredMembershipID: uuid.New()})
	assert.True(t, pkgerrors.IsNotFound(err))

	f.refer(t, f.referrer.ID, f.referred.ID)
	_, err = f.svc.CreateReferral(ctx, CreateInput{TenantID: f.tenantID, ReferrerMembershipID: f.referrer.ID, ReferredMembershipID: f.referred.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "open duplicate")

	other := f.member(t, f.tenantID)
	_, err = f.svc.CreateReferral(ctx, CreateInput{TenantID: f.tenantID, ReferrerMembershipID: other.ID, ReferredMembershipID: f.referred.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRateLimit), "cooldown on the referred membership")

	f.now = referralBase.Add(25 * time.Hour)
	second := f.member(t, f.tenantID)
	f.refer(t, f.referrer.ID, second.ID)
	third := f.member(t, f.tenantID)
	_, err = f.svc.CreateReferral(ctx, CreateInput{TenantID: f.tenantID, ReferrerMembershipID: f.referrer.ID, ReferredMembershipID: third.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeRateLimit), "monthly cap")

	f.now = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	f.refer(t, f.referrer.ID, third.ID)

	listed, err := f.svc.ListByReferrer(ctx, f.tenantID, f.referrer.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestTransitionsAreMonotonic(t *testing.T) {
	base := models.Referral{ID: uuid.New(), Status: enums.ReferralPending}

	if _, ok := markRewardGranted(base, uuid.New(), referralBase); ok {
		t.Fatalf("reward requires a first purchase")
	}
	bought, ok := markFirstPurchase(base, referralBase)
	if !ok || !bought.FirstPurchaseCompleted || bought.Status != enums.ReferralActive {
		t.Fatalf("unexpected first purchase transition: %+v", bought)
	}
	if base.FirstPurchaseCompleted {
		t.Fatalf("input must not be modified")
	}
	if again, ok := markFirstPurchase(bought, referralBase.Add(time.Hour)); ok || !again.FirstPurchaseAt.Equal(referralBase) {
		t.Fatalf("first purchase is set once")
	}
	granted, ok := markRewardGranted(bought, uuid.New(), referralBase)
	if !ok || granted.Status != enums.ReferralCompleted {
		t.Fatalf("unexpected reward transition: %+v", granted)
	}
	if _, ok := markRewardGranted(granted, uuid.New(), referralBase); ok {
		t.Fatalf("reward is granted once")
	}
	if updates := diff(base, granted); len(updates) != 6 {
		t.Fatalf("expected every changed column, got %v", updates)
	}
}

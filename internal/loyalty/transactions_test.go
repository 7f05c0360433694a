package loyalty

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
	"github.com/angelmondragon/loyalty-core/internal/referrals"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db/dbtest"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type txFixture struct {
	conn       *gorm.DB
	svc        Service
	tiers      tiers.Service
	referrals  referrals.Service
	now        time.Time
	tenantID   uuid.UUID
	rewardID   uuid.UUID
	bronzeID   uuid.UUID
	silverID   uuid.UUID
	membership models.CustomerMembership
}

func newTxFixture(t *testing.T) *txFixture {
	t.Helper()
	client, conn := dbtest.Client(t, models.All()...)
	logg := logger.New(logger.Options{ServiceName: "loyalty-test", Output: io.Discard})
	f := &txFixture{conn: conn, now: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	ctx := context.Background()

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(conn),
		Tx:     client,
		Logger: logg,
		Config: config.LedgerConfig{ConcurrencyRetries: 3},
		Now:    clock,
	})
	require.NoError(t, err)
	tierSvc, err := tiers.NewService(tiers.ServiceParams{
		Repo:   tiers.NewRepository(conn),
		Tx:     client,
		Logger: logg,
		Config: config.TierConfig{GracePeriodDays: 30, EvaluationWindow: "MONTHLY", DowngradeStrategy: "GRACE_PERIOD"},
		Now:    clock,
	})
	require.NoError(t, err)
	referralSvc, err := referrals.NewService(referrals.ServiceParams{
		Repo:   referrals.NewRepository(conn),
		Ledger: ledgerSvc,
		Tiers:  tierSvc,
		Tx:     client,
		Logger: logg,
		Config: config.ReferralConfig{BonusPoints: 100, RewardOnFirstPurchase: true, MaxPerMonth: 10},
		Now:    clock,
	})
	require.NoError(t, err)
	f.svc, err = NewService(ServiceParams{Ledger: ledgerSvc, Tiers: tierSvc, Referrals: referralSvc, Tx: client, Logger: logg, Retries: 3, Now: clock})
	require.NoError(t, err)
	f.tiers, f.referrals = tierSvc, referralSvc

	tenant := models.Tenant{ID: uuid.New(), PartnerID: uuid.New(), Name: "Bakery", Slug: "bakery-" + uuid.NewString()[:8], Active: true}
	require.NoError(t, conn.Create(&tenant).Error)
	reward := models.Reward{ID: uuid.New(), TenantID: tenant.ID, Name: "Croissant", PointsCost: 100, Active: true}
	require.NoError(t, conn.Create(&reward).Error)
	f.tenantID, f.rewardID = tenant.ID, reward.ID

	max99 := int64(99)
	bronze, err := tierSvc.CreateTier(ctx, tiers.CreateTierInput{TenantID: tenant.ID, Name: "Bronze", MinPoints: 0, MaxPoints: &max99, Priority: 1})
	require.NoError(t, err)
	silver, err := tierSvc.CreateTier(ctx, tiers.CreateTierInput{TenantID: tenant.ID, Name: "Silver", MinPoints: 100, Priority: 2})
	require.NoError(t, err)
	f.bronzeID, f.silverID = bronze.ID, silver.ID

	f.membership = f.join(t)
	return f
}

func (f *txFixture) join(t *testing.T) models.CustomerMembership {
	t.Helper()
	membership := models.CustomerMembership{ID: uuid.New(), UserID: uuid.New(), TenantID: f.tenantID, Active: true, Version: 1}
	require.NoError(t, f.conn.Create(&membership).Error)
	return membership
}

func (f *txFixture) append(t *testing.T, typ enums.TransactionType, delta int64, mutate ...func(*ledger.AppendInput)) *TransactionResult {
	t.Helper()
	input := ledger.AppendInput{
		TenantID:     f.tenantID,
		MembershipID: f.membership.ID,
		Type:         typ,
		PointsDelta:  delta,
	}
	for _, fn := range mutate {
		fn(&input)
	}
	res, err := f.svc.AppendTransaction(context.Background(), input)
	require.NoError(t, err)
	require.NotNil(t, res.Tier)
	return res
}

func TestAppendTransaction_RedeemBelowThresholdStartsGrace(t *testing.T) {
	f := newTxFixture(t)

	earned := f.append(t, enums.TransactionEarning, 150)
	assert.Equal(t, enums.TierChangeInitialAssignment, earned.Tier.Change)
	require.NotNil(t, earned.Tier.Status.CurrentTierID)
	assert.Equal(t, f.silverID, *earned.Tier.Status.CurrentTierID)

	redeemed := f.append(t, enums.TransactionRedeem, -100, func(in *ledger.AppendInput) { in.RewardID = &f.rewardID })
	assert.Equal(t, int64(50), redeemed.Balance)
	assert.Equal(t, enums.TierChangeGraceStarted, redeemed.Tier.Change)
	assert.Equal(t, f.silverID, *redeemed.Tier.Status.CurrentTierID, "grace keeps the current tier")
	require.NotNil(t, redeemed.Tier.Status.GraceUntil)
	assert.True(t, redeemed.Tier.Status.GraceUntil.Equal(f.now.AddDate(0, 0, 30)))

	view, err := f.tiers.GetTierStatus(context.Background(), f.membership.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Status.GraceUntil, "grace persisted with the redemption")
}

func TestAppendTransaction_PositiveAdjustmentUpgradesImmediately(t *testing.T) {
	f := newTxFixture(t)

	earned := f.append(t, enums.TransactionEarning, 60)
	assert.Equal(t, f.bronzeID, *earned.Tier.Status.CurrentTierID)

	adjusted := f.append(t, enums.TransactionAdjustment, 45, func(in *ledger.AppendInput) { in.ReasonCode = "goodwill" })
	assert.Equal(t, int64(105), adjusted.Balance)
	assert.Equal(t, enums.TierChangeUpgrade, adjusted.Tier.Change)
	assert.Equal(t, f.silverID, *adjusted.Tier.Status.CurrentTierID)
	assert.Equal(t, int64(105), adjusted.Tier.Balance)
}

func TestAppendTransaction_ReplayReportsTierWithoutRewriting(t *testing.T) {
	f := newTxFixture(t)
	keyed := func(in *ledger.AppendInput) { in.IdempotencyKey = "pos-991" }

	first := f.append(t, enums.TransactionEarning, 120, keyed)
	assert.False(t, first.Replayed)
	again := f.append(t, enums.TransactionEarning, 120, keyed)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(120), again.Balance)
	assert.Empty(t, again.Tier.Change)
	assert.Equal(t, f.silverID, *again.Tier.Status.CurrentTierID)
}

func TestReverseTransaction_StartsGrace(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	bonus := f.append(t, enums.TransactionEarning, 80)
	f.append(t, enums.TransactionEarning, 40)

	reversed, err := f.svc.ReverseTransaction(ctx, ledger.ReverseInput{
		TenantID:      f.tenantID,
		MembershipID:  f.membership.ID,
		TransactionID: bonus.Transaction.ID,
		ReasonCode:    "chargeback",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), reversed.Balance)
	assert.Equal(t, enums.TierChangeGraceStarted, reversed.Tier.Change)

	_, err = f.svc.ReverseTransaction(ctx, ledger.ReverseInput{TenantID: f.tenantID, MembershipID: f.membership.ID})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestAppendTransaction_FailedWriteLeavesTierUntouched(t *testing.T) {
	f := newTxFixture(t)
	f.append(t, enums.TransactionEarning, 120)

	_, err := f.svc.AppendTransaction(context.Background(), ledger.AppendInput{
		TenantID:     f.tenantID,
		MembershipID: f.membership.ID,
		Type:         enums.TransactionAdjustment,
		PointsDelta:  -500,
	})
	require.Error(t, err)

	view, err := f.tiers.GetTierStatus(context.Background(), f.membership.ID)
	require.NoError(t, err)
	assert.Nil(t, view.Status.GraceUntil)
	assert.Equal(t, f.silverID, *view.Status.CurrentTierID)
}

func TestExpireMembership_ReevaluatesTier(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()

	expires := f.now.AddDate(0, 0, 10)
	f.append(t, enums.TransactionEarning, 120, func(in *ledger.AppendInput) { in.ExpiresAt = &expires })
	f.now = expires.Add(time.Hour)

	res, err := f.svc.ExpireMembership(ctx, f.membership.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	require.NotNil(t, res.Tier)
	assert.Equal(t, int64(0), res.Tier.Balance)
	assert.Equal(t, enums.TierChangeGraceStarted, res.Tier.Change)

	again, err := f.svc.ExpireMembership(ctx, f.membership.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Written)
	assert.Nil(t, again.Tier)

	_, err = f.svc.ExpireMembership(ctx, uuid.Nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRecordPurchase_ReferralBonusEvaluatesReferrer(t *testing.T) {
	f := newTxFixture(t)
	ctx := context.Background()
	referrer := f.membership
	referred := f.join(t)

	_, err := f.referrals.CreateReferral(ctx, referrals.CreateInput{TenantID: f.tenantID, ReferrerMembershipID: referrer.ID, ReferredMembershipID: referred.ID})
	require.NoError(t, err)

	res, err := f.svc.RecordPurchase(ctx, PurchaseInput{TenantID: f.tenantID, MembershipID: referred.ID, BasePoints: 20, PurchaseID: "order-7"})
	require.NoError(t, err)
	require.Len(t, res.Referrals, 1)
	assert.True(t, res.Referrals[0].RewardGranted)

	view, err := f.tiers.GetTierStatus(ctx, referrer.ID)
	require.NoError(t, err, "referrer evaluated in the bonus transaction")
	require.NotNil(t, view.Status.CurrentTierID)
	assert.Equal(t, f.silverID, *view.Status.CurrentTierID)
}

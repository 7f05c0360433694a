package router

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/internal/activity/types"
	"github.com/angelmondragon/loyalty-core/internal/activity/writer"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/outbox/payloads"
)

// rowBuilder fills the event specific columns of a row that already carries the
// envelope columns.
type rowBuilder func(row *types.ActivityRow, payload any) error

type rowHandler struct {
	writer Writer
	logg   *logger.Logger
	build  rowBuilder
}

func newRowHandler(w Writer, logg *logger.Logger, build rowBuilder) Handler {
	return &rowHandler{writer: w, logg: logg, build: build}
}

func (h *rowHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	row, err := baseRow(envelope)
	if err != nil {
		h.logg.Error(logCtx, "failed to encode activity payload", err)
		return err
	}
	if err := h.build(&row, payload); err != nil {
		h.logg.Error(logCtx, "failed to build activity row", err)
		return err
	}
	if err := h.writer.InsertActivity(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert activity row", err)
		return err
	}
	return nil
}

func baseRow(envelope types.Envelope) (types.ActivityRow, error) {
	payload, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.ActivityRow{}, err
	}
	row := types.ActivityRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt,
		Payload:       payload,
	}
	if envelope.TenantID != nil {
		row.TenantID = nullUUID(*envelope.TenantID)
	}
	return row, nil
}

func pointsAppendedRow(row *types.ActivityRow, payload any) error {
	event, ok := payload.(*payloads.PointsTransactionAppendedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for points_transaction_appended")
	}
	row.TenantID = nullUUID(event.TenantID)
	row.MembershipID = nullUUID(event.MembershipID)
	row.TransactionID = nullUUID(event.TransactionID)
	row.PointsDelta = bigquery.NullInt64{Int64: event.PointsDelta, Valid: true}
	row.Balance = bigquery.NullInt64{Int64: event.Balance, Valid: true}
	return nil
}

func tierChangedRow(row *types.ActivityRow, payload any) error {
	event, ok := payload.(*payloads.TierChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for tier_changed")
	}
	row.TenantID = nullUUID(event.TenantID)
	row.MembershipID = nullUUID(event.MembershipID)
	row.Balance = bigquery.NullInt64{Int64: event.Balance, Valid: true}
	row.TierChange = bigquery.NullString{StringVal: string(event.ChangeType), Valid: true}
	if event.ToTierID != nil {
		row.TierID = nullUUID(*event.ToTierID)
	}
	return nil
}

func graceStartedRow(row *types.ActivityRow, payload any) error {
	event, ok := payload.(*payloads.TierGraceStartedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for tier_grace_started")
	}
	row.TenantID = nullUUID(event.TenantID)
	row.MembershipID = nullUUID(event.MembershipID)
	row.Balance = bigquery.NullInt64{Int64: event.Balance, Valid: true}
	row.TierChange = bigquery.NullString{StringVal: "grace_started", Valid: true}
	if event.CurrentTierID != nil {
		row.TierID = nullUUID(*event.CurrentTierID)
	}
	return nil
}

func referralRewardRow(row *types.ActivityRow, payload any) error {
	event, ok := payload.(*payloads.ReferralRewardGrantedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for referral_reward_granted")
	}
	row.TenantID = nullUUID(event.TenantID)
	row.MembershipID = nullUUID(event.ReferrerMembershipID)
	row.TransactionID = nullUUID(event.TransactionID)
	row.PointsDelta = bigquery.NullInt64{Int64: event.BonusPoints, Valid: true}
	return nil
}

func usageDriftRow(row *types.ActivityRow, payload any) error {
	event, ok := payload.(*payloads.UsageDriftDetectedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for usage_drift_detected")
	}
	row.Resource = bigquery.NullString{StringVal: string(event.Resource), Valid: true}
	return nil
}

func nullUUID(id uuid.UUID) bigquery.NullString {
	if id == uuid.Nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: id.String(), Valid: true}
}

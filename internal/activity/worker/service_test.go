package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/internal/activity/router"
	"github.com/angelmondragon/loyalty-core/internal/activity/types"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
)

func TestBuildEnvelope(t *testing.T) {
	tenantID := uuid.New()
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "evt-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		TenantID:   &tenantID,
		Data:       json.RawMessage(`{"membership_id":"m-1"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "tier_changed",
		"aggregate_type": "tier_status",
		"aggregate_id":   "m-1",
	})

	env, err := buildEnvelope(msg)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.EventType != enums.EventTierChanged {
		t.Fatalf("unexpected event type %v", env.EventType)
	}
	if env.AggregateType != enums.AggregateTierStatus {
		t.Fatalf("unexpected aggregate type %v", env.AggregateType)
	}
	if env.AggregateID != "m-1" || env.EventID != "evt-1" {
		t.Fatalf("unexpected ids %s %s", env.AggregateID, env.EventID)
	}
	if env.TenantID == nil || *env.TenantID != tenantID {
		t.Fatalf("tenant id not carried over")
	}
	if !env.OccurredAt.Equal(payload.OccurredAt) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
}

func TestBuildEnvelopeFallsBackToAttributes(t *testing.T) {
	created := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, map[string]string{
		"event_id":       "evt-attr",
		"event_type":     "usage_drift_detected",
		"aggregate_type": "subscription_usage",
		"aggregate_id":   "sub-1",
		"created_at":     created.Format(time.RFC3339Nano),
	})
	env, err := buildEnvelope(msg)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.EventID != "evt-attr" || !env.OccurredAt.Equal(created) {
		t.Fatalf("attribute fallback not applied: %+v", env)
	}
}

func TestBuildEnvelopeRejectsUnknownEventType(t *testing.T) {
	msg := buildMessage(outbox.PayloadEnvelope{EventID: "evt"}, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "membership",
		"aggregate_id":   "x",
	})
	if _, err := buildEnvelope(msg); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestProcessAlreadyProcessed(t *testing.T) {
	manager := &stubManager{checkResult: true}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), buildActivityMessage())
	if res.nack {
		t.Fatalf("expected ack, got nack")
	}
	if handler.called {
		t.Fatal("handler should not be invoked when already processed")
	}
	if len(manager.checked) != 1 {
		t.Fatalf("expected check once, got %d", len(manager.checked))
	}
}

func TestProcessHandlerErrorRetries(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), buildActivityMessage())
	if !res.nack {
		t.Fatalf("expected nack on handler error")
	}
	if !handler.called {
		t.Fatal("handler should be invoked")
	}
	if len(manager.deleted) != 1 {
		t.Fatalf("expected idempotency delete on failure")
	}
}

func TestProcessIdempotencyFailureNacks(t *testing.T) {
	manager := &stubManager{checkErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	if res := svc.process(context.Background(), buildActivityMessage()); !res.nack {
		t.Fatal("expected nack when the idempotency store fails")
	}
	if handler.called {
		t.Fatal("handler should not run without an idempotency mark")
	}
}

func TestProcessInvalidEnvelope(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")})
	if res.nack {
		t.Fatalf("invalid envelope should ack")
	}
	if handler.called {
		t.Fatal("handler should not be invoked")
	}
	if len(manager.checked) != 0 {
		t.Fatalf("idempotency manager should not be touched")
	}
}

func TestProcessUnsupportedEvent(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: fmt.Errorf("%w: other", router.ErrUnsupportedEventType)}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), buildActivityMessage())
	if res.nack {
		t.Fatalf("unsupported event should ack")
	}
	if len(manager.deleted) != 0 {
		t.Fatalf("idempotency delete should not run")
	}
}

func TestNewServiceValidation(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "activity-test", Output: io.Discard})
	if _, err := NewService(nil, &stubHandler{}, &stubManager{}, logg); err == nil {
		t.Fatal("expected error when subscription missing")
	}
}

func buildActivityMessage() *gcppubsub.Message {
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"membership_id":"abc"}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "points_transaction_appended",
		"aggregate_type": "points_transaction",
		"aggregate_id":   "abc-123",
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestService(handler Handler, manager *stubManager) *Service {
	return &Service{
		handler: handler,
		manager: manager,
		logg:    logger.New(logger.Options{ServiceName: "activity-test", Output: io.Discard}),
	}
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(_ context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubManager struct {
	checkResult bool
	checkErr    error
	deleteErr   error
	checked     []uuid.UUID
	deleted     []uuid.UUID
}

func (s *stubManager) CheckAndMarkProcessed(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	s.checked = append(s.checked, eventID)
	return s.checkResult, s.checkErr
}

func (s *stubManager) Delete(_ context.Context, _ string, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	return s.deleteErr
}

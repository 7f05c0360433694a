package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/loyalty-core/internal/activity/types"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

var ErrUnsupportedEventType = errors.New("unsupported activity event type")

// Writer delivers activity rows produced by the handlers.
type Writer interface {
	InsertActivity(ctx context.Context, row types.ActivityRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

// Decoder turns a versioned payload into its typed event struct.
type Decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

// Router dispatches loyalty envelopes to the handler registered for their event type.
type Router struct {
	handlers map[enums.OutboxEventType]Handler
	decoders Decoder
	logg     *logger.Logger
}

// NewRouter wires the default handlers and allows overrides for specific events.
func NewRouter(writer Writer, decoders Decoder, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	entries := map[enums.OutboxEventType]Handler{
		enums.EventPointsTransactionAppended: newRowHandler(writer, logg, pointsAppendedRow),
		enums.EventTierChanged:               newRowHandler(writer, logg, tierChangedRow),
		enums.EventTierGraceStarted:          newRowHandler(writer, logg, graceStartedRow),
		enums.EventReferralRewardGranted:     newRowHandler(writer, logg, referralRewardRow),
		enums.EventUsageDriftDetected:        newRowHandler(writer, logg, usageDriftRow),
	}

	for event, custom := range overrides {
		if _, ok := entries[event]; !ok || custom == nil {
			continue
		}
		entries[event] = custom
	}

	return &Router{
		handlers: entries,
		decoders: decoders,
		logg:     logg,
	}, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	version := envelope.Version
	if version <= 0 {
		version = 1
	}
	payload, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	return handler.Handle(ctx, envelope, payload)
}

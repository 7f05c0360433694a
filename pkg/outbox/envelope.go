package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Subject  string     `json:"subject"`
	TenantID *uuid.UUID `json:"tenantId,omitempty"`
	Kind     string     `json:"kind,omitempty"`
}

// SystemActor is the actor recorded for events raised by cron sweeps and cascades.
func SystemActor(kind string) *ActorRef {
	return &ActorRef{Subject: "system", Kind: kind}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	TenantID   *uuid.UUID      `json:"tenantId,omitempty"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

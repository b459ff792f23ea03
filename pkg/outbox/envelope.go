package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written on every new row. Readers accept any positive
// version and leave schema evolution to the payload types.
const EnvelopeVersion = 1

var ErrInvalidEnvelope = errors.New("invalid outbox envelope")

// ActorRef identifies the user whose request produced the event.
type ActorRef struct {
	UserID     uuid.UUID `json:"userId"`
	ExternalID string    `json:"externalId,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// sealEnvelope encodes event under id, which is also the outbox row id.
func sealEnvelope(id uuid.UUID, event DomainEvent) (PayloadEnvelope, []byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version <= 0 {
		env.Version = EnvelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return PayloadEnvelope{}, nil, fmt.Errorf("encode envelope: %w", err)
	}
	return env, raw, nil
}

// OpenEnvelope decodes a stored payload. Errors wrap ErrInvalidEnvelope.
func OpenEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Version <= 0 {
		return env, fmt.Errorf("%w: version %d", ErrInvalidEnvelope, env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, fmt.Errorf("%w: data missing", ErrInvalidEnvelope)
	}
	return env, nil
}

// DecodeData unmarshals the event data into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("%w: data: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

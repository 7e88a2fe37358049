package eventing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const schemaVersion = 1

// Envelope is the outbox and wire form of an event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	CustomerID    string          `json:"customer_id"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta carries envelope fields that take precedence over the event's own.
type Meta struct {
	EventID       string
	EventType     string
	OccurredAt    time.Time
	CorrelationID string
	CustomerID    string
}

// CustomerScoped events name the customer they belong to.
type CustomerScoped interface {
	EventCustomerID() string
}

// Timestamped events carry their own occurrence time.
type Timestamped interface {
	EventOccurredAt() time.Time
}

// BuildEnvelope marshals event and fills missing metadata. Event type falls
// back to the Go type name, the correlation id to the event id.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("eventing: marshal %T: %w", event, err)
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     meta.EventType,
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		CustomerID:    meta.CustomerID,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}
	if env.EventType == "" {
		env.EventType = fmt.Sprintf("%T", event)
	}
	if env.CustomerID == "" {
		if scoped, ok := event.(CustomerScoped); ok {
			env.CustomerID = scoped.EventCustomerID()
		}
	}
	if env.OccurredAt.IsZero() {
		if stamped, ok := event.(Timestamped); ok {
			env.OccurredAt = stamped.EventOccurredAt()
		}
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	return env, nil
}

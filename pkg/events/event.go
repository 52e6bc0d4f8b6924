package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact recorded by an aggregate transition. Events are
// written to the outbox in the transaction that saves the aggregate.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	AggregateType() string
	OccurredAt() time.Time
	Payload() []byte
}

// BaseEvent carries the metadata and JSON payload shared by every event.
// Concrete events embed it.
type BaseEvent struct {
	occurredAt    time.Time
	eventType     string
	aggregateType string
	payload       []byte
	id            uuid.UUID
	aggregateID   uuid.UUID
}

// NewBaseEvent stamps an event with a fresh ID and the current UTC time. The
// aggregate ID doubles as the broker partition key, so events about one
// aggregate stay ordered.
func NewBaseEvent(eventType string, aggregateID uuid.UUID, aggregateType string, payload []byte) BaseEvent {
	return BaseEvent{
		occurredAt:    time.Now().UTC(),
		eventType:     eventType,
		aggregateType: aggregateType,
		payload:       payload,
		id:            uuid.New(),
		aggregateID:   aggregateID,
	}
}

func (e BaseEvent) EventID() uuid.UUID     { return e.id }
func (e BaseEvent) EventType() string      { return e.eventType }
func (e BaseEvent) AggregateID() uuid.UUID { return e.aggregateID }
func (e BaseEvent) AggregateType() string  { return e.aggregateType }
func (e BaseEvent) OccurredAt() time.Time  { return e.occurredAt }
func (e BaseEvent) Payload() []byte        { return e.payload }

// MustPayload encodes an event payload. Payloads are plain structs of
// strings, UUIDs and decimals, so an encoding failure is a programming error.
func MustPayload(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("events: encode %T payload: %v", v, err))
	}
	return b
}

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	aggregateID := uuid.New()
	payload := []byte(`{"amount":"100.00"}`)

	before := time.Now().UTC()
	event := NewBaseEvent("allocation.created", aggregateID, "Invoice", payload)
	after := time.Now().UTC()

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, "allocation.created", event.EventType())
	assert.Equal(t, aggregateID, event.AggregateID())
	assert.Equal(t, "Invoice", event.AggregateType())
	assert.Equal(t, payload, event.Payload())
	assert.False(t, event.OccurredAt().Before(before))
	assert.False(t, event.OccurredAt().After(after))
}

func TestBaseEventImplementsDomainEvent(t *testing.T) {
	var _ DomainEvent = BaseEvent{}
}

func TestNewOutboxEntry(t *testing.T) {
	aggregateID := uuid.New()
	event := NewBaseEvent("payment.created", aggregateID, "Payment", []byte(`{"amount":"10.00"}`))

	entry := NewOutboxEntry(event)

	assert.Equal(t, event.EventID(), entry.ID)
	assert.Equal(t, aggregateID, entry.AggregateID)
	assert.Equal(t, "Payment", entry.AggregateType)
	assert.Equal(t, "payment.created", entry.EventType)
	assert.JSONEq(t, `{"amount":"10.00"}`, string(entry.Payload))
	assert.Equal(t, event.OccurredAt(), entry.CreatedAt)
	assert.Nil(t, entry.PublishedAt)
}

func TestOutboxEntry_EnvelopeRoundTrip(t *testing.T) {
	event := NewBaseEvent("allocation.reversed", uuid.New(), "Invoice", []byte(`{"entry_id":"x"}`))
	entry := NewOutboxEntry(event)

	data, err := entry.Envelope()
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, env.EventID)
	assert.Equal(t, entry.EventType, env.EventType)
	assert.Equal(t, entry.AggregateID, env.AggregateID)
	assert.True(t, entry.CreatedAt.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"entry_id":"x"}`, string(env.Payload))
}

func TestOutboxEntry_EnvelopeEmptyPayload(t *testing.T) {
	entry := NewOutboxEntry(NewBaseEvent("payment.deleted", uuid.New(), "Payment", nil))

	data, err := entry.Envelope()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "null", string(raw["payload"]))
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestMustPayload(t *testing.T) {
	id := uuid.MustParse("5f0c1a52-3a0e-4c39-9c1e-6f7d2f0a9b11")
	payload := MustPayload(struct {
		PaymentID uuid.UUID `json:"payment_id"`
	}{id})
	assert.JSONEq(t, `{"payment_id":"5f0c1a52-3a0e-4c39-9c1e-6f7d2f0a9b11"}`, string(payload))

	assert.Panics(t, func() { MustPayload(make(chan int)) })
}

package messaging

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/pkg/events"
	pkgkafka "github.com/bibbank/reconciliation/pkg/kafka"
)

var _ events.EventPublisher = (*Publisher)(nil)

// MessageProducer sends raw messages to a topic. *pkgkafka.Producer satisfies it.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, messages ...pkgkafka.Message) error
}

// Publisher implements EventPublisher using Kafka. Messages are keyed by
// aggregate ID so that the events of one payable or payment stay ordered.
type Publisher struct {
	producer MessageProducer
}

func NewPublisher(producer MessageProducer) *Publisher {
	return &Publisher{producer: producer}
}

func (p *Publisher) Publish(ctx context.Context, topic string, entries ...events.OutboxEntry) error {
	messages := make([]pkgkafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := e.Envelope()
		if err != nil {
			return err
		}
		messages = append(messages, pkgkafka.Message{
			Key:   []byte(e.AggregateID.String()),
			Value: value,
			Headers: map[string]string{
				"event_type":     e.EventType,
				"aggregate_type": e.AggregateType,
				"event_id":       e.ID.String(),
			},
		})
	}
	if err := p.producer.Publish(ctx, topic, messages...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

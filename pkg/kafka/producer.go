package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Message is a record read from or written to a topic.
type Message struct {
	Topic   string // set on consumed messages
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer writes keyed messages through one shared writer. The topic is
// chosen per call, and the hash balancer keeps every key on one partition so
// the events of an aggregate stay ordered.
type Producer struct {
	writer *kafkago.Writer
}

// NewProducer creates a Producer. No connection is made until the first write.
func NewProducer(cfg Config) *Producer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
	}
	if cfg.TLS || cfg.SASLEnabled {
		t := &kafkago.Transport{TLS: cfg.tlsConfig()}
		if cfg.SASLEnabled {
			t.SASL, _ = cfg.saslMechanism()
		}
		w.Transport = t
	}
	return &Producer{writer: w}
}

// Publish writes messages to topic in one batch. The call returns once every
// in-sync replica has acknowledged the batch.
func (p *Producer) Publish(ctx context.Context, topic string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	out := make([]kafkago.Message, len(messages))
	for i, msg := range messages {
		out[i] = toKafka(topic, msg)
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}

// toKafka converts msg, emitting headers in key order.
func toKafka(topic string, msg Message) kafkago.Message {
	km := kafkago.Message{Topic: topic, Key: msg.Key, Value: msg.Value}
	if len(msg.Headers) == 0 {
		return km
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	km.Headers = make([]kafkago.Header, len(keys))
	for i, k := range keys {
		km.Headers[i] = kafkago.Header{Key: k, Value: []byte(msg.Headers[k])}
	}
	return km
}

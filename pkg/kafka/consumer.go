package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"
)

// Handler processes a consumed Kafka message. A returned error is treated as
// transient and the message is handed to the handler again.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads one topic as a member of a consumer group. Offsets are
// committed after the handler accepts a message, so delivery is at least once.
type Consumer struct {
	reader  *kafkago.Reader
	handler Handler
	retry   RetryConfig
	logger  *slog.Logger
}

// NewConsumer creates a new Consumer for the given topic with the provided handler.
func NewConsumer(cfg Config, topic string, handler Handler, logger *slog.Logger) *Consumer {
	readerCfg := kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024, // 10 MB
	}
	if cfg.TLS || cfg.SASLEnabled {
		dialer := &kafkago.Dialer{TLS: cfg.tlsConfig()}
		if cfg.SASLEnabled {
			dialer.SASLMechanism, _ = cfg.saslMechanism()
		}
		readerCfg.Dialer = dialer
	}

	return &Consumer{
		reader:  kafkago.NewReader(readerCfg),
		handler: handler,
		retry:   cfg.HandlerRetry.withDefaults(),
		logger:  logger.With("component", "kafka_consumer", "topic", topic),
	}
}

// Start consumes messages until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer starting", "group", c.reader.Config().GroupID)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping due to context cancellation")
				return nil
			}
			return fmt.Errorf("fetching message: %w", err)
		}

		if err := c.handle(ctx, toMessage(m)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("message skipped after retries",
				"partition", m.Partition,
				"offset", m.Offset,
				"attempts", c.retry.MaxAttempts,
				"error", err,
			)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("commit error",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

// handle runs the handler with exponential backoff between attempts.
func (c *Consumer) handle(ctx context.Context, msg Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.handler(ctx, msg)
		if err != nil && attempt < c.retry.MaxAttempts {
			c.logger.Warn("handler failed, retrying", "attempt", attempt, "key", string(msg.Key), "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.MaxAttempts-1)), ctx))
}

func toMessage(m kafkago.Message) Message {
	msg := Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// Close closes the reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("closing kafka reader: %w", err)
	}
	return nil
}

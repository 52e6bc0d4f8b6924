package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/pkg/events"
)

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	// PublishAttempts bounds how often one batch is sent before the relay
	// gives up until the next tick.
	PublishAttempts int

	// Metrics defaults to a no-op.
	Metrics RelayMetrics
}

// RelayMetrics receives relay outcomes.
type RelayMetrics interface {
	Relayed(ctx context.Context, topic string, count int)
	RelayFailed(ctx context.Context, topic string)
}

type noopRelayMetrics struct{}

func (noopRelayMetrics) Relayed(context.Context, string, int) {}
func (noopRelayMetrics) RelayFailed(context.Context, string)  {}

// OutboxRelay moves stored events from the outbox to the broker. Fetching and
// marking run in separate short transactions and publishing happens between
// them with no transaction open. A crash or a failed mark after publishing
// re-sends the batch: delivery is at least once and consumers dedupe by event ID.
type OutboxRelay struct {
	repo      events.OutboxRepository
	tx        port.TxRunner
	publisher events.EventPublisher
	cfg       RelayConfig
	logger    *slog.Logger
}

func NewOutboxRelay(repo events.OutboxRepository, tx port.TxRunner, publisher events.EventPublisher, cfg RelayConfig, logger *slog.Logger) *OutboxRelay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = 3
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRelayMetrics{}
	}
	return &OutboxRelay{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "outbox_relay", "topic", cfg.Topic),
	}
}

// Run relays events until ctx is canceled. A full batch is followed
// immediately by the next one; otherwise the relay waits for the next tick.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting", "interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox relay failed", "error", err)
		}
		if n == r.cfg.BatchSize && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many events it sent.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	sent, err := r.relayBatch(ctx)
	if err != nil {
		r.cfg.Metrics.RelayFailed(ctx, r.cfg.Topic)
		return 0, fmt.Errorf("relay outbox batch: %w", err)
	}
	if sent > 0 {
		r.cfg.Metrics.Relayed(ctx, r.cfg.Topic, sent)
		r.logger.Debug("outbox batch relayed", "events", sent)
	}
	return sent, nil
}

func (r *OutboxRelay) relayBatch(ctx context.Context) (int, error) {
	var pending []events.OutboxEntry
	err := r.tx.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		pending, err = r.repo.FetchUnpublished(ctx, r.cfg.BatchSize)
		return err
	})
	if err != nil || len(pending) == 0 {
		return 0, err
	}

	// No transaction is held while the broker is retried.
	if err := r.publish(ctx, pending); err != nil {
		return 0, err
	}

	ids := make([]uuid.UUID, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	err = r.tx.RunAtomic(ctx, func(ctx context.Context) error {
		return r.repo.MarkPublished(ctx, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("mark %d published events: %w", len(ids), err)
	}
	return len(pending), nil
}

func (r *OutboxRelay) publish(ctx context.Context, pending []events.OutboxEntry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.PublishAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		return r.publisher.Publish(ctx, r.cfg.Topic, pending...)
	}, policy, func(err error, wait time.Duration) {
		r.logger.Warn("outbox publish failed, retrying", "events", len(pending), "wait", wait, "error", err)
	})
}

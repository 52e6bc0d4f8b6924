// Package metrics records allocation and outbox outcomes as OpenTelemetry
// instruments. The Prometheus exporter installed by pkg/observability serves them.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/pkg/money"
)

const meterName = "github.com/bibbank/reconciliation"

// Recorder implements usecase.Metrics and messaging.RelayMetrics.
type Recorder struct {
	applied   metric.Int64Counter
	rejected  metric.Int64Counter
	conflicts metric.Int64Counter
	skipped   metric.Int64Counter
	relayed   metric.Int64Counter
	relayFail metric.Int64Counter
	batchSize metric.Int64Histogram
}

// NewRecorder creates the instruments on provider, or on the global provider when nil.
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		r   Recorder
		err error
	)

	r.applied, err = meter.Int64Counter(
		"reconciliation.allocations.applied",
		metric.WithDescription("Allocation entries created, edited or reversed"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.allocations.applied counter: %w", err)
	}

	r.rejected, err = meter.Int64Counter(
		"reconciliation.allocations.rejected",
		metric.WithDescription("Allocation requests rejected by the allocation rules"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.allocations.rejected counter: %w", err)
	}

	r.conflicts, err = meter.Int64Counter(
		"reconciliation.tx.conflicts",
		metric.WithDescription("Transactions re-run after losing a version check"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.tx.conflicts counter: %w", err)
	}

	r.skipped, err = meter.Int64Counter(
		"reconciliation.import.payments_skipped",
		metric.WithDescription("Payments left out of a bulk import"),
		metric.WithUnit("{payment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.import.payments_skipped counter: %w", err)
	}

	r.relayed, err = meter.Int64Counter(
		"reconciliation.outbox.events.relayed",
		metric.WithDescription("Outbox events published to the broker"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.outbox.events.relayed counter: %w", err)
	}

	r.relayFail, err = meter.Int64Counter(
		"reconciliation.outbox.batches.failed",
		metric.WithDescription("Outbox batches that could not be published"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.outbox.batches.failed counter: %w", err)
	}

	r.batchSize, err = meter.Int64Histogram(
		"reconciliation.outbox.batch.size",
		metric.WithDescription("Events per relayed outbox batch"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reconciliation.outbox.batch.size histogram: %w", err)
	}

	return &r, nil
}

func (r *Recorder) AllocationApplied(ctx context.Context, kind, operation string, snapped bool) {
	r.applied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payable_kind", kind),
		attribute.String("operation", operation),
		attribute.Bool("snapped", snapped),
	))
}

func (r *Recorder) AllocationRejected(ctx context.Context, kind, operation string, err error) {
	r.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payable_kind", kind),
		attribute.String("operation", operation),
		attribute.String("reason", Reason(err)),
	))
}

func (r *Recorder) ConflictRetried(ctx context.Context, kind, operation string) {
	r.conflicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payable_kind", kind),
		attribute.String("operation", operation),
	))
}

func (r *Recorder) PaymentsSkipped(ctx context.Context, kind string, count int) {
	r.skipped.Add(ctx, int64(count), metric.WithAttributes(attribute.String("payable_kind", kind)))
}

func (r *Recorder) Relayed(ctx context.Context, topic string, count int) {
	attrs := metric.WithAttributes(attribute.String("topic", topic))
	r.relayed.Add(ctx, int64(count), attrs)
	r.batchSize.Record(ctx, int64(count), attrs)
}

func (r *Recorder) RelayFailed(ctx context.Context, topic string) {
	r.relayFail.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// Reason maps a rejection to a low-cardinality label.
func Reason(err error) string {
	switch {
	case errors.Is(err, model.ErrAllocationExceedsBalance):
		return "exceeds_balance"
	case errors.Is(err, model.ErrDuplicateAllocation):
		return "duplicate"
	case errors.Is(err, model.ErrInvalidExchangeRate):
		return "invalid_rate"
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, model.ErrEntryInactive):
		return "entry_inactive"
	case errors.Is(err, money.ErrCurrencyMismatch), errors.Is(err, money.ErrScaleMismatch):
		return "currency"
	default:
		return "other"
	}
}

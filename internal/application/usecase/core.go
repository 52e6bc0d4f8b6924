package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/service"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/events"
)

const tracerName = "github.com/bibbank/reconciliation/internal/application/usecase"

// Stores groups the repositories of one payable kind.
type Stores struct {
	Kind     valueobject.PayableKind
	Payables port.PayableRepository
	Entries  port.AllocationEntryRepository
	Payments port.PaymentRepository
}

// RetryPolicy bounds how often a transaction is re-run after losing an
// optimistic version check.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialInterval: 20 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Metrics receives allocation outcomes.
type Metrics interface {
	AllocationApplied(ctx context.Context, kind, operation string, snapped bool)
	AllocationRejected(ctx context.Context, kind, operation string, err error)
	ConflictRetried(ctx context.Context, kind, operation string)
	PaymentsSkipped(ctx context.Context, kind string, count int)
}

type noopMetrics struct{}

func (noopMetrics) AllocationApplied(context.Context, string, string, bool)   {}
func (noopMetrics) AllocationRejected(context.Context, string, string, error) {}
func (noopMetrics) ConflictRetried(context.Context, string, string)           {}
func (noopMetrics) PaymentsSkipped(context.Context, string, int)              {}

// Core bundles the collaborators shared by every use case of one payable kind.
type Core struct {
	stores     Stores
	currencies port.CurrencyRegistry
	tx         port.TxRunner
	outbox     port.OutboxWriter
	engine     *service.AllocationEngine
	retry      RetryPolicy
	metrics    Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option customises a Core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// WithRetryPolicy sets the conflict retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Core) { c.retry = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// WithEngine replaces the allocation engine, e.g. to pin its clock in tests.
func WithEngine(e *service.AllocationEngine) Option {
	return func(c *Core) { c.engine = e }
}

// NewCore creates a Core for the kind named in stores.
func NewCore(stores Stores, currencies port.CurrencyRegistry, tx port.TxRunner, outbox port.OutboxWriter, opts ...Option) *Core {
	c := &Core{
		stores:     stores,
		currencies: currencies,
		tx:         tx,
		outbox:     outbox,
		engine:     service.NewAllocationEngine(),
		retry:      DefaultRetryPolicy(),
		metrics:    noopMetrics{},
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("payable_kind", stores.Kind.String())
	return c
}

// Kind returns the payable kind served by this core.
func (c *Core) Kind() valueobject.PayableKind {
	return c.stores.Kind
}

// atomically runs fn in one transaction, re-running it from scratch when it
// loses a version check. Any other error aborts immediately.
func (c *Core) atomically(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String("payable.kind", c.stores.Kind.String()),
	))
	defer span.End()

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := c.tx.RunAtomic(ctx, fn)
		if err == nil || errors.Is(err, model.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, c.retry.backOff(ctx), func(err error, wait time.Duration) {
		c.metrics.ConflictRetried(ctx, c.stores.Kind.String(), operation)
		c.logger.Warn("retrying after concurrent modification",
			"operation", operation,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})

	span.SetAttributes(attribute.Int("tx.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// store writes the pending events of the given aggregates to the outbox.
func (c *Core) store(ctx context.Context, pending ...[]events.DomainEvent) error {
	var entries []events.OutboxEntry
	for _, evts := range pending {
		for _, e := range evts {
			entries = append(entries, events.NewOutboxEntry(e))
		}
	}
	if len(entries) == 0 {
		return nil
	}
	if err := c.outbox.Store(ctx, entries); err != nil {
		return fmt.Errorf("store outbox events: %w", err)
	}
	return nil
}

// persist writes a plan: the settled payable, the entry and their events.
func (c *Core) persist(ctx context.Context, plan service.AllocationPlan, created bool) error {
	if err := c.stores.Payables.ApplySettlement(ctx, plan.Payable); err != nil {
		return fmt.Errorf("apply settlement to payable %s: %w", plan.Payable.ID(), err)
	}
	if created {
		if err := c.stores.Entries.Create(ctx, plan.Entry); err != nil {
			return fmt.Errorf("create allocation entry: %w", err)
		}
	} else {
		if err := c.stores.Entries.Update(ctx, plan.Entry); err != nil {
			return fmt.Errorf("update allocation entry %s: %w", plan.Entry.ID(), err)
		}
	}
	return c.store(ctx, plan.Payable.DomainEvents(), plan.Entry.DomainEvents())
}

// allocate applies part of payment to a payable inside the caller's transaction.
func (c *Core) allocate(ctx context.Context, payment model.Payment, item allocationInput) (service.AllocationPlan, error) {
	ledger, err := c.stores.Payables.LoadForAllocation(ctx, item.payableID)
	if err != nil {
		return service.AllocationPlan{}, err
	}

	rate := item.rate
	if rate == nil {
		if r, ok := payment.DefaultRate(); ok {
			rate = &r
		}
	}

	plan, err := c.engine.PlanAllocation(ledger, service.AllocationRequest{
		PaymentID:       payment.ID(),
		PaymentCurrency: payment.Currency(),
		Amount:          item.amount,
		ExchangeRate:    rate,
	})
	if err != nil {
		c.metrics.AllocationRejected(ctx, c.stores.Kind.String(), "allocate", err)
		return service.AllocationPlan{}, err
	}
	if err := c.persist(ctx, plan, true); err != nil {
		return service.AllocationPlan{}, err
	}
	c.metrics.AllocationApplied(ctx, c.stores.Kind.String(), "allocate", plan.Snapped)
	return plan, nil
}

// edit overwrites an entry inside the caller's transaction.
func (c *Core) edit(ctx context.Context, entry model.AllocationEntry, amount decimal.Decimal, rate *valueobject.ExchangeRate) (service.AllocationPlan, error) {
	ledger, err := c.stores.Payables.LoadForAllocation(ctx, entry.PayableID())
	if err != nil {
		return service.AllocationPlan{}, err
	}

	plan, err := c.engine.PlanEdit(ledger, entry, service.EditRequest{Amount: amount, ExchangeRate: rate})
	if err != nil {
		c.metrics.AllocationRejected(ctx, c.stores.Kind.String(), "edit", err)
		return service.AllocationPlan{}, err
	}
	if err := c.persist(ctx, plan, false); err != nil {
		return service.AllocationPlan{}, err
	}
	c.metrics.AllocationApplied(ctx, c.stores.Kind.String(), "edit", plan.Snapped)
	return plan, nil
}

// reverse deactivates an entry inside the caller's transaction.
func (c *Core) reverse(ctx context.Context, entry model.AllocationEntry) (service.AllocationPlan, error) {
	ledger, err := c.stores.Payables.LoadForAllocation(ctx, entry.PayableID())
	if err != nil {
		return service.AllocationPlan{}, err
	}
	return c.reverseOn(ctx, ledger, entry)
}

func (c *Core) reverseOn(ctx context.Context, ledger model.PayableLedger, entry model.AllocationEntry) (service.AllocationPlan, error) {
	plan, err := c.engine.PlanReversal(ledger, entry)
	if err != nil {
		c.metrics.AllocationRejected(ctx, c.stores.Kind.String(), "reverse", err)
		return service.AllocationPlan{}, err
	}
	if err := c.persist(ctx, plan, false); err != nil {
		return service.AllocationPlan{}, err
	}
	c.metrics.AllocationApplied(ctx, c.stores.Kind.String(), "reverse", false)
	return plan, nil
}

// refreshPayment recomputes the payment amount from its active entries and
// stores it when it changed. It returns the stored payment and its entries.
func (c *Core) refreshPayment(ctx context.Context, payment model.Payment) (model.Payment, []model.AllocationEntry, error) {
	entries, err := c.stores.Entries.ListActiveByPayment(ctx, payment.ID())
	if err != nil {
		return model.Payment{}, nil, fmt.Errorf("list entries of payment %s: %w", payment.ID(), err)
	}

	updated, err := payment.Recalculate(entries, c.now())
	if err != nil {
		return model.Payment{}, nil, err
	}
	if updated.Version() != payment.Version() {
		if err := c.savePayment(ctx, updated); err != nil {
			return model.Payment{}, nil, err
		}
	}
	return updated.ClearDomainEvents(), entries, nil
}

func (c *Core) savePayment(ctx context.Context, payment model.Payment) error {
	if err := c.stores.Payments.Update(ctx, payment); err != nil {
		return fmt.Errorf("update payment %s: %w", payment.ID(), err)
	}
	return c.store(ctx, payment.DomainEvents())
}

func (c *Core) findPayment(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	payment, err := c.stores.Payments.FindByID(ctx, id)
	if err != nil {
		return model.Payment{}, err
	}
	if payment.Deleted() {
		return model.Payment{}, fmt.Errorf("payment %s: %w", id, model.ErrPaymentDeleted)
	}
	return payment, nil
}

func (c *Core) now() time.Time {
	return time.Now().UTC()
}

// allocationInput is a validated allocation line.
type allocationInput struct {
	payableID uuid.UUID
	amount    decimal.Decimal
	rate      *valueobject.ExchangeRate
}

func toAllocationInput(payableID uuid.UUID, amount decimal.Decimal, rate *decimal.Decimal) (allocationInput, error) {
	r, err := toRate(rate)
	if err != nil {
		return allocationInput{}, err
	}
	return allocationInput{payableID: payableID, amount: amount, rate: r}, nil
}

func toRate(rate *decimal.Decimal) (*valueobject.ExchangeRate, error) {
	if rate == nil {
		return nil, nil
	}
	r, err := valueobject.NewExchangeRate(*rate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidExchangeRate, err)
	}
	return &r, nil
}

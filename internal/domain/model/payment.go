package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/internal/domain/event"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/events"
	"github.com/bibbank/reconciliation/pkg/money"
)

// Payment is money received (selling side) or paid out (buying side) in one
// currency. Its amount is never set directly; it is the sum of the original
// amounts of its active allocation entries.
type Payment struct {
	id             uuid.UUID
	kind           valueobject.PayableKind
	amount         money.Money
	fee            money.Money
	conversionRate decimal.Decimal
	reference      string
	paidAt         time.Time
	deleted        bool
	version        int
	createdAt      time.Time
	updatedAt      time.Time
	domainEvents   []events.DomainEvent
}

// NewPayment creates a payment with no allocations. conversionRate is optional
// (zero when unset) and serves as the default rate for cross-currency entries.
func NewPayment(
	kind valueobject.PayableKind,
	currency money.Currency,
	fee money.Money,
	conversionRate decimal.Decimal,
	reference string,
	paidAt time.Time,
) (Payment, error) {
	if kind.IsZero() {
		return Payment{}, fmt.Errorf("%w: payment kind is required", ErrInvalidInput)
	}
	if currency.IsZero() {
		return Payment{}, fmt.Errorf("%w: payment currency is required", ErrInvalidInput)
	}
	if err := validateTerms(currency, fee, conversionRate); err != nil {
		return Payment{}, err
	}
	if fee.Currency().IsZero() {
		fee = money.Zero(currency)
	}

	now := time.Now().UTC()
	if paidAt.IsZero() {
		paidAt = now
	}
	id := uuid.New()

	p := Payment{
		id:             id,
		kind:           kind,
		amount:         money.Zero(currency),
		fee:            fee,
		conversionRate: conversionRate,
		reference:      reference,
		paidAt:         paidAt,
		version:        1,
		createdAt:      now,
		updatedAt:      now,
	}
	p.domainEvents = append(p.domainEvents,
		event.NewPaymentRecorded(kind.PaymentAggregate(), id, ToAmount(p.fee)),
	)
	return p, nil
}

// ReconstructPayment recreates a Payment from persistence (no validation, no events).
func ReconstructPayment(
	id uuid.UUID,
	kind valueobject.PayableKind,
	amount, fee money.Money,
	conversionRate decimal.Decimal,
	reference string,
	paidAt time.Time,
	deleted bool,
	version int,
	createdAt, updatedAt time.Time,
) Payment {
	return Payment{
		id:             id,
		kind:           kind,
		amount:         amount,
		fee:            fee,
		conversionRate: conversionRate,
		reference:      reference,
		paidAt:         paidAt,
		deleted:        deleted,
		version:        version,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func validateTerms(currency money.Currency, fee money.Money, conversionRate decimal.Decimal) error {
	if !fee.Currency().IsZero() && fee.Currency() != currency {
		return fmt.Errorf("fee currency %s differs from payment currency %s: %w", fee.Currency(), currency, money.ErrCurrencyMismatch)
	}
	if fee.IsNegative() {
		return fmt.Errorf("%w: fee must not be negative, got %s", ErrInvalidAmount, fee)
	}
	if conversionRate.IsNegative() {
		return fmt.Errorf("%w: conversion rate must not be negative, got %s", ErrInvalidExchangeRate, conversionRate)
	}
	if !conversionRate.IsZero() {
		if _, err := valueobject.NewExchangeRate(conversionRate); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidExchangeRate, err)
		}
	}
	return nil
}

// DefaultRate returns the payment-level conversion rate when one is set.
func (p Payment) DefaultRate() (valueobject.ExchangeRate, bool) {
	if !p.conversionRate.IsPositive() {
		return valueobject.ExchangeRate{}, false
	}
	rate, err := valueobject.NewExchangeRate(p.conversionRate)
	if err != nil {
		return valueobject.ExchangeRate{}, false
	}
	return rate, true
}

// Recalculate sets the amount to the sum of the given active entries' original
// amounts (immutable - returns new copy).
func (p Payment) Recalculate(entries []AllocationEntry, now time.Time) (Payment, error) {
	if p.deleted {
		return Payment{}, fmt.Errorf("recalculate payment %s: %w", p.id, ErrPaymentDeleted)
	}
	sum := money.Zero(p.Currency())
	for _, e := range entries {
		if !e.Active() || e.PaymentID() != p.id {
			continue
		}
		var err error
		if sum, err = sum.Add(e.OriginalAmount()); err != nil {
			return Payment{}, fmt.Errorf("recalculate payment %s: %w", p.id, err)
		}
	}
	if sum.Equal(p.amount) {
		return p, nil
	}

	updated := p
	updated.amount = sum
	updated.updatedAt = now
	updated.version++
	updated.domainEvents = append([]events.DomainEvent{}, p.domainEvents...)
	updated.domainEvents = append(updated.domainEvents,
		event.NewPaymentUpdated(p.kind.PaymentAggregate(), p.id, ToAmount(sum), ToAmount(p.fee)),
	)
	return updated, nil
}

// UpdateTerms replaces the fee, conversion rate and reference (immutable - returns new copy).
func (p Payment) UpdateTerms(fee money.Money, conversionRate decimal.Decimal, reference string, now time.Time) (Payment, error) {
	if p.deleted {
		return Payment{}, fmt.Errorf("update payment %s: %w", p.id, ErrPaymentDeleted)
	}
	if fee.Currency().IsZero() {
		fee = money.Zero(p.Currency())
	}
	if err := validateTerms(p.Currency(), fee, conversionRate); err != nil {
		return Payment{}, err
	}

	updated := p
	updated.fee = fee
	updated.conversionRate = conversionRate
	updated.reference = reference
	updated.updatedAt = now
	updated.version++
	updated.domainEvents = append([]events.DomainEvent{}, p.domainEvents...)
	updated.domainEvents = append(updated.domainEvents,
		event.NewPaymentUpdated(p.kind.PaymentAggregate(), p.id, ToAmount(p.amount), ToAmount(fee)),
	)
	return updated, nil
}

// Delete soft-deletes the payment (immutable - returns new copy). Its entries
// must have been reversed first, so the amount is zero.
func (p Payment) Delete(now time.Time) (Payment, error) {
	if p.deleted {
		return Payment{}, fmt.Errorf("delete payment %s: %w", p.id, ErrPaymentDeleted)
	}

	updated := p
	updated.deleted = true
	updated.amount = money.Zero(p.Currency())
	updated.updatedAt = now
	updated.version++
	updated.domainEvents = append([]events.DomainEvent{}, p.domainEvents...)
	updated.domainEvents = append(updated.domainEvents,
		event.NewPaymentDeleted(p.kind.PaymentAggregate(), p.id),
	)
	return updated, nil
}

// Accessors

func (p Payment) ID() uuid.UUID                      { return p.id }
func (p Payment) Kind() valueobject.PayableKind      { return p.kind }
func (p Payment) Currency() money.Currency           { return p.amount.Currency() }
func (p Payment) Amount() money.Money                { return p.amount }
func (p Payment) Fee() money.Money                   { return p.fee }
func (p Payment) ConversionRate() decimal.Decimal    { return p.conversionRate }
func (p Payment) Reference() string                  { return p.reference }
func (p Payment) PaidAt() time.Time                  { return p.paidAt }
func (p Payment) Deleted() bool                      { return p.deleted }
func (p Payment) Version() int                       { return p.version }
func (p Payment) CreatedAt() time.Time               { return p.createdAt }
func (p Payment) UpdatedAt() time.Time               { return p.updatedAt }
func (p Payment) DomainEvents() []events.DomainEvent { return p.domainEvents }

// ClearDomainEvents returns a copy with no pending events.
func (p Payment) ClearDomainEvents() Payment {
	p.domainEvents = nil
	return p
}

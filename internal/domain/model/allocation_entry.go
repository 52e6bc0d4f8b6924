package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/domain/event"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/events"
	"github.com/bibbank/reconciliation/pkg/money"
)

// AllocationEntry links one payment to one payable. amount is in the payable's
// currency, originalAmount in the payment's currency. Entries are never
// removed; reversal only deactivates them.
type AllocationEntry struct {
	id             uuid.UUID
	kind           valueobject.PayableKind
	paymentID      uuid.UUID
	payableID      uuid.UUID
	amount         money.Money
	originalAmount money.Money
	exchangeRate   valueobject.ExchangeRate
	active         bool
	createdAt      time.Time
	updatedAt      time.Time
	domainEvents   []events.DomainEvent
}

// NewAllocationEntry creates an active entry.
func NewAllocationEntry(
	kind valueobject.PayableKind,
	paymentID, payableID uuid.UUID,
	amount, originalAmount money.Money,
	rate valueobject.ExchangeRate,
	now time.Time,
) (AllocationEntry, error) {
	if paymentID == uuid.Nil {
		return AllocationEntry{}, fmt.Errorf("%w: payment ID is required", ErrInvalidInput)
	}
	if payableID == uuid.Nil {
		return AllocationEntry{}, fmt.Errorf("%w: payable ID is required", ErrInvalidInput)
	}
	if err := validateAmounts(amount, originalAmount, rate); err != nil {
		return AllocationEntry{}, err
	}

	entry := AllocationEntry{
		id:             uuid.New(),
		kind:           kind,
		paymentID:      paymentID,
		payableID:      payableID,
		amount:         amount,
		originalAmount: originalAmount,
		exchangeRate:   rate,
		active:         true,
		createdAt:      now,
		updatedAt:      now,
	}
	entry.domainEvents = append(entry.domainEvents,
		event.NewAllocationCreated(kind.PayableAggregate(), entry.details()),
	)
	return entry, nil
}

// ReconstructAllocationEntry recreates an AllocationEntry from persistence (no validation, no events).
func ReconstructAllocationEntry(
	id uuid.UUID,
	kind valueobject.PayableKind,
	paymentID, payableID uuid.UUID,
	amount, originalAmount money.Money,
	rate valueobject.ExchangeRate,
	active bool,
	createdAt, updatedAt time.Time,
) AllocationEntry {
	return AllocationEntry{
		id:             id,
		kind:           kind,
		paymentID:      paymentID,
		payableID:      payableID,
		amount:         amount,
		originalAmount: originalAmount,
		exchangeRate:   rate,
		active:         active,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

func validateAmounts(amount, originalAmount money.Money, rate valueobject.ExchangeRate) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: allocated amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	if !originalAmount.IsPositive() {
		return fmt.Errorf("%w: original amount must be positive, got %s", ErrInvalidAmount, originalAmount)
	}
	if rate.IsZero() {
		return fmt.Errorf("%w: exchange rate is required", ErrInvalidExchangeRate)
	}
	return nil
}

// Revise overwrites the entry's amounts and rate (immutable - returns new copy).
func (e AllocationEntry) Revise(amount, originalAmount money.Money, rate valueobject.ExchangeRate, now time.Time) (AllocationEntry, error) {
	if !e.active {
		return AllocationEntry{}, fmt.Errorf("revise entry %s: %w", e.id, ErrEntryInactive)
	}
	if err := validateAmounts(amount, originalAmount, rate); err != nil {
		return AllocationEntry{}, err
	}
	if amount.Currency() != e.amount.Currency() || originalAmount.Currency() != e.originalAmount.Currency() {
		return AllocationEntry{}, fmt.Errorf("revise entry %s: %w", e.id, money.ErrCurrencyMismatch)
	}

	previous := e.amount
	updated := e
	updated.amount = amount
	updated.originalAmount = originalAmount
	updated.exchangeRate = rate
	updated.updatedAt = now
	updated.domainEvents = append([]events.DomainEvent{}, e.domainEvents...)
	updated.domainEvents = append(updated.domainEvents,
		event.NewAllocationRevised(e.kind.PayableAggregate(), updated.details(), ToAmount(previous)),
	)
	return updated, nil
}

// Deactivate soft-deletes the entry (immutable - returns new copy).
func (e AllocationEntry) Deactivate(now time.Time) (AllocationEntry, error) {
	if !e.active {
		return AllocationEntry{}, fmt.Errorf("reverse entry %s: %w", e.id, ErrEntryInactive)
	}

	updated := e
	updated.active = false
	updated.updatedAt = now
	updated.domainEvents = append([]events.DomainEvent{}, e.domainEvents...)
	updated.domainEvents = append(updated.domainEvents,
		event.NewAllocationReversed(e.kind.PayableAggregate(), e.details()),
	)
	return updated, nil
}

func (e AllocationEntry) details() event.AllocationDetails {
	return event.AllocationDetails{
		EntryID:        e.id,
		PaymentID:      e.paymentID,
		PayableID:      e.payableID,
		Kind:           e.kind.String(),
		Amount:         ToAmount(e.amount),
		OriginalAmount: ToAmount(e.originalAmount),
		ExchangeRate:   e.exchangeRate.Rate(),
	}
}

// Accessors

func (e AllocationEntry) ID() uuid.UUID                          { return e.id }
func (e AllocationEntry) Kind() valueobject.PayableKind          { return e.kind }
func (e AllocationEntry) PaymentID() uuid.UUID                   { return e.paymentID }
func (e AllocationEntry) PayableID() uuid.UUID                   { return e.payableID }
func (e AllocationEntry) Amount() money.Money                    { return e.amount }
func (e AllocationEntry) OriginalAmount() money.Money            { return e.originalAmount }
func (e AllocationEntry) ExchangeRate() valueobject.ExchangeRate { return e.exchangeRate }
func (e AllocationEntry) MinorUnitDigits() uint8                 { return e.originalAmount.Scale() }
func (e AllocationEntry) Active() bool                           { return e.active }
func (e AllocationEntry) CreatedAt() time.Time                   { return e.createdAt }
func (e AllocationEntry) UpdatedAt() time.Time                   { return e.updatedAt }
func (e AllocationEntry) DomainEvents() []events.DomainEvent     { return e.domainEvents }

// OriginalCurrencyID is the currency of the payment the entry was allocated from.
func (e AllocationEntry) OriginalCurrencyID() money.CurrencyID {
	return e.originalAmount.Currency().ID()
}

// ClearDomainEvents returns a copy with no pending events.
func (e AllocationEntry) ClearDomainEvents() AllocationEntry {
	e.domainEvents = nil
	return e
}

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

// Payable is the payment-relevant slice of an invoice or expense invoice.
// The invoicing side owns its lifecycle; this aggregate only tracks how much
// of it has been paid. amountPaid and status change through Settle alone.
type Payable struct {
	id             uuid.UUID
	kind           valueobject.PayableKind
	total          money.Money
	taxWithholding money.Money
	amountPaid     money.Money
	status         valueobject.PayableStatus
	version        int
	createdAt      time.Time
	updatedAt      time.Time
	domainEvents   []events.DomainEvent
}

// NewPayable registers a payable with nothing paid yet.
func NewPayable(id uuid.UUID, kind valueobject.PayableKind, total, taxWithholding money.Money) (Payable, error) {
	if id == uuid.Nil {
		return Payable{}, fmt.Errorf("%w: payable ID is required", ErrInvalidInput)
	}
	if kind.IsZero() {
		return Payable{}, fmt.Errorf("%w: payable kind is required", ErrInvalidInput)
	}
	if total.Currency().IsZero() {
		return Payable{}, fmt.Errorf("%w: payable currency is required", ErrInvalidInput)
	}
	if !total.IsPositive() {
		return Payable{}, fmt.Errorf("%w: total must be positive, got %s", ErrInvalidAmount, total)
	}
	if taxWithholding.Currency().IsZero() {
		taxWithholding = money.Zero(total.Currency())
	}
	if taxWithholding.IsNegative() {
		return Payable{}, fmt.Errorf("%w: tax withholding must not be negative, got %s", ErrInvalidAmount, taxWithholding)
	}
	cmp, err := taxWithholding.Cmp(total)
	if err != nil {
		return Payable{}, fmt.Errorf("tax withholding: %w", err)
	}
	if cmp > 0 {
		return Payable{}, fmt.Errorf("%w: tax withholding %s exceeds total %s", ErrInvalidAmount, taxWithholding, total)
	}

	now := time.Now().UTC()
	return Payable{
		id:             id,
		kind:           kind,
		total:          total,
		taxWithholding: taxWithholding,
		amountPaid:     money.Zero(total.Currency()),
		status:         valueobject.PayableStatusUnpaid,
		version:        1,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// ReconstructPayable recreates a Payable from persistence (no validation, no events).
func ReconstructPayable(
	id uuid.UUID,
	kind valueobject.PayableKind,
	total, taxWithholding, amountPaid money.Money,
	status valueobject.PayableStatus,
	version int,
	createdAt, updatedAt time.Time,
) Payable {
	return Payable{
		id:             id,
		kind:           kind,
		total:          total,
		taxWithholding: taxWithholding,
		amountPaid:     amountPaid,
		status:         status,
		version:        version,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

// Remaining returns total - paid - tax withholding for the given paid amount.
func (p Payable) Remaining(paid money.Money) (money.Money, error) {
	rest, err := p.total.Subtract(paid)
	if err != nil {
		return money.Money{}, fmt.Errorf("remaining balance: %w", err)
	}
	rest, err = rest.Subtract(p.taxWithholding)
	if err != nil {
		return money.Money{}, fmt.Errorf("remaining balance: %w", err)
	}
	return rest, nil
}

// Settle records a new cumulative paid amount and re-derives the status
// (immutable - returns new copy). The paid amount plus tax withholding may
// exceed the total by at most one minor unit.
func (p Payable) Settle(paid money.Money, now time.Time) (Payable, error) {
	if paid.IsNegative() {
		return Payable{}, fmt.Errorf("%w: paid amount must not be negative, got %s", ErrInvalidAmount, paid)
	}
	rest, err := p.Remaining(paid)
	if err != nil {
		return Payable{}, err
	}
	if rest.Minor() < -rest.Tolerance().Minor() {
		return Payable{}, &AllocationExceedsBalanceError{
			PayableID:  p.id,
			Requested:  paid,
			MaxAllowed: p.maxPaid(),
		}
	}

	status, err := valueobject.DerivePayableStatus(paid, p.total, p.taxWithholding)
	if err != nil {
		return Payable{}, err
	}

	updated := p
	updated.amountPaid = paid
	updated.status = status
	updated.updatedAt = now
	updated.version++
	updated.domainEvents = append([]events.DomainEvent{}, p.domainEvents...)
	updated.domainEvents = append(updated.domainEvents,
		event.NewPayableSettlementChanged(p.kind.PayableAggregate(), p.id, ToAmount(paid), status.String()),
	)
	return updated, nil
}

func (p Payable) maxPaid() money.Money {
	m, err := p.total.Subtract(p.taxWithholding)
	if err != nil {
		return p.total
	}
	return m
}

// Accessors

func (p Payable) ID() uuid.UUID                      { return p.id }
func (p Payable) Kind() valueobject.PayableKind      { return p.kind }
func (p Payable) Currency() money.Currency           { return p.total.Currency() }
func (p Payable) Total() money.Money                 { return p.total }
func (p Payable) TaxWithholding() money.Money        { return p.taxWithholding }
func (p Payable) AmountPaid() money.Money            { return p.amountPaid }
func (p Payable) Status() valueobject.PayableStatus  { return p.status }
func (p Payable) Version() int                       { return p.version }
func (p Payable) CreatedAt() time.Time               { return p.createdAt }
func (p Payable) UpdatedAt() time.Time               { return p.updatedAt }
func (p Payable) DomainEvents() []events.DomainEvent { return p.domainEvents }

// ClearDomainEvents returns a copy with no pending events.
func (p Payable) ClearDomainEvents() Payable {
	p.domainEvents = nil
	return p
}

// ToAmount renders a Money value for event payloads.
func ToAmount(m money.Money) event.Amount {
	return event.Amount{Value: m.Decimal(), Currency: m.Currency().Code()}
}

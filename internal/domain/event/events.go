package event

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bibbank/reconciliation/pkg/events"
)

// Event types published on the allocations topic.
const (
	TypeAllocationCreated        = "allocation.created"
	TypeAllocationRevised        = "allocation.revised"
	TypeAllocationReversed       = "allocation.reversed"
	TypePayableSettlementChanged = "payable.settlement.changed"
	TypePaymentRecorded          = "payment.recorded"
	TypePaymentUpdated           = "payment.updated"
	TypePaymentDeleted           = "payment.deleted"
)

// Amount is a money amount on the wire.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// AllocationDetails describes one allocation entry at the time of the event.
type AllocationDetails struct {
	EntryID        uuid.UUID       `json:"entry_id"`
	PaymentID      uuid.UUID       `json:"payment_id"`
	PayableID      uuid.UUID       `json:"payable_id"`
	Kind           string          `json:"kind"`
	Amount         Amount          `json:"amount"`
	OriginalAmount Amount          `json:"original_amount"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
}

// AllocationCreated is emitted when a payment is allocated to a payable.
type AllocationCreated struct {
	events.BaseEvent
	AllocationDetails
}

func NewAllocationCreated(payableAggregate string, d AllocationDetails) AllocationCreated {
	payload := events.MustPayload(d)
	return AllocationCreated{
		BaseEvent:         events.NewBaseEvent(TypeAllocationCreated, d.PayableID, payableAggregate, payload),
		AllocationDetails: d,
	}
}

// AllocationRevised is emitted when an allocation's amounts are overwritten.
type AllocationRevised struct {
	events.BaseEvent
	AllocationDetails
	PreviousAmount Amount `json:"previous_amount"`
}

func NewAllocationRevised(payableAggregate string, d AllocationDetails, previous Amount) AllocationRevised {
	payload := events.MustPayload(struct {
		AllocationDetails
		PreviousAmount Amount `json:"previous_amount"`
	}{d, previous})
	return AllocationRevised{
		BaseEvent:         events.NewBaseEvent(TypeAllocationRevised, d.PayableID, payableAggregate, payload),
		AllocationDetails: d,
		PreviousAmount:    previous,
	}
}

// AllocationReversed is emitted when an allocation is soft-deleted.
type AllocationReversed struct {
	events.BaseEvent
	AllocationDetails
}

func NewAllocationReversed(payableAggregate string, d AllocationDetails) AllocationReversed {
	payload := events.MustPayload(d)
	return AllocationReversed{
		BaseEvent:         events.NewBaseEvent(TypeAllocationReversed, d.PayableID, payableAggregate, payload),
		AllocationDetails: d,
	}
}

// PayableSettlementChanged is emitted whenever a payable's paid amount or status changes.
type PayableSettlementChanged struct {
	events.BaseEvent
	PayableID  uuid.UUID `json:"payable_id"`
	AmountPaid Amount    `json:"amount_paid"`
	Status     string    `json:"status"`
}

func NewPayableSettlementChanged(payableAggregate string, payableID uuid.UUID, amountPaid Amount, status string) PayableSettlementChanged {
	payload := events.MustPayload(struct {
		PayableID  uuid.UUID `json:"payable_id"`
		AmountPaid Amount    `json:"amount_paid"`
		Status     string    `json:"status"`
	}{payableID, amountPaid, status})

	return PayableSettlementChanged{
		BaseEvent:  events.NewBaseEvent(TypePayableSettlementChanged, payableID, payableAggregate, payload),
		PayableID:  payableID,
		AmountPaid: amountPaid,
		Status:     status,
	}
}

// PaymentRecorded is emitted when a payment is first persisted.
type PaymentRecorded struct {
	events.BaseEvent
	PaymentID uuid.UUID `json:"payment_id"`
	Fee       Amount    `json:"fee"`
}

func NewPaymentRecorded(paymentAggregate string, paymentID uuid.UUID, fee Amount) PaymentRecorded {
	payload := events.MustPayload(struct {
		PaymentID uuid.UUID `json:"payment_id"`
		Fee       Amount    `json:"fee"`
	}{paymentID, fee})

	return PaymentRecorded{
		BaseEvent: events.NewBaseEvent(TypePaymentRecorded, paymentID, paymentAggregate, payload),
		PaymentID: paymentID,
		Fee:       fee,
	}
}

// PaymentUpdated is emitted when a payment's amount, fee or rate changes.
type PaymentUpdated struct {
	events.BaseEvent
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    Amount    `json:"amount"`
	Fee       Amount    `json:"fee"`
}

func NewPaymentUpdated(paymentAggregate string, paymentID uuid.UUID, amount, fee Amount) PaymentUpdated {
	payload := events.MustPayload(struct {
		PaymentID uuid.UUID `json:"payment_id"`
		Amount    Amount    `json:"amount"`
		Fee       Amount    `json:"fee"`
	}{paymentID, amount, fee})

	return PaymentUpdated{
		BaseEvent: events.NewBaseEvent(TypePaymentUpdated, paymentID, paymentAggregate, payload),
		PaymentID: paymentID,
		Amount:    amount,
		Fee:       fee,
	}
}

// PaymentDeleted is emitted when a payment is soft-deleted.
type PaymentDeleted struct {
	events.BaseEvent
	PaymentID uuid.UUID `json:"payment_id"`
}

func NewPaymentDeleted(paymentAggregate string, paymentID uuid.UUID) PaymentDeleted {
	payload := events.MustPayload(struct {
		PaymentID uuid.UUID `json:"payment_id"`
	}{paymentID})

	return PaymentDeleted{
		BaseEvent: events.NewBaseEvent(TypePaymentDeleted, paymentID, paymentAggregate, payload),
		PaymentID: paymentID,
	}
}

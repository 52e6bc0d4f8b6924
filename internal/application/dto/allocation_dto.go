package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocateRequest is the input DTO for allocating part of a payment to a payable.
// Amount is in the payment currency. ExchangeRate converts payment currency
// into payable currency; it may be omitted for same-currency allocations or
// when the payment carries a conversion rate.
type AllocateRequest struct {
	ExchangeRate *decimal.Decimal
	Amount       decimal.Decimal
	PaymentID    uuid.UUID
	PayableID    uuid.UUID
}

// EditAllocationRequest is the input DTO for overwriting an allocation's amount.
// A nil ExchangeRate keeps the entry's current rate.
type EditAllocationRequest struct {
	ExchangeRate *decimal.Decimal
	Amount       decimal.Decimal
	EntryID      uuid.UUID
}

// ReverseAllocationRequest is the input DTO for reversing one allocation.
type ReverseAllocationRequest struct {
	EntryID uuid.UUID
}

// ReversePayablesRequest is the input DTO for reversing every active
// allocation of the given payables.
type ReversePayablesRequest struct {
	PayableIDs []uuid.UUID
}

// ReversePayablesResponse reports what a bulk reversal touched.
type ReversePayablesResponse struct {
	ReversedEntries  int
	AffectedPayments []uuid.UUID
}

// AllocationEntryResponse is the output DTO for an allocation entry together
// with the payable state it produced.
type AllocationEntryResponse struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Kind               string
	Currency           string
	OriginalCurrency   string
	PayableStatus      string
	Amount             decimal.Decimal
	OriginalAmount     decimal.Decimal
	ExchangeRate       decimal.Decimal
	PayableAmountPaid  decimal.Decimal
	OriginalCurrencyID int64
	Digits             uint8
	MinorUnitDigits    uint8
	Active             bool
	Snapped            bool
	ID                 uuid.UUID
	PaymentID          uuid.UUID
	PayableID          uuid.UUID
}

// RegisterPayableRequest is the input DTO for registering an invoice or
// expense invoice announced by the invoicing side.
type RegisterPayableRequest struct {
	Total          decimal.Decimal
	TaxWithholding decimal.Decimal
	CurrencyID     int64
	ID             uuid.UUID
}

// PayableResponse is the output DTO for a payable's payment state.
type PayableResponse struct {
	Kind           string
	Currency       string
	Status         string
	Total          decimal.Decimal
	TaxWithholding decimal.Decimal
	AmountPaid     decimal.Decimal
	CurrencyID     int64
	Version        int
	Digits         uint8
	ID             uuid.UUID
}

// ListPayableAllocationsRequest is the input DTO for listing a payable's allocations.
type ListPayableAllocationsRequest struct {
	PayableID       uuid.UUID
	IncludeReversed bool
}

// ListPayableAllocationsResponse is the output DTO for a payable's allocations.
type ListPayableAllocationsResponse struct {
	Entries []AllocationEntryResponse
	Payable PayableResponse
}

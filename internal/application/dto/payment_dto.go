package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationItem is one (payable, amount, rate) line of a payment request.
type AllocationItem struct {
	ExchangeRate *decimal.Decimal
	Amount       decimal.Decimal
	PayableID    uuid.UUID
}

// CreatePaymentRequest is the input DTO for recording a payment and its allocations.
type CreatePaymentRequest struct {
	PaidAt         time.Time
	Reference      string
	Fee            decimal.Decimal
	ConversionRate decimal.Decimal
	Allocations    []AllocationItem
	CurrencyID     int64
}

// UpdatePaymentRequest is the input DTO for replacing a payment's terms and
// allocation set. Payables missing from Allocations have their allocation reversed.
type UpdatePaymentRequest struct {
	Reference      string
	Fee            decimal.Decimal
	ConversionRate decimal.Decimal
	Allocations    []AllocationItem
	PaymentID      uuid.UUID
}

// DeletePaymentRequest is the input DTO for deleting a payment.
type DeletePaymentRequest struct {
	PaymentID uuid.UUID
}

// GetPaymentRequest is the input DTO for retrieving a single payment.
type GetPaymentRequest struct {
	PaymentID uuid.UUID
}

// PaymentResponse is the output DTO for a payment and its active allocations.
type PaymentResponse struct {
	PaidAt         time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Kind           string
	Currency       string
	Reference      string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	ConversionRate decimal.Decimal
	Allocations    []AllocationEntryResponse
	CurrencyID     int64
	Version        int
	Digits         uint8
	Deleted        bool
	ID             uuid.UUID
}

// ImportPaymentsRequest is the input DTO for a bulk payment import.
type ImportPaymentsRequest struct {
	Payments []CreatePaymentRequest
}

// SkippedItem describes an allocation or a whole payment left out of an import.
// PayableID is uuid.Nil when the whole payment was skipped; that item follows
// the rejected allocations of the same payment.
type SkippedItem struct {
	Reason       string
	PaymentIndex int
	PayableID    uuid.UUID
}

// ImportPaymentsResponse is the output DTO for a bulk payment import.
type ImportPaymentsResponse struct {
	Imported []PaymentResponse
	Skipped  []SkippedItem
}

// ImportStatementRequest imports the credit lines of an MT950 bank statement
// as payments in the given currency.
type ImportStatementRequest struct {
	Statement  string
	CurrencyID int64
}

type ImportStatementResponse struct {
	StatementReference string
	Account            string
	Imported           []PaymentResponse
	// Skipped indexes refer to the statement lines.
	Skipped      []SkippedItem
	IgnoredLines int
}

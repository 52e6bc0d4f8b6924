package grpc

import "google.golang.org/protobuf/types/known/timestamppb"

// Temporary gRPC message types until proto generation is wired. Amounts and
// rates travel as decimal strings, amounts padded to the currency's minor unit.

type RegisterPayableMsg struct {
	Kind           string `json:"kind"`
	PayableID      string `json:"payable_id"`
	CurrencyID     int64  `json:"currency_id"`
	Total          string `json:"total"`
	TaxWithholding string `json:"tax_withholding,omitempty"`
}

type PayableMsg struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	CurrencyID     int64  `json:"currency_id"`
	Currency       string `json:"currency"`
	Total          string `json:"total"`
	TaxWithholding string `json:"tax_withholding"`
	AmountPaid     string `json:"amount_paid"`
	Status         string `json:"status"`
	Version        int32  `json:"version"`
}

type AllocateMsg struct {
	Kind         string `json:"kind"`
	PaymentID    string `json:"payment_id"`
	PayableID    string `json:"payable_id"`
	Amount       string `json:"amount"`
	ExchangeRate string `json:"exchange_rate,omitempty"`
}

type EditAllocationMsg struct {
	Kind         string `json:"kind"`
	EntryID      string `json:"entry_id"`
	Amount       string `json:"amount"`
	ExchangeRate string `json:"exchange_rate,omitempty"`
}

type AllocationEntryMsg struct {
	ID                 string                 `json:"id"`
	Kind               string                 `json:"kind"`
	PaymentID          string                 `json:"payment_id"`
	PayableID          string                 `json:"payable_id"`
	Amount             string                 `json:"amount"`
	Currency           string                 `json:"currency"`
	OriginalAmount     string                 `json:"original_amount"`
	OriginalCurrency   string                 `json:"original_currency"`
	OriginalCurrencyID int64                  `json:"original_currency_id"`
	ExchangeRate       string                 `json:"exchange_rate"`
	MinorUnitDigits    uint32                 `json:"minor_unit_digits"`
	Active             bool                   `json:"active"`
	PayableStatus      string                 `json:"payable_status,omitempty"`
	PayableAmountPaid  string                 `json:"payable_amount_paid,omitempty"`
	Snapped            bool                   `json:"snapped,omitempty"`
	CreatedAt          *timestamppb.Timestamp `json:"created_at"`
	UpdatedAt          *timestamppb.Timestamp `json:"updated_at"`
}

type ReverseAllocationMsg struct {
	Kind    string `json:"kind"`
	EntryID string `json:"entry_id"`
}

type ReverseAllocationResponseMsg struct{}

type ReversePayablesMsg struct {
	Kind       string   `json:"kind"`
	PayableIDs []string `json:"payable_ids"`
}

type ReversePayablesResponseMsg struct {
	ReversedEntries  int32    `json:"reversed_entries"`
	AffectedPayments []string `json:"affected_payments"`
}

type ListPayableAllocationsMsg struct {
	Kind            string `json:"kind"`
	PayableID       string `json:"payable_id"`
	IncludeReversed bool   `json:"include_reversed"`
}

type ListPayableAllocationsResponseMsg struct {
	Payable *PayableMsg           `json:"payable"`
	Entries []*AllocationEntryMsg `json:"entries"`
}

type AllocationItemMsg struct {
	PayableID    string `json:"payable_id"`
	Amount       string `json:"amount"`
	ExchangeRate string `json:"exchange_rate,omitempty"`
}

type CreatePaymentMsg struct {
	Kind           string                 `json:"kind"`
	CurrencyID     int64                  `json:"currency_id"`
	Fee            string                 `json:"fee,omitempty"`
	ConversionRate string                 `json:"conversion_rate,omitempty"`
	Reference      string                 `json:"reference,omitempty"`
	PaidAt         *timestamppb.Timestamp `json:"paid_at,omitempty"`
	Allocations    []*AllocationItemMsg   `json:"allocations"`
}

type UpdatePaymentMsg struct {
	Kind           string               `json:"kind"`
	PaymentID      string               `json:"payment_id"`
	Fee            string               `json:"fee,omitempty"`
	ConversionRate string               `json:"conversion_rate,omitempty"`
	Reference      string               `json:"reference,omitempty"`
	Allocations    []*AllocationItemMsg `json:"allocations"`
}

type DeletePaymentMsg struct {
	Kind      string `json:"kind"`
	PaymentID string `json:"payment_id"`
}

type DeletePaymentResponseMsg struct{}

type GetPaymentMsg struct {
	Kind      string `json:"kind"`
	PaymentID string `json:"payment_id"`
}

type PaymentMsg struct {
	ID             string                 `json:"id"`
	Kind           string                 `json:"kind"`
	CurrencyID     int64                  `json:"currency_id"`
	Currency       string                 `json:"currency"`
	Amount         string                 `json:"amount"`
	Fee            string                 `json:"fee"`
	ConversionRate string                 `json:"conversion_rate"`
	Reference      string                 `json:"reference"`
	PaidAt         *timestamppb.Timestamp `json:"paid_at"`
	Deleted        bool                   `json:"deleted"`
	Version        int32                  `json:"version"`
	Allocations    []*AllocationEntryMsg  `json:"allocations"`
	CreatedAt      *timestamppb.Timestamp `json:"created_at"`
	UpdatedAt      *timestamppb.Timestamp `json:"updated_at"`
}

type ImportPaymentsMsg struct {
	Kind     string              `json:"kind"`
	Payments []*CreatePaymentMsg `json:"payments"`
}

type SkippedItemMsg struct {
	PaymentIndex int32  `json:"payment_index"`
	PayableID    string `json:"payable_id,omitempty"`
	Reason       string `json:"reason"`
}

type ImportPaymentsResponseMsg struct {
	Imported []*PaymentMsg     `json:"imported"`
	Skipped  []*SkippedItemMsg `json:"skipped"`
}

// ImportStatementMsg carries a raw MT950 statement.
type ImportStatementMsg struct {
	Kind       string `json:"kind"`
	CurrencyID int64  `json:"currency_id"`
	Statement  string `json:"statement"`
}

type ImportStatementResponseMsg struct {
	StatementReference string            `json:"statement_reference"`
	Account            string            `json:"account"`
	Imported           []*PaymentMsg     `json:"imported"`
	Skipped            []*SkippedItemMsg `json:"skipped"`
	IgnoredLines       int32             `json:"ignored_lines"`
}

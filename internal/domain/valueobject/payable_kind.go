package valueobject

import "fmt"

// PayableKind distinguishes the selling side (invoices settled by payments)
// from the buying side (expense invoices settled by expense payments).
type PayableKind struct {
	value string
}

var (
	PayableKindInvoice        = PayableKind{"INVOICE"}
	PayableKindExpenseInvoice = PayableKind{"EXPENSE_INVOICE"}
)

var validPayableKinds = map[string]PayableKind{
	"INVOICE":         PayableKindInvoice,
	"EXPENSE_INVOICE": PayableKindExpenseInvoice,
}

// NewPayableKind validates and creates a PayableKind from a string.
func NewPayableKind(s string) (PayableKind, error) {
	if kind, ok := validPayableKinds[s]; ok {
		return kind, nil
	}
	return PayableKind{}, fmt.Errorf("invalid payable kind: %q", s)
}

// PayableKinds returns every supported kind.
func PayableKinds() []PayableKind {
	return []PayableKind{PayableKindInvoice, PayableKindExpenseInvoice}
}

// PayableAggregate is the aggregate type name used on events about the payable.
func (k PayableKind) PayableAggregate() string {
	if k == PayableKindExpenseInvoice {
		return "ExpenseInvoice"
	}
	return "Invoice"
}

// PaymentAggregate is the aggregate type name used on events about the payment.
func (k PayableKind) PaymentAggregate() string {
	if k == PayableKindExpenseInvoice {
		return "ExpensePayment"
	}
	return "Payment"
}

// String returns the string representation of the kind.
func (k PayableKind) String() string {
	return k.value
}

// IsZero returns true if the kind is uninitialized.
func (k PayableKind) IsZero() bool {
	return k.value == ""
}

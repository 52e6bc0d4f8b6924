package valueobject

import (
	"fmt"

	"github.com/bibbank/reconciliation/pkg/money"
)

// PayableStatus is the payment state of an invoice or expense invoice.
type PayableStatus struct {
	value string
}

var (
	PayableStatusUnpaid        = PayableStatus{"UNPAID"}
	PayableStatusPartiallyPaid = PayableStatus{"PARTIALLY_PAID"}
	PayableStatusPaid          = PayableStatus{"PAID"}
)

var validPayableStatuses = map[string]PayableStatus{
	"UNPAID":         PayableStatusUnpaid,
	"PARTIALLY_PAID": PayableStatusPartiallyPaid,
	"PAID":           PayableStatusPaid,
}

// NewPayableStatus validates and creates a PayableStatus from a string.
func NewPayableStatus(s string) (PayableStatus, error) {
	if status, ok := validPayableStatuses[s]; ok {
		return status, nil
	}
	return PayableStatus{}, fmt.Errorf("invalid payable status: %q", s)
}

// DerivePayableStatus computes the status from the paid amount alone; the
// previous status never matters. Paid counts as settled when paid plus tax
// withholding lands within one minor unit of the total.
func DerivePayableStatus(paid, total, taxWithholding money.Money) (PayableStatus, error) {
	if paid.IsZero() {
		return PayableStatusUnpaid, nil
	}

	covered, err := paid.Add(taxWithholding)
	if err != nil {
		return PayableStatus{}, fmt.Errorf("derive payable status: %w", err)
	}

	settled, err := covered.EqualTo(total, total.Tolerance())
	if err != nil {
		return PayableStatus{}, fmt.Errorf("derive payable status: %w", err)
	}
	if settled {
		return PayableStatusPaid, nil
	}
	return PayableStatusPartiallyPaid, nil
}

// String returns the string representation of the payable status.
func (s PayableStatus) String() string {
	return s.value
}

// IsZero returns true if the payable status is uninitialized.
func (s PayableStatus) IsZero() bool {
	return s.value == ""
}

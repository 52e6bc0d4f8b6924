package model

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/pkg/money"
)

// PayableLedger is a payable loaded together with its active allocation entries.
type PayableLedger struct {
	Payable Payable
	Entries []AllocationEntry
}

// PaidExcluding sums the active entries of the payable, skipping the entry
// with the given ID (uuid.Nil skips nothing).
func (l PayableLedger) PaidExcluding(entryID uuid.UUID) (money.Money, error) {
	sum := money.Zero(l.Payable.Currency())
	for _, e := range l.Entries {
		if !e.Active() || e.ID() == entryID || e.PayableID() != l.Payable.ID() {
			continue
		}
		var err error
		if sum, err = sum.Add(e.Amount()); err != nil {
			return money.Money{}, fmt.Errorf("sum allocations of payable %s: %w", l.Payable.ID(), err)
		}
	}
	return sum, nil
}

// ActiveEntryFor returns the active entry linking the payable to paymentID.
func (l PayableLedger) ActiveEntryFor(paymentID uuid.UUID) (AllocationEntry, bool) {
	for _, e := range l.Entries {
		if e.Active() && e.PaymentID() == paymentID {
			return e, true
		}
	}
	return AllocationEntry{}, false
}

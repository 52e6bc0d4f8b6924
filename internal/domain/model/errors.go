package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/pkg/money"
)

var (
	ErrPayableNotFound          = errors.New("payable not found")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrEntryNotFound            = errors.New("allocation entry not found")
	ErrCurrencyNotFound         = errors.New("currency not found")
	ErrInvalidExchangeRate      = errors.New("invalid exchange rate")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidInput             = errors.New("invalid input")
	ErrEntryInactive            = errors.New("allocation entry is no longer active")
	ErrPaymentDeleted           = errors.New("payment is deleted")
	ErrDuplicateAllocation      = errors.New("payment is already allocated to this payable")
	ErrConcurrentModification   = errors.New("concurrent modification")
	ErrAllocationExceedsBalance = errors.New("allocation exceeds payable balance")
)

// AllocationExceedsBalanceError reports an allocation larger than the payable's
// remaining balance. MaxAllowed is expressed in the requested currency.
type AllocationExceedsBalanceError struct {
	PayableID  uuid.UUID
	Requested  money.Money
	MaxAllowed money.Money
}

func (e *AllocationExceedsBalanceError) Error() string {
	return fmt.Sprintf("allocation of %s to payable %s exceeds balance: at most %s allowed",
		e.Requested, e.PayableID, e.MaxAllowed)
}

// Is lets errors.Is match ErrAllocationExceedsBalance.
func (e *AllocationExceedsBalanceError) Is(target error) bool {
	return target == ErrAllocationExceedsBalance
}

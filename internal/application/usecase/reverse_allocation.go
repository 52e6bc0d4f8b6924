package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
)

// ReverseAllocation deactivates one allocation entry and releases its amount
// from the payable and the payment.
type ReverseAllocation struct {
	core *Core
}

func NewReverseAllocation(core *Core) *ReverseAllocation {
	return &ReverseAllocation{core: core}
}

func (uc *ReverseAllocation) Execute(ctx context.Context, req dto.ReverseAllocationRequest) error {
	err := uc.core.atomically(ctx, "ReverseAllocation", func(ctx context.Context) error {
		entry, err := uc.core.stores.Entries.FindByID(ctx, req.EntryID)
		if err != nil {
			return err
		}
		payment, err := uc.core.findPayment(ctx, entry.PaymentID())
		if err != nil {
			return err
		}
		if _, err := uc.core.reverse(ctx, entry); err != nil {
			return err
		}
		_, _, err = uc.core.refreshPayment(ctx, payment)
		return err
	})
	if err != nil {
		return fmt.Errorf("reverse allocation %s: %w", req.EntryID, err)
	}

	uc.core.logger.Info("allocation reversed", "entry_id", req.EntryID)
	return nil
}

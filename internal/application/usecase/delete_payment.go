package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
)

// DeletePayment reverses every active allocation of a payment and
// soft-deletes it.
type DeletePayment struct {
	core *Core
}

func NewDeletePayment(core *Core) *DeletePayment {
	return &DeletePayment{core: core}
}

func (uc *DeletePayment) Execute(ctx context.Context, req dto.DeletePaymentRequest) error {
	reversed := 0
	err := uc.core.atomically(ctx, "DeletePayment", func(ctx context.Context) error {
		reversed = 0
		payment, err := uc.core.findPayment(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		entries, err := uc.core.stores.Entries.ListActiveByPayment(ctx, payment.ID())
		if err != nil {
			return fmt.Errorf("list entries of payment %s: %w", payment.ID(), err)
		}
		for _, entry := range entries {
			if _, err := uc.core.reverse(ctx, entry); err != nil {
				return err
			}
			reversed++
		}

		deleted, err := payment.Delete(uc.core.now())
		if err != nil {
			return err
		}
		return uc.core.savePayment(ctx, deleted)
	})
	if err != nil {
		return fmt.Errorf("delete payment %s: %w", req.PaymentID, err)
	}

	uc.core.logger.Info("payment deleted", "payment_id", req.PaymentID, "reversed_entries", reversed)
	return nil
}

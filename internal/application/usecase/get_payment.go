package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
)

// GetPayment retrieves a payment with its active allocations. Deleted
// payments are returned with the Deleted flag set and no allocations.
type GetPayment struct {
	core *Core
}

func NewGetPayment(core *Core) *GetPayment {
	return &GetPayment{core: core}
}

func (uc *GetPayment) Execute(ctx context.Context, req dto.GetPaymentRequest) (dto.PaymentResponse, error) {
	var resp dto.PaymentResponse
	err := uc.core.atomically(ctx, "GetPayment", func(ctx context.Context) error {
		payment, err := uc.core.stores.Payments.FindByID(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		var entries []model.AllocationEntry
		if !payment.Deleted() {
			if entries, err = uc.core.stores.Entries.ListActiveByPayment(ctx, payment.ID()); err != nil {
				return err
			}
		}
		resp = toPaymentResponse(payment, entries)
		return nil
	})
	if err != nil {
		return dto.PaymentResponse{}, fmt.Errorf("get payment %s: %w", req.PaymentID, err)
	}
	return resp, nil
}

package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
)

// AllocateToPayable applies part of an existing payment to a payable.
type AllocateToPayable struct {
	core *Core
}

func NewAllocateToPayable(core *Core) *AllocateToPayable {
	return &AllocateToPayable{core: core}
}

func (uc *AllocateToPayable) Execute(ctx context.Context, req dto.AllocateRequest) (dto.AllocationEntryResponse, error) {
	item, err := toAllocationInput(req.PayableID, req.Amount, req.ExchangeRate)
	if err != nil {
		return dto.AllocationEntryResponse{}, err
	}

	var resp dto.AllocationEntryResponse
	err = uc.core.atomically(ctx, "AllocateToPayable", func(ctx context.Context) error {
		payment, err := uc.core.findPayment(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		plan, err := uc.core.allocate(ctx, payment, item)
		if err != nil {
			return err
		}
		if _, _, err := uc.core.refreshPayment(ctx, payment); err != nil {
			return err
		}
		resp = toPlanResponse(plan.Entry, plan.Payable, plan.Snapped)
		return nil
	})
	if err != nil {
		return dto.AllocationEntryResponse{}, fmt.Errorf("allocate payment %s to payable %s: %w", req.PaymentID, req.PayableID, err)
	}

	uc.core.logger.Info("allocation created",
		"entry_id", resp.ID,
		"payment_id", resp.PaymentID,
		"payable_id", resp.PayableID,
		"amount", resp.Amount.String(),
		"snapped", resp.Snapped,
	)
	return resp, nil
}

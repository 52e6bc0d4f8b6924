package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
)

// EditAllocation overwrites the amount of an active allocation entry.
type EditAllocation struct {
	core *Core
}

func NewEditAllocation(core *Core) *EditAllocation {
	return &EditAllocation{core: core}
}

func (uc *EditAllocation) Execute(ctx context.Context, req dto.EditAllocationRequest) (dto.AllocationEntryResponse, error) {
	rate, err := toRate(req.ExchangeRate)
	if err != nil {
		return dto.AllocationEntryResponse{}, err
	}

	var resp dto.AllocationEntryResponse
	err = uc.core.atomically(ctx, "EditAllocation", func(ctx context.Context) error {
		entry, err := uc.core.stores.Entries.FindByID(ctx, req.EntryID)
		if err != nil {
			return err
		}
		payment, err := uc.core.findPayment(ctx, entry.PaymentID())
		if err != nil {
			return err
		}
		plan, err := uc.core.edit(ctx, entry, req.Amount, rate)
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
		return dto.AllocationEntryResponse{}, fmt.Errorf("edit allocation %s: %w", req.EntryID, err)
	}

	uc.core.logger.Info("allocation edited",
		"entry_id", resp.ID,
		"payable_id", resp.PayableID,
		"amount", resp.Amount.String(),
	)
	return resp, nil
}

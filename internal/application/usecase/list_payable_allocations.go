package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
)

// ListPayableAllocations returns a payable's payment state and its allocations.
type ListPayableAllocations struct {
	core *Core
}

func NewListPayableAllocations(core *Core) *ListPayableAllocations {
	return &ListPayableAllocations{core: core}
}

func (uc *ListPayableAllocations) Execute(ctx context.Context, req dto.ListPayableAllocationsRequest) (dto.ListPayableAllocationsResponse, error) {
	var resp dto.ListPayableAllocationsResponse
	err := uc.core.atomically(ctx, "ListPayableAllocations", func(ctx context.Context) error {
		ledger, err := uc.core.stores.Payables.LoadForAllocation(ctx, req.PayableID)
		if err != nil {
			return err
		}
		entries, err := uc.core.stores.Entries.ListByPayable(ctx, req.PayableID, req.IncludeReversed)
		if err != nil {
			return err
		}

		resp = dto.ListPayableAllocationsResponse{
			Payable: toPayableResponse(ledger.Payable),
			Entries: make([]dto.AllocationEntryResponse, 0, len(entries)),
		}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, toEntryResponse(e))
		}
		return nil
	})
	if err != nil {
		return dto.ListPayableAllocationsResponse{}, fmt.Errorf("list allocations of payable %s: %w", req.PayableID, err)
	}
	return resp, nil
}

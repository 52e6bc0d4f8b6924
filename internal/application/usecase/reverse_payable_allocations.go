package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
)

// ReversePayableAllocations reverses every active allocation of the given
// payables, typically because the payables were deleted upstream. All
// payables are handled in one transaction.
type ReversePayableAllocations struct {
	core *Core
}

func NewReversePayableAllocations(core *Core) *ReversePayableAllocations {
	return &ReversePayableAllocations{core: core}
}

func (uc *ReversePayableAllocations) Execute(ctx context.Context, req dto.ReversePayablesRequest) (dto.ReversePayablesResponse, error) {
	var resp dto.ReversePayablesResponse
	err := uc.core.atomically(ctx, "ReversePayableAllocations", func(ctx context.Context) error {
		resp = dto.ReversePayablesResponse{}
		affected := make(map[uuid.UUID]struct{})
		seen := make(map[uuid.UUID]struct{}, len(req.PayableIDs))

		for _, payableID := range req.PayableIDs {
			if _, ok := seen[payableID]; ok {
				continue
			}
			seen[payableID] = struct{}{}

			ledger, err := uc.core.stores.Payables.LoadForAllocation(ctx, payableID)
			if err != nil {
				return err
			}
			active := append([]model.AllocationEntry(nil), ledger.Entries...)
			for _, entry := range active {
				if !entry.Active() {
					continue
				}
				plan, err := uc.core.reverseOn(ctx, ledger, entry)
				if err != nil {
					return err
				}
				ledger = plan.ApplyTo(ledger)
				resp.ReversedEntries++
				if _, ok := affected[entry.PaymentID()]; !ok {
					affected[entry.PaymentID()] = struct{}{}
					resp.AffectedPayments = append(resp.AffectedPayments, entry.PaymentID())
				}
			}
		}

		for _, paymentID := range resp.AffectedPayments {
			payment, err := uc.core.stores.Payments.FindByID(ctx, paymentID)
			if err != nil {
				return err
			}
			if payment.Deleted() {
				continue
			}
			if _, _, err := uc.core.refreshPayment(ctx, payment); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dto.ReversePayablesResponse{}, fmt.Errorf("reverse allocations of %d payables: %w", len(req.PayableIDs), err)
	}

	uc.core.logger.Info("payable allocations reversed",
		"payables", len(req.PayableIDs),
		"entries", resp.ReversedEntries,
		"payments", len(resp.AffectedPayments),
	)
	return resp, nil
}

package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
)

// UpdatePayment replaces a payment's terms and reconciles its allocations with
// the requested set: entries whose payable is no longer listed are reversed,
// listed ones are overwritten and new ones are allocated.
type UpdatePayment struct {
	core *Core
}

func NewUpdatePayment(core *Core) *UpdatePayment {
	return &UpdatePayment{core: core}
}

func (uc *UpdatePayment) Execute(ctx context.Context, req dto.UpdatePaymentRequest) (dto.PaymentResponse, error) {
	items, err := toAllocationInputs(req.Allocations)
	if err != nil {
		return dto.PaymentResponse{}, fmt.Errorf("update payment %s: %w", req.PaymentID, err)
	}

	var resp dto.PaymentResponse
	err = uc.core.atomically(ctx, "UpdatePayment", func(ctx context.Context) error {
		payment, err := uc.core.findPayment(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		previousRate := payment.ConversionRate()

		fee, err := money.FromDecimal(req.Fee, payment.Currency())
		if err != nil {
			return fmt.Errorf("%w: fee: %w", model.ErrInvalidAmount, err)
		}
		updated, err := payment.UpdateTerms(fee, req.ConversionRate, req.Reference, uc.core.now())
		if err != nil {
			return err
		}
		if err := uc.core.savePayment(ctx, updated); err != nil {
			return err
		}
		payment = updated.ClearDomainEvents()

		// A changed payment-level rate is carried onto entries that do not name their own.
		var defaultRate *valueobject.ExchangeRate
		if r, ok := payment.DefaultRate(); ok && !previousRate.Equal(payment.ConversionRate()) {
			defaultRate = &r
		}

		existing, err := uc.core.stores.Entries.ListActiveByPayment(ctx, payment.ID())
		if err != nil {
			return fmt.Errorf("list entries of payment %s: %w", payment.ID(), err)
		}
		wanted := make(map[uuid.UUID]allocationInput, len(items))
		for _, item := range items {
			wanted[item.payableID] = item
		}
		current := make(map[uuid.UUID]model.AllocationEntry, len(existing))
		for _, entry := range existing {
			current[entry.PayableID()] = entry
			if _, keep := wanted[entry.PayableID()]; keep {
				continue
			}
			if _, err := uc.core.reverse(ctx, entry); err != nil {
				return err
			}
		}

		for _, item := range items {
			entry, ok := current[item.payableID]
			if !ok {
				continue
			}
			rate := item.rate
			if rate == nil {
				rate = defaultRate
			}
			if _, err := uc.core.edit(ctx, entry, item.amount, rate); err != nil {
				return err
			}
		}

		for _, item := range items {
			if _, ok := current[item.payableID]; ok {
				continue
			}
			if _, err := uc.core.allocate(ctx, payment, item); err != nil {
				return err
			}
		}

		payment, entries, err := uc.core.refreshPayment(ctx, payment)
		if err != nil {
			return err
		}
		resp = toPaymentResponse(payment, entries)
		return nil
	})
	if err != nil {
		return dto.PaymentResponse{}, fmt.Errorf("update payment %s: %w", req.PaymentID, err)
	}

	uc.core.logger.Info("payment updated",
		"payment_id", resp.ID,
		"amount", resp.Amount.String(),
		"allocations", len(resp.Allocations),
	)
	return resp, nil
}

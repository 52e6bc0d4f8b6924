package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/pkg/money"
)

var errNothingAllocated = errors.New("none of the allocations could be applied")

// ImportPayments stores a batch of payments. Each payment is written in its
// own transaction and each allocation in a nested one, so a rejected
// allocation is reported as skipped while the rest of the batch goes on.
type ImportPayments struct {
	core *Core
}

func NewImportPayments(core *Core) *ImportPayments {
	return &ImportPayments{core: core}
}

func (uc *ImportPayments) Execute(ctx context.Context, req dto.ImportPaymentsRequest) (dto.ImportPaymentsResponse, error) {
	resp := dto.ImportPaymentsResponse{
		Imported: make([]dto.PaymentResponse, 0, len(req.Payments)),
	}

	for i, p := range req.Payments {
		if err := ctx.Err(); err != nil {
			return resp, fmt.Errorf("import payments: %w", err)
		}

		imported, skipped, err := uc.importOne(ctx, i, p)
		if err != nil {
			if isBatchFatal(err) {
				return resp, fmt.Errorf("import payment %d: %w", i, err)
			}
			uc.core.logger.Warn("payment skipped", "index", i, "error", err)
			uc.core.metrics.PaymentsSkipped(ctx, uc.core.stores.Kind.String(), 1)
			resp.Skipped = append(resp.Skipped, skipped...)
			resp.Skipped = append(resp.Skipped, dto.SkippedItem{PaymentIndex: i, Reason: err.Error()})
			continue
		}
		resp.Imported = append(resp.Imported, imported)
		resp.Skipped = append(resp.Skipped, skipped...)
	}

	uc.core.logger.Info("payments imported",
		"requested", len(req.Payments),
		"imported", len(resp.Imported),
		"skipped", len(resp.Skipped),
	)
	return resp, nil
}

func (uc *ImportPayments) importOne(ctx context.Context, index int, req dto.CreatePaymentRequest) (dto.PaymentResponse, []dto.SkippedItem, error) {
	items, err := toAllocationInputs(req.Allocations)
	if err != nil {
		return dto.PaymentResponse{}, nil, err
	}
	currency, err := uc.core.currencies.Lookup(ctx, money.CurrencyID(req.CurrencyID))
	if err != nil {
		return dto.PaymentResponse{}, nil, err
	}

	var (
		resp    dto.PaymentResponse
		skipped []dto.SkippedItem
	)
	err = uc.core.atomically(ctx, "ImportPayment", func(ctx context.Context) error {
		skipped = nil
		payment, err := uc.core.recordPayment(ctx, currency, req)
		if err != nil {
			return err
		}

		applied := 0
		for _, item := range items {
			err := uc.core.tx.RunAtomic(ctx, func(ctx context.Context) error {
				_, err := uc.core.allocate(ctx, payment, item)
				return err
			})
			switch {
			case err == nil:
				applied++
			case errors.Is(err, model.ErrConcurrentModification):
				return err
			default:
				skipped = append(skipped, dto.SkippedItem{PaymentIndex: index, PayableID: item.payableID, Reason: err.Error()})
			}
		}
		if len(items) > 0 && applied == 0 {
			return errNothingAllocated
		}

		payment, entries, err := uc.core.refreshPayment(ctx, payment)
		if err != nil {
			return err
		}
		resp = toPaymentResponse(payment, entries)
		return nil
	})
	if errors.Is(err, errNothingAllocated) {
		// The payment rolled back; the per-allocation reasons explain why.
		return dto.PaymentResponse{}, skipped, err
	}
	if err != nil {
		return dto.PaymentResponse{}, nil, err
	}
	return resp, skipped, nil
}

// isBatchFatal reports errors that stop the whole import rather than one payment.
func isBatchFatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

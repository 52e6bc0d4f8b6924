package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/pkg/money"
)

// lookupConcurrency bounds the parallel reads issued before a payment is written.
const lookupConcurrency = 8

// CreatePayment records a payment and all of its allocations atomically: if
// any allocation is rejected nothing is stored.
type CreatePayment struct {
	core *Core
}

func NewCreatePayment(core *Core) *CreatePayment {
	return &CreatePayment{core: core}
}

func (uc *CreatePayment) Execute(ctx context.Context, req dto.CreatePaymentRequest) (dto.PaymentResponse, error) {
	items, err := toAllocationInputs(req.Allocations)
	if err != nil {
		return dto.PaymentResponse{}, fmt.Errorf("create payment: %w", err)
	}
	currency, err := uc.prefetch(ctx, money.CurrencyID(req.CurrencyID), items)
	if err != nil {
		return dto.PaymentResponse{}, fmt.Errorf("create payment: %w", err)
	}

	var resp dto.PaymentResponse
	err = uc.core.atomically(ctx, "CreatePayment", func(ctx context.Context) error {
		payment, err := uc.core.recordPayment(ctx, currency, req)
		if err != nil {
			return err
		}
		for _, item := range items {
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
		return dto.PaymentResponse{}, fmt.Errorf("create payment: %w", err)
	}

	uc.core.logger.Info("payment created",
		"payment_id", resp.ID,
		"amount", resp.Amount.String(),
		"currency", resp.Currency,
		"allocations", len(resp.Allocations),
	)
	return resp, nil
}

// prefetch resolves the payment currency and checks that every payable exists,
// concurrently and before any transaction is opened.
func (uc *CreatePayment) prefetch(ctx context.Context, currencyID money.CurrencyID, items []allocationInput) (money.Currency, error) {
	var currency money.Currency
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)

	g.Go(func() error {
		c, err := uc.core.currencies.Lookup(gctx, currencyID)
		if err != nil {
			return err
		}
		currency = c
		return nil
	})
	for _, item := range items {
		g.Go(func() error {
			_, err := uc.core.stores.Payables.LoadForAllocation(gctx, item.payableID)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return money.Currency{}, err
	}
	return currency, nil
}

// recordPayment inserts a new payment with no allocations.
func (c *Core) recordPayment(ctx context.Context, currency money.Currency, req dto.CreatePaymentRequest) (model.Payment, error) {
	fee, err := money.FromDecimal(req.Fee, currency)
	if err != nil {
		return model.Payment{}, fmt.Errorf("%w: fee: %w", model.ErrInvalidAmount, err)
	}
	payment, err := model.NewPayment(c.stores.Kind, currency, fee, req.ConversionRate, req.Reference, req.PaidAt)
	if err != nil {
		return model.Payment{}, err
	}
	if err := c.stores.Payments.Create(ctx, payment); err != nil {
		return model.Payment{}, fmt.Errorf("create payment %s: %w", payment.ID(), err)
	}
	if err := c.store(ctx, payment.DomainEvents()); err != nil {
		return model.Payment{}, err
	}
	return payment.ClearDomainEvents(), nil
}

// toAllocationInputs validates allocation lines. A payable may appear once.
func toAllocationInputs(items []dto.AllocationItem) ([]allocationInput, error) {
	out := make([]allocationInput, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.PayableID]; dup {
			return nil, fmt.Errorf("payable %s listed twice: %w", it.PayableID, model.ErrDuplicateAllocation)
		}
		seen[it.PayableID] = struct{}{}
		in, err := toAllocationInput(it.PayableID, it.Amount, it.ExchangeRate)
		if err != nil {
			return nil, fmt.Errorf("payable %s: %w", it.PayableID, err)
		}
		out = append(out, in)
	}
	return out, nil
}

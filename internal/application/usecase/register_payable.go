package usecase

import (
	"context"
	"fmt"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/pkg/money"
)

// RegisterPayable records an invoice or expense invoice announced by the
// invoicing side, with nothing paid yet. Registering a known ID changes nothing
// and returns the stored state.
type RegisterPayable struct {
	core *Core
}

func NewRegisterPayable(core *Core) *RegisterPayable {
	return &RegisterPayable{core: core}
}

func (uc *RegisterPayable) Execute(ctx context.Context, req dto.RegisterPayableRequest) (dto.PayableResponse, error) {
	currency, err := uc.core.currencies.Lookup(ctx, money.CurrencyID(req.CurrencyID))
	if err != nil {
		return dto.PayableResponse{}, fmt.Errorf("register payable %s: %w", req.ID, err)
	}
	total, err := money.FromDecimal(req.Total, currency)
	if err != nil {
		return dto.PayableResponse{}, fmt.Errorf("register payable %s: %w: %w", req.ID, model.ErrInvalidAmount, err)
	}
	tax, err := money.FromDecimal(req.TaxWithholding, currency)
	if err != nil {
		return dto.PayableResponse{}, fmt.Errorf("register payable %s: %w: %w", req.ID, model.ErrInvalidAmount, err)
	}
	payable, err := model.NewPayable(req.ID, uc.core.stores.Kind, total, tax)
	if err != nil {
		return dto.PayableResponse{}, fmt.Errorf("register payable %s: %w", req.ID, err)
	}

	var resp dto.PayableResponse
	err = uc.core.atomically(ctx, "RegisterPayable", func(ctx context.Context) error {
		if err := uc.core.stores.Payables.Register(ctx, payable); err != nil {
			return err
		}
		ledger, err := uc.core.stores.Payables.LoadForAllocation(ctx, payable.ID())
		if err != nil {
			return err
		}
		resp = toPayableResponse(ledger.Payable)
		return nil
	})
	if err != nil {
		return dto.PayableResponse{}, fmt.Errorf("register payable %s: %w", req.ID, err)
	}

	uc.core.logger.Info("payable registered",
		"payable_id", resp.ID,
		"total", resp.Total.String(),
		"currency", resp.Currency,
	)
	return resp, nil
}

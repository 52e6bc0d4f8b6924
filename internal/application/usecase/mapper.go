package usecase

import (
	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/domain/model"
)

func toEntryResponse(e model.AllocationEntry) dto.AllocationEntryResponse {
	return dto.AllocationEntryResponse{
		ID:                 e.ID(),
		Kind:               e.Kind().String(),
		PaymentID:          e.PaymentID(),
		PayableID:          e.PayableID(),
		Amount:             e.Amount().Decimal(),
		Currency:           e.Amount().Currency().Code(),
		OriginalAmount:     e.OriginalAmount().Decimal(),
		OriginalCurrency:   e.OriginalAmount().Currency().Code(),
		OriginalCurrencyID: int64(e.OriginalCurrencyID()),
		Digits:             e.Amount().Currency().Digits(),
		ExchangeRate:       e.ExchangeRate().Rate(),
		MinorUnitDigits:    e.MinorUnitDigits(),
		Active:             e.Active(),
		CreatedAt:          e.CreatedAt(),
		UpdatedAt:          e.UpdatedAt(),
	}
}

// toPlanResponse maps an entry together with the payable state it produced.
func toPlanResponse(e model.AllocationEntry, payable model.Payable, snapped bool) dto.AllocationEntryResponse {
	resp := toEntryResponse(e)
	resp.PayableStatus = payable.Status().String()
	resp.PayableAmountPaid = payable.AmountPaid().Decimal()
	resp.Snapped = snapped
	return resp
}

func toPayableResponse(p model.Payable) dto.PayableResponse {
	return dto.PayableResponse{
		ID:             p.ID(),
		Kind:           p.Kind().String(),
		CurrencyID:     int64(p.Currency().ID()),
		Currency:       p.Currency().Code(),
		Total:          p.Total().Decimal(),
		TaxWithholding: p.TaxWithholding().Decimal(),
		AmountPaid:     p.AmountPaid().Decimal(),
		Status:         p.Status().String(),
		Version:        p.Version(),
		Digits:         p.Currency().Digits(),
	}
}

func toPaymentResponse(p model.Payment, entries []model.AllocationEntry) dto.PaymentResponse {
	allocations := make([]dto.AllocationEntryResponse, 0, len(entries))
	for _, e := range entries {
		allocations = append(allocations, toEntryResponse(e))
	}
	return dto.PaymentResponse{
		ID:             p.ID(),
		Kind:           p.Kind().String(),
		CurrencyID:     int64(p.Currency().ID()),
		Currency:       p.Currency().Code(),
		Amount:         p.Amount().Decimal(),
		Fee:            p.Fee().Decimal(),
		ConversionRate: p.ConversionRate(),
		Reference:      p.Reference(),
		PaidAt:         p.PaidAt(),
		Deleted:        p.Deleted(),
		Version:        p.Version(),
		Digits:         p.Currency().Digits(),
		Allocations:    allocations,
		CreatedAt:      p.CreatedAt(),
		UpdatedAt:      p.UpdatedAt(),
	}
}

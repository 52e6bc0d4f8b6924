package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/bibbank/reconciliation/internal/application/dto"
	"github.com/bibbank/reconciliation/internal/application/usecase"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/pkg/money"
	"github.com/bibbank/reconciliation/pkg/mt950"
)

// Compile-time assertion that AllocationHandler implements AllocationServiceServer.
var _ AllocationServiceServer = (*AllocationHandler)(nil)

// AllocationHandler implements the gRPC AllocationService server. Every request
// names the payable kind; the handler routes it to that kind's use cases.
type AllocationHandler struct {
	UnimplementedAllocationServiceServer
	sets   map[valueobject.PayableKind]*usecase.Set
	logger *slog.Logger
}

func NewAllocationHandler(logger *slog.Logger, sets ...*usecase.Set) *AllocationHandler {
	byKind := make(map[valueobject.PayableKind]*usecase.Set, len(sets))
	for _, s := range sets {
		byKind[s.Kind] = s
	}
	return &AllocationHandler{sets: byKind, logger: logger}
}

func (h *AllocationHandler) RegisterPayable(ctx context.Context, req *RegisterPayableMsg) (*PayableMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	payableID, err := parseID("payable_id", req.PayableID)
	if err != nil {
		return nil, err
	}
	total, err := parseDecimal("total", req.Total)
	if err != nil {
		return nil, err
	}
	tax, err := parseOptionalDecimal("tax_withholding", req.TaxWithholding)
	if err != nil {
		return nil, err
	}

	result, err := set.RegisterPayable.Execute(ctx, dto.RegisterPayableRequest{
		ID:             payableID,
		CurrencyID:     req.CurrencyID,
		Total:          total,
		TaxWithholding: tax,
	})
	if err != nil {
		return nil, h.toStatus(ctx, "RegisterPayable", err)
	}
	return toPayableMsg(result), nil
}

func (h *AllocationHandler) Allocate(ctx context.Context, req *AllocateMsg) (*AllocationEntryMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	paymentID, err := parseID("payment_id", req.PaymentID)
	if err != nil {
		return nil, err
	}
	payableID, err := parseID("payable_id", req.PayableID)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	rate, err := parseRate(req.ExchangeRate)
	if err != nil {
		return nil, err
	}

	result, err := set.AllocateToPayable.Execute(ctx, dto.AllocateRequest{
		PaymentID:    paymentID,
		PayableID:    payableID,
		Amount:       amount,
		ExchangeRate: rate,
	})
	if err != nil {
		return nil, h.toStatus(ctx, "Allocate", err)
	}
	return toEntryMsg(result), nil
}

func (h *AllocationHandler) EditAllocation(ctx context.Context, req *EditAllocationMsg) (*AllocationEntryMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	entryID, err := parseID("entry_id", req.EntryID)
	if err != nil {
		return nil, err
	}
	amount, err := parseDecimal("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	rate, err := parseRate(req.ExchangeRate)
	if err != nil {
		return nil, err
	}

	result, err := set.EditAllocation.Execute(ctx, dto.EditAllocationRequest{
		EntryID:      entryID,
		Amount:       amount,
		ExchangeRate: rate,
	})
	if err != nil {
		return nil, h.toStatus(ctx, "EditAllocation", err)
	}
	return toEntryMsg(result), nil
}

func (h *AllocationHandler) ReverseAllocation(ctx context.Context, req *ReverseAllocationMsg) (*ReverseAllocationResponseMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	entryID, err := parseID("entry_id", req.EntryID)
	if err != nil {
		return nil, err
	}

	if err := set.ReverseAllocation.Execute(ctx, dto.ReverseAllocationRequest{EntryID: entryID}); err != nil {
		return nil, h.toStatus(ctx, "ReverseAllocation", err)
	}
	return &ReverseAllocationResponseMsg{}, nil
}

func (h *AllocationHandler) ReversePayableAllocations(ctx context.Context, req *ReversePayablesMsg) (*ReversePayablesResponseMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	if len(req.PayableIDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "payable_ids is required")
	}
	ids := make([]uuid.UUID, 0, len(req.PayableIDs))
	for _, raw := range req.PayableIDs {
		id, err := parseID("payable_ids", raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	result, err := set.ReversePayableAllocations.Execute(ctx, dto.ReversePayablesRequest{PayableIDs: ids})
	if err != nil {
		return nil, h.toStatus(ctx, "ReversePayableAllocations", err)
	}

	resp := &ReversePayablesResponseMsg{
		ReversedEntries:  int32(result.ReversedEntries), //nolint:gosec // bounded by the request
		AffectedPayments: make([]string, 0, len(result.AffectedPayments)),
	}
	for _, id := range result.AffectedPayments {
		resp.AffectedPayments = append(resp.AffectedPayments, id.String())
	}
	return resp, nil
}

func (h *AllocationHandler) ListPayableAllocations(ctx context.Context, req *ListPayableAllocationsMsg) (*ListPayableAllocationsResponseMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	payableID, err := parseID("payable_id", req.PayableID)
	if err != nil {
		return nil, err
	}

	result, err := set.ListPayableAllocations.Execute(ctx, dto.ListPayableAllocationsRequest{
		PayableID:       payableID,
		IncludeReversed: req.IncludeReversed,
	})
	if err != nil {
		return nil, h.toStatus(ctx, "ListPayableAllocations", err)
	}

	resp := &ListPayableAllocationsResponseMsg{
		Payable: toPayableMsg(result.Payable),
		Entries: make([]*AllocationEntryMsg, 0, len(result.Entries)),
	}
	for _, e := range result.Entries {
		resp.Entries = append(resp.Entries, toEntryMsg(e))
	}
	return resp, nil
}

func (h *AllocationHandler) CreatePayment(ctx context.Context, req *CreatePaymentMsg) (*PaymentMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	in, err := toCreatePaymentRequest(req)
	if err != nil {
		return nil, err
	}

	result, err := set.CreatePayment.Execute(ctx, in)
	if err != nil {
		return nil, h.toStatus(ctx, "CreatePayment", err)
	}
	return toPaymentMsg(result), nil
}

func (h *AllocationHandler) UpdatePayment(ctx context.Context, req *UpdatePaymentMsg) (*PaymentMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	paymentID, err := parseID("payment_id", req.PaymentID)
	if err != nil {
		return nil, err
	}
	fee, err := parseOptionalDecimal("fee", req.Fee)
	if err != nil {
		return nil, err
	}
	conversionRate, err := parseOptionalDecimal("conversion_rate", req.ConversionRate)
	if err != nil {
		return nil, err
	}
	items, err := toAllocationItems(req.Allocations)
	if err != nil {
		return nil, err
	}

	result, err := set.UpdatePayment.Execute(ctx, dto.UpdatePaymentRequest{
		PaymentID:      paymentID,
		Fee:            fee,
		ConversionRate: conversionRate,
		Reference:      req.Reference,
		Allocations:    items,
	})
	if err != nil {
		return nil, h.toStatus(ctx, "UpdatePayment", err)
	}
	return toPaymentMsg(result), nil
}

func (h *AllocationHandler) DeletePayment(ctx context.Context, req *DeletePaymentMsg) (*DeletePaymentResponseMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	paymentID, err := parseID("payment_id", req.PaymentID)
	if err != nil {
		return nil, err
	}

	if err := set.DeletePayment.Execute(ctx, dto.DeletePaymentRequest{PaymentID: paymentID}); err != nil {
		return nil, h.toStatus(ctx, "DeletePayment", err)
	}
	return &DeletePaymentResponseMsg{}, nil
}

func (h *AllocationHandler) ImportPayments(ctx context.Context, req *ImportPaymentsMsg) (*ImportPaymentsResponseMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	payments := make([]dto.CreatePaymentRequest, 0, len(req.Payments))
	for i, p := range req.Payments {
		if p == nil {
			return nil, status.Errorf(codes.InvalidArgument, "payments[%d] is required", i)
		}
		in, err := toCreatePaymentRequest(p)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "payments[%d]: %s", i, status.Convert(err).Message())
		}
		payments = append(payments, in)
	}

	result, err := set.ImportPayments.Execute(ctx, dto.ImportPaymentsRequest{Payments: payments})
	if err != nil {
		return nil, h.toStatus(ctx, "ImportPayments", err)
	}

	return &ImportPaymentsResponseMsg{
		Imported: toPaymentMsgs(result.Imported),
		Skipped:  toSkippedMsgs(result.Skipped),
	}, nil
}

func (h *AllocationHandler) ImportStatement(ctx context.Context, req *ImportStatementMsg) (*ImportStatementResponseMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	if req.Statement == "" {
		return nil, status.Error(codes.InvalidArgument, "statement is required")
	}

	result, err := set.ImportStatement.Execute(ctx, dto.ImportStatementRequest{
		Statement:  req.Statement,
		CurrencyID: req.CurrencyID,
	})
	if err != nil {
		return nil, h.toStatus(ctx, "ImportStatement", err)
	}
	return &ImportStatementResponseMsg{
		StatementReference: result.StatementReference,
		Account:            result.Account,
		Imported:           toPaymentMsgs(result.Imported),
		Skipped:            toSkippedMsgs(result.Skipped),
		IgnoredLines:       int32(result.IgnoredLines), //nolint:gosec // bounded by the statement
	}, nil
}

func (h *AllocationHandler) GetPayment(ctx context.Context, req *GetPaymentMsg) (*PaymentMsg, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	set, err := h.setFor(req.Kind)
	if err != nil {
		return nil, err
	}
	paymentID, err := parseID("payment_id", req.PaymentID)
	if err != nil {
		return nil, err
	}

	result, err := set.GetPayment.Execute(ctx, dto.GetPaymentRequest{PaymentID: paymentID})
	if err != nil {
		return nil, h.toStatus(ctx, "GetPayment", err)
	}
	return toPaymentMsg(result), nil
}

func (h *AllocationHandler) setFor(kind string) (*usecase.Set, error) {
	k, err := valueobject.NewPayableKind(kind)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid kind: %v", err)
	}
	set, ok := h.sets[k]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "kind %s is not served", k)
	}
	return set, nil
}

// toStatus maps a use-case error to a gRPC status. Domain errors keep their
// message; anything else is logged and reported as internal.
func (h *AllocationHandler) toStatus(ctx context.Context, method string, err error) error {
	code := codeFor(err)
	if code == codes.Internal {
		h.logger.ErrorContext(ctx, "handler error", "method", method, "error", err)
		return status.Error(codes.Internal, "internal error")
	}
	h.logger.DebugContext(ctx, "request rejected", "method", method, "code", code.String(), "error", err)
	return status.Error(code, err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, model.ErrPayableNotFound),
		errors.Is(err, model.ErrPaymentNotFound),
		errors.Is(err, model.ErrEntryNotFound),
		errors.Is(err, model.ErrCurrencyNotFound):
		return codes.NotFound
	case errors.Is(err, model.ErrInvalidExchangeRate),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, money.ErrScaleMismatch),
		errors.Is(err, money.ErrOverflow),
		errors.Is(err, mt950.ErrMalformed),
		errors.Is(err, mt950.ErrUnbalanced):
		return codes.InvalidArgument
	case errors.Is(err, model.ErrDuplicateAllocation):
		return codes.AlreadyExists
	case errors.Is(err, model.ErrAllocationExceedsBalance),
		errors.Is(err, model.ErrEntryInactive),
		errors.Is(err, model.ErrPaymentDeleted):
		return codes.FailedPrecondition
	case errors.Is(err, model.ErrConcurrentModification):
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// --- Request parsing ---

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return d, nil
}

func parseOptionalDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, raw)
}

func parseRate(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := parseDecimal("exchange_rate", raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func toAllocationItems(items []*AllocationItemMsg) ([]dto.AllocationItem, error) {
	out := make([]dto.AllocationItem, 0, len(items))
	for i, it := range items {
		if it == nil {
			return nil, status.Errorf(codes.InvalidArgument, "allocations[%d] is required", i)
		}
		payableID, err := parseID(fmt.Sprintf("allocations[%d].payable_id", i), it.PayableID)
		if err != nil {
			return nil, err
		}
		amount, err := parseDecimal(fmt.Sprintf("allocations[%d].amount", i), it.Amount)
		if err != nil {
			return nil, err
		}
		rate, err := parseRate(it.ExchangeRate)
		if err != nil {
			return nil, err
		}
		out = append(out, dto.AllocationItem{PayableID: payableID, Amount: amount, ExchangeRate: rate})
	}
	return out, nil
}

func toCreatePaymentRequest(req *CreatePaymentMsg) (dto.CreatePaymentRequest, error) {
	fee, err := parseOptionalDecimal("fee", req.Fee)
	if err != nil {
		return dto.CreatePaymentRequest{}, err
	}
	conversionRate, err := parseOptionalDecimal("conversion_rate", req.ConversionRate)
	if err != nil {
		return dto.CreatePaymentRequest{}, err
	}
	var paidAt time.Time
	if req.PaidAt != nil {
		if err := req.PaidAt.CheckValid(); err != nil {
			return dto.CreatePaymentRequest{}, status.Errorf(codes.InvalidArgument, "invalid paid_at: %v", err)
		}
		paidAt = req.PaidAt.AsTime()
	}
	items, err := toAllocationItems(req.Allocations)
	if err != nil {
		return dto.CreatePaymentRequest{}, err
	}
	return dto.CreatePaymentRequest{
		CurrencyID:     req.CurrencyID,
		Fee:            fee,
		ConversionRate: conversionRate,
		Reference:      req.Reference,
		PaidAt:         paidAt,
		Allocations:    items,
	}, nil
}

// --- Response mapping ---

func toPayableMsg(r dto.PayableResponse) *PayableMsg {
	return &PayableMsg{
		ID:             r.ID.String(),
		Kind:           r.Kind,
		CurrencyID:     r.CurrencyID,
		Currency:       r.Currency,
		Total:          fixed(r.Total, r.Digits),
		TaxWithholding: fixed(r.TaxWithholding, r.Digits),
		AmountPaid:     fixed(r.AmountPaid, r.Digits),
		Status:         r.Status,
		Version:        int32(r.Version), //nolint:gosec // bounded
	}
}

func toEntryMsg(r dto.AllocationEntryResponse) *AllocationEntryMsg {
	msg := &AllocationEntryMsg{
		ID:                 r.ID.String(),
		Kind:               r.Kind,
		PaymentID:          r.PaymentID.String(),
		PayableID:          r.PayableID.String(),
		Amount:             fixed(r.Amount, r.Digits),
		Currency:           r.Currency,
		OriginalAmount:     fixed(r.OriginalAmount, r.MinorUnitDigits),
		OriginalCurrency:   r.OriginalCurrency,
		OriginalCurrencyID: r.OriginalCurrencyID,
		ExchangeRate:       r.ExchangeRate.String(),
		MinorUnitDigits:    uint32(r.MinorUnitDigits),
		Active:             r.Active,
		PayableStatus:      r.PayableStatus,
		Snapped:            r.Snapped,
		CreatedAt:          timestamppb.New(r.CreatedAt),
		UpdatedAt:          timestamppb.New(r.UpdatedAt),
	}
	if r.PayableStatus != "" {
		msg.PayableAmountPaid = fixed(r.PayableAmountPaid, r.Digits)
	}
	return msg
}

func toPaymentMsg(r dto.PaymentResponse) *PaymentMsg {
	msg := &PaymentMsg{
		ID:             r.ID.String(),
		Kind:           r.Kind,
		CurrencyID:     r.CurrencyID,
		Currency:       r.Currency,
		Amount:         fixed(r.Amount, r.Digits),
		Fee:            fixed(r.Fee, r.Digits),
		ConversionRate: r.ConversionRate.String(),
		Reference:      r.Reference,
		PaidAt:         timestamppb.New(r.PaidAt),
		Deleted:        r.Deleted,
		Version:        int32(r.Version), //nolint:gosec // bounded
		Allocations:    make([]*AllocationEntryMsg, 0, len(r.Allocations)),
		CreatedAt:      timestamppb.New(r.CreatedAt),
		UpdatedAt:      timestamppb.New(r.UpdatedAt),
	}
	for _, a := range r.Allocations {
		msg.Allocations = append(msg.Allocations, toEntryMsg(a))
	}
	return msg
}

// fixed renders an amount with exactly the currency's minor unit digits.
func fixed(d decimal.Decimal, digits uint8) string {
	return d.StringFixed(int32(digits))
}

func toPaymentMsgs(payments []dto.PaymentResponse) []*PaymentMsg {
	out := make([]*PaymentMsg, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentMsg(p))
	}
	return out
}

func toSkippedMsgs(items []dto.SkippedItem) []*SkippedItemMsg {
	out := make([]*SkippedItemMsg, 0, len(items))
	for _, s := range items {
		msg := &SkippedItemMsg{PaymentIndex: int32(s.PaymentIndex), Reason: s.Reason} //nolint:gosec // bounded by the request
		if s.PayableID != uuid.Nil {
			msg.PayableID = s.PayableID.String()
		}
		out = append(out, msg)
	}
	return out
}

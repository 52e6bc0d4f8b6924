package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/bibbank/reconciliation/internal/application/usecase"
	"github.com/bibbank/reconciliation/internal/domain/model"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/internal/infrastructure/currency"
	"github.com/bibbank/reconciliation/internal/infrastructure/memory"
	"github.com/bibbank/reconciliation/pkg/money"
	"github.com/bibbank/reconciliation/pkg/mt950"
)

// --- Helpers ---

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const invoice = "INVOICE"

func buildTestHandler(t *testing.T) *AllocationHandler {
	t.Helper()
	store := memory.NewStore()
	kind := valueobject.PayableKindInvoice
	core := usecase.NewCore(usecase.Stores{
		Kind:     kind,
		Payables: store.Payables(kind),
		Entries:  store.Entries(kind),
		Payments: store.Payments(kind),
	}, currency.Default(), store, store, usecase.WithLogger(discard))
	return NewAllocationHandler(discard, usecase.NewSet(core))
}

func registerPayable(t *testing.T, h *AllocationHandler, total string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := h.RegisterPayable(context.Background(), &RegisterPayableMsg{
		Kind:       invoice,
		PayableID:  id,
		CurrencyID: 1,
		Total:      total,
	})
	require.NoError(t, err)
	return id
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected gRPC status error, got %v", err)
	assert.Equal(t, want, st.Code(), st.Message())
}

// --- Tests ---

func TestRegisterPayable_Success(t *testing.T) {
	h := buildTestHandler(t)
	id := uuid.New().String()

	resp, err := h.RegisterPayable(context.Background(), &RegisterPayableMsg{
		Kind:           invoice,
		PayableID:      id,
		CurrencyID:     1,
		Total:          "100",
		TaxWithholding: "10",
	})

	require.NoError(t, err)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "USD", resp.Currency)
	assert.Equal(t, "UNPAID", resp.Status)
	assert.Equal(t, "10.00", resp.TaxWithholding)
}

func TestCreatePaymentAndList(t *testing.T) {
	h := buildTestHandler(t)
	ctx := context.Background()
	payableID := registerPayable(t, h, "100")
	paidAt := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	payment, err := h.CreatePayment(ctx, &CreatePaymentMsg{
		Kind:       invoice,
		CurrencyID: 1,
		Reference:  "TRX-1",
		PaidAt:     timestamppb.New(paidAt),
		Allocations: []*AllocationItemMsg{
			{PayableID: payableID, Amount: "40"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "40.00", payment.Amount)
	assert.Equal(t, "0.00", payment.Fee)
	assert.True(t, payment.PaidAt.AsTime().Equal(paidAt))
	require.Len(t, payment.Allocations, 1)

	list, err := h.ListPayableAllocations(ctx, &ListPayableAllocationsMsg{Kind: invoice, PayableID: payableID})
	require.NoError(t, err)
	assert.Equal(t, "PARTIALLY_PAID", list.Payable.Status)
	assert.Equal(t, "40.00", list.Payable.AmountPaid)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, payment.ID, list.Entries[0].PaymentID)

	got, err := h.GetPayment(ctx, &GetPaymentMsg{Kind: invoice, PaymentID: payment.ID})
	require.NoError(t, err)
	assert.Equal(t, "TRX-1", got.Reference)
}

func TestAllocate_ErrorCodes(t *testing.T) {
	h := buildTestHandler(t)
	ctx := context.Background()
	payableID := registerPayable(t, h, "100")
	other := registerPayable(t, h, "100")

	payment, err := h.CreatePayment(ctx, &CreatePaymentMsg{
		Kind:        invoice,
		CurrencyID:  1,
		Allocations: []*AllocationItemMsg{{PayableID: payableID, Amount: "10"}},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *AllocateMsg
		want codes.Code
	}{
		{
			name: "duplicate",
			req:  &AllocateMsg{Kind: invoice, PaymentID: payment.ID, PayableID: payableID, Amount: "5"},
			want: codes.AlreadyExists,
		},
		{
			name: "exceeds balance",
			req:  &AllocateMsg{Kind: invoice, PaymentID: payment.ID, PayableID: other, Amount: "200"},
			want: codes.FailedPrecondition,
		},
		{
			name: "unknown payable",
			req:  &AllocateMsg{Kind: invoice, PaymentID: payment.ID, PayableID: uuid.New().String(), Amount: "5"},
			want: codes.NotFound,
		},
		{
			name: "negative rate",
			req:  &AllocateMsg{Kind: invoice, PaymentID: payment.ID, PayableID: other, Amount: "5", ExchangeRate: "-1"},
			want: codes.InvalidArgument,
		},
		{
			name: "invalid payment id",
			req:  &AllocateMsg{Kind: invoice, PaymentID: "nope", PayableID: other, Amount: "5"},
			want: codes.InvalidArgument,
		},
		{
			name: "missing amount",
			req:  &AllocateMsg{Kind: invoice, PaymentID: payment.ID, PayableID: other},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown kind",
			req:  &AllocateMsg{Kind: "RECEIPT", PaymentID: payment.ID, PayableID: other, Amount: "5"},
			want: codes.InvalidArgument,
		},
		{
			name: "kind not served",
			req:  &AllocateMsg{Kind: "EXPENSE_INVOICE", PaymentID: payment.ID, PayableID: other, Amount: "5"},
			want: codes.Unimplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Allocate(ctx, tt.req)
			requireCode(t, err, tt.want)
		})
	}
}

func TestReverseAndDelete(t *testing.T) {
	h := buildTestHandler(t)
	ctx := context.Background()
	payableID := registerPayable(t, h, "100")

	payment, err := h.CreatePayment(ctx, &CreatePaymentMsg{
		Kind:        invoice,
		CurrencyID:  1,
		Allocations: []*AllocationItemMsg{{PayableID: payableID, Amount: "100"}},
	})
	require.NoError(t, err)
	entryID := payment.Allocations[0].ID

	_, err = h.ReverseAllocation(ctx, &ReverseAllocationMsg{Kind: invoice, EntryID: entryID})
	require.NoError(t, err)

	_, err = h.EditAllocation(ctx, &EditAllocationMsg{Kind: invoice, EntryID: entryID, Amount: "10"})
	requireCode(t, err, codes.FailedPrecondition)

	_, err = h.DeletePayment(ctx, &DeletePaymentMsg{Kind: invoice, PaymentID: payment.ID})
	require.NoError(t, err)

	got, err := h.GetPayment(ctx, &GetPaymentMsg{Kind: invoice, PaymentID: payment.ID})
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestReversePayableAllocations_Handler(t *testing.T) {
	h := buildTestHandler(t)
	ctx := context.Background()
	payableID := registerPayable(t, h, "100")

	_, err := h.CreatePayment(ctx, &CreatePaymentMsg{
		Kind:        invoice,
		CurrencyID:  1,
		Allocations: []*AllocationItemMsg{{PayableID: payableID, Amount: "30"}},
	})
	require.NoError(t, err)

	resp, err := h.ReversePayableAllocations(ctx, &ReversePayablesMsg{Kind: invoice, PayableIDs: []string{payableID}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), resp.ReversedEntries)
	assert.Len(t, resp.AffectedPayments, 1)

	_, err = h.ReversePayableAllocations(ctx, &ReversePayablesMsg{Kind: invoice})
	requireCode(t, err, codes.InvalidArgument)
}

func TestImportPayments_Handler(t *testing.T) {
	h := buildTestHandler(t)
	ctx := context.Background()
	payableID := registerPayable(t, h, "100")

	resp, err := h.ImportPayments(ctx, &ImportPaymentsMsg{
		Kind: invoice,
		Payments: []*CreatePaymentMsg{
			{CurrencyID: 1, Allocations: []*AllocationItemMsg{{PayableID: payableID, Amount: "50"}}},
			{CurrencyID: 1, Allocations: []*AllocationItemMsg{{PayableID: uuid.New().String(), Amount: "50"}}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Imported, 1)
	require.NotEmpty(t, resp.Skipped)
	assert.Equal(t, int32(1), resp.Skipped[0].PaymentIndex)

	_, err = h.ImportPayments(ctx, &ImportPaymentsMsg{
		Kind:     invoice,
		Payments: []*CreatePaymentMsg{{CurrencyID: 1, PaidAt: &timestamppb.Timestamp{Nanos: -1}}},
	})
	requireCode(t, err, codes.InvalidArgument)
}

func TestImportStatement_Handler(t *testing.T) {
	h := buildTestHandler(t)
	ctx := context.Background()
	payableID := registerPayable(t, h, "100")

	statement := ":20:STMT-1\n:25:ACC-1\n:60F:C260114USD0,\n" +
		":61:260115C60,00NTRFREF-1\n:86:invoice " + payableID + "\n" +
		":62F:C260115USD60,00"

	resp, err := h.ImportStatement(ctx, &ImportStatementMsg{Kind: invoice, CurrencyID: 1, Statement: statement})
	require.NoError(t, err)
	assert.Equal(t, "STMT-1", resp.StatementReference)
	require.Len(t, resp.Imported, 1)
	assert.Equal(t, "60.00", resp.Imported[0].Amount)
	assert.Empty(t, resp.Skipped)

	_, err = h.ImportStatement(ctx, &ImportStatementMsg{Kind: invoice, CurrencyID: 1, Statement: ":20:STMT-2"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = h.ImportStatement(ctx, &ImportStatementMsg{Kind: invoice, CurrencyID: 1})
	requireCode(t, err, codes.InvalidArgument)
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("wrap: %w", model.ErrPaymentNotFound), codes.NotFound},
		{model.ErrCurrencyNotFound, codes.NotFound},
		{model.ErrInvalidAmount, codes.InvalidArgument},
		{fmt.Errorf("%w: payable ID is required", model.ErrInvalidInput), codes.InvalidArgument},
		{money.ErrCurrencyMismatch, codes.InvalidArgument},
		{mt950.ErrUnbalanced, codes.InvalidArgument},
		{model.ErrDuplicateAllocation, codes.AlreadyExists},
		{model.ErrPaymentDeleted, codes.FailedPrecondition},
		{model.ErrConcurrentModification, codes.Aborted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, codeFor(tt.err), tt.err.Error())
	}
}

func TestToStatus_HidesInternalErrors(t *testing.T) {
	h := buildTestHandler(t)
	err := h.toStatus(context.Background(), "GetPayment", errors.New("db password leaked"))
	requireCode(t, err, codes.Internal)
	assert.NotContains(t, status.Convert(err).Message(), "password")
}

func TestServer_JSONRoundTrip(t *testing.T) {
	h := buildTestHandler(t)
	srv := NewServer(h, ServerConfig{}, discard)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.ServeListener(lis) }()
	t.Cleanup(srv.GracefulStop)

	conn, err := grpclib.NewClient("passthrough:///bufnet",
		grpclib.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpclib.WithTransportCredentials(insecure.NewCredentials()),
		grpclib.WithDefaultCallOptions(grpclib.CallContentSubtype(jsonCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := context.Background()
	id := uuid.New().String()
	out := new(PayableMsg)
	err = conn.Invoke(ctx, "/"+serviceName+"/RegisterPayable", &RegisterPayableMsg{
		Kind:       invoice,
		PayableID:  id,
		CurrencyID: 3,
		Total:      "250.5",
	}, out)
	require.NoError(t, err)
	assert.Equal(t, id, out.ID)
	assert.Equal(t, "TND", out.Currency)
	assert.Equal(t, "250.500", out.Total, "amounts carry the minor unit digits")

	err = conn.Invoke(ctx, "/"+serviceName+"/GetPayment", &GetPaymentMsg{Kind: invoice, PaymentID: uuid.New().String()}, new(PaymentMsg))
	requireCode(t, err, codes.NotFound)
}

func TestRecoveryInterceptor(t *testing.T) {
	intercept := recoveryInterceptor(discard)
	info := &grpclib.UnaryServerInfo{FullMethod: "/" + serviceName + "/GetPayment"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("nil map write")
	})
	requireCode(t, err, codes.Internal)

	resp, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
